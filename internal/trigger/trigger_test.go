package trigger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongobq/internal/logging"
	"mongobq/internal/metrics"
	"mongobq/internal/warehouse"
)

type stubLoader struct {
	report warehouse.Report
	err    error
	calls  int
}

func (s *stubLoader) LoadAll(context.Context) (warehouse.Report, error) {
	s.calls++
	return s.report, s.err
}

var table = warehouse.TableRef{Project: "p", Dataset: "summary", Table: "table_jsonl"}

func serve(t *testing.T, svc *Service, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	return rec
}

func TestLoadStatusCodes(t *testing.T) {
	cases := []struct {
		name     string
		loader   *stubLoader
		status   int
		contains []string
	}{
		{
			name: "all loaded",
			loader: &stubLoader{report: warehouse.Report{
				Table:  table,
				Files:  []string{"gs://b/exports_jsonl/a.jsonl", "gs://b/exports_jsonl/b.jsonl"},
				Loaded: []string{"gs://b/exports_jsonl/a.jsonl", "gs://b/exports_jsonl/b.jsonl"},
			}},
			status:   http.StatusOK,
			contains: []string{"Loaded 2 files", "p.summary.table_jsonl"},
		},
		{
			name:     "no files",
			loader:   &stubLoader{err: warehouse.ErrNoFiles},
			status:   http.StatusNotFound,
			contains: []string{"No files"},
		},
		{
			name:     "listing failed",
			loader:   &stubLoader{err: errors.New("list export files: 403")},
			status:   http.StatusInternalServerError,
			contains: []string{"403"},
		},
		{
			name: "some files failed",
			loader: &stubLoader{report: warehouse.Report{
				Table:  table,
				Files:  []string{"gs://b/exports_jsonl/a.jsonl", "gs://b/exports_jsonl/b.jsonl", "gs://b/exports_jsonl/c.jsonl"},
				Loaded: []string{"gs://b/exports_jsonl/a.jsonl"},
				Failures: []warehouse.FileError{
					{URI: "gs://b/exports_jsonl/b.jsonl", Err: errors.New("invalid schema")},
					{URI: "gs://b/exports_jsonl/c.jsonl", Err: errors.New("quota exceeded")},
				},
			}},
			status: http.StatusInternalServerError,
			contains: []string{
				"gs://b/exports_jsonl/b.jsonl: invalid schema",
				"gs://b/exports_jsonl/c.jsonl: quota exceeded",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, NewService(tc.loader, nil, logging.Discard()), "/")
			assert.Equal(t, tc.status, rec.Code)
			for _, s := range tc.contains {
				assert.Contains(t, rec.Body.String(), s)
			}
			assert.Equal(t, 1, tc.loader.calls)
		})
	}
}

func TestFailureBodyListsOnlyFailedURIs(t *testing.T) {
	loader := &stubLoader{report: warehouse.Report{
		Table:    table,
		Files:    []string{"gs://b/exports_jsonl/a.jsonl", "gs://b/exports_jsonl/b.jsonl"},
		Loaded:   []string{"gs://b/exports_jsonl/a.jsonl"},
		Failures: []warehouse.FileError{{URI: "gs://b/exports_jsonl/b.jsonl", Err: errors.New("boom")}},
	}}
	rec := serve(t, NewService(loader, nil, logging.Discard()), "/")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 1)
	assert.NotContains(t, rec.Body.String(), "a.jsonl")
}

func TestHealthAndMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.LoadFiles.WithLabelValues("DONE").Inc()
	svc := NewService(&stubLoader{}, reg.Handler(), logging.Discard())

	rec := serve(t, svc, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = serve(t, svc, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mongobq_load_files_total")
}

func TestMetricsNotRoutedWithoutHandler(t *testing.T) {
	rec := serve(t, NewService(&stubLoader{}, nil, logging.Discard()), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
