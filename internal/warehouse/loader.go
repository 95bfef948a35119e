// Package warehouse loads uploaded batch files into the analytical table.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"mongobq/internal"
	"mongobq/internal/metrics"
	"mongobq/internal/schema"
)

// ErrNoFiles means the export prefix holds no batch files.
var ErrNoFiles = errors.New("no export files found")

// Lister returns object URIs under a prefix.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

// LoadRecorder persists one load attempt.
type LoadRecorder interface {
	RecordLoad(uri, table, jobID, status string, loadErr error) error
}

type FileError struct {
	URI string
	Err error
}

// Report is the outcome of one LoadAll call.
type Report struct {
	Table    TableRef
	Files    []string
	Loaded   []string
	Failures []FileError
}

func (r Report) OK() bool { return len(r.Failures) == 0 }

// FailureText renders one "uri: error" line per failed file.
func (r Report) FailureText() string {
	var b strings.Builder
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "%s: %v\n", f.URI, f.Err)
	}
	return b.String()
}

type LoaderOptions struct {
	Table   TableRef
	Schema  schema.Schema
	Format  internal.WireFormat
	Limiter *RateLimiter
	Ledger  LoadRecorder
	Metrics *metrics.Registry
	Log     logrus.FieldLogger
}

type Loader struct {
	lister Lister
	jobs   Jobs
	opts   LoaderOptions
	log    logrus.FieldLogger
}

func NewLoader(lister Lister, jobs Jobs, opts LoaderOptions) *Loader {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if !opts.Format.Valid() {
		opts.Format = internal.FormatJSONL
	}
	return &Loader{lister: lister, jobs: jobs, opts: opts, log: log}
}

// ListFiles returns the batch files of the configured format, sorted.
func (l *Loader) ListFiles(ctx context.Context) ([]string, error) {
	uris, err := l.lister.List(ctx, l.opts.Format.Prefix())
	if err != nil {
		return nil, err
	}
	suffix := "." + l.opts.Format.Ext()
	out := make([]string, 0, len(uris))
	for _, uri := range uris {
		if strings.HasSuffix(uri, suffix) {
			out = append(out, uri)
		}
	}
	sort.Strings(out)
	return out, nil
}

// LoadAll issues one load per batch file. A failed file is recorded in the
// report and the remaining files are still loaded. The returned error is
// ErrNoFiles, a listing failure or cancellation; per-file failures are only
// in the report.
func (l *Loader) LoadAll(ctx context.Context) (Report, error) {
	report := Report{Table: l.opts.Table}
	files, err := l.ListFiles(ctx)
	if err != nil {
		return report, fmt.Errorf("list export files: %w", err)
	}
	if len(files) == 0 {
		return report, ErrNoFiles
	}
	report.Files = files

	for _, uri := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		jobID, err := l.loadOne(ctx, uri)
		log := l.log.WithFields(logrus.Fields{"uri": uri, "table": l.opts.Table.String(), "job_id": jobID})
		status := "DONE"
		if err != nil {
			status = "FAILED"
			report.Failures = append(report.Failures, FileError{URI: uri, Err: err})
			log.WithError(err).Error("load failed")
		} else {
			report.Loaded = append(report.Loaded, uri)
			log.Info("loaded")
		}
		if l.opts.Metrics != nil {
			l.opts.Metrics.LoadFiles.WithLabelValues(status).Inc()
		}
		if l.opts.Ledger != nil {
			if lerr := l.opts.Ledger.RecordLoad(uri, l.opts.Table.String(), jobID, status, err); lerr != nil {
				log.WithError(lerr).Warn("record load")
			}
		}
	}
	return report, nil
}

func (l *Loader) loadOne(ctx context.Context, uri string) (string, error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", fmt.Errorf("warehouse loads read from gs:// only, got %s", uri)
	}
	if l.opts.Limiter != nil {
		if err := l.opts.Limiter.WaitTurn(ctx); err != nil {
			return "", err
		}
	}
	job, err := l.jobs.Submit(ctx, LoadRequest{
		URIs:   []string{uri},
		Table:  l.opts.Table,
		Schema: l.opts.Schema,
		Format: l.opts.Format,
	})
	if err != nil {
		return "", err
	}
	return job.ID, l.jobs.Await(ctx, job)
}
