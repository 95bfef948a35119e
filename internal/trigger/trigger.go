// Package trigger serves the HTTP endpoint that starts a warehouse load.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"mongobq/internal/warehouse"
)

// Loader is the part of warehouse.Loader the trigger calls.
type Loader interface {
	LoadAll(ctx context.Context) (warehouse.Report, error)
}

type Service struct {
	loader  Loader
	metrics http.Handler
	log     logrus.FieldLogger
}

// NewService builds the trigger. metrics may be nil, in which case
// /metrics is not routed.
func NewService(loader Loader, metrics http.Handler, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{loader: loader, metrics: metrics, log: log}
}

func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.load)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

func (s *Service) load(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	log := s.log.WithField("request_id", middleware.GetReqID(r.Context()))

	report, err := s.loader.LoadAll(r.Context())
	switch {
	case errors.Is(err, warehouse.ErrNoFiles):
		log.Warn("no export files to load")
		writeText(w, http.StatusNotFound, "No files found to load")
		return
	case err != nil:
		log.WithError(err).Error("load aborted")
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	case !report.OK():
		log.WithField("failed", len(report.Failures)).Error("load finished with errors")
		writeText(w, http.StatusInternalServerError, report.FailureText())
		return
	}

	log.WithFields(logrus.Fields{
		"files":    len(report.Loaded),
		"table":    report.Table.String(),
		"duration": time.Since(started).String(),
	}).Info("load finished")
	writeText(w, http.StatusOK, fmt.Sprintf("Loaded %d files into %s", len(report.Loaded), report.Table.String()))
}

// Run serves on addr until ctx is done, then drains in-flight requests.
func (s *Service) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("trigger listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
