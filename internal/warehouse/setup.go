package warehouse

import (
	"context"

	"github.com/sirupsen/logrus"

	"mongobq/internal"
	"mongobq/internal/config"
	"mongobq/internal/metrics"
	"mongobq/internal/schema"
)

// NewFromConfig wires a Loader against BigQuery for the configured dataset,
// table and export format.
func NewFromConfig(ctx context.Context, cfg config.Config, s schema.Schema, lister Lister, ledger LoadRecorder, reg *metrics.Registry, log logrus.FieldLogger) (*Loader, error) {
	if err := cfg.Require("GOOGLE_PROJECT_ID", cfg.GoogleProjectID); err != nil {
		return nil, err
	}
	jobs, err := NewBigQueryJobs(ctx, BigQueryOptions{
		Project:         cfg.GoogleProjectID,
		Location:        cfg.BQLocation,
		CredentialsFile: cfg.GoogleCredentials,
		PollInterval:    cfg.BQPollInterval,
	})
	if err != nil {
		return nil, err
	}
	opts := LoaderOptions{
		Table:   TableRef{Project: cfg.GoogleProjectID, Dataset: cfg.BQDataset, Table: cfg.BQTable},
		Schema:  s,
		Format:  internal.WireFormat(cfg.ExportFormat),
		Ledger:  ledger,
		Metrics: reg,
		Log:     log,
	}
	if cfg.BQSubmitRPS > 0 {
		opts.Limiter = NewRateLimiter(cfg.BQSubmitRPS)
	}
	return NewLoader(lister, jobs, opts), nil
}
