package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"mongobq/internal"
	"mongobq/internal/config"
	"mongobq/internal/logging"
	"mongobq/internal/metrics"
	"mongobq/internal/normalize"
	"mongobq/internal/notify"
	"mongobq/internal/pipeline"
	"mongobq/internal/schema"
	"mongobq/internal/sink"
	"mongobq/internal/source"
	"mongobq/internal/storage"
	"mongobq/internal/util"
	"mongobq/internal/warehouse"
)

const lastRunKey = "last_run_id"

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log, err := logging.New(cfg)
	must(err)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	switch cmd {
	case "export":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		format := fs.String("format", cfg.ExportFormat, "jsonl|parquet")
		maxDocs := fs.Int64("max", cfg.MaxDocs, "cap on exported documents (0 = all)")
		batch := fs.Int("batch", cfg.BatchSize, "documents per batch")
		depth := fs.Int("depth", cfg.PipelineDepth, "pages fetched ahead of export (0 = sequential)")
		_ = fs.Parse(os.Args[2:])
		cfg.ExportFormat = strings.ToLower(*format)
		cfg.MaxDocs = *maxDocs
		cfg.BatchSize = *batch
		cfg.PipelineDepth = *depth
		if cfg.BatchSize <= 0 {
			must(fmt.Errorf("--batch must be positive"))
		}
		summary, err := runExport(ctx, cfg, log)
		must(err)
		fmt.Printf("export done run=%s format=%s bound=%d batches=%d failed=%d attempted=%d succeeded=%d quarantined=%d\n",
			summary.RunID, summary.Format, summary.Bound, summary.Batches, summary.FailedBatches,
			summary.Attempted, summary.Succeeded, summary.Quarantined)
		for _, f := range summary.QuarantineFiles {
			fmt.Printf("quarantine file: %s\n", f)
		}
	case "load":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		format := fs.String("format", cfg.ExportFormat, "jsonl|parquet")
		table := fs.String("table", cfg.BQTable, "destination table")
		_ = fs.Parse(os.Args[2:])
		cfg.ExportFormat = strings.ToLower(*format)
		cfg.BQTable = *table
		report, err := runLoad(ctx, cfg, log)
		if errors.Is(err, warehouse.ErrNoFiles) {
			must(fmt.Errorf("no %s files under %s", cfg.ExportFormat, internal.WireFormat(cfg.ExportFormat).Prefix()))
		}
		must(err)
		if !report.OK() {
			fmt.Fprint(os.Stderr, report.FailureText())
			must(fmt.Errorf("%d of %d files failed to load", len(report.Failures), len(report.Files)))
		}
		fmt.Printf("loaded %d files into %s\n", len(report.Loaded), report.Table)
	case "normalize":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "JSON array or JSONL file of documents")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*input) == "" {
			must(fmt.Errorf("--input is required"))
		}
		n, err := buildNormalizer(cfg)
		must(err)
		src, err := source.OpenFile(*input)
		must(err)
		stats, err := pipeline.NormalizeStream(ctx, src, n, cfg.BatchSize, os.Stdout, os.Stderr)
		must(err)
		log.WithFields(logrus.Fields{
			"attempted":   stats.Attempted,
			"succeeded":   stats.Succeeded,
			"quarantined": stats.Quarantined,
		}).Info("normalize done")
	case "schema:show":
		s, err := schema.Load(cfg.SchemaPath)
		must(err)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		must(enc.Encode(s))
	case "runs:list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		limit := fs.Int("limit", 20, "max runs")
		_ = fs.Parse(os.Args[2:])
		db, err := storage.Open(cfg.DBPath)
		must(err)
		defer db.Close()
		runs, err := db.ListRuns(*limit)
		must(err)
		for _, r := range runs {
			fmt.Printf("%s\t%s\t%s\t%s\tbound=%d attempted=%d succeeded=%d quarantined=%d\n",
				r.ID, r.StartedAt, r.Status, r.Format, r.Bound, r.Attempted, r.Succeeded, r.Quarantined)
		}
	case "loads:list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		limit := fs.Int("limit", 100, "max load attempts")
		_ = fs.Parse(os.Args[2:])
		db, err := storage.Open(cfg.DBPath)
		must(err)
		defer db.Close()
		loads, err := db.ListLoads(*limit)
		must(err)
		for _, l := range loads {
			fmt.Printf("%s\t%s\t%s\t%s\tjob=%s %s\n",
				l.CreatedAt, l.Status, l.Table, l.URI, util.DerefString(l.JobID), util.DerefString(l.Error))
		}
	case "report:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		runID := fs.String("run", "", "run id (default: latest)")
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--out is required"))
		}
		db, err := storage.Open(cfg.DBPath)
		must(err)
		defer db.Close()
		id := strings.TrimSpace(*runID)
		if id == "" {
			latest, err := defaultRunID(db)
			must(err)
			if latest == "" {
				must(fmt.Errorf("no runs recorded in %s", cfg.DBPath))
			}
			id = latest
		}
		run, err := db.GetRun(id)
		must(err)
		if run == nil {
			must(fmt.Errorf("run %s not found", id))
		}
		rows, err := db.ListBatches(id)
		must(err)
		must(pipeline.ExportBatchesToXLSX(*run, rows, *out))
		fmt.Printf("exported %d batches of run %s to %s\n", len(rows), id, *out)
	default:
		usage()
		os.Exit(1)
	}
}

func runExport(ctx context.Context, cfg config.Config, log *logrus.Logger) (internal.RunSummary, error) {
	n, err := buildNormalizer(cfg)
	if err != nil {
		return internal.RunSummary{}, err
	}

	reg := metrics.NewRegistry()
	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, reg, log)
		defer stop()
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return internal.RunSummary{}, err
	}
	defer db.Close()

	src, err := source.ConnectMongo(ctx, source.MongoOptions{
		URI:            cfg.MongoURI,
		Database:       cfg.MongoDatabase,
		Collection:     cfg.MongoCollection,
		ExactCount:     cfg.MongoExactCount,
		ConnectTimeout: cfg.MongoConnectTimeout,
	})
	if err != nil {
		return internal.RunSummary{}, err
	}
	defer func() { _ = src.Close(context.Background()) }()

	store, err := sink.New(ctx, cfg, uploadRetry(cfg, reg, log))
	if err != nil {
		return internal.RunSummary{}, err
	}

	exporter, err := pipeline.NewExporter(n, pipeline.ExporterOptions{
		Format:        internal.WireFormat(cfg.ExportFormat),
		WorkDir:       cfg.WorkDir,
		QuarantineDir: cfg.QuarantineDir,
		Log:           log,
	})
	if err != nil {
		return internal.RunSummary{}, err
	}

	opts := pipeline.Options{
		BatchSize:     cfg.BatchSize,
		MaxDocs:       cfg.MaxDocs,
		PipelineDepth: cfg.PipelineDepth,
		Ledger:        db,
		Metrics:       reg,
		Log:           log,
	}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		pub, err := notify.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		if err != nil {
			return internal.RunSummary{}, err
		}
		defer pub.Close()
		opts.Events = pub
	}

	summary, err := pipeline.NewOrchestrator(src, exporter, store, opts).Run(ctx)
	if err != nil {
		return summary, err
	}
	if err := db.SetMetadata(lastRunKey, summary.RunID); err != nil {
		log.WithError(err).Warn("record last run id")
	}
	return summary, nil
}

func runLoad(ctx context.Context, cfg config.Config, log *logrus.Logger) (warehouse.Report, error) {
	s, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return warehouse.Report{}, err
	}
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return warehouse.Report{}, err
	}
	defer db.Close()

	reg := metrics.NewRegistry()
	store, err := sink.New(ctx, cfg, uploadRetry(cfg, reg, log))
	if err != nil {
		return warehouse.Report{}, err
	}
	loader, err := warehouse.NewFromConfig(ctx, cfg, s, store, db, reg, log)
	if err != nil {
		return warehouse.Report{}, err
	}
	return loader.LoadAll(ctx)
}

// buildNormalizer applies FIELD_RULES on top of the built-in overrides.
func buildNormalizer(cfg config.Config) (*normalize.Normalizer, error) {
	s, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return nil, err
	}
	extra, err := normalize.ParseOverrides(cfg.FieldRules)
	if err != nil {
		return nil, err
	}
	overrides := make(map[string]normalize.Coercion, len(normalize.DefaultOverrides)+len(extra))
	for k, v := range normalize.DefaultOverrides {
		overrides[k] = v
	}
	for k, v := range extra {
		overrides[k] = v
	}
	table, err := normalize.NewTable(s, overrides)
	if err != nil {
		return nil, err
	}
	return normalize.NewNormalizer(table), nil
}

func uploadRetry(cfg config.Config, reg *metrics.Registry, log logrus.FieldLogger) sink.Retry {
	return sink.Retry{
		Attempts: cfg.UploadRetries,
		Base:     cfg.UploadRetryBackoff,
		OnRetry: func(attempt int, err error) {
			reg.UploadRetries.Inc()
			log.WithField("attempt", attempt).WithError(err).Warn("upload retry")
		},
	}
}

// serveMetrics exposes reg for the lifetime of the run.
func serveMetrics(addr string, reg *metrics.Registry, log logrus.FieldLogger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// defaultRunID prefers the last run the exporter finished, then the most
// recently started one.
func defaultRunID(db *storage.DB) (string, error) {
	last, err := db.GetMetadata(lastRunKey)
	if err != nil {
		return "", err
	}
	if last != nil {
		return *last, nil
	}
	latest, err := db.LatestRunID()
	if err != nil {
		return "", err
	}
	return util.DerefString(latest), nil
}

func usage() {
	fmt.Println("usage:")
	fmt.Println("  mongobq export [--format jsonl|parquet] [--max N] [--batch N] [--depth N]")
	fmt.Println("  mongobq load [--format jsonl|parquet] [--table NAME]")
	fmt.Println("  mongobq normalize --input docs.json")
	fmt.Println("  mongobq schema:show")
	fmt.Println("  mongobq runs:list [--limit N]")
	fmt.Println("  mongobq loads:list [--limit N]")
	fmt.Println("  mongobq report:xlsx [--run ID] --out report.xlsx")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
