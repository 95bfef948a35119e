package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mongobq/internal/config"
	"mongobq/internal/logging"
	"mongobq/internal/metrics"
	"mongobq/internal/schema"
	"mongobq/internal/sink"
	"mongobq/internal/storage"
	"mongobq/internal/trigger"
	"mongobq/internal/warehouse"
)

func main() {
	cfg, err := config.Load()
	must(err)

	log, err := logging.New(cfg)
	must(err)

	s, err := schema.Load(cfg.SchemaPath)
	must(err)

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := metrics.NewRegistry()
	store, err := sink.New(ctx, cfg, sink.Retry{Attempts: cfg.UploadRetries, Base: cfg.UploadRetryBackoff})
	must(err)
	loader, err := warehouse.NewFromConfig(ctx, cfg, s, store, db, reg, log)
	must(err)

	svc := trigger.NewService(loader, reg.Handler(), log)
	must(svc.Run(ctx, cfg.HTTPAddr))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
