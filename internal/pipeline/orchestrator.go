package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mongobq/internal"
	"mongobq/internal/metrics"
	"mongobq/internal/source"
	"mongobq/internal/value"
)

// Uploader puts a local file into object storage and returns its URI.
type Uploader interface {
	Upload(ctx context.Context, localPath, objectName string) (string, error)
}

// Recorder persists run progress. Failures to record are logged, never
// fatal to the run.
type Recorder interface {
	StartRun(runID string, format internal.WireFormat, source string, bound int64) error
	RecordBatch(runID string, res internal.BatchResult) error
	FinishRun(summary internal.RunSummary, status string) error
}

// Notifier announces uploaded batches.
type Notifier interface {
	Publish(ctx context.Context, ev internal.BatchEvent) error
}

type Options struct {
	BatchSize int
	// MaxDocs caps the run; 0 means every document the source reports.
	MaxDocs int64
	// PipelineDepth > 0 fetches ahead of export through a queue of this size.
	PipelineDepth int

	Ledger  Recorder
	Events  Notifier
	Metrics *metrics.Registry
	Log     logrus.FieldLogger
}

// Orchestrator drives one export run: count, then fetch, export, upload and
// advance page by page until the bound is reached or the source runs dry.
type Orchestrator struct {
	src      source.Source
	exporter *Exporter
	uploader Uploader
	opts     Options
	log      logrus.FieldLogger
}

func NewOrchestrator(src source.Source, exporter *Exporter, uploader Uploader, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{src: src, exporter: exporter, uploader: uploader, opts: opts, log: log}
}

type page struct {
	number int
	skip   int64
	docs   []*value.Map
	err    error
}

// Run executes the export. Only setup failures and cancellation are
// returned as errors; a failed batch is logged, recorded and skipped.
func (o *Orchestrator) Run(ctx context.Context) (internal.RunSummary, error) {
	summary := internal.RunSummary{
		RunID:     uuid.NewString(),
		Format:    o.exporter.Format(),
		StartedAt: time.Now().UTC(),
	}
	log := o.log.WithField("run_id", summary.RunID)

	total, err := o.src.Count(ctx)
	if err != nil {
		return summary, err
	}
	summary.Total = total
	summary.Bound = total
	if o.opts.MaxDocs > 0 && o.opts.MaxDocs < total {
		summary.Bound = o.opts.MaxDocs
	}
	log.WithFields(logrus.Fields{
		"source":     o.src.Name(),
		"total":      total,
		"bound":      summary.Bound,
		"batch_size": o.opts.BatchSize,
		"format":     summary.Format,
	}).Info("export started")

	if o.opts.Ledger != nil {
		if err := o.opts.Ledger.StartRun(summary.RunID, summary.Format, o.src.Name(), summary.Bound); err != nil {
			log.WithError(err).Warn("record run start")
		}
	}

	handle := func(p page) {
		res := o.processPage(ctx, summary.RunID, p, log)
		o.account(&summary, res, log)
	}
	if o.opts.PipelineDepth > 0 {
		err = o.runPipelined(ctx, summary.Bound, handle)
	} else {
		err = o.runSequential(ctx, summary.Bound, handle)
	}

	summary.FinishedAt = time.Now().UTC()
	status := "DONE"
	if err != nil {
		status = "CANCELLED"
	}
	if o.opts.Ledger != nil {
		if lerr := o.opts.Ledger.FinishRun(summary, status); lerr != nil {
			log.WithError(lerr).Warn("record run finish")
		}
	}
	if o.opts.Metrics != nil {
		o.opts.Metrics.LastRunSucceeded.Set(float64(summary.Succeeded))
	}
	log.WithFields(logrus.Fields{
		"batches":        summary.Batches,
		"failed_batches": summary.FailedBatches,
		"attempted":      summary.Attempted,
		"succeeded":      summary.Succeeded,
		"quarantined":    summary.Quarantined,
		"elapsed":        summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond),
	}).Info("export finished")
	return summary, err
}

// limitFor clamps the page size so the run never reads past bound.
func (o *Orchestrator) limitFor(skip, bound int64) int64 {
	limit := int64(o.opts.BatchSize)
	if remaining := bound - skip; remaining < limit {
		limit = remaining
	}
	return limit
}

func (o *Orchestrator) fetch(ctx context.Context, number int, skip, bound int64) page {
	p := page{number: number, skip: skip}
	p.docs, p.err = o.src.Find(ctx, skip, o.limitFor(skip, bound))
	return p
}

func (o *Orchestrator) runSequential(ctx context.Context, bound int64, handle func(page)) error {
	number := 0
	for skip := int64(0); skip < bound; skip += int64(o.opts.BatchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		number++
		p := o.fetch(ctx, number, skip, bound)
		if p.err == nil && len(p.docs) == 0 {
			o.log.WithField("batch", number).Info("source exhausted")
			return nil
		}
		handle(p)
	}
	return nil
}

// runPipelined overlaps fetching with export and upload. Pages are still
// handled one at a time and in order.
func (o *Orchestrator) runPipelined(ctx context.Context, bound int64, handle func(page)) error {
	g, gctx := errgroup.WithContext(ctx)
	pages := make(chan page, o.opts.PipelineDepth)

	g.Go(func() error {
		defer close(pages)
		number := 0
		for skip := int64(0); skip < bound; skip += int64(o.opts.BatchSize) {
			number++
			p := o.fetch(gctx, number, skip, bound)
			if p.err == nil && len(p.docs) == 0 {
				o.log.WithField("batch", number).Info("source exhausted")
				return nil
			}
			select {
			case pages <- p:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	g.Go(func() error {
		for p := range pages {
			if err := ctx.Err(); err != nil {
				return err
			}
			handle(p)
		}
		return nil
	})
	return g.Wait()
}

// processPage runs one page through export and upload. Any failure,
// including a panic, is reported on the result instead of escaping.
func (o *Orchestrator) processPage(ctx context.Context, runID string, p page, log logrus.FieldLogger) (res internal.BatchResult) {
	start := time.Now()
	res = internal.BatchResult{BatchNumber: p.number, Attempted: len(p.docs)}
	log = log.WithFields(logrus.Fields{"batch": p.number, "skip": p.skip})

	defer func() {
		if r := recover(); r != nil {
			res.Status = internal.BatchFailed
			res.Err = fmt.Errorf("panic in batch %d: %v", p.number, r)
			res.Succeeded = 0
			log.WithField("stack", string(debug.Stack())).Error(res.Err)
		}
		res.Duration = time.Since(start)
	}()

	if p.err != nil {
		res.Status = internal.BatchFailed
		res.Err = fmt.Errorf("fetch: %w", p.err)
		return res
	}

	out, err := o.exporter.ExportBatch(p.docs, p.number)
	res.Quarantined = len(out.Quarantined)
	res.QuarantineFile = out.QuarantineFile
	if errors.Is(err, ErrNoRows) {
		res.Status = internal.BatchEmpty
		return res
	}
	if err != nil {
		res.Status = internal.BatchFailed
		res.Err = fmt.Errorf("export: %w", err)
		return res
	}

	objectName := o.exporter.Format().Prefix() + filepath.Base(out.File)
	uri, err := o.uploader.Upload(ctx, out.File, objectName)
	if err != nil {
		res.Status = internal.BatchFailed
		res.Err = fmt.Errorf("upload: %w", err)
		res.OutputFile = out.File
		log.WithField("local_file", out.File).Warn("batch file kept after failed upload")
		return res
	}
	if err := os.Remove(out.File); err != nil {
		log.WithError(err).Warn("remove uploaded batch file")
	}

	res.Status = internal.BatchUploaded
	res.Succeeded = out.Succeeded
	res.ObjectURI = uri
	res.Bytes = out.Bytes

	if o.opts.Events != nil {
		ev := internal.BatchEvent{
			RunID:       runID,
			BatchNumber: p.number,
			ObjectURI:   uri,
			Rows:        out.Succeeded,
			Quarantined: res.Quarantined,
			Format:      o.exporter.Format(),
		}
		if err := o.opts.Events.Publish(ctx, ev); err != nil {
			log.WithError(err).Warn("publish batch event")
		}
	}
	return res
}

func (o *Orchestrator) account(summary *internal.RunSummary, res internal.BatchResult, log logrus.FieldLogger) {
	summary.Batches++
	summary.Attempted += res.Attempted
	summary.Succeeded += res.Succeeded
	summary.Quarantined += res.Quarantined
	if res.QuarantineFile != "" {
		summary.QuarantineFiles = append(summary.QuarantineFiles, res.QuarantineFile)
	}
	if res.Status == internal.BatchFailed {
		summary.FailedBatches++
	}

	fields := logrus.Fields{
		"batch":           res.BatchNumber,
		"status":          res.Status,
		"attempted":       res.Attempted,
		"succeeded":       res.Succeeded,
		"quarantined":     res.Quarantined,
		"total_attempted": summary.Attempted,
		"total_succeeded": summary.Succeeded,
		"bound":           summary.Bound,
	}
	if res.ObjectURI != "" {
		fields["object"] = res.ObjectURI
	}
	if res.Err != nil {
		log.WithFields(fields).WithError(res.Err).Error("batch failed, continuing")
	} else {
		log.WithFields(fields).Info("batch done")
	}

	if o.opts.Metrics != nil {
		m := o.opts.Metrics
		m.DocsAttempted.Add(float64(res.Attempted))
		m.DocsSucceeded.Add(float64(res.Succeeded))
		m.DocsQuarantined.Add(float64(res.Quarantined))
		m.Batches.WithLabelValues(string(res.Status)).Inc()
		m.BatchDurationSec.Observe(res.Duration.Seconds())
		m.UploadedBytes.Add(float64(res.Bytes))
	}
	if o.opts.Ledger != nil {
		if err := o.opts.Ledger.RecordBatch(summary.RunID, res); err != nil {
			log.WithError(err).WithField("batch", res.BatchNumber).Warn("record batch")
		}
	}
}
