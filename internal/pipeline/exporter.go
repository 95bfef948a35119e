package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mongobq/internal"
	"mongobq/internal/normalize"
	"mongobq/internal/value"
)

// ErrNoRows means no document in the page normalized, so there is nothing
// to upload. It is not a failure.
var ErrNoRows = errors.New("no rows to write")

type Exporter struct {
	normalizer    *normalize.Normalizer
	format        internal.WireFormat
	workDir       string
	quarantineDir string
	plan          *parquetPlan
	now           func() time.Time
	log           logrus.FieldLogger

	mu      sync.Mutex
	dropped map[string]struct{}
}

type ExporterOptions struct {
	Format        internal.WireFormat
	WorkDir       string
	QuarantineDir string
	// Now stamps file names; defaults to time.Now.
	Now func() time.Time
	Log logrus.FieldLogger
}

func NewExporter(n *normalize.Normalizer, opts ExporterOptions) (*Exporter, error) {
	if !opts.Format.Valid() {
		return nil, fmt.Errorf("unsupported wire format %q", opts.Format)
	}
	e := &Exporter{
		normalizer:    n,
		format:        opts.Format,
		workDir:       opts.WorkDir,
		quarantineDir: opts.QuarantineDir,
		now:           opts.Now,
		log:           opts.Log,
		dropped:       map[string]struct{}{},
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	if e.quarantineDir == "" {
		e.quarantineDir = filepath.Join(e.workDir, "quarantine")
	}
	if e.format == internal.FormatParquet {
		plan, err := newParquetPlan(n.Table().Schema())
		if err != nil {
			return nil, err
		}
		e.plan = plan
	}
	return e, nil
}

func (e *Exporter) Format() internal.WireFormat { return e.format }

// ExportOutput describes one page after normalization and serialization.
type ExportOutput struct {
	File           string
	Attempted      int
	Succeeded      int
	Quarantined    []internal.QuarantinedRecord
	QuarantineFile string
	Bytes          int64
}

// ExportBatch normalizes docs, quarantines the ones that fail and writes the
// rest to a single batch file. When no document survives it returns
// ErrNoRows with File empty. The caller owns the returned file.
func (e *Exporter) ExportBatch(docs []*value.Map, batchNumber int) (ExportOutput, error) {
	out := ExportOutput{Attempted: len(docs)}
	stamp := e.now()
	log := e.log.WithField("batch", batchNumber)

	rows := make([]*value.Map, 0, len(docs))
	unknown := map[string]struct{}{}
	for _, doc := range docs {
		rec, extra, err := e.normalizer.Normalize(doc)
		if err != nil {
			q := quarantine(doc, err)
			out.Quarantined = append(out.Quarantined, q)
			log.WithFields(logrus.Fields{"source_id": q.SourceID, "field": q.Field}).
				Warnf("record quarantined: %v", err)
			continue
		}
		for _, k := range extra {
			unknown[k] = struct{}{}
		}
		rows = append(rows, rec)
	}
	if len(unknown) > 0 {
		if fresh := e.firstDrops(unknown); len(fresh) > 0 {
			log.WithField("fields", fresh).Info("source fields not in schema dropped")
		}
		log.WithField("fields", sortedKeys(unknown)).Debug("source fields not in schema dropped")
	}

	if len(out.Quarantined) > 0 {
		path := filepath.Join(e.quarantineDir, QuarantineFileName(batchNumber, stamp))
		if err := writeQuarantineFile(path, out.Quarantined); err != nil {
			log.WithError(err).Error("write quarantine file")
		} else {
			out.QuarantineFile = path
		}
	}

	if len(rows) == 0 {
		return out, ErrNoRows
	}

	if err := os.MkdirAll(e.workDir, 0o755); err != nil {
		return out, fmt.Errorf("create work dir: %w", err)
	}
	path := filepath.Join(e.workDir, BatchFileName(batchNumber, stamp, e.format))
	if err := e.writeRows(path, rows); err != nil {
		_ = os.Remove(path)
		return out, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if info, err := os.Stat(path); err == nil {
		out.Bytes = info.Size()
	}
	out.File = path
	out.Succeeded = len(rows)
	return out, nil
}

// firstDrops returns the fields in unknown not reported by an earlier batch.
func (e *Exporter) firstDrops(unknown map[string]struct{}) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	fresh := map[string]struct{}{}
	for k := range unknown {
		if _, seen := e.dropped[k]; !seen {
			e.dropped[k] = struct{}{}
			fresh[k] = struct{}{}
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	return sortedKeys(fresh)
}

func (e *Exporter) writeRows(path string, rows []*value.Map) (err error) {
	w, err := newRecordWriter(e.format, path, e.plan)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()
	for _, rec := range rows {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}
