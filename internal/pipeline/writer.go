package pipeline

import (
	"bufio"
	"fmt"
	"os"

	"mongobq/internal"
	"mongobq/internal/value"
)

// recordWriter serializes normalized rows into one batch file.
type recordWriter interface {
	Write(rec *value.Map) error
	// Close flushes and closes the file. It must be called exactly once.
	Close() error
}

func newRecordWriter(format internal.WireFormat, path string, plan *parquetPlan) (recordWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case internal.FormatJSONL:
		return &jsonlWriter{file: f, buf: bufio.NewWriterSize(f, 64<<10)}, nil
	case internal.FormatParquet:
		if plan == nil {
			_ = f.Close()
			return nil, fmt.Errorf("parquet writer needs a schema plan")
		}
		return plan.newWriter(f), nil
	default:
		_ = f.Close()
		return nil, fmt.Errorf("unsupported wire format %q", format)
	}
}

// jsonlWriter writes one UTF-8 JSON object per line. Non-ASCII text is
// written as-is, not escaped.
type jsonlWriter struct {
	file    *os.File
	buf     *bufio.Writer
	scratch []byte
}

func (w *jsonlWriter) Write(rec *value.Map) error {
	w.scratch = value.AppendJSON(w.scratch[:0], value.Object(rec))
	w.scratch = append(w.scratch, '\n')
	_, err := w.buf.Write(w.scratch)
	return err
}

func (w *jsonlWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}
