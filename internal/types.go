package internal

import (
	"encoding/json"
	"time"
)

type WireFormat string

const (
	FormatJSONL   WireFormat = "jsonl"
	FormatParquet WireFormat = "parquet"
)

// Ext is the file extension, without the dot, for batch files in f.
func (f WireFormat) Ext() string { return string(f) }

// Prefix is the object-storage path under which batch files in f are stored.
func (f WireFormat) Prefix() string { return "exports_" + string(f) + "/" }

func (f WireFormat) Valid() bool { return f == FormatJSONL || f == FormatParquet }

type BatchStatus string

const (
	BatchUploaded BatchStatus = "UPLOADED"
	BatchEmpty    BatchStatus = "EMPTY"
	BatchFailed   BatchStatus = "FAILED"
)

// QuarantinedRecord is one document that failed normalization. The JSON
// names match the quarantine file layout.
type QuarantinedRecord struct {
	SourceID        string          `json:"_id"`
	RawCartProducts json.RawMessage `json:"cart_products"`
	RawOption       json.RawMessage `json:"option"`
	FailureReason   string          `json:"failure_reason"`
	Field           string          `json:"field,omitempty"`
	RawValue        json.RawMessage `json:"raw_value,omitempty"`
}

// BatchResult is what one page produced.
type BatchResult struct {
	BatchNumber    int
	Attempted      int
	Succeeded      int
	Quarantined    int
	OutputFile     string
	QuarantineFile string
	ObjectURI      string
	Bytes          int64
	Status         BatchStatus
	Err            error
	Duration       time.Duration
}

type RunSummary struct {
	RunID           string
	Format          WireFormat
	Total           int64
	Bound           int64
	Batches         int
	FailedBatches   int
	Attempted       int
	Succeeded       int
	Quarantined     int
	QuarantineFiles []string
	StartedAt       time.Time
	FinishedAt      time.Time
}

type RunRow struct {
	ID          string
	Format      string
	Source      string
	Bound       int64
	Attempted   int
	Succeeded   int
	Quarantined int
	Status      string
	StartedAt   string
	FinishedAt  *string
}

type BatchRow struct {
	RunID          string
	BatchNumber    int
	Attempted      int
	Succeeded      int
	Quarantined    int
	Status         string
	ObjectURI      *string
	QuarantineFile *string
	Error          *string
	DurationMs     int64
	CreatedAt      string
}

type LoadRow struct {
	ID        int
	URI       string
	Table     string
	JobID     *string
	Status    string
	Error     *string
	CreatedAt string
}

// BatchEvent is published after a batch file is uploaded.
type BatchEvent struct {
	RunID       string     `json:"run_id"`
	BatchNumber int        `json:"batch_number"`
	ObjectURI   string     `json:"object_uri"`
	Rows        int        `json:"rows"`
	Quarantined int        `json:"quarantined"`
	Format      WireFormat `json:"format"`
}
