package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mongobq/internal"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "runs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunLedgerRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if err := db.StartRun("run-1", internal.FormatJSONL, "countly.summary", 50); err != nil {
		t.Fatalf("start run: %v", err)
	}
	batches := []internal.BatchResult{
		{BatchNumber: 1, Attempted: 20, Succeeded: 19, Quarantined: 1, Status: internal.BatchUploaded,
			ObjectURI: "gs://b/exports_jsonl/export_batch_1.jsonl", QuarantineFile: "/tmp/q1.json", Duration: 1500 * time.Millisecond},
		{BatchNumber: 2, Attempted: 20, Status: internal.BatchFailed, Err: errors.New("upload: 503")},
	}
	for _, b := range batches {
		if err := db.RecordBatch("run-1", b); err != nil {
			t.Fatalf("record batch %d: %v", b.BatchNumber, err)
		}
	}
	summary := internal.RunSummary{RunID: "run-1", Attempted: 40, Succeeded: 19, Quarantined: 1, FinishedAt: time.Now().UTC()}
	if err := db.FinishRun(summary, "DONE"); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	runs, err := db.ListRuns(10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.ID != "run-1" || r.Status != "DONE" || r.Attempted != 40 || r.Succeeded != 19 || r.Bound != 50 {
		t.Fatalf("unexpected run row: %+v", r)
	}
	if r.FinishedAt == nil {
		t.Fatalf("finishedAt not set")
	}

	rows, err := db.ListBatches("run-1")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(rows))
	}
	if rows[0].ObjectURI == nil || *rows[0].ObjectURI != batches[0].ObjectURI {
		t.Fatalf("batch 1 uri: %+v", rows[0].ObjectURI)
	}
	if rows[0].DurationMs != 1500 {
		t.Fatalf("batch 1 duration: %d", rows[0].DurationMs)
	}
	if rows[1].Error == nil || *rows[1].Error != "upload: 503" {
		t.Fatalf("batch 2 error: %+v", rows[1].Error)
	}
	if rows[1].ObjectURI != nil {
		t.Fatalf("failed batch should have no uri")
	}

	got, err := db.GetRun("run-1")
	if err != nil || got == nil || got.Quarantined != 1 {
		t.Fatalf("get run: %+v %v", got, err)
	}
	missing, err := db.GetRun("nope")
	if err != nil || missing != nil {
		t.Fatalf("expected no run, got %+v %v", missing, err)
	}

	latest, err := db.LatestRunID()
	if err != nil || latest == nil || *latest != "run-1" {
		t.Fatalf("latest run: %v %v", latest, err)
	}
}

func TestRecordBatchIsIdempotentPerNumber(t *testing.T) {
	db := openTestDB(t)
	_ = db.StartRun("run-2", internal.FormatParquet, "x", 10)

	first := internal.BatchResult{BatchNumber: 1, Attempted: 10, Status: internal.BatchFailed, Err: errors.New("boom")}
	second := internal.BatchResult{BatchNumber: 1, Attempted: 10, Succeeded: 10, Status: internal.BatchUploaded}
	if err := db.RecordBatch("run-2", first); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordBatch("run-2", second); err != nil {
		t.Fatal(err)
	}
	rows, err := db.ListBatches("run-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Status != string(internal.BatchUploaded) || rows[0].Error != nil {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestRecordLoad(t *testing.T) {
	db := openTestDB(t)
	if err := db.RecordLoad("gs://b/a.jsonl", "p.d.t", "job_1", "DONE", nil); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordLoad("gs://b/b.jsonl", "p.d.t", "", "FAILED", errors.New("invalid schema")); err != nil {
		t.Fatal(err)
	}
	loads, err := db.ListLoads(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(loads) != 2 {
		t.Fatalf("expected 2 loads, got %d", len(loads))
	}
	if loads[0].URI != "gs://b/b.jsonl" || loads[0].JobID != nil || loads[0].Error == nil {
		t.Fatalf("unexpected newest load: %+v", loads[0])
	}
}

func TestLongErrorsAreTruncated(t *testing.T) {
	db := openTestDB(t)
	_ = db.StartRun("run-3", internal.FormatJSONL, "x", 1)
	long := errors.New(strings.Repeat("x", 5000))
	if err := db.RecordBatch("run-3", internal.BatchResult{BatchNumber: 1, Status: internal.BatchFailed, Err: long}); err != nil {
		t.Fatal(err)
	}
	rows, err := db.ListBatches("run-3")
	if err != nil {
		t.Fatal(err)
	}
	if got := len([]rune(*rows[0].Error)); got != maxErrorText+1 {
		t.Fatalf("stored error length = %d", got)
	}
}

func TestMetadata(t *testing.T) {
	db := openTestDB(t)
	v, err := db.GetMetadata("last_run")
	if err != nil || v != nil {
		t.Fatalf("expected missing key, got %v %v", v, err)
	}
	if err := db.SetMetadata("last_run", "a"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetMetadata("last_run", "b"); err != nil {
		t.Fatal(err)
	}
	v, err = db.GetMetadata("last_run")
	if err != nil || v == nil || *v != "b" {
		t.Fatalf("unexpected value %v %v", v, err)
	}
}
