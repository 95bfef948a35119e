package storage

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"mongobq/internal"
	"mongobq/internal/util"
)

// maxErrorText bounds stored error messages; load job errors can embed whole
// row samples.
const maxErrorText = 2000

// DB is the local run ledger: what each export run attempted and produced,
// and every load attempt. Nothing here drives resumption.
type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The pipelined exporter records from one goroutine, the trigger from
	// request goroutines; sqlite wants a single writer.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  format TEXT NOT NULL,
  source TEXT NOT NULL,
  bound INTEGER NOT NULL,
  attempted INTEGER NOT NULL DEFAULT 0,
  succeeded INTEGER NOT NULL DEFAULT 0,
  quarantined INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'RUNNING',
  startedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  finishedAt TEXT
);

CREATE TABLE IF NOT EXISTS batches (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId TEXT NOT NULL,
  batchNumber INTEGER NOT NULL,
  attempted INTEGER NOT NULL,
  succeeded INTEGER NOT NULL,
  quarantined INTEGER NOT NULL,
  status TEXT NOT NULL,
  objectUri TEXT,
  quarantineFile TEXT,
  error TEXT,
  durationMs INTEGER NOT NULL DEFAULT 0,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(runId, batchNumber),
  FOREIGN KEY(runId) REFERENCES runs(id)
);
CREATE INDEX IF NOT EXISTS idx_batches_runId ON batches(runId);

CREATE TABLE IF NOT EXISTS loads (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  uri TEXT NOT NULL,
  destTable TEXT NOT NULL,
  jobId TEXT,
  status TEXT NOT NULL,
  error TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_loads_uri ON loads(uri);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (d *DB) StartRun(runID string, format internal.WireFormat, source string, bound int64) error {
	_, err := d.conn.Exec(`INSERT INTO runs (id, format, source, bound) VALUES (?, ?, ?, ?)`,
		runID, string(format), source, bound)
	return err
}

func (d *DB) RecordBatch(runID string, res internal.BatchResult) error {
	errText := errorText(res.Err)
	_, err := d.conn.Exec(`
INSERT INTO batches (
  runId, batchNumber, attempted, succeeded, quarantined, status, objectUri, quarantineFile, error, durationMs
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(runId, batchNumber) DO UPDATE SET
  attempted=excluded.attempted,
  succeeded=excluded.succeeded,
  quarantined=excluded.quarantined,
  status=excluded.status,
  objectUri=excluded.objectUri,
  quarantineFile=excluded.quarantineFile,
  error=excluded.error,
  durationMs=excluded.durationMs
`, runID, res.BatchNumber, res.Attempted, res.Succeeded, res.Quarantined, string(res.Status),
		nullIfEmpty(res.ObjectURI), nullIfEmpty(res.QuarantineFile), errText, res.Duration.Milliseconds())
	return err
}

func (d *DB) FinishRun(summary internal.RunSummary, status string) error {
	finished := summary.FinishedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	_, err := d.conn.Exec(`
UPDATE runs SET attempted = ?, succeeded = ?, quarantined = ?, status = ?, finishedAt = ?
WHERE id = ?`,
		summary.Attempted, summary.Succeeded, summary.Quarantined, status, finished.Format(time.RFC3339), summary.RunID)
	return err
}

func (d *DB) RecordLoad(uri, table, jobID, status string, loadErr error) error {
	errText := errorText(loadErr)
	_, err := d.conn.Exec(`INSERT INTO loads (uri, destTable, jobId, status, error) VALUES (?, ?, ?, ?, ?)`,
		uri, table, nullIfEmpty(jobID), status, errText)
	return err
}

func (d *DB) ListRuns(limit int) ([]internal.RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(`
SELECT id, format, source, bound, attempted, succeeded, quarantined, status, startedAt, finishedAt
FROM runs
ORDER BY startedAt DESC, rowid DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.RunRow
	for rows.Next() {
		var r internal.RunRow
		if err := rows.Scan(&r.ID, &r.Format, &r.Source, &r.Bound, &r.Attempted, &r.Succeeded,
			&r.Quarantined, &r.Status, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns nil when id is unknown.
func (d *DB) GetRun(id string) (*internal.RunRow, error) {
	var r internal.RunRow
	err := d.conn.QueryRow(`
SELECT id, format, source, bound, attempted, succeeded, quarantined, status, startedAt, finishedAt
FROM runs WHERE id = ?`, id).Scan(&r.ID, &r.Format, &r.Source, &r.Bound, &r.Attempted, &r.Succeeded,
		&r.Quarantined, &r.Status, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LatestRunID returns nil when no run was recorded yet.
func (d *DB) LatestRunID() (*string, error) {
	var id string
	err := d.conn.QueryRow(`SELECT id FROM runs ORDER BY startedAt DESC, rowid DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (d *DB) ListBatches(runID string) ([]internal.BatchRow, error) {
	rows, err := d.conn.Query(`
SELECT runId, batchNumber, attempted, succeeded, quarantined, status, objectUri, quarantineFile, error, durationMs, createdAt
FROM batches
WHERE runId = ?
ORDER BY batchNumber`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.BatchRow
	for rows.Next() {
		var b internal.BatchRow
		if err := rows.Scan(&b.RunID, &b.BatchNumber, &b.Attempted, &b.Succeeded, &b.Quarantined, &b.Status,
			&b.ObjectURI, &b.QuarantineFile, &b.Error, &b.DurationMs, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (d *DB) ListLoads(limit int) ([]internal.LoadRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.conn.Query(`
SELECT id, uri, destTable, jobId, status, error, createdAt
FROM loads
ORDER BY id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.LoadRow
	for rows.Next() {
		var l internal.LoadRow
		if err := rows.Scan(&l.ID, &l.URI, &l.Table, &l.JobID, &l.Status, &l.Error, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	return util.StringPtr(util.Truncate(err.Error(), maxErrorText))
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return util.StringPtr(s)
}
