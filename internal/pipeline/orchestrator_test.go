package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongobq/internal"
	"mongobq/internal/logging"
	"mongobq/internal/metrics"
	"mongobq/internal/value"
)

type fakeSource struct {
	docs     []*value.Map
	count    int64 // reported count; may differ from len(docs)
	failSkip map[int64]bool

	mu    sync.Mutex
	finds [][2]int64
}

func newFakeSource(n int) *fakeSource {
	docs := make([]*value.Map, n)
	for i := range docs {
		docs[i] = sampleDoc(i + 1)
	}
	return &fakeSource{docs: docs, count: int64(n)}
}

func (s *fakeSource) Name() string { return "fake.summary" }

func (s *fakeSource) Count(context.Context) (int64, error) { return s.count, nil }

func (s *fakeSource) Find(_ context.Context, skip, limit int64) ([]*value.Map, error) {
	s.mu.Lock()
	s.finds = append(s.finds, [2]int64{skip, limit})
	s.mu.Unlock()
	if s.failSkip[skip] {
		return nil, errors.New("cursor killed")
	}
	n := int64(len(s.docs))
	if skip >= n {
		return nil, nil
	}
	end := skip + limit
	if end > n {
		end = n
	}
	return s.docs[skip:end], nil
}

type fakeUploader struct {
	mu      sync.Mutex
	objects []string
	fail    map[string]bool // object names to reject
}

func (u *fakeUploader) Upload(_ context.Context, localPath, objectName string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	if u.fail[objectName] {
		return "", errors.New("503 backend unavailable")
	}
	u.objects = append(u.objects, objectName)
	return "gs://bucket/" + objectName, nil
}

type fakeLedger struct {
	started  bool
	batches  []internal.BatchResult
	finished string
}

func (l *fakeLedger) StartRun(string, internal.WireFormat, string, int64) error {
	l.started = true
	return nil
}

func (l *fakeLedger) RecordBatch(_ string, res internal.BatchResult) error {
	l.batches = append(l.batches, res)
	return nil
}

func (l *fakeLedger) FinishRun(_ internal.RunSummary, status string) error {
	l.finished = status
	return nil
}

type fakeEvents struct {
	events []internal.BatchEvent
	err    error
}

func (f *fakeEvents) Publish(_ context.Context, ev internal.BatchEvent) error {
	f.events = append(f.events, ev)
	return f.err
}

func newTestOrchestrator(t *testing.T, src *fakeSource, up *fakeUploader, opts Options) *Orchestrator {
	t.Helper()
	e, _ := newTestExporter(t, internal.FormatJSONL)
	opts.Log = logging.Discard()
	return NewOrchestrator(src, e, up, opts)
}

func TestRunProcessesEveryPage(t *testing.T) {
	src := newFakeSource(25)
	up := &fakeUploader{}
	ledger := &fakeLedger{}
	events := &fakeEvents{}
	reg := metrics.NewRegistry()
	o := newTestOrchestrator(t, src, up, Options{BatchSize: 10, Ledger: ledger, Events: events, Metrics: reg})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Batches)
	assert.Equal(t, 25, summary.Attempted)
	assert.Equal(t, 25, summary.Succeeded)
	assert.Equal(t, 0, summary.FailedBatches)
	assert.NotEmpty(t, summary.RunID)
	assert.Len(t, up.objects, 3)
	for _, obj := range up.objects {
		assert.Regexp(t, `^exports_jsonl/export_batch_\d+_\d{8}_\d{6}\.jsonl$`, obj)
	}
	assert.Equal(t, [][2]int64{{0, 10}, {10, 10}, {20, 5}}, src.finds)

	assert.True(t, ledger.started)
	assert.Len(t, ledger.batches, 3)
	assert.Equal(t, "DONE", ledger.finished)
	require.Len(t, events.events, 3)
	assert.Equal(t, summary.RunID, events.events[0].RunID)
	assert.Equal(t, 10, events.events[0].Rows)
}

func TestRunCapBoundsDocuments(t *testing.T) {
	cases := []struct {
		name      string
		batchSize int
		wantFinds [][2]int64
	}{
		{name: "cap smaller than batch", batchSize: 1000, wantFinds: [][2]int64{{0, 50}}},
		{name: "cap spans batches", batchSize: 20, wantFinds: [][2]int64{{0, 20}, {20, 20}, {40, 10}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := newFakeSource(1000)
			o := newTestOrchestrator(t, src, &fakeUploader{}, Options{BatchSize: tc.batchSize, MaxDocs: 50})

			summary, err := o.Run(context.Background())
			require.NoError(t, err)
			assert.EqualValues(t, 1000, summary.Total)
			assert.EqualValues(t, 50, summary.Bound)
			assert.Equal(t, 50, summary.Attempted)
			assert.Equal(t, 50, summary.Succeeded)
			assert.Equal(t, tc.wantFinds, src.finds)
		})
	}
}

func TestRunStopsOnEmptyPage(t *testing.T) {
	src := newFakeSource(15)
	src.count = 100 // estimated count overshoots
	up := &fakeUploader{}
	o := newTestOrchestrator(t, src, up, Options{BatchSize: 10})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Batches)
	assert.Equal(t, 15, summary.Succeeded)
	assert.Len(t, src.finds, 3)
	assert.Len(t, up.objects, 2)
}

func TestRunContinuesAfterFailedBatch(t *testing.T) {
	src := newFakeSource(30)
	src.failSkip = map[int64]bool{10: true}
	ledger := &fakeLedger{}
	o := newTestOrchestrator(t, src, &fakeUploader{}, Options{BatchSize: 10, Ledger: ledger})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Batches)
	assert.Equal(t, 1, summary.FailedBatches)
	assert.Equal(t, 20, summary.Succeeded)
	require.Len(t, ledger.batches, 3)
	assert.Equal(t, internal.BatchFailed, ledger.batches[1].Status)
	assert.ErrorContains(t, ledger.batches[1].Err, "cursor killed")
	assert.Equal(t, internal.BatchUploaded, ledger.batches[2].Status)
}

type failingUploader struct{}

func (failingUploader) Upload(context.Context, string, string) (string, error) {
	return "", errors.New("403 forbidden")
}

func TestRunKeepsFileWhenUploadFails(t *testing.T) {
	src := newFakeSource(12)
	e, _ := newTestExporter(t, internal.FormatJSONL)
	ledger := &fakeLedger{}
	o := NewOrchestrator(src, e, failingUploader{}, Options{BatchSize: 10, Ledger: ledger, Log: logging.Discard()})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Batches)
	assert.Equal(t, 2, summary.FailedBatches)
	assert.Equal(t, 12, summary.Attempted)
	assert.Equal(t, 0, summary.Succeeded)

	for _, b := range ledger.batches {
		require.NotEmpty(t, b.OutputFile)
		_, statErr := os.Stat(b.OutputFile)
		assert.NoError(t, statErr, "local file should survive a failed upload")
	}
}

func TestRunUploadsBatchWithQuarantinedRecord(t *testing.T) {
	src := newFakeSource(10)
	src.docs[6] = malformedDoc(7)
	up := &fakeUploader{}
	o := newTestOrchestrator(t, src, up, Options{BatchSize: 10})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Attempted)
	assert.Equal(t, 9, summary.Succeeded)
	assert.Equal(t, 1, summary.Quarantined)
	assert.Len(t, summary.QuarantineFiles, 1)
	assert.Len(t, up.objects, 1)
}

func TestRunEventFailureDoesNotFailBatch(t *testing.T) {
	src := newFakeSource(5)
	events := &fakeEvents{err: errors.New("broker down")}
	o := newTestOrchestrator(t, src, &fakeUploader{}, Options{BatchSize: 10, Events: events})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.FailedBatches)
	assert.Len(t, events.events, 1)
}

func TestRunPipelinedMatchesSequential(t *testing.T) {
	src := newFakeSource(95)
	src.failSkip = map[int64]bool{40: true}
	up := &fakeUploader{}
	ledger := &fakeLedger{}
	o := newTestOrchestrator(t, src, up, Options{BatchSize: 10, PipelineDepth: 2, Ledger: ledger})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Batches)
	assert.Equal(t, 1, summary.FailedBatches)
	assert.Equal(t, 85, summary.Succeeded)
	for i, b := range ledger.batches {
		assert.Equal(t, i+1, b.BatchNumber)
	}
}

func TestRunCancelled(t *testing.T) {
	src := newFakeSource(30)
	o := newTestOrchestrator(t, src, &fakeUploader{}, Options{BatchSize: 10})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := o.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, summary.Batches)
}
