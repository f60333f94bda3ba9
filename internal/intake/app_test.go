package intake

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"porecon/internal"
	"porecon/internal/logging"
	"porecon/internal/pipeline"
)

type testSettings struct {
	root     string
	input    string
	mode     internal.WorkingMode
	archive  bool
	interval int
	keep     int

	mu sync.Mutex
}

func (s *testSettings) WorkingMode() internal.WorkingMode { return s.mode }
func (s *testSettings) ArchiveProcessedFiles() bool       { return s.archive }
func (s *testSettings) EnableFuzzyMatch() bool            { return true }
func (s *testSettings) ThresholdPercent() int             { return 80 }
func (s *testSettings) ExportFormat() string              { return "xlsx" }

func (s *testSettings) BackupInterval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *testSettings) setInterval(hours int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = hours
}

func (s *testSettings) MaxBackups() int    { return s.keep }
func (s *testSettings) OutputDir() string  { return filepath.Join(s.root, "Output") }
func (s *testSettings) ReviewDir() string  { return filepath.Join(s.root, "Review") }
func (s *testSettings) ArchiveDir() string { return filepath.Join(s.root, "Archive") }

func (s *testSettings) InputDir() string {
	if s.input != "" {
		return s.input
	}
	return filepath.Join(s.root, "Input")
}

type scriptedProcessor struct {
	mu    sync.Mutex
	calls []string
	next  func(call int, path string) (pipeline.Outcome, error)
}

func (p *scriptedProcessor) Process(_ context.Context, path string, _ pipeline.ProcessOptions) (pipeline.Outcome, error) {
	p.mu.Lock()
	p.calls = append(p.calls, filepath.Base(path))
	n := len(p.calls)
	p.mu.Unlock()
	if p.next == nil {
		return pipeline.Outcome{Kind: pipeline.OutcomeAllGreen}, nil
	}
	return p.next(n, path)
}

func (p *scriptedProcessor) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type mappingLog struct {
	mu   sync.Mutex
	rows []internal.Mapping
}

func (m *mappingLog) AddMapping(_ context.Context, supplier, sku, code string) error {
	if code == "MISSING" {
		return errors.New("product not found")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, internal.Mapping{Supplier: supplier, SupplierSKU: sku, WarehouseCode: code})
	return nil
}

func (m *mappingLog) Rows() []internal.Mapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]internal.Mapping(nil), m.rows...)
}

func fastTimings() Timings {
	return Timings{
		Poll:       10 * time.Millisecond,
		Settle:     30 * time.Millisecond,
		Pop:        10 * time.Millisecond,
		Idle:       10 * time.Millisecond,
		Recheck:    10 * time.Millisecond,
		BackupUnit: time.Second,
	}
}

func newTestApp(t *testing.T, s *testSettings, p FileProcessor) *App {
	t.Helper()
	return New(Deps{
		Settings:   s,
		Processor:  p,
		Logger:     logging.Discard(),
		Timings:    fastTimings(),
		NoFSNotify: true,
	})
}

func newRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"Input", "Output", "Review", "Archive"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	return root
}

func writePDF(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("%PDF-1.4"), 0o644))
}

// start runs the app and returns a stop func that cancels and waits for Run.
func start(t *testing.T, app *App) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = app.Run(ctx)
	}()
	stop := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
	t.Cleanup(func() {
		cancel()
		if req := app.Desk().Pending(); req != nil {
			_ = app.Desk().Resolve(req.ID, Decision{Action: ActionHold})
		}
		<-done
	})
	return stop
}

func needsReview(path string) pipeline.Outcome {
	payload := pipeline.PrepareReviewData(filepath.Base(path), "Acme", []internal.MatchRow{
		{SKU: "AS-001", Description: "known", Flag: internal.FlagGreen, Score: 100},
		{SKU: "N-1", Description: "garden hose", Flag: internal.FlagRed},
	})
	return pipeline.Outcome{
		Kind:       pipeline.OutcomeNeedsReview,
		Extraction: internal.Extraction{Supplier: "Acme"},
		Rows:       payload.Rows,
		Review:     &payload,
	}
}

func TestAllGreenArchivesFile(t *testing.T) {
	root := newRoot(t)
	s := &testSettings{root: root, mode: internal.ModeAuto, archive: true}
	p := &scriptedProcessor{}
	app := newTestApp(t, s, p)
	writePDF(t, s.InputDir(), "po.pdf")

	stop := start(t, app)
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(s.ArchiveDir(), "po.pdf"))
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.NoFileExists(t, filepath.Join(s.InputDir(), "po.pdf"))
	assert.False(t, app.seen.Has("po.pdf"))
	assert.Equal(t, []string{"po.pdf"}, p.Calls())
}

func TestAutoModeParksFileInReview(t *testing.T) {
	root := newRoot(t)
	s := &testSettings{root: root, mode: internal.ModeAuto}
	p := &scriptedProcessor{next: func(_ int, path string) (pipeline.Outcome, error) {
		return needsReview(path), nil
	}}
	app := newTestApp(t, s, p)
	writePDF(t, s.InputDir(), "po.pdf")

	stop := start(t, app)
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(s.ReviewDir(), "po.pdf"))
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stop()

	assert.False(t, app.desk.NeedsReview(), "auto mode does not ask for a review")
	assert.False(t, app.seen.Has("po.pdf"))
	assert.Equal(t, []string{"po.pdf"}, p.Calls(), "Review/ is not re-ingested")
}

// Hybrid mode: the worker blocks on the review, commits the confirmed
// mappings, and moves the file on once the reviewer answers.
func TestHybridReviewRoundTrip(t *testing.T) {
	root := newRoot(t)
	s := &testSettings{root: root, mode: internal.ModeHybrid}
	p := &scriptedProcessor{next: func(_ int, path string) (pipeline.Outcome, error) {
		return needsReview(path), nil
	}}
	mappings := &mappingLog{}
	app := New(Deps{
		Settings:   s,
		Processor:  p,
		Mappings:   mappings,
		Logger:     logging.Discard(),
		Timings:    fastTimings(),
		NoFSNotify: true,
	})
	writePDF(t, s.InputDir(), "po.pdf")

	stop := start(t, app)
	req := waitPending(t, app.Desk())
	assert.Equal(t, StateAwaitingReview, app.State())
	assert.Equal(t, "po.pdf", req.Payload.File)
	assert.Equal(t, internal.FlagRed, req.Payload.Rows[0].Flag)
	assert.FileExists(t, filepath.Join(s.ReviewDir(), "po.pdf"))

	require.NoError(t, app.Desk().Resolve(req.ID, Decision{
		Action: ActionArchive,
		Mappings: []internal.Mapping{
			{SupplierSKU: " N-1 ", WarehouseCode: "WH-100"},
			{SupplierSKU: "N-2", WarehouseCode: "MISSING"},
		},
	}))

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(s.ArchiveDir(), "po.pdf"))
		return err == nil && !app.Desk().NeedsReview()
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.NoFileExists(t, filepath.Join(s.ReviewDir(), "po.pdf"))
	assert.Equal(t, []internal.Mapping{{Supplier: "Acme", SupplierSKU: "N-1", WarehouseCode: "WH-100"}}, mappings.Rows())
	assert.False(t, app.seen.Has("po.pdf"))
}

func TestHybridRequeueReprocessesFile(t *testing.T) {
	root := newRoot(t)
	s := &testSettings{root: root, mode: internal.ModeHybrid}
	p := &scriptedProcessor{next: func(call int, path string) (pipeline.Outcome, error) {
		if call == 1 {
			return needsReview(path), nil
		}
		return pipeline.Outcome{Kind: pipeline.OutcomeAllGreen}, nil
	}}
	app := newTestApp(t, s, p)
	writePDF(t, s.InputDir(), "po.pdf")

	stop := start(t, app)
	req := waitPending(t, app.Desk())
	require.NoError(t, app.Desk().Resolve(req.ID, Decision{}))

	require.Eventually(t, func() bool {
		return len(p.Calls()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.FileExists(t, filepath.Join(s.InputDir(), "po.pdf"), "green files stay put when archiving is off")
	assert.NoFileExists(t, filepath.Join(s.ReviewDir(), "po.pdf"))
}

func TestProcessingErrorLeavesFileInSeenSet(t *testing.T) {
	root := newRoot(t)
	s := &testSettings{root: root, mode: internal.ModeAuto}
	p := &scriptedProcessor{next: func(int, string) (pipeline.Outcome, error) {
		return pipeline.Outcome{}, errors.New("registry locked")
	}}
	app := newTestApp(t, s, p)
	writePDF(t, s.InputDir(), "po.pdf")

	stop := start(t, app)
	require.Eventually(t, func() bool { return len(p.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	stop()

	assert.Equal(t, []string{"po.pdf"}, p.Calls(), "failed files are not retried")
	assert.True(t, app.seen.Has("po.pdf"))
	assert.FileExists(t, filepath.Join(s.InputDir(), "po.pdf"))
}

func TestExtractionFailedSkipsFile(t *testing.T) {
	root := newRoot(t)
	s := &testSettings{root: root, mode: internal.ModeHybrid}
	p := &scriptedProcessor{next: func(int, string) (pipeline.Outcome, error) {
		return pipeline.Outcome{Kind: pipeline.OutcomeExtractionFailed, Reason: pipeline.ErrExtractionFailed}, nil
	}}
	app := newTestApp(t, s, p)
	writePDF(t, s.InputDir(), "scan.pdf")

	stop := start(t, app)
	require.Eventually(t, func() bool { return len(p.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stop()

	assert.False(t, app.desk.NeedsReview())
	assert.FileExists(t, filepath.Join(s.InputDir(), "scan.pdf"))
}

func TestModeOffLeavesQueueAlone(t *testing.T) {
	root := newRoot(t)
	s := &testSettings{root: root, mode: internal.ModeOff}
	p := &scriptedProcessor{}
	app := newTestApp(t, s, p)
	writePDF(t, s.InputDir(), "po.pdf")

	stop := start(t, app)
	require.Eventually(t, func() bool { return app.QueueLen() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateIdle, app.State())
	stop()

	assert.Empty(t, p.Calls())
}

func TestWatcherWaitsForCopyToFinish(t *testing.T) {
	root := newRoot(t)
	s := &testSettings{root: root, mode: internal.ModeAuto}
	var (
		mu    sync.Mutex
		sizes []int64
	)
	p := &scriptedProcessor{next: func(_ int, path string) (pipeline.Outcome, error) {
		info, err := os.Stat(path)
		if err != nil {
			return pipeline.Outcome{}, err
		}
		mu.Lock()
		sizes = append(sizes, info.Size())
		mu.Unlock()
		return pipeline.Outcome{Kind: pipeline.OutcomeAllGreen}, nil
	}}
	timings := fastTimings()
	timings.Settle = 300 * time.Millisecond
	app := New(Deps{Settings: s, Processor: p, Logger: logging.Discard(), Timings: timings, NoFSNotify: true})

	f, err := os.Create(filepath.Join(s.InputDir(), "big.pdf"))
	require.NoError(t, err)

	stop := start(t, app)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, p.Calls(), "an empty file that was just created is not queued")
	_, err = f.Write(make([]byte, 4096))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return len(p.Calls()) == 1 }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{4096}, sizes)
}

func TestExtractionRetriedWhenFileChangedDuringRead(t *testing.T) {
	root := newRoot(t)
	s := &testSettings{root: root, mode: internal.ModeAuto}
	p := &scriptedProcessor{next: func(call int, path string) (pipeline.Outcome, error) {
		if call == 1 {
			f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return pipeline.Outcome{}, err
			}
			_, _ = f.WriteString("%%EOF")
			_ = f.Close()
			return pipeline.Outcome{Kind: pipeline.OutcomeExtractionFailed, Reason: pipeline.ErrExtractionFailed}, nil
		}
		return pipeline.Outcome{Kind: pipeline.OutcomeAllGreen}, nil
	}}
	app := newTestApp(t, s, p)
	writePDF(t, s.InputDir(), "po.pdf")

	stop := start(t, app)
	require.Eventually(t, func() bool { return len(p.Calls()) == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	stop()

	assert.Equal(t, []string{"po.pdf", "po.pdf"}, p.Calls())
}

func TestHybridRequeueKeepsNewerFileWithSameName(t *testing.T) {
	root := newRoot(t)
	s := &testSettings{root: root, mode: internal.ModeHybrid}
	p := &scriptedProcessor{next: func(call int, path string) (pipeline.Outcome, error) {
		if call == 1 {
			return needsReview(path), nil
		}
		return pipeline.Outcome{Kind: pipeline.OutcomeAllGreen}, nil
	}}
	app := newTestApp(t, s, p)
	input := s.InputDir()
	require.NoError(t, os.WriteFile(filepath.Join(input, "po.pdf"), []byte("FIRST"), 0o644))

	stop := start(t, app)
	req := waitPending(t, app.Desk())
	require.NoError(t, os.WriteFile(filepath.Join(input, "po.pdf"), []byte("SECOND"), 0o644))
	require.NoError(t, app.Desk().Resolve(req.ID, Decision{Action: ActionRequeue}))

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(input, "po_2.pdf"))
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	second, err := os.ReadFile(filepath.Join(input, "po.pdf"))
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(input, "po_2.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "SECOND", string(second))
	assert.Equal(t, "FIRST", string(first))
}

func TestFilesQueuedDuringReviewKeepOrder(t *testing.T) {
	root := newRoot(t)
	s := &testSettings{root: root, mode: internal.ModeHybrid}
	p := &scriptedProcessor{next: func(call int, path string) (pipeline.Outcome, error) {
		if call == 1 {
			return needsReview(path), nil
		}
		return pipeline.Outcome{Kind: pipeline.OutcomeAllGreen}, nil
	}}
	app := newTestApp(t, s, p)
	writePDF(t, s.InputDir(), "c-first.pdf")

	stop := start(t, app)
	req := waitPending(t, app.Desk())
	writePDF(t, s.InputDir(), "b-second.pdf")
	require.Eventually(t, func() bool { return app.QueueLen() == 1 }, 2*time.Second, 5*time.Millisecond)
	writePDF(t, s.InputDir(), "a-third.pdf")
	require.Eventually(t, func() bool { return app.QueueLen() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"c-first.pdf"}, p.Calls(), "nothing is processed while the review is pending")

	require.NoError(t, app.Desk().Resolve(req.ID, Decision{Action: ActionHold}))
	require.Eventually(t, func() bool { return len(p.Calls()) == 3 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, []string{"c-first.pdf", "b-second.pdf", "a-third.pdf"}, p.Calls())
}

func TestRunWaitsForPendingReview(t *testing.T) {
	root := newRoot(t)
	s := &testSettings{root: root, mode: internal.ModeHybrid}
	p := &scriptedProcessor{next: func(_ int, path string) (pipeline.Outcome, error) {
		return needsReview(path), nil
	}}
	app := newTestApp(t, s, p)
	writePDF(t, s.InputDir(), "po.pdf")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	t.Cleanup(func() {
		if req := app.Desk().Pending(); req != nil {
			_ = app.Desk().Resolve(req.ID, Decision{Action: ActionHold})
		}
	})

	req := waitPending(t, app.Desk())
	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while a review was pending")
	case <-time.After(150 * time.Millisecond):
	}
	assert.Equal(t, StateAwaitingReview, app.State())

	require.NoError(t, app.Desk().Resolve(req.ID, Decision{Action: ActionHold}))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the review was resolved")
	}
	assert.FileExists(t, filepath.Join(s.ReviewDir(), "po.pdf"))
	assert.Equal(t, []string{"po.pdf"}, p.Calls())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestScanErrorKeepsPolling(t *testing.T) {
	root := newRoot(t)
	s := &testSettings{root: root, input: filepath.Join(root, "Drop"), mode: internal.ModeAuto, archive: true}
	p := &scriptedProcessor{}
	var logs syncBuffer
	app := New(Deps{
		Settings:   s,
		Processor:  p,
		Logger:     slog.New(slog.NewTextHandler(&logs, nil)),
		Timings:    fastTimings(),
		NoFSNotify: true,
	})

	stop := start(t, app)
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "scan input dir")
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.MkdirAll(s.InputDir(), 0o755))
	writePDF(t, s.InputDir(), "late.pdf")
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(s.ArchiveDir(), "late.pdf"))
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, []string{"late.pdf"}, p.Calls())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_review", StateAwaitingReview.String())
	assert.Equal(t, "unknown", State(42).String())
}
