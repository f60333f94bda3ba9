// Package intake runs the folder pipeline: a watcher that queues new PDFs, a
// worker that matches them and routes them by outcome, and an archivist that
// takes periodic backups.
package intake

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"porecon/internal"
	"porecon/internal/pipeline"
)

type State int32

const (
	StateIdle State = iota
	StateAwaitingFile
	StateProcessing
	StateAwaitingReview
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFile:
		return "awaiting_file"
	case StateProcessing:
		return "processing"
	case StateAwaitingReview:
		return "awaiting_review"
	default:
		return "unknown"
	}
}

// Settings is the live configuration the loops re-read every cycle.
type Settings interface {
	WorkingMode() internal.WorkingMode
	ArchiveProcessedFiles() bool
	EnableFuzzyMatch() bool
	ThresholdPercent() int
	ExportFormat() string
	BackupInterval() int
	MaxBackups() int
	InputDir() string
	OutputDir() string
	ReviewDir() string
	ArchiveDir() string
}

type FileProcessor interface {
	Process(ctx context.Context, path string, opts pipeline.ProcessOptions) (pipeline.Outcome, error)
}

type MappingStore interface {
	AddMapping(ctx context.Context, supplier, sku, code string) error
}

type BackupRunner interface {
	Create(ctx context.Context, tag string) (string, error)
	Prune(keep int) (int, error)
}

type Timings struct {
	Poll time.Duration
	// Settle is how long a new file must stay unchanged before it is queued.
	Settle time.Duration
	Pop    time.Duration
	Idle   time.Duration
	// Recheck is how often the archivist re-reads backup_interval.
	Recheck time.Duration
	// BackupUnit is the length of one backup_interval step.
	BackupUnit time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Poll:       2 * time.Second,
		Settle:     time.Second,
		Pop:        time.Second,
		Idle:       time.Second,
		Recheck:    60 * time.Second,
		BackupUnit: time.Hour,
	}
}

type Deps struct {
	Settings  Settings
	Processor FileProcessor
	Mappings  MappingStore
	Backups   BackupRunner
	Desk      *ReviewDesk
	Metrics   *Metrics
	Logger    *slog.Logger
	Timings   Timings
	// NoFSNotify keeps the watcher on polling only.
	NoFSNotify bool
}

// App owns the state shared by the three loops.
type App struct {
	settings  Settings
	processor FileProcessor
	mappings  MappingStore
	backups   BackupRunner
	desk      *ReviewDesk
	metrics   *Metrics
	logger    *slog.Logger
	timings   Timings
	fsnotify  bool

	queue  *Queue
	seen   *SeenSet
	settle *settleTracker
	state  atomic.Int32
}

func New(d Deps) *App {
	if d.Desk == nil {
		d.Desk = NewReviewDesk()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Timings == (Timings{}) {
		d.Timings = DefaultTimings()
	}
	if d.Timings.BackupUnit <= 0 {
		d.Timings.BackupUnit = time.Hour
	}
	return &App{
		settings:  d.Settings,
		processor: d.Processor,
		mappings:  d.Mappings,
		backups:   d.Backups,
		desk:      d.Desk,
		metrics:   d.Metrics,
		logger:    d.Logger,
		timings:   d.Timings,
		fsnotify:  !d.NoFSNotify,
		queue:     NewQueue(),
		seen:      NewSeenSet(),
		settle:    newSettleTracker(d.Timings.Settle),
	}
}

// Run starts the watcher, worker and archivist and returns once all three
// have stopped. A worker waiting on a review keeps Run from returning until
// that review is resolved.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("pipeline starting",
		"mode", a.settings.WorkingMode(),
		"input", a.settings.InputDir(),
	)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		a.runWatcher(ctx)
	}()
	go func() {
		defer wg.Done()
		a.runWorker(ctx)
	}()
	go func() {
		defer wg.Done()
		a.runArchivist(ctx)
	}()

	<-ctx.Done()
	a.queue.Close()
	if a.desk.NeedsReview() {
		a.logger.Warn("waiting for the pending review before shutdown")
	}
	wg.Wait()
	a.logger.Info("pipeline stopped")
	return nil
}

func (a *App) State() State { return State(a.state.Load()) }

func (a *App) setState(s State) {
	a.state.Store(int32(s))
	a.metrics.WorkerState.Set(float64(s))
}

func (a *App) Desk() *ReviewDesk { return a.desk }

// QueueLen is the number of files waiting for the worker.
func (a *App) QueueLen() int { return a.queue.Len() }

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
