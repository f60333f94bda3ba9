package intake

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// The watcher polls every Poll interval. A filesystem event only marks the
// file as changed and moves the next scan to one Settle window after the
// last event, so a burst of writes from a copy produces a single scan.
func (a *App) runWatcher(ctx context.Context) {
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if a.fsnotify {
		w, err := a.newFSWatcher()
		if err != nil {
			a.logger.Warn("fsnotify unavailable, polling only", "error", err)
		} else {
			defer w.Close()
			events, errs = w.Events, w.Errors
		}
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			a.scan()
			resetTimer(timer, a.nextScan())
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !isPDF(ev.Name) {
				continue
			}
			a.settle.touch(filepath.Base(ev.Name), time.Now())
			a.logger.Debug("input dir changed", "path", ev.Name, "op", ev.Op.String())
			resetTimer(timer, a.timings.Settle)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			a.logger.Warn("fsnotify", "error", err)
		}
	}
}

// nextScan shortens the poll while files are still settling.
func (a *App) nextScan() time.Duration {
	if a.settle.pending() > 0 && a.timings.Settle < a.timings.Poll {
		return a.timings.Settle
	}
	return a.timings.Poll
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (a *App) newFSWatcher() (*fsnotify.Watcher, error) {
	dir := a.settings.InputDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// scan enqueues every PDF in the input dir that is not already seen and
// whose size and modification time have stopped changing.
func (a *App) scan() {
	dir := a.settings.InputDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		a.logger.Error("scan input dir", "dir", dir, "error", err)
		return
	}

	now := time.Now()
	present := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !isPDF(name) || a.seen.Has(name) {
			continue
		}
		present[name] = struct{}{}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !a.settle.observe(name, info.Size(), info.ModTime(), now) {
			continue
		}
		if a.enqueue(filepath.Join(dir, name)) {
			a.settle.forget(name)
			a.logger.Info("found new file", "file", name, "bytes", info.Size())
		}
	}
	a.settle.retain(present)
}

// enqueue pushes path unless its name is already in the seen set.
func (a *App) enqueue(path string) bool {
	name := filepath.Base(path)
	if !a.seen.Add(name) {
		return false
	}
	if !a.queue.Push(path) {
		a.seen.Remove(name)
		return false
	}
	a.metrics.FilesDiscovered.Inc()
	a.metrics.QueueDepth.Set(float64(a.queue.Len()))
	return true
}

func isPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

type fileStamp struct {
	size  int64
	mod   time.Time
	since time.Time
}

// settleTracker holds files that are still being written. A file is ready
// once two scans saw the same size and modification time and no change was
// recorded for the settle window.
type settleTracker struct {
	mu     sync.Mutex
	window time.Duration
	files  map[string]fileStamp
}

func newSettleTracker(window time.Duration) *settleTracker {
	return &settleTracker{window: window, files: make(map[string]fileStamp)}
}

func (t *settleTracker) observe(name string, size int64, mod, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.files[name]
	if !ok || prev.size != size || !prev.mod.Equal(mod) {
		t.files[name] = fileStamp{size: size, mod: mod, since: now}
		return false
	}
	return now.Sub(prev.since) >= t.window
}

// touch records a change reported by a filesystem event.
func (t *settleTracker) touch(name string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.files[name]
	if !ok {
		st = fileStamp{size: -1}
	}
	st.since = now
	t.files[name] = st
}

func (t *settleTracker) forget(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, name)
}

// retain drops files that are no longer in the input dir.
func (t *settleTracker) retain(present map[string]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name := range t.files {
		if _, ok := present[name]; !ok {
			delete(t.files, name)
		}
	}
}

func (t *settleTracker) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}
