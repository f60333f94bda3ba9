package intake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"porecon/internal"
	"porecon/internal/logging"
	"porecon/internal/pipeline"
)

func (a *App) runWorker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		mode := a.settings.WorkingMode()
		if mode == internal.ModeOff {
			a.setState(StateIdle)
			if !sleepCtx(ctx, a.timings.Idle) {
				return
			}
			continue
		}

		a.setState(StateAwaitingFile)
		path, ok, err := a.queue.Pop(ctx, a.timings.Pop)
		if err != nil {
			return
		}
		if !ok {
			continue
		}
		a.metrics.QueueDepth.Set(float64(a.queue.Len()))

		a.setState(StateProcessing)
		if err := a.handleFile(ctx, path, mode); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				a.seen.Remove(filepath.Base(path))
				return
			}
			a.metrics.ProcessErrors.Inc()
			a.logger.Error("worker failed processing file", "file", filepath.Base(path), "error", err)
		}
	}
}

func (a *App) processOptions() pipeline.ProcessOptions {
	return pipeline.ProcessOptions{
		Match: pipeline.MatchOptions{
			Threshold: a.settings.ThresholdPercent(),
			Fuzzy:     a.settings.EnableFuzzyMatch(),
		},
		OutputDir:    a.settings.OutputDir(),
		ExportFormat: a.settings.ExportFormat(),
	}
}

// handleFile runs one document and routes it. On error the file is left
// where it is and stays in the seen set, so it is not retried until restart.
func (a *App) handleFile(ctx context.Context, path string, mode internal.WorkingMode) error {
	name := filepath.Base(path)
	return logging.TaskScope(a.logger, "process "+name, func() error {
		before, _ := os.Stat(path)
		start := time.Now()
		out, err := a.processor.Process(ctx, path, a.processOptions())
		a.metrics.ProcessSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		a.metrics.FilesProcessed.WithLabelValues(string(out.Kind)).Inc()

		switch out.Kind {
		case pipeline.OutcomeExtractionFailed:
			if a.stillWriting(path, before) {
				a.seen.Remove(name)
				a.logger.Warn("file changed while being read, will retry", "file", name, "reason", out.Reason)
				return nil
			}
			a.logger.Warn("skipping file, no supplier or items found", "file", name, "reason", out.Reason)
			return nil
		case pipeline.OutcomeAllGreen:
			return a.finishGreen(path, out)
		case pipeline.OutcomeNeedsReview:
			if mode == internal.ModeHybrid {
				return a.awaitReview(ctx, path, out)
			}
			return a.parkForReview(path, out)
		default:
			return fmt.Errorf("unexpected outcome %q", out.Kind)
		}
	})
}

// stillWriting reports whether the file at path changed after before was
// taken, or was modified within the settle window.
func (a *App) stillWriting(path string, before os.FileInfo) bool {
	after, err := os.Stat(path)
	if err != nil || before == nil {
		return false
	}
	if after.Size() != before.Size() || !after.ModTime().Equal(before.ModTime()) {
		return true
	}
	return time.Since(after.ModTime()) < a.timings.Settle
}

func (a *App) finishGreen(path string, out pipeline.Outcome) error {
	name := filepath.Base(path)
	a.logger.Info("all items matched",
		"file", name,
		"supplier", out.Extraction.Supplier,
		"items", len(out.Rows),
		"export", out.ExportPath,
	)
	if !a.settings.ArchiveProcessedFiles() {
		return nil
	}
	dst, err := moveFile(path, a.settings.ArchiveDir())
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	a.seen.Remove(name)
	a.logger.Info("archived", "file", name, "to", filepath.Base(dst))
	return nil
}

// parkForReview is the auto-mode path: the file goes to Review/ and waits
// there for someone to deal with it by hand.
func (a *App) parkForReview(path string, out pipeline.Outcome) error {
	name := filepath.Base(path)
	dst, err := moveFile(path, a.settings.ReviewDir())
	if err != nil {
		return fmt.Errorf("move to review: %w", err)
	}
	a.seen.Remove(name)
	a.logger.Info("moved to review", "file", name, "to", filepath.Base(dst), "supplier", out.Extraction.Supplier, "stats", statsText(out.Review))
	return nil
}

// awaitReview is the hybrid-mode path. It blocks until a reviewer resolves
// the payload, even if ctx is cancelled meanwhile; the decision is then
// committed regardless of cancellation.
func (a *App) awaitReview(ctx context.Context, path string, out pipeline.Outcome) error {
	name := filepath.Base(path)
	reviewPath, err := moveFile(path, a.settings.ReviewDir())
	if err != nil {
		return fmt.Errorf("move to review: %w", err)
	}

	a.setState(StateAwaitingReview)
	a.metrics.ReviewPending.Set(1)
	a.logger.Info("awaiting review", "file", name, "supplier", out.Extraction.Supplier, "stats", statsText(out.Review))

	decision, err := a.desk.Submit(*out.Review)
	a.metrics.ReviewPending.Set(0)
	if err != nil {
		a.seen.Remove(name)
		return fmt.Errorf("submit review: %w", err)
	}

	commitCtx := context.WithoutCancel(ctx)
	a.commitMappings(commitCtx, out.Extraction.Supplier, decision.Mappings)

	var destDir string
	switch decision.Action {
	case ActionArchive:
		destDir = a.settings.ArchiveDir()
	case ActionHold:
	default:
		destDir = a.settings.InputDir()
	}
	final := reviewPath
	if destDir != "" {
		final, err = moveFile(reviewPath, destDir)
		if err != nil {
			a.seen.Remove(name)
			return fmt.Errorf("move reviewed file: %w", err)
		}
	}
	a.seen.Remove(name)
	a.logger.Info("review resolved", "file", name, "action", decision.Action, "to", final, "mappings", len(decision.Mappings))
	return nil
}

func (a *App) commitMappings(ctx context.Context, supplier string, mappings []internal.Mapping) {
	if a.mappings == nil {
		return
	}
	for _, m := range mappings {
		s := m.Supplier
		if s == "" {
			s = supplier
		}
		sku := strings.TrimSpace(m.SupplierSKU)
		code := strings.TrimSpace(m.WarehouseCode)
		if err := a.mappings.AddMapping(ctx, s, sku, code); err != nil {
			a.logger.Error("save mapping", "supplier", s, "sku", sku, "code", code, "error", err)
			continue
		}
		a.logger.Info("mapping saved", "supplier", s, "sku", sku, "code", code)
	}
}

func statsText(p *internal.ReviewPayload) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("green=%d yellow=%d red=%d", p.Stats.Green, p.Stats.Yellow, p.Stats.Red)
}
