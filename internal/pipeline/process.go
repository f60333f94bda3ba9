package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"porecon/internal"
)

type OutcomeKind string

const (
	OutcomeAllGreen         OutcomeKind = "all_green"
	OutcomeNeedsReview      OutcomeKind = "needs_review"
	OutcomeExtractionFailed OutcomeKind = "extraction_failed"
)

// Outcome is the result of running one document through extraction and
// matching. The caller decides where the file goes.
type Outcome struct {
	Kind       OutcomeKind
	RunID      string
	Extraction internal.Extraction
	Rows       []internal.MatchRow
	// Review is set for OutcomeNeedsReview.
	Review *internal.ReviewPayload
	// ExportPath is set for OutcomeAllGreen when an output dir was given.
	ExportPath string
	// Reason is set for OutcomeExtractionFailed.
	Reason error
}

type RunRecorder interface {
	RecordRun(ctx context.Context, run internal.RunRecord) error
}

type ProcessOptions struct {
	Match        MatchOptions
	OutputDir    string
	ExportFormat string
}

type Processor struct {
	extractor Extractor
	matcher   *Matcher
	runs      RunRecorder
	logger    *slog.Logger
}

func NewProcessor(extractor Extractor, matcher *Matcher, runs RunRecorder, logger *slog.Logger) *Processor {
	return &Processor{extractor: extractor, matcher: matcher, runs: runs, logger: logger}
}

// Process extracts and matches the document at path. Documents that cannot
// be read come back as OutcomeExtractionFailed with a nil error; the error
// return is for everything else (registry, export, cancellation).
func (p *Processor) Process(ctx context.Context, path string, opts ProcessOptions) (Outcome, error) {
	start := time.Now()
	name := filepath.Base(path)
	out := Outcome{RunID: uuid.NewString()}

	ext, err := p.extractor.Extract(ctx, path)
	if errors.Is(err, ErrExtractionFailed) {
		out.Kind = OutcomeExtractionFailed
		out.Reason = err
		out.Extraction = ext
		p.record(ctx, out, name, start)
		return out, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("extract %s: %w", name, err)
	}
	out.Extraction = ext

	rows, err := p.matcher.FuzzyMatch(ctx, ext.Items, ext.Supplier, opts.Match)
	if err != nil {
		return Outcome{}, fmt.Errorf("match %s: %w", name, err)
	}
	out.Rows = rows

	if GreenCheck(rows) {
		out.Kind = OutcomeAllGreen
		if opts.OutputDir != "" {
			exported, err := Export(BuildExportRows(ext.Items, rows), opts.OutputDir, name, opts.ExportFormat)
			if err != nil {
				return Outcome{}, fmt.Errorf("export %s: %w", name, err)
			}
			out.ExportPath = exported
		}
	} else {
		out.Kind = OutcomeNeedsReview
		payload := PrepareReviewData(name, ext.Supplier, rows)
		out.Review = &payload
	}

	p.record(ctx, out, name, start)
	return out, nil
}

func (p *Processor) record(ctx context.Context, out Outcome, name string, start time.Time) {
	if p.runs == nil {
		return
	}
	var stats internal.ReviewStats
	for _, r := range out.Rows {
		switch r.Flag {
		case internal.FlagGreen:
			stats.Green++
		case internal.FlagYellow:
			stats.Yellow++
		case internal.FlagRed:
			stats.Red++
		}
	}
	supplier := out.Extraction.Supplier
	if supplier == "" {
		supplier = internal.UnknownSupplier
	}
	run := internal.RunRecord{
		ID:         out.RunID,
		File:       name,
		Supplier:   supplier,
		Outcome:    string(out.Kind),
		Stats:      stats,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err := p.runs.RecordRun(ctx, run); err != nil {
		p.logger.Warn("record run", "file", name, "error", err)
	}
}
