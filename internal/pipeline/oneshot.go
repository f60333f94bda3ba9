package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"porecon/internal"
)

// MatchFile extracts and matches a single document without exporting,
// recording a run, or moving the file. It backs the one-shot CLI command.
func MatchFile(ctx context.Context, extractor Extractor, matcher *Matcher, path string, opts MatchOptions) (internal.Extraction, []internal.MatchRow, error) {
	if _, err := os.Stat(path); err != nil {
		return internal.Extraction{}, nil, err
	}
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return internal.Extraction{}, nil, fmt.Errorf("unsupported input type: %s", path)
	}

	ext, err := extractor.Extract(ctx, path)
	if err != nil {
		return ext, nil, err
	}
	rows, err := matcher.FuzzyMatch(ctx, ext.Items, ext.Supplier, opts)
	if err != nil {
		return ext, nil, err
	}
	return ext, rows, nil
}
