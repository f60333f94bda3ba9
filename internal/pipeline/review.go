package pipeline

import (
	"sort"

	"porecon/internal"
)

const missingDescription = "No description found"

var flagPriority = map[internal.Flag]int{
	internal.FlagYellow: 0,
	internal.FlagRed:    1,
	internal.FlagGreen:  2,
}

// PrepareReviewData builds the payload shown to a reviewer: rows sorted
// yellow, red, green (stable within a flag) plus per-flag counts.
func PrepareReviewData(file, supplier string, rows []internal.MatchRow) internal.ReviewPayload {
	out := make([]internal.MatchRow, len(rows))
	copy(out, rows)

	var stats internal.ReviewStats
	for i := range out {
		if out[i].Description == "" {
			out[i].Description = missingDescription
		}
		switch out[i].Flag {
		case internal.FlagGreen:
			stats.Green++
		case internal.FlagYellow:
			stats.Yellow++
		case internal.FlagRed:
			stats.Red++
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return flagPriority[out[i].Flag] < flagPriority[out[j].Flag]
	})

	return internal.ReviewPayload{File: file, Supplier: supplier, Rows: out, Stats: stats}
}
