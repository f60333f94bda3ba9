package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"porecon/internal/pipeline"
)

var matchCmd = &cobra.Command{
	Use:   "match FILE.pdf",
	Short: "Extract and match one purchase order without moving it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEnv(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer e.Close()

		opts := pipeline.MatchOptions{
			Threshold: e.settings.ThresholdPercent(),
			Fuzzy:     e.settings.EnableFuzzyMatch(),
		}
		if cmd.Flags().Changed("threshold") {
			v, _ := cmd.Flags().GetInt("threshold")
			opts.Threshold = v
		}
		if noFuzzy, _ := cmd.Flags().GetBool("no-fuzzy"); noFuzzy {
			opts.Fuzzy = false
		}

		path := args[0]
		ext, rows, err := pipeline.MatchFile(ctx, pipeline.NewPDFExtractor(), pipeline.NewMatcher(e.db), path, opts)
		if err != nil {
			return err
		}

		fmt.Printf("supplier=%s items=%d all_green=%t\n", ext.Supplier, len(ext.Items), pipeline.GreenCheck(rows))
		renderMatchRows(os.Stdout, rows)

		if export, _ := cmd.Flags().GetBool("export"); export {
			out, err := pipeline.Export(pipeline.BuildExportRows(ext.Items, rows), e.settings.OutputDir(), filepath.Base(path), e.settings.ExportFormat())
			if err != nil {
				return err
			}
			fmt.Printf("exported %d rows to %s\n", len(rows), out)
		}
		return nil
	},
}

func init() {
	matchCmd.Flags().Int("threshold", 0, "fuzzy threshold 0-100 (default from settings)")
	matchCmd.Flags().Bool("no-fuzzy", false, "history matches only")
	matchCmd.Flags().Bool("export", false, "write the rows to the output folder")
	rootCmd.AddCommand(matchCmd)
}
