package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"porecon/internal/util"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show the current settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEnv(context.Background(), cmd, false)
		if err != nil {
			return err
		}
		defer e.Close()

		all := e.settings.All()
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s=%v\n", k, all[k])
		}
		fmt.Printf("# backup_interval=%s input=%s\n", util.FormatDurationHours(e.settings.BackupInterval()), e.settings.InputDir())
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "settings:set KEY VALUE",
	Short: "Change one setting and save config.json",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(context.Background(), cmd, false)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.settings.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := e.settings.Save(); err != nil {
			return err
		}
		fmt.Printf("%s updated\n", args[0])
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent processing runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := context.Background()
		e, err := openEnv(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer e.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := e.db.RecentRuns(ctx, limit)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Printf("%s\t%s\t%s\t%s\tg=%d y=%d r=%d\t%dms\n", r.ID, r.File, r.Supplier, r.Outcome,
				r.Stats.Green, r.Stats.Yellow, r.Stats.Red, r.DurationMs)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "max runs")
	rootCmd.AddCommand(settingsCmd, settingsSetCmd, runsCmd)
}
