package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"porecon/internal/backup"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a backup bundle now and apply retention",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := context.Background()
		e, err := openEnv(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer e.Close()

		svc := backup.NewService(e.db, e.settings, e.settings.BackupsDir(), e.logger)
		if list, _ := cmd.Flags().GetBool("list"); list {
			bundles, err := svc.List()
			if err != nil {
				return err
			}
			for _, b := range bundles {
				fmt.Printf("%s\t%d\t%s\n", b.ModTime.Format("2006-01-02 15:04:05"), b.Size, b.Name)
			}
			return nil
		}

		tag, _ := cmd.Flags().GetString("tag")
		path, err := svc.Create(ctx, tag)
		if err != nil {
			return err
		}
		removed, err := svc.Prune(e.settings.MaxBackups())
		if err != nil {
			e.logger.Error("prune backups", "error", err)
		}
		fmt.Printf("backup written %s (pruned %d)\n", path, removed)
		return nil
	},
}

func init() {
	backupCmd.Flags().String("tag", "manual", "bundle tag")
	backupCmd.Flags().Bool("list", false, "list bundles instead of writing one")
	rootCmd.AddCommand(backupCmd)
}
