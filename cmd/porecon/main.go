package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"porecon/internal/config"
	"porecon/internal/logging"
	"porecon/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:           "porecon",
	Short:         "Purchase order reconciliation",
	Long:          "porecon watches a folder for supplier purchase orders, matches their lines against the warehouse registry and routes them for export or review.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("root", "", "data root (default $PORECON_ROOT or the working directory)")
	rootCmd.PersistentFlags().String("log-level", "", "debug|info|warn|error (default $PORECON_LOG_LEVEL)")
}

func main() {
	must(rootCmd.Execute())
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// env is what every command needs: process config, durable settings, a
// logger and the registry.
type env struct {
	cfg      config.Config
	settings *config.Settings
	logger   *slog.Logger
	db       *storage.DB
	closers  []io.Closer
}

// openEnv loads configuration and opens the registry. withLogFile adds the
// per-start log file under Logs/; one-shot commands log to stderr only.
func openEnv(ctx context.Context, cmd *cobra.Command, withLogFile bool) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if root, _ := cmd.Flags().GetString("root"); root != "" {
		cfg.Root = root
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	cfg.Root, err = filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}

	logsDir := ""
	if withLogFile {
		logsDir = filepath.Join(cfg.Root, "Logs")
	}
	logger, logCloser, err := logging.New(logsDir, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	e.settings, err = config.LoadSettings(cfg.Root, logger)
	if err != nil {
		e.Close()
		return nil, err
	}
	if err := e.settings.EnsureDirs(); err != nil {
		e.Close()
		return nil, err
	}

	e.db, err = storage.Open(ctx, e.settings.DBPath())
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open registry: %w", err)
	}
	e.closers = append([]io.Closer{e.db}, e.closers...)
	return e, nil
}

func (e *env) Close() {
	for _, c := range e.closers {
		if c != nil {
			_ = c.Close()
		}
	}
}
