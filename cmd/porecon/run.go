package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"porecon/internal/backup"
	"porecon/internal/intake"
	"porecon/internal/maildrop"
	"porecon/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the input folder and process purchase orders until interrupted",
	RunE:  runPipeline,
}

func init() {
	runCmd.Flags().String("mode", "", "set working_mode (off|auto|hybrid) before starting")
	runCmd.Flags().Bool("no-prompt", false, "do not answer hybrid reviews from stdin")
	runCmd.Flags().Bool("mail-drop", false, "also poll the configured mailbox for PDF attachments")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	e, err := openEnv(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()

	if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
		if err := e.settings.SetWorkingMode(mode); err != nil {
			return err
		}
		if err := e.settings.Save(); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := intake.New(intake.Deps{
		Settings:  e.settings,
		Processor: pipeline.NewProcessor(pipeline.NewPDFExtractor(), pipeline.NewMatcher(e.db), e.db, e.logger),
		Mappings:  e.db,
		Backups:   backup.NewService(e.db, e.settings, e.settings.BackupsDir(), e.logger),
		Metrics:   intake.NewMetrics(reg),
		Logger:    e.logger,
	})

	if addr := e.settings.MetricsAddr(); addr != "" {
		srv := serveMetrics(addr, reg, e.logger)
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if withMail, _ := cmd.Flags().GetBool("mail-drop"); withMail {
		mail := maildrop.NewService(e.db, e.cfg, e.settings.InputDir(), e.logger.With("component", "mail-drop"))
		go func() {
			if err := mail.Run(ctx); err != nil {
				e.logger.Error("mail drop stopped", "error", err)
			}
		}()
	}

	go releaseSignalsOnStop(ctx, cancel, app.Desk(), e.logger)

	done := make(chan struct{})
	if noPrompt, _ := cmd.Flags().GetBool("no-prompt"); !noPrompt {
		go resolveReviews(app.Desk(), os.Stdin, os.Stdout, done)
	}

	fmt.Printf("porecon running mode=%s root=%s (Ctrl+C to stop)\n", e.settings.WorkingMode(), e.cfg.Root)
	err = app.Run(ctx)
	close(done)
	return err
}

// releaseSignalsOnStop restores default signal handling after the first
// interrupt, so a second one kills a process that is still waiting on a
// review.
func releaseSignalsOnStop(ctx context.Context, stop context.CancelFunc, desk *intake.ReviewDesk, logger *slog.Logger) {
	<-ctx.Done()
	stop()
	if desk.NeedsReview() {
		logger.Warn("stopping after the pending review is answered; interrupt again to quit now")
		return
	}
	logger.Info("stopping")
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	return srv
}
