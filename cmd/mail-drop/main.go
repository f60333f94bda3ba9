package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"porecon/internal/config"
	"porecon/internal/logging"
	"porecon/internal/maildrop"
	"porecon/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "run a single fetch cycle and exit")
	flag.Parse()

	cfg, err := config.Load()
	must(err)

	logger, logCloser, err := logging.New(filepath.Join(cfg.Root, "Logs"), cfg.LogLevel)
	must(err)
	defer logCloser.Close()

	settings, err := config.LoadSettings(cfg.Root, logger)
	must(err)
	must(settings.EnsureDirs())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := storage.Open(ctx, settings.DBPath())
	must(err)
	defer db.Close()

	svc := maildrop.NewService(db, cfg, settings.InputDir(), logger)
	if *once {
		res, err := svc.RunCycle(ctx)
		must(err)
		fmt.Printf("mail drop done fetched=%d skipped=%d saved=%d\n", res.Fetched, res.Skipped, res.Saved)
		return
	}
	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
