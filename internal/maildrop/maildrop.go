// Package maildrop polls a mailbox and saves PDF attachments into the
// input folder for the pipeline to pick up.
package maildrop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"porecon/internal/config"
	"porecon/internal/connectors"
	gmailconnector "porecon/internal/connectors/gmail"
	imapconnector "porecon/internal/connectors/imap"
)

type Service struct {
	ledger   connectors.MailLedger
	cfg      config.Config
	inputDir string
	logger   *slog.Logger

	// connect is swapped in tests.
	connect func(ctx context.Context, provider string) (connectors.MailConnector, error)
}

func NewService(ledger connectors.MailLedger, cfg config.Config, inputDir string, logger *slog.Logger) *Service {
	s := &Service{ledger: ledger, cfg: cfg, inputDir: inputDir, logger: logger}
	s.connect = s.makeConnector
	return s
}

func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.MailDropIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("mail drop cycle", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// RunCycle fetches once from the configured provider.
func (s *Service) RunCycle(ctx context.Context) (connectors.FetchResult, error) {
	provider := strings.ToLower(strings.TrimSpace(s.cfg.MailDropProvider))
	conn, err := s.connect(ctx, provider)
	if err != nil {
		return connectors.FetchResult{}, err
	}

	fetch := connectors.NewFetchService(s.ledger, s.inputDir, conn, s.logger)
	res, err := fetch.FetchAndStore(ctx, s.cfg.MailDropLabel, s.cfg.MailDropFetchMax)
	if err != nil {
		return res, err
	}

	s.logger.Info("mail drop cycle done",
		"provider", provider,
		"fetched", res.Fetched,
		"skipped", res.Skipped,
		"saved", res.Saved,
	)
	return res, nil
}

func (s *Service) makeConnector(ctx context.Context, provider string) (connectors.MailConnector, error) {
	switch provider {
	case "gmail":
		return gmailconnector.NewConnector(ctx, s.cfg)
	case "imap":
		return imapconnector.NewConnector(s.cfg)
	default:
		return nil, fmt.Errorf("unsupported mail drop provider: %s", provider)
	}
}
