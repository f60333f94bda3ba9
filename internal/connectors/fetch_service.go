package connectors

import (
	"context"
	"fmt"
	"log/slog"
)

type FetchService struct {
	connector MailConnector
	saver     *AttachmentSaver
	logger    *slog.Logger
}

type FetchResult struct {
	Fetched int
	Skipped int
	Saved   int
}

func NewFetchService(ledger MailLedger, inputDir string, connector MailConnector, logger *slog.Logger) *FetchService {
	return &FetchService{
		connector: connector,
		saver:     NewAttachmentSaver(ledger, inputDir, logger),
		logger:    logger,
	}
}

// FetchAndStore fetches up to max messages from label and saves their PDF
// attachments. A message that cannot be parsed is logged and skipped; ledger
// and filesystem errors stop the cycle.
func (s *FetchService) FetchAndStore(ctx context.Context, label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch %s: %w", label, err)
	}

	res := FetchResult{Fetched: len(messages)}
	for _, msg := range messages {
		saved, err := s.saver.Save(ctx, msg)
		if err != nil {
			return res, err
		}
		if saved == nil {
			res.Skipped++
			continue
		}
		res.Saved += len(saved)
	}
	return res, nil
}
