// Package connectors pulls purchase orders out of a mailbox and drops their
// PDF attachments into the input folder.
package connectors

import (
	"context"

	"porecon/internal"
)

type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}

// MailLedger remembers which messages were already handled.
type MailLedger interface {
	HasInboundMail(ctx context.Context, provider, messageID string) (bool, error)
	RecordInboundMail(ctx context.Context, msg internal.FetchedMailMessage, attachments int) error
}
