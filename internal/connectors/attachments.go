package connectors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jhillyerd/enmime"

	"porecon/internal"
)

// AttachmentSaver writes the PDF parts of a message into the input folder,
// where the watcher picks them up like any other dropped file.
type AttachmentSaver struct {
	ledger   MailLedger
	inputDir string
	logger   *slog.Logger
}

func NewAttachmentSaver(ledger MailLedger, inputDir string, logger *slog.Logger) *AttachmentSaver {
	return &AttachmentSaver{ledger: ledger, inputDir: inputDir, logger: logger}
}

// Save returns the paths written for msg, or nil if the message was handled
// on an earlier cycle.
func (s *AttachmentSaver) Save(ctx context.Context, msg internal.FetchedMailMessage) ([]string, error) {
	seen, err := s.ledger.HasInboundMail(ctx, msg.Provider, msg.MessageID)
	if err != nil {
		return nil, err
	}
	if seen {
		return nil, nil
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(msg.Raw))
	if err != nil {
		s.logger.Warn("unreadable message", "message_id", msg.MessageID, "error", err)
		return []string{}, s.ledger.RecordInboundMail(ctx, msg, 0)
	}

	if err := os.MkdirAll(s.inputDir, 0o755); err != nil {
		return nil, err
	}

	saved := []string{}
	for _, part := range pdfParts(env) {
		path, err := s.writeAttachment(part.FileName, part.Content)
		if err != nil {
			return saved, fmt.Errorf("save attachment %q: %w", part.FileName, err)
		}
		saved = append(saved, path)
		s.logger.Info("saved attachment", "file", filepath.Base(path), "from", msg.From, "subject", msg.Subject)
	}

	if err := s.ledger.RecordInboundMail(ctx, msg, len(saved)); err != nil {
		return saved, err
	}
	return saved, nil
}

func pdfParts(env *enmime.Envelope) []*enmime.Part {
	var out []*enmime.Part
	for _, group := range [][]*enmime.Part{env.Attachments, env.Inlines, env.OtherParts} {
		for _, p := range group {
			if len(p.Content) == 0 {
				continue
			}
			if strings.EqualFold(filepath.Ext(p.FileName), ".pdf") || strings.EqualFold(p.ContentType, "application/pdf") {
				out = append(out, p)
			}
		}
	}
	return out
}

// writeAttachment stages the bytes under a non-PDF name and renames them in
// place, so the watcher never sees a half-written file.
func (s *AttachmentSaver) writeAttachment(name string, content []byte) (string, error) {
	target, err := s.freeName(attachmentName(name))
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.inputDir, ".mail-*.part")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return target, nil
}

func (s *AttachmentSaver) freeName(name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	path := filepath.Join(s.inputDir, name)
	for n := 2; n < 1000; n++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path, nil
		} else if err != nil {
			return "", err
		}
		path = filepath.Join(s.inputDir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
	return "", fmt.Errorf("no free name for %s", name)
}

func attachmentName(input string) string {
	name := filepath.Base(strings.TrimSpace(input))
	repl := strings.NewReplacer("<", "_", ">", "_", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", "\"", "_")
	name = repl.Replace(name)
	switch {
	case name == "" || name == ".":
		name = "attachment"
	case strings.HasPrefix(name, "."):
		name = "attachment" + name
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		name += ".pdf"
	}
	if len(name) > 120 {
		name = name[len(name)-120:]
	}
	return name
}
