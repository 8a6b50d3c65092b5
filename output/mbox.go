package output

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/oft-to-eml/model"
)

// MboxSink appends documents to a single mbox file. The file is opened
// in append mode so repeated runs extend an existing mailbox.
type MboxSink struct {
	path   string
	file   *os.File
	writer *mboxlib.Writer
	logger *slog.Logger
}

func NewMboxSink(path string, logger *slog.Logger) (*MboxSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create mbox directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}

	return &MboxSink{
		path:   path,
		file:   file,
		writer: mboxlib.NewWriter(file),
		logger: logger,
	}, nil
}

func (m *MboxSink) Store(ctx context.Context, conv model.Converted) error {
	date := conv.Date
	if date.IsZero() {
		date = time.Now()
	}

	msg, err := m.writer.CreateMessage(senderAddress(conv.Raw), date)
	if err != nil {
		return fmt.Errorf("create mbox message: %w", err)
	}
	if _, err := msg.Write(conv.Raw); err != nil {
		return fmt.Errorf("append to mbox: %w", err)
	}

	return nil
}

func (m *MboxSink) Close() error {
	var firstErr error
	if err := m.writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close mbox writer: %w", err)
	}
	if err := m.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync mbox: %w", err)
	}
	if err := m.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close mbox: %w", err)
	}
	return firstErr
}

// senderAddress extracts the addr-spec for the mbox From line. Unknown
// or unparsable senders fall back to the mbox convention.
func senderAddress(raw []byte) string {
	msg, err := netmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return "MAILER-DAEMON"
	}
	addr, err := netmail.ParseAddress(msg.Header.Get("From"))
	if err != nil {
		return "MAILER-DAEMON"
	}
	return addr.Address
}
