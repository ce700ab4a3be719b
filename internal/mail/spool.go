package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShapArt/outlook-exporter/internal/domain"
)

// SpoolMailbox reads messages exported by the mail-client bridge as JSON
// files. A file holds either one message object or an array of them.
type SpoolMailbox struct {
	dir    string
	logger *zap.Logger
}

// NewSpoolMailbox returns a mailbox over dir.
func NewSpoolMailbox(dir string, logger *zap.Logger) *SpoolMailbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpoolMailbox{dir: dir, logger: logger}
}

// ListMessages returns matching messages ordered by arrival.
func (m *SpoolMailbox) ListMessages(ctx context.Context, filter SenderFilter, since time.Time) ([]domain.RawMessage, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read spool %s: %w", m.dir, err)
	}

	var out []domain.RawMessage
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		msgs, err := readSpoolFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			m.logger.Warn("skipping unreadable spool file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		for _, msg := range msgs {
			if msg.ReceivedAt.Before(since) || !filter.Match(msg.Sender) {
				continue
			}
			out = append(out, msg)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].EntryID < out[j].EntryID
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out, nil
}

func readSpoolFile(path string) ([]domain.RawMessage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var msgs []domain.RawMessage
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, err
		}
		return msgs, nil
	}
	var msg domain.RawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return []domain.RawMessage{msg}, nil
}
