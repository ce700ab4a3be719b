package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/ShapArt/outlook-exporter/internal/config"
)

// SMTPSender sends through an SMTP relay and writes previews as .eml files.
type SMTPSender struct {
	cfg    config.MailConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewSMTPSender builds a sender. Previews work without an SMTP host.
func NewSMTPSender(cfg config.MailConfig, logger *zap.Logger) *SMTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPSender{cfg: cfg, logger: logger, now: time.Now}
}

// Send dials the relay for this one message and closes the connection after.
func (s *SMTPSender) Send(ctx context.Context, msg Outgoing) (SendResult, error) {
	if strings.TrimSpace(s.cfg.SMTPHost) == "" {
		return SendResult{}, fmt.Errorf("smtp host not configured")
	}
	m, err := s.buildMessage(msg)
	if err != nil {
		return SendResult{Status: SendFailed, Reason: err.Error()}, nil
	}

	type outcome struct {
		res SendResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		closer, err := s.dialer().Dial()
		if err != nil {
			done <- outcome{err: fmt.Errorf("dial smtp: %w", err)}
			return
		}
		defer closer.Close()
		if err := gomail.Send(closer, m); err != nil {
			done <- outcome{res: SendResult{Status: SendFailed, Reason: err.Error()}}
			return
		}
		done <- outcome{res: SendResult{Status: SendOK}}
	}()

	wait := time.Duration(s.cfg.SMTPTimeoutSec) * time.Second
	if wait <= 0 {
		wait = 30 * time.Second
	}
	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return SendResult{}, ctx.Err()
	case <-time.After(wait):
		return SendResult{}, fmt.Errorf("smtp send timed out after %s", wait)
	}
}

// Preview writes the message to the preview directory instead of sending it.
func (s *SMTPSender) Preview(ctx context.Context, msg Outgoing) (SendResult, error) {
	m, err := s.buildMessage(msg)
	if err != nil {
		return SendResult{Status: SendFailed, Reason: err.Error()}, nil
	}
	if err := os.MkdirAll(s.cfg.PreviewDir, 0o755); err != nil {
		return SendResult{}, fmt.Errorf("create preview dir: %w", err)
	}
	name := fmt.Sprintf("%d_%s_%s.eml", msg.TicketID, s.now().UTC().Format("20060102T150405.000000000"), slug(msg.Subject))
	path := filepath.Join(s.cfg.PreviewDir, name)
	f, err := os.Create(path)
	if err != nil {
		return SendResult{}, fmt.Errorf("create preview: %w", err)
	}
	if err := writePreview(f, m); err != nil {
		_ = os.Remove(path)
		return SendResult{Status: SendFailed, Reason: err.Error()}, nil
	}
	s.logger.Debug("preview written", zap.String("path", path), zap.Int64("ticket_id", msg.TicketID))
	return SendResult{Status: SendOK, Reason: path}, nil
}

// writePreview closes w on every path and reports a failed close.
func writePreview(w io.WriteCloser, m io.WriterTo) error {
	if _, err := m.WriteTo(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("write preview: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close preview: %w", err)
	}
	return nil
}

func (s *SMTPSender) dialer() *gomail.Dialer {
	d := gomail.NewDialer(s.cfg.SMTPHost, s.cfg.SMTPPort, s.cfg.SMTPUsername, s.cfg.SMTPPassword)
	d.SSL = s.cfg.SMTPUseTLS
	if s.cfg.SMTPUseTLS {
		d.TLSConfig = &tls.Config{ServerName: s.cfg.SMTPHost}
	}
	return d
}

func (s *SMTPSender) buildMessage(msg Outgoing) (*gomail.Message, error) {
	from := strings.TrimSpace(s.cfg.From)
	if from == "" {
		return nil, fmt.Errorf("from is required")
	}
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	if cc := cleanAddrs(msg.CC); len(cc) > 0 {
		m.SetHeader("Cc", cc...)
	}
	m.SetHeader("Subject", subject)
	if len(msg.VotingOptions) > 0 {
		m.SetHeader("X-Voting-Options", strings.Join(msg.VotingOptions, ";"))
	}
	if msg.InReplyTo != "" {
		m.SetHeader("In-Reply-To", msg.InReplyTo)
	}
	if msg.TicketID > 0 {
		m.SetHeader("X-SLA-Ticket", fmt.Sprintf("%d", msg.TicketID))
	}
	m.SetBody("text/plain", msg.TextBody)
	return m, nil
}

func cleanAddrs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

var slugStrip = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func slug(s string) string {
	s = strings.Trim(slugStrip.ReplaceAllString(s, "_"), "_")
	if len(s) > 40 {
		s = s[:40]
	}
	if s == "" {
		return "message"
	}
	return s
}
