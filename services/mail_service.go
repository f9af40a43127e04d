package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	mail "gopkg.in/gomail.v2"

	"taxmailer/config"
)

// OutgoingMessage is one prepared email handed to the transport.
type OutgoingMessage struct {
	AgencyCode     string
	To             string
	Subject        string
	Body           string
	AttachmentPath string
	AsDraft        bool
}

// Transport delivers a single message. Implementations are synchronous and
// single-shot per call; failures come back as *TransportError.
type Transport interface {
	Send(ctx context.Context, msg OutgoingMessage) error
}

// SMTPTransport sends through an SMTP relay using gomail. Draft messages are
// not dialed at all: they are rendered as RFC 822 files into DraftDir, which
// is the closest SMTP equivalent of saving to a drafts mailbox.
type SMTPTransport struct {
	dialer   *mail.Dialer
	from     string
	draftDir string
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewSMTPTransport builds the transport from configuration. MailHub uses the
// host:port form.
func NewSMTPTransport(cfg *config.Config, log zerolog.Logger) (*SMTPTransport, error) {
	parts := strings.Split(cfg.MailHub, ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid MAILHUB format: %s, expected host:port", cfg.MailHub)
	}
	host := parts[0]
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid port in MAILHUB: %w", err)
	}

	d := mail.NewDialer(host, port, cfg.AuthUser, cfg.AuthPass)
	d.TLSConfig = &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}
	if cfg.SkipTLSVerify {
		log.Warn().Msg("TLS certificate verification is disabled")
	}

	from := cfg.FromEmail
	if from == "" {
		from = cfg.AuthUser
	}

	var limiter *rate.Limiter
	if cfg.SendsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendsPerSec), 1)
	}

	return &SMTPTransport{
		dialer:   d,
		from:     from,
		draftDir: cfg.DraftDir,
		limiter:  limiter,
		log:      log,
	}, nil
}

// Send delivers the message, or renders it to the drafts directory when
// AsDraft is set. The caller bounds the call with a context deadline; a hung
// relay surfaces as a TransportError once the deadline passes.
func (t *SMTPTransport) Send(ctx context.Context, msg OutgoingMessage) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return &TransportError{Reason: err.Error()}
		}
	}

	m := mail.NewMessage()
	m.SetHeader("From", t.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.Body)
	m.Attach(msg.AttachmentPath)

	if msg.AsDraft {
		return t.saveDraft(msg.AgencyCode, m)
	}

	done := make(chan error, 1)
	go func() { done <- t.dialer.DialAndSend(m) }()
	select {
	case err := <-done:
		if err != nil {
			return &TransportError{Reason: err.Error()}
		}
	case <-ctx.Done():
		return &TransportError{Reason: "send timed out: " + ctx.Err().Error()}
	}

	t.log.Debug().Str("agency_code", msg.AgencyCode).Str("to", msg.To).Msg("message sent")
	return nil
}

func (t *SMTPTransport) saveDraft(agencyCode string, m *mail.Message) error {
	if err := os.MkdirAll(t.draftDir, 0o755); err != nil {
		return &TransportError{Reason: "creating draft directory: " + err.Error()}
	}
	path := filepath.Join(t.draftDir, agencyCode+".eml")
	f, err := os.Create(path)
	if err != nil {
		return &TransportError{Reason: "creating draft file: " + err.Error()}
	}
	defer f.Close()

	if _, err := m.WriteTo(f); err != nil {
		return &TransportError{Reason: "writing draft: " + err.Error()}
	}
	t.log.Debug().Str("agency_code", agencyCode).Str("path", path).Msg("draft saved")
	return nil
}
