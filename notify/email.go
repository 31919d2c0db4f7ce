/*
email.go - SMTP delivery sink

Sends one plain-text email per event. Delivery failures are returned to the
outbox, which logs them; they never reach the originating transaction.
*/
package notify

import (
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"github.com/jordan-wright/email"

	"github.com/warp/loyalty-engine/engine"
)

// EmailConfig holds SMTP settings for the email sink.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string // operations inbox
}

// EmailSink delivers events over SMTP.
type EmailSink struct {
	cfg EmailConfig
	// send is swappable for tests
	send func(e *email.Email, addr string, auth smtp.Auth) error
}

func NewEmailSink(cfg EmailConfig) *EmailSink {
	return &EmailSink{
		cfg: cfg,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

func (s *EmailSink) Deliver(event engine.Event) error {
	e := email.NewEmail()
	e.From = s.cfg.From
	e.To = []string{s.cfg.To}
	e.Subject = fmt.Sprintf("[%s] %s", event.Type, event.Subject)
	e.Text = []byte(renderBody(event))

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := s.send(e, addr, auth); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func renderBody(event engine.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nTenant: %s\nAt: %s\n",
		event.Subject, event.TenantID, event.OccurredAt.Format("2006-01-02 15:04:05 MST"))

	keys := make([]string, 0, len(event.Detail))
	for k := range event.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, event.Detail[k])
	}
	return b.String()
}
