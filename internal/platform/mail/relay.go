package mail

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ni-011/voiceMD-sub000/internal/platform/apierr"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/metrics"
)

var ErrNotConfigured = apierr.Wrap(http.StatusServiceUnavailable, "mail relay is not configured", nil)

// Contact is a submission from the public contact form.
type Contact struct {
	Name      string     `json:"name" validate:"required,max=200"`
	Email     string     `json:"email" validate:"required,email"`
	Message   string     `json:"message" validate:"required,max=10000"`
	Timestamp *time.Time `json:"timestamp"`
}

const (
	subjectTemplate = "New contact form message from {{name}}"
	bodyTemplate    = "Name: {{name}}\nEmail: {{email}}\nReceived: {{timestamp}}\n\n{{message}}\n"
)

type Service struct {
	sender  EmailSender
	inbox   string
	metrics *metrics.Collector
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService relays to inbox. A nil sender makes every Relay fail with
// ErrNotConfigured.
func NewService(sender EmailSender, inbox string, m *metrics.Collector, logger zerolog.Logger) *Service {
	return &Service{sender: sender, inbox: inbox, metrics: m, logger: logger, now: time.Now}
}

func (s *Service) Relay(ctx context.Context, c Contact) error {
	if s.sender == nil {
		s.metrics.MailOutcome("disabled")
		return ErrNotConfigured
	}

	at := s.now().UTC()
	if c.Timestamp != nil {
		at = c.Timestamp.UTC()
	}
	data := map[string]string{
		"name":      strings.TrimSpace(c.Name),
		"email":     strings.TrimSpace(c.Email),
		"message":   strings.TrimSpace(c.Message),
		"timestamp": at.Format(time.RFC1123),
	}

	err := s.sender.SendEmail(ctx, Message{
		To:      s.inbox,
		ReplyTo: data["email"],
		Subject: render(subjectTemplate, data),
		Body:    render(bodyTemplate, data),
	})
	if err != nil {
		s.metrics.MailOutcome("failed")
		return apierr.Wrap(http.StatusInternalServerError, "failed to send email", err)
	}

	s.metrics.MailOutcome("sent")
	s.logger.Info().Str("from", data["email"]).Msg("contact message relayed")
	return nil
}

// render performs {{key}} replacement in a single pass, so placeholders
// inside substituted values stay literal. Unknown placeholders are left as-is.
func render(tpl string, data map[string]string) string {
	pairs := make([]string, 0, 2*len(data))
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
