package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

// Notifier is the notification transport boundary. The dispatcher decides
// and formats; a Notifier only carries the message. Send must respect the
// context deadline — a hung SMTP server cancels one delivery, never the
// pipeline.
type Notifier interface {
	Name() string
	Send(ctx context.Context, ev *AttackEvent) error
}

// EmailNotifier delivers alerts over SMTP with STARTTLS.
type EmailNotifier struct {
	cfg    EmailConfig
	logger zerolog.Logger
}

// NewEmailNotifier creates an SMTP notifier.
func NewEmailNotifier(cfg EmailConfig, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger.With().Str("component", "email_notifier").Logger(),
	}
}

func (n *EmailNotifier) Name() string { return "email" }

// Send formats and delivers the alert email. smtp.SendMail negotiates
// STARTTLS when the server advertises it.
func (n *EmailNotifier) Send(ctx context.Context, ev *AttackEvent) error {
	if n.cfg.From == "" || n.cfg.To == "" {
		return fmt.Errorf("email notifier not configured: sender or recipient missing")
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", n.cfg.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", FormatAlertSubject(ev))
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(FormatAlertText(ev))

	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)
	auth := smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.SMTPHost)

	// net/smtp has no context support; run the send in a goroutine and
	// abandon it on deadline so the dispatcher worker is never pinned.
	errCh := make(chan error, 1)
	go func() {
		errCh <- smtp.SendMail(addr, auth, n.cfg.From, []string{n.cfg.To}, []byte(msg.String()))
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("sending alert email: %w", err)
		}
		n.logger.Debug().Str("to", n.cfg.To).Str("event_id", ev.ID).Msg("alert email sent")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sending alert email: %w", ctx.Err())
	}
}

// WebhookNotifier POSTs the generic JSON payload to a configured URL.
type WebhookNotifier struct {
	cfg    WebhookConfig
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(cfg WebhookConfig, logger zerolog.Logger) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Alerts.Webhook.Timeout
	}
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "webhook_notifier").Logger(),
	}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Send(ctx context.Context, ev *AttackEvent) error {
	data, err := json.Marshal(WebhookPayload(ev))
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sentryd-alerts/1.0")
	req.Header.Set("X-Sentryd-Event-ID", ev.ID)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	n.logger.Debug().Str("url", n.cfg.URL).Str("event_id", ev.ID).Msg("webhook alert delivered")
	return nil
}
