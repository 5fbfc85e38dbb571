// Package alert tells operators when the pipeline gives up on something:
// a job out of retry budget, a publication whose dispatch failed.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"clipwave/internal/domain"
	"github.com/resend/resend-go/v2"
)

// Sender delivers one rendered alert.
type Sender interface {
	Send(ctx context.Context, subject, body string) error
}

// LogSender logs alerts instead of delivering them — used in ENV=local.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, subject, body string) error {
	s.logger.Warn("operator alert (local dev)", "subject", subject, "body", body)
	return nil
}

// ResendSender emails alerts via the Resend API — used in staging/production.
type ResendSender struct {
	client *resend.Client
	from   string
	to     []string
}

func NewResendSender(apiKey, from string, to []string) *ResendSender {
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
		to:     to,
	}
}

func (s *ResendSender) Send(ctx context.Context, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      s.to,
		Subject: subject,
		Text:    body,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	return nil
}

// NewSender returns a LogSender for ENV=local, a ResendSender otherwise.
func NewSender(env, apiKey, from string, to []string, logger *slog.Logger) Sender {
	if env == "local" {
		return NewLogSender(logger)
	}
	return NewResendSender(apiKey, from, to)
}

// Notifier renders pipeline failures into alerts and hands them to a Sender.
// Delivery errors are logged, never returned: alerting must not take the
// poll tick down with it.
type Notifier struct {
	sender Sender
	logger *slog.Logger
}

func NewNotifier(sender Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		logger: logger.With("component", "alert"),
	}
}

// JobExhausted reports a job that burned its whole retry budget.
func (n *Notifier) JobExhausted(ctx context.Context, job *domain.Job) {
	subject := fmt.Sprintf("[coordinator] %s job failed permanently", job.Type)

	var b strings.Builder
	fmt.Fprintf(&b, "Job %s (%s) for video %s failed after %d attempts.\n",
		job.ID, job.Type, job.VideoID, job.Attempts)
	if job.ErrorMessage != nil {
		fmt.Fprintf(&b, "Last error: %s\n", *job.ErrorMessage)
	}
	n.deliver(ctx, subject, b.String())
}

// PublishFailed reports a due schedule whose dispatch failed.
func (n *Notifier) PublishFailed(ctx context.Context, res domain.ExecutionResult) {
	body := fmt.Sprintf("Schedule %s (video %s, account %s) failed to dispatch: %s\n",
		res.ScheduleID, res.VideoID, res.AccountID, res.Error)
	n.deliver(ctx, "[coordinator] scheduled publication failed", body)
}

func (n *Notifier) deliver(ctx context.Context, subject, body string) {
	if err := n.sender.Send(ctx, subject, body); err != nil {
		n.logger.Error("alert delivery failed", "subject", subject, "error", err)
	}
}
