package notification

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/radiweb/pacs-gateway/internal/platform/webhook"
)

// LogSender writes notifications to the log. It is the default when no
// outbound webhook is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) Send(_ context.Context, n *Notification) error {
	ev := s.Logger.Info()
	if n.Priority == PriorityHigh {
		ev = s.Logger.Warn()
	}
	ev.Str("notification_id", n.ID).
		Str("recipient", n.Recipient).
		Str("template", n.TemplateID).
		Str("subject", n.Subject).
		Msg(n.Body)
	return nil
}

// WebhookSender posts each notification as a signed "notification" event.
type WebhookSender struct {
	Dispatcher *webhook.Dispatcher
}

func (s WebhookSender) Send(ctx context.Context, n *Notification) error {
	_, err := s.Dispatcher.Send(ctx, "notification", n)
	return err
}
