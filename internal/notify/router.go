package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukerupert/hotspot/internal/model"
)

// LogSender writes messages to the log instead of delivering them. Used in
// development when a channel has no credentials.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) Send(ctx context.Context, msg Message) error {
	l.logger.InfoContext(ctx, "message not delivered, logging instead",
		"to", msg.To, "kind", msg.Kind, "subject", msg.Subject, "body", msg.Body)
	return nil
}

// Router sends phone contacts over SMS and email contacts over email.
type Router struct {
	SMS   Messenger
	Email Messenger
}

func (r *Router) Send(ctx context.Context, msg Message) error {
	var m Messenger
	switch msg.Kind {
	case model.ContactPhone:
		m = r.SMS
	case model.ContactEmail:
		m = r.Email
	default:
		return fmt.Errorf("unknown contact kind %q", msg.Kind)
	}
	if m == nil {
		return fmt.Errorf("%s: %w", msg.Kind, ErrNotConfigured)
	}
	return m.Send(ctx, msg)
}

type configurable interface {
	Messenger
	Configured() bool
}

// Choose returns m when it has credentials. Otherwise it returns fallback,
// which may be nil to report the channel as unconfigured.
func Choose(m configurable, fallback Messenger) Messenger {
	if m.Configured() {
		return m
	}
	return fallback
}
