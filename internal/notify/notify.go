// Package notify delivers verification codes over SMS and email.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukerupert/hotspot/internal/model"
)

var ErrNotConfigured = errors.New("delivery channel not configured")

type Message struct {
	To      string
	Kind    model.ContactKind
	Subject string
	Body    string
}

// Messenger sends one message. Implementations report failure; they never
// retry on their own.
type Messenger interface {
	Send(ctx context.Context, msg Message) error
}

// CodeMessage builds the text sent with a verification code.
func CodeMessage(to string, kind model.ContactKind, code string, validMinutes int) Message {
	return Message{
		To:      to,
		Kind:    kind,
		Subject: "Your Wi-Fi access code",
		Body:    fmt.Sprintf("Your access code is %s. It expires in %d minutes.", code, validMinutes),
	}
}
