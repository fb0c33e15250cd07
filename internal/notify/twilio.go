package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageCreator is the slice of the Twilio REST API used for SMS.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type TwilioSender struct {
	api        messageCreator
	fromNumber string
}

func NewTwilioSender(accountSID, authToken, fromNumber string) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSender{api: client.Api, fromNumber: fromNumber}
}

func (t *TwilioSender) Configured() bool {
	return t.fromNumber != ""
}

// Send delivers msg.Body as an SMS. The Twilio SDK has no context support, so
// ctx is only checked before the call.
func (t *TwilioSender) Send(ctx context.Context, msg Message) error {
	if !t.Configured() {
		return fmt.Errorf("twilio: %w", ErrNotConfigured)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(t.fromNumber)
	params.SetBody(msg.Body)

	if _, err := t.api.CreateMessage(params); err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	return nil
}
