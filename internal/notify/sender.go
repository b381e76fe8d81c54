package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/soyeahso/owlvin/internal/logging"
)

// Sender delivers one outbound text message.
type Sender interface {
	Send(ctx context.Context, to, from, body string) error
	Name() string
}

// messageCreator is the slice of the Twilio API used here.
type messageCreator interface {
	CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
}

// TwilioSender sends SMS and WhatsApp messages through the Twilio REST API.
type TwilioSender struct {
	api messageCreator
	log *logging.Logger
}

// NewTwilioSender creates a sender authenticated with a messaging account.
func NewTwilioSender(accountSID, authToken string, log *logging.Logger) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSender{api: client.Api, log: log.Sub("notify.twilio")}
}

func (t *TwilioSender) Name() string { return "twilio" }

// Send submits the message. The Twilio client has no context support, so
// ctx is only checked before the request starts.
func (t *TwilioSender) Send(ctx context.Context, to, from, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(body)

	msg, err := t.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}
	if msg != nil && msg.Sid != nil {
		t.log.Debug().Str("sid", *msg.Sid).Msg("message queued")
	}
	return nil
}

// LogSender only logs messages. It is used when no messaging credentials
// are configured.
type LogSender struct {
	log *logging.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(log *logging.Logger) *LogSender {
	return &LogSender{log: log.Sub("notify.log")}
}

func (l *LogSender) Name() string { return "log" }

func (l *LogSender) Send(_ context.Context, to, from, body string) error {
	l.log.Info().Str("to", to).Str("from", from).Str("body", body).Msg("closing message")
	return nil
}
