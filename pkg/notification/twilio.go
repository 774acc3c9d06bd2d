package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SMSSender delivers one text message to a carrier.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
}

// TwilioSender sends text messages through the Twilio Messages API.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSender(config TwilioConfig) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSID,
		Password: config.AuthToken,
	})
	return &TwilioSender{client: client, from: config.From}
}

func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Info("Successfully sent sms", "to", to, "sid", sid)
	return nil
}

// DirectSMSNotifier sends SMS codes synchronously through an SMSSender. It is
// used when no message bus is configured.
type DirectSMSNotifier struct {
	sender SMSSender
}

func NewDirectSMSNotifier(sender SMSSender) *DirectSMSNotifier {
	return &DirectSMSNotifier{sender: sender}
}

func (n *DirectSMSNotifier) Send(ctx context.Context, notification NotificationData) error {
	if notification.To == "" || notification.Body == "" {
		return fmt.Errorf("SMS notification requires 'To' and 'Body'")
	}
	return n.sender.SendSMS(ctx, notification.To, notification.Body)
}
