package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const SMSOutboundTopic = "mfa.sms.outbound"

// SMSMessage is the payload published for an SMS gateway worker to deliver.
type SMSMessage struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// SMSNotifier hands text messages to a message bus. A separate worker owns
// the carrier integration.
type SMSNotifier struct {
	publisher message.Publisher
	topic     string
}

func NewSMSNotifier(publisher message.Publisher) *SMSNotifier {
	return &SMSNotifier{publisher: publisher, topic: SMSOutboundTopic}
}

func (s *SMSNotifier) Send(ctx context.Context, notification NotificationData) error {
	if notification.To == "" || notification.Body == "" {
		return fmt.Errorf("SMS notification requires 'To' and 'Body'")
	}

	payload, err := json.Marshal(SMSMessage{To: notification.To, Body: notification.Body})
	if err != nil {
		return fmt.Errorf("failed to marshal sms: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return fmt.Errorf("failed to publish sms: %w", err)
	}
	slog.Info("SMS queued", "topic", s.topic, "message_id", msg.UUID)
	return nil
}
