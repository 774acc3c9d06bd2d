package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
)

// SMSWorker drains the outbound SMS topic and hands each message to an
// SMSSender. Malformed messages are acked and dropped; delivery failures are
// nacked for redelivery.
type SMSWorker struct {
	subscriber message.Subscriber
	sender     SMSSender
	topic      string
}

func NewSMSWorker(subscriber message.Subscriber, sender SMSSender) *SMSWorker {
	return &SMSWorker{subscriber: subscriber, sender: sender, topic: SMSOutboundTopic}
}

// Run consumes until ctx is done.
func (w *SMSWorker) Run(ctx context.Context) error {
	messages, err := w.subscriber.Subscribe(ctx, w.topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", w.topic, err)
	}
	slog.Info("SMS worker started", "topic", w.topic)
	for msg := range messages {
		w.handle(msg)
	}
	slog.Info("SMS worker stopped", "topic", w.topic)
	return nil
}

func (w *SMSWorker) handle(msg *message.Message) {
	var sms SMSMessage
	if err := json.Unmarshal(msg.Payload, &sms); err != nil || sms.To == "" || sms.Body == "" {
		slog.Error("Dropping malformed sms message", "message_id", msg.UUID, "err", err)
		msg.Ack()
		return
	}
	if err := w.sender.SendSMS(msg.Context(), sms.To, sms.Body); err != nil {
		slog.Error("Failed to deliver sms", "message_id", msg.UUID, "err", err)
		msg.Nack()
		return
	}
	msg.Ack()
}
