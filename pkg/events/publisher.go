// Package events publishes MFA challenge lifecycle events to a watermill
// message.Publisher.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/tendant/simple-mfa/pkg/mfa"
)

const (
	TopicChallengeCreated   = "mfa.challenge.created"
	TopicStepValidated      = "mfa.step.validated"
	TopicChallengeCompleted = "mfa.challenge.completed"
)

// ChallengeEvent is the JSON payload of every topic. The challenge token is
// never included.
type ChallengeEvent struct {
	SubjectID      string         `json:"subject_id"`
	Action         mfa.Action     `json:"action"`
	Method         mfa.MethodID   `json:"method,omitempty"`
	StepsRequired  []mfa.MethodID `json:"steps_required"`
	StepsValidated []mfa.MethodID `json:"steps_validated"`
	ExpiresAt      time.Time      `json:"expires_at"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// WatermillPublisher implements mfa.EventPublisher using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	now       func() time.Time
}

func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher, now: time.Now}
}

func (p *WatermillPublisher) PublishChallengeCreated(ctx context.Context, ch *mfa.Challenge) error {
	return p.publish(ctx, TopicChallengeCreated, ch, "")
}

func (p *WatermillPublisher) PublishStepValidated(ctx context.Context, ch *mfa.Challenge, method mfa.MethodID) error {
	return p.publish(ctx, TopicStepValidated, ch, method)
}

func (p *WatermillPublisher) PublishChallengeCompleted(ctx context.Context, ch *mfa.Challenge) error {
	return p.publish(ctx, TopicChallengeCompleted, ch, "")
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, ch *mfa.Challenge, method mfa.MethodID) error {
	event := ChallengeEvent{
		SubjectID:      ch.SubjectID,
		Action:         ch.Action,
		Method:         method,
		StepsRequired:  ch.StepsRequired,
		StepsValidated: ch.StepsValidated,
		ExpiresAt:      ch.ExpiresAt,
		OccurredAt:     p.now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("subject_id", ch.SubjectID)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

var _ mfa.EventPublisher = (*WatermillPublisher)(nil)
