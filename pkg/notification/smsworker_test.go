package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-mfa/pkg/mfa"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []SMSMessage
	err  error
}

func (s *recordingSender) SendSMS(ctx context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, SMSMessage{To: to, Body: body})
	return nil
}

func (s *recordingSender) messages() []SMSMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SMSMessage(nil), s.sent...)
}

func TestSMSWorkerDeliversQueuedCodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	defer pubSub.Close()

	nm, err := NewNotificationManager(contacts, WithSMSPublisher(pubSub))
	require.NoError(t, err)

	require.NoError(t, pubSub.Publish(SMSOutboundTopic, message.NewMessage(watermill.NewUUID(), []byte("not json"))))
	require.NoError(t, nm.SendCode(ctx, "alice", mfa.ChannelSMS, "87654321"))

	sender := &recordingSender{}
	done := make(chan error, 1)
	go func() { done <- NewSMSWorker(pubSub, sender).Run(ctx) }()

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	sms := sender.messages()[0]
	assert.Equal(t, "+15550001111", sms.To)
	assert.Contains(t, sms.Body, "87654321")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestDirectSMSNotifier(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{}
	nm, err := NewNotificationManager(contacts, WithNotifier(mfa.ChannelSMS, NewDirectSMSNotifier(sender)))
	require.NoError(t, err)

	require.NoError(t, nm.SendCode(ctx, "alice", mfa.ChannelSMS, "11223344"))
	require.Len(t, sender.messages(), 1)
	assert.Equal(t, "+15550001111", sender.messages()[0].To)

	sender.err = errors.New("carrier down")
	assert.ErrorContains(t, nm.SendCode(ctx, "alice", mfa.ChannelSMS, "11223344"), "carrier down")

	assert.Error(t, NewDirectSMSNotifier(sender).Send(ctx, NotificationData{To: "+1"}))
}

func TestWithTwilioRequiresCredentials(t *testing.T) {
	_, err := NewNotificationManager(contacts, WithTwilio(TwilioConfig{From: "+15005550006"}))
	assert.Error(t, err)

	_, err = NewNotificationManager(contacts, WithTwilio(TwilioConfig{AccountSID: "AC123", AuthToken: "token", From: "+15005550006"}))
	assert.NoError(t, err)
}
