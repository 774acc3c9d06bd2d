package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-mfa/pkg/mfa"
)

type testContacts map[string][2]string

func (c testContacts) GetEmail(ctx context.Context, subjectID string) (string, error) {
	if v := c[subjectID][0]; v != "" {
		return v, nil
	}
	return "", errors.New("no email")
}

func (c testContacts) GetPhone(ctx context.Context, subjectID string) (string, error) {
	if v := c[subjectID][1]; v != "" {
		return v, nil
	}
	return "", errors.New("no phone")
}

var contacts = testContacts{"alice": {"alice@example.com", "+15550001111"}}

func TestSendCodeEmail(t *testing.T) {
	mock := &MockNotifier{}
	nm, err := NewNotificationManager(contacts, WithNotifier(mfa.ChannelEmail, mock))
	require.NoError(t, err)

	require.NoError(t, nm.SendCode(context.Background(), "alice", mfa.ChannelEmail, "12345678"))

	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.com", sent[0].To)
	assert.Equal(t, "Your verification code", sent[0].Subject)
	assert.Equal(t, "Your verification code is 12345678. It expires in 15 minutes.", sent[0].Body)
	assert.Contains(t, sent[0].Html, "12345678")
	assert.Equal(t, "alice", sent[0].Data["subject_id"])
}

func TestSendCodeErrors(t *testing.T) {
	ctx := context.Background()
	mock := &MockNotifier{}
	nm, err := NewNotificationManager(contacts, WithNotifier(mfa.ChannelEmail, mock))
	require.NoError(t, err)

	err = nm.SendCode(ctx, "alice", mfa.ChannelSMS, "1")
	assert.ErrorContains(t, err, "no notifier registered")

	err = nm.SendCode(ctx, "bob", mfa.ChannelEmail, "1")
	assert.ErrorContains(t, err, "failed to resolve email address")

	mock.Err = errors.New("smtp down")
	err = nm.SendCode(ctx, "alice", mfa.ChannelEmail, "1")
	assert.ErrorContains(t, err, "smtp down")
	assert.Empty(t, mock.Sent())
}

func TestRegisterTemplate(t *testing.T) {
	mock := &MockNotifier{}
	nm, err := NewNotificationManager(contacts,
		WithNotifier(mfa.ChannelSMS, mock),
		WithCodeExpiry(5*time.Minute),
	)
	require.NoError(t, err)

	assert.Error(t, nm.RegisterTemplate("", NoticeTemplate{Text: "x"}))
	assert.Error(t, nm.RegisterTemplate(mfa.ChannelSMS, NoticeTemplate{Subject: "only subject"}))
	require.NoError(t, nm.RegisterTemplate(mfa.ChannelSMS, NoticeTemplate{Text: "Code {{.Code}} ({{.ExpiresIn}})"}))

	require.NoError(t, nm.SendCode(context.Background(), "alice", mfa.ChannelSMS, "4242"))
	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "+15550001111", sent[0].To)
	assert.Equal(t, "Code 4242 (5 minutes)", sent[0].Body)
}

func TestSMSNotifierPublishes(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	messages, err := pubSub.Subscribe(ctx, SMSOutboundTopic)
	require.NoError(t, err)

	nm, err := NewNotificationManager(contacts, WithSMSPublisher(pubSub))
	require.NoError(t, err)
	require.NoError(t, nm.SendCode(ctx, "alice", mfa.ChannelSMS, "87654321"))

	select {
	case msg := <-messages:
		msg.Ack()
		var sms SMSMessage
		require.NoError(t, json.Unmarshal(msg.Payload, &sms))
		assert.Equal(t, "+15550001111", sms.To)
		assert.Equal(t, "Your verification code is 87654321", sms.Body)
	case <-ctx.Done():
		t.Fatal("sms was not published")
	}
}

func TestSMSNotifierValidation(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	err := NewSMSNotifier(pubSub).Send(context.Background(), NotificationData{To: "+1555"})
	assert.Error(t, err)
}

func TestFormatTTL(t *testing.T) {
	assert.Equal(t, "1 minute", formatTTL(time.Minute))
	assert.Equal(t, "15 minutes", formatTTL(15*time.Minute))
	assert.Equal(t, "1m30s", formatTTL(90*time.Second))
}
