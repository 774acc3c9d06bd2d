package notification

import (
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/tendant/simple-mfa/pkg/mfa"
)

//go:embed templates/*
var templateFiles embed.FS

func loadTemplate(filename string) string {
	content, err := templateFiles.ReadFile(filename)
	if err != nil {
		slog.Error("Error reading template file!", "err", err, "filename", filename)
		return ""
	}
	return string(content)
}

// NotificationManagerOption is a function that configures a NotificationManager
type NotificationManagerOption func(*NotificationManager) error

// WithSMTP adds an email notifier with the provided SMTP configuration
func WithSMTP(config SMTPConfig) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		emailNotifier, err := NewEmailNotifier(config)
		if err != nil {
			return err
		}
		nm.RegisterNotifier(mfa.ChannelEmail, emailNotifier)
		return nil
	}
}

// WithSMSPublisher routes SMS codes to the outbound topic of publisher
func WithSMSPublisher(publisher message.Publisher) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		nm.RegisterNotifier(mfa.ChannelSMS, NewSMSNotifier(publisher))
		return nil
	}
}

// WithTwilio sends SMS codes directly through Twilio
func WithTwilio(config TwilioConfig) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		if config.AccountSID == "" || config.AuthToken == "" {
			return fmt.Errorf("twilio account sid and auth token are required")
		}
		nm.RegisterNotifier(mfa.ChannelSMS, NewDirectSMSNotifier(NewTwilioSender(config)))
		return nil
	}
}

// WithNotifier registers an arbitrary notifier for a channel
func WithNotifier(channel mfa.Channel, notifier Notifier) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		nm.RegisterNotifier(channel, notifier)
		return nil
	}
}

// WithCodeExpiry sets the lifetime quoted in the message bodies
func WithCodeExpiry(ttl time.Duration) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		nm.codeTTL = ttl
		return nil
	}
}
