package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-mfa/pkg/config"
	"github.com/tendant/simple-mfa/pkg/notification"
)

// smsworker delivers the SMS codes the mfa service queues on its redis stream.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	config.LoadEnvFile(".env")
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to read configuration", "error", err)
		os.Exit(1)
	}
	if !cfg.Twilio.Enabled() {
		slog.Error("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.Error("Failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        redisClient,
			ConsumerGroup: "mfa-sms-worker",
		},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		slog.Error("Failed to create redis stream subscriber", "error", err)
		os.Exit(1)
	}
	defer subscriber.Close()

	sender := notification.NewTwilioSender(notification.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		From:       cfg.Twilio.From,
	})
	if err := notification.NewSMSWorker(subscriber, sender).Run(ctx); err != nil {
		slog.Error("SMS worker failed", "error", err)
		os.Exit(1)
	}
}
