// Package notification delivers one-time MFA codes to users.
//
// NotificationManager implements mfa.NotificationGateway. It looks up the
// subject's email address or phone number, renders the channel template and
// hands the result to the Notifier registered for that channel.
//
// # Channels
//
//   - email: EmailNotifier sends over SMTP using go-mail
//   - sms: SMSNotifier publishes an SMSMessage to the "mfa.sms.outbound"
//     watermill topic; SMSWorker (cmd/smsworker) drains it through Twilio.
//     Without a message bus, DirectSMSNotifier calls Twilio inline.
//
// # Usage
//
//	nm, err := notification.NewNotificationManager(directory,
//	    notification.WithSMTP(notification.SMTPConfig{
//	        Host: "smtp.example.com",
//	        Port: 587,
//	        TLS:  true,
//	        From: "noreply@example.com",
//	    }),
//	    notification.WithSMSPublisher(publisher),
//	)
//
//	err = nm.SendCode(ctx, subjectID, mfa.ChannelEmail, "12345678")
//
// MockNotifier records sent notifications for tests.
package notification
