package notification

import "context"

type NotificationData struct {
	To      string            // Recipient identifier (email address or phone number)
	Subject string            // Optional: Subject for notifications like email
	Body    string            // Plain text content
	Html    string            // Optional: HTML content for email
	Data    map[string]string // Additional metadata passed to the transport
}

type Notifier interface {
	Send(ctx context.Context, notification NotificationData) error
}
