package notification

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"sync"
	"text/template"
	"time"

	"github.com/tendant/simple-mfa/pkg/mfa"
)

// NoticeTemplate holds the subject and bodies rendered for a channel. Text
// and Html are Go templates executed with TemplateData.
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

type TemplateData struct {
	Code      string
	ExpiresIn string
}

// ContactLookup resolves where a subject receives codes.
type ContactLookup interface {
	GetEmail(ctx context.Context, subjectID string) (string, error)
	GetPhone(ctx context.Context, subjectID string) (string, error)
}

// NotificationManager delivers one-time codes over the registered channels.
// It implements mfa.NotificationGateway.
type NotificationManager struct {
	mu        sync.RWMutex
	contacts  ContactLookup
	notifiers map[mfa.Channel]Notifier
	templates map[mfa.Channel]NoticeTemplate
	codeTTL   time.Duration
}

// NewNotificationManager creates a manager with the default code templates.
func NewNotificationManager(contacts ContactLookup, opts ...NotificationManagerOption) (*NotificationManager, error) {
	nm := &NotificationManager{
		contacts:  contacts,
		notifiers: make(map[mfa.Channel]Notifier),
		templates: map[mfa.Channel]NoticeTemplate{
			mfa.ChannelEmail: {
				Subject: "Your verification code",
				Text:    "Your verification code is {{.Code}}. It expires in {{.ExpiresIn}}.",
				Html:    loadTemplate("templates/email/mfa_code.html"),
			},
			mfa.ChannelSMS: {
				Text: "Your verification code is {{.Code}}",
			},
		},
		codeTTL: 15 * time.Minute,
	}
	for _, opt := range opts {
		if err := opt(nm); err != nil {
			return nil, err
		}
	}
	return nm, nil
}

// RegisterNotifier registers a notifier for a channel, replacing any earlier one.
func (nm *NotificationManager) RegisterNotifier(channel mfa.Channel, notifier Notifier) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.notifiers[channel] = notifier
}

// RegisterTemplate overrides the template used for a channel.
func (nm *NotificationManager) RegisterTemplate(channel mfa.Channel, tmpl NoticeTemplate) error {
	if channel == "" || (tmpl.Text == "" && tmpl.Html == "") {
		return fmt.Errorf("invalid input: channel and a text or html body are required")
	}
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.templates[channel] = tmpl
	return nil
}

// SendCode resolves the subject's address for channel and sends code to it.
func (nm *NotificationManager) SendCode(ctx context.Context, subjectID string, channel mfa.Channel, code string) error {
	nm.mu.RLock()
	notifier, ok := nm.notifiers[channel]
	tmpl := nm.templates[channel]
	nm.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no notifier registered for channel: %s", channel)
	}

	var (
		to  string
		err error
	)
	switch channel {
	case mfa.ChannelEmail:
		to, err = nm.contacts.GetEmail(ctx, subjectID)
	case mfa.ChannelSMS:
		to, err = nm.contacts.GetPhone(ctx, subjectID)
	default:
		return fmt.Errorf("unsupported channel: %s", channel)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve %s address: %w", channel, err)
	}

	data := TemplateData{Code: code, ExpiresIn: formatTTL(nm.codeTTL)}
	notification := NotificationData{
		To:      to,
		Subject: tmpl.Subject,
		Data:    map[string]string{"subject_id": subjectID},
	}
	if tmpl.Text != "" {
		if notification.Body, err = renderText(tmpl.Text, data); err != nil {
			return err
		}
	}
	if tmpl.Html != "" {
		if notification.Html, err = renderHtml(tmpl.Html, data); err != nil {
			return err
		}
	}

	if err := notifier.Send(ctx, notification); err != nil {
		slog.Error("Failed to send code", "subject", subjectID, "channel", channel, "err", err)
		return fmt.Errorf("failed to send %s code: %w", channel, err)
	}
	return nil
}

func renderText(src string, data TemplateData) (string, error) {
	tmpl, err := template.New("text").Parse(src)
	if err != nil {
		return "", fmt.Errorf("failed to parse text template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute text template: %w", err)
	}
	return buf.String(), nil
}

func renderHtml(src string, data TemplateData) (string, error) {
	tmpl, err := htmltemplate.New("html").Parse(src)
	if err != nil {
		return "", fmt.Errorf("failed to parse html template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute html template: %w", err)
	}
	return buf.String(), nil
}

func formatTTL(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}

var _ mfa.NotificationGateway = (*NotificationManager)(nil)
