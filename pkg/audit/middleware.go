// Package audit provides middleware for auditing MFA HTTP requests
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
)

const DefaultTopic = "mfa.audit"

// Config holds the configuration for the audit middleware
type Config struct {
	Publisher message.Publisher
	Topic     string
	// Source names the service instance in every event
	Source string
}

// Middleware handles HTTP request auditing
type Middleware struct {
	config Config
}

func NewMiddleware(config Config) (*Middleware, error) {
	if config.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if config.Topic == "" {
		config.Topic = DefaultTopic
	}
	if config.Source == "" {
		config.Source = "simple-mfa"
	}
	return &Middleware{config: config}, nil
}

// AuditEvent represents an audit event
type AuditEvent struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Subject   string    `json:"subject,omitempty"`
	URI       string    `json:"uri"`
	Method    string    `json:"method"`
	Status    int       `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler records one event per request once the response status is known.
// It must run after jwtauth.Verifier.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		event := AuditEvent{
			ID:        uuid.NewString(),
			Source:    m.config.Source,
			URI:       r.RequestURI,
			Method:    r.Method,
			Timestamp: time.Now().UTC(),
		}
		if _, claims, err := jwtauth.FromContext(r.Context()); err == nil {
			event.Subject, _ = claims["sub"].(string)
		}
		if event.Subject == "" {
			event.Message = "No jwt token"
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		event.Status = ww.Status()

		go m.publish(context.WithoutCancel(r.Context()), event)
	})
}

func (m *Middleware) publish(ctx context.Context, event AuditEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal audit event", "err", err)
		return
	}
	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)
	if err := m.config.Publisher.Publish(m.config.Topic, msg); err != nil {
		slog.Error("Failed to publish audit event", "uri", event.URI, "err", err)
	}
}
