package mfa

import (
	"context"
	"fmt"
)

// MethodHandler is one pluggable verification mechanism.
type MethodHandler interface {
	// MethodID returns the stable identifier of this method.
	MethodID() MethodID

	// Initiate prepares whatever side data the client needs for this step.
	// It must be safe to call concurrently with other handlers.
	Initiate(ctx context.Context, subjectID string) (InitiationPayload, error)

	// Targets reports whether proof carries fields for this method.
	Targets(proof Proof) bool

	// Validate checks the part of proof relevant to this method. A wrong proof
	// returns false with a nil error; errors are reserved for infrastructure
	// failures and malformed proof shapes.
	Validate(ctx context.Context, subjectID string, proof Proof) (bool, error)
}

// MethodRegistry holds the registered handlers keyed by method id. It is
// populated once at startup and only read afterwards, so it carries no lock.
type MethodRegistry struct {
	handlers map[MethodID]MethodHandler
	order    []MethodID
}

func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{
		handlers: make(map[MethodID]MethodHandler),
	}
}

// Register adds handler under handler.MethodID().
func (r *MethodRegistry) Register(handler MethodHandler) error {
	if handler == nil {
		return fmt.Errorf("mfa: cannot register nil handler")
	}
	id := handler.MethodID()
	if id == "" {
		return fmt.Errorf("mfa: handler has empty method id")
	}
	if _, exists := r.handlers[id]; exists {
		return &DuplicateMethodError{Method: id}
	}
	r.handlers[id] = handler
	r.order = append(r.order, id)
	return nil
}

// MustRegister is Register for startup wiring; a duplicate is a fatal
// configuration error.
func (r *MethodRegistry) MustRegister(handler MethodHandler) {
	if err := r.Register(handler); err != nil {
		panic(err)
	}
}

// Resolve returns the handlers registered for ids, in registration order.
// Unknown ids are dropped.
func (r *MethodRegistry) Resolve(ids []MethodID) []MethodHandler {
	wanted := make(map[MethodID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	res := make([]MethodHandler, 0, len(ids))
	for _, id := range r.order {
		if wanted[id] {
			res = append(res, r.handlers[id])
		}
	}
	return res
}

// Get returns the handler for id.
func (r *MethodRegistry) Get(id MethodID) (MethodHandler, bool) {
	h, ok := r.handlers[id]
	return h, ok
}

// All returns every registered handler in registration order.
func (r *MethodRegistry) All() []MethodHandler {
	res := make([]MethodHandler, 0, len(r.order))
	for _, id := range r.order {
		res = append(res, r.handlers[id])
	}
	return res
}
