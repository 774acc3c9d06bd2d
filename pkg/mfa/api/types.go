package api

import (
	"time"

	"github.com/tendant/simple-mfa/pkg/mfa"
)

type InitiateRequest struct {
	Action mfa.Action `json:"action"`
}

type InitiateResponse struct {
	Token         string                `json:"token"`
	StepsRequired []mfa.MethodID        `json:"steps_required"`
	Payload       mfa.InitiationPayload `json:"payload"`
	Ready         []mfa.MethodID        `json:"ready"`
	Failures      []mfa.MethodFailure   `json:"failures,omitempty"`
	ExpiresAt     time.Time             `json:"expires_at"`
}

// ValidateRequest carries the proof fields of the steps being attempted.
type ValidateRequest struct {
	mfa.Proof
}

type ValidateResponse struct {
	Done           bool           `json:"done"`
	Credential     string         `json:"credential,omitempty"`
	StepsValidated []mfa.MethodID `json:"steps_validated"`
	StepsRemaining []mfa.MethodID `json:"steps_remaining"`
}

// StatusResponse omits the challenge token.
type StatusResponse struct {
	Action         mfa.Action     `json:"action"`
	StepsRequired  []mfa.MethodID `json:"steps_required"`
	StepsValidated []mfa.MethodID `json:"steps_validated"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Method  string `json:"method,omitempty"`
}
