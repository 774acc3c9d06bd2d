package mfa

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAvailableMethod is returned when a subject has no usable method.
	ErrNoAvailableMethod = errors.New("no available mfa method for subject")

	// ErrNoActiveChallenge is returned when the subject has no open challenge,
	// or the challenge expired or was already consumed.
	ErrNoActiveChallenge = errors.New("no active mfa challenge")

	// ErrStepFailed is returned when a submitted proof is wrong.
	ErrStepFailed = errors.New("mfa step failed")

	// ErrMalformedProof is returned when a proof targets no pending step.
	ErrMalformedProof = errors.New("malformed mfa proof")

	// ErrIncompleteProof is returned by a handler whose step needs more proof
	// than was submitted, e.g. signatures for only some wallets. The step is
	// left pending and is not counted as a failure.
	ErrIncompleteProof = errors.New("incomplete mfa proof")

	// ErrVersionConflict is returned by ChallengeStore.Update when the stored
	// record changed since it was read.
	ErrVersionConflict = errors.New("mfa challenge version conflict")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("mfa record not found")

	// ErrRateLimited is returned when the validate hook refuses the call.
	ErrRateLimited = errors.New("mfa validation rate limited")
)

// DuplicateMethodError is returned when a method id is registered twice.
type DuplicateMethodError struct {
	Method MethodID
}

func (e *DuplicateMethodError) Error() string {
	return fmt.Sprintf("mfa method %q already registered", e.Method)
}

// StepError carries the method whose proof was rejected.
type StepError struct {
	Method MethodID
}

func (e *StepError) Error() string {
	return fmt.Sprintf("mfa step %q failed", e.Method)
}

func (e *StepError) Unwrap() error {
	return ErrStepFailed
}

// IsDuplicateMethod reports whether err is a DuplicateMethodError.
func IsDuplicateMethod(err error) bool {
	var dup *DuplicateMethodError
	return errors.As(err, &dup)
}
