package mfa

import (
	"context"
	"time"
)

// ChallengeStore persists challenges. Implementations never interpret the
// state machine beyond the atomicity guarantees documented here.
type ChallengeStore interface {
	// ReplaceActive deletes every challenge of ch.SubjectID and stores ch, atomically.
	ReplaceActive(ctx context.Context, ch *Challenge) error
	// GetByToken returns ErrNotFound when token is unknown.
	GetByToken(ctx context.Context, token string) (*Challenge, error)
	// GetBySubject returns the subject's challenge or ErrNotFound.
	GetBySubject(ctx context.Context, subjectID string) (*Challenge, error)
	// Update stores ch if the stored version equals ch.Version, then bumps
	// ch.Version. It returns ErrVersionConflict otherwise.
	Update(ctx context.Context, ch *Challenge) error
	DeleteBySubject(ctx context.Context, subjectID string) error
	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int, error)
}

// NonceStore persists wallet nonces keyed by (subject, wallet).
type NonceStore interface {
	// PutNonce stores n, replacing any nonce for the same subject and wallet.
	PutNonce(ctx context.Context, n Nonce) error
	// GetNonce returns ErrNotFound when missing or expired.
	GetNonce(ctx context.Context, subjectID, wallet string) (*Nonce, error)
	// MarkNonceValidated flags the nonce with the given value as verified.
	MarkNonceValidated(ctx context.Context, subjectID, wallet, value string) error
	// ConsumeNonce deletes the nonce if it matches value, is validated and
	// unexpired. It reports whether the nonce was consumed.
	ConsumeNonce(ctx context.Context, subjectID, wallet, value string) (bool, error)
	DeleteExpiredNonces(ctx context.Context, now time.Time) (int, error)
}

// PasscodeStore persists single-use secrets keyed by (subject, method).
type PasscodeStore interface {
	// PutPasscode stores p, invalidating earlier secrets for the same key.
	PutPasscode(ctx context.Context, p Passcode) error
	// GetPasscode returns ErrNotFound when missing or expired.
	GetPasscode(ctx context.Context, subjectID string, method MethodID) (*Passcode, error)
	// ConsumePasscode deletes the secret if it matches value and is unexpired.
	ConsumePasscode(ctx context.Context, subjectID string, method MethodID, value string) (bool, error)
	DeleteExpiredPasscodes(ctx context.Context, now time.Time) (int, error)
}

// Repository is the full persistence surface of the engine.
type Repository interface {
	ChallengeStore
	NonceStore
	PasscodeStore
}

// UserDirectory resolves which methods a subject has enrolled.
type UserDirectory interface {
	GetRegisteredMethods(ctx context.Context, subjectID string) ([]MethodID, error)
}

// CredentialIssuer mints the final credential once every step passed.
type CredentialIssuer interface {
	Issue(ctx context.Context, subjectID string, action Action, methods []MethodID) (string, error)
}

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// NotificationGateway delivers codes to the subject.
type NotificationGateway interface {
	SendCode(ctx context.Context, subjectID string, channel Channel, code string) error
}

// SignatureVerifier checks a wallet signature over message.
type SignatureVerifier interface {
	Verify(wallet, message, signature string) (bool, error)
}

// EventPublisher receives challenge lifecycle notifications.
type EventPublisher interface {
	PublishChallengeCreated(ctx context.Context, ch *Challenge) error
	PublishStepValidated(ctx context.Context, ch *Challenge, method MethodID) error
	PublishChallengeCompleted(ctx context.Context, ch *Challenge) error
}

// Limiter guards ValidateStep entry.
type Limiter interface {
	Allow(key string) bool
}

// Metrics receives engine counters.
type Metrics interface {
	ChallengeInitiated(action Action)
	HandlerInitiateFailed(method MethodID)
	StepValidated(method MethodID, ok bool)
	CredentialIssued(action Action)
}
