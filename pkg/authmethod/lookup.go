package authmethod

import (
	"context"
	"errors"
)

// ErrNotEnrolled is returned by lookups when the subject has no secret or
// destination for the method.
var ErrNotEnrolled = errors.New("method not enrolled for subject")

type PasswordLookup interface {
	GetPasswordHash(ctx context.Context, subjectID string) (string, error)
}

type TOTPSecretLookup interface {
	GetTOTPSecret(ctx context.Context, subjectID string) (string, error)
}

type EmailLookup interface {
	GetEmail(ctx context.Context, subjectID string) (string, error)
}

type PhoneLookup interface {
	GetPhone(ctx context.Context, subjectID string) (string, error)
}

type WalletLookup interface {
	GetWallets(ctx context.Context, subjectID string) ([]string, error)
}

type OAuthIdentityLookup interface {
	IsOAuthIdentityLinked(ctx context.Context, subjectID, provider, providerSubject string) (bool, error)
}

// Directory is the full profile surface the default handlers read from.
type Directory interface {
	PasswordLookup
	TOTPSecretLookup
	EmailLookup
	PhoneLookup
	WalletLookup
	OAuthIdentityLookup
}
