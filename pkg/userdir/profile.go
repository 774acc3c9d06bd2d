// Package userdir stores the per-subject enrollment data the mfa methods read:
// password hash, TOTP secret, email, phone, wallets and linked OAuth identities.
package userdir

import (
	"context"
	"errors"
	"slices"

	"github.com/tendant/simple-mfa/pkg/authmethod"
	"github.com/tendant/simple-mfa/pkg/mfa"
)

// OAuthIdentity is an external account linked to a subject.
type OAuthIdentity struct {
	Provider        string `json:"provider"`
	ProviderSubject string `json:"provider_subject"`
}

type Profile struct {
	SubjectID       string          `json:"subject_id"`
	PasswordHash    string          `json:"-"`
	TOTPSecret      string          `json:"-"`
	Email           string          `json:"email,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	Wallets         []string        `json:"wallets,omitempty"`
	OAuthIdentities []OAuthIdentity `json:"oauth_identities,omitempty"`
	// Methods optionally narrows the enrolled methods, e.g. when a user turned
	// one off without deleting its secret.
	Methods []mfa.MethodID `json:"methods,omitempty"`
}

// EnrolledMethods returns the methods the profile holds data for.
func (p Profile) EnrolledMethods() []mfa.MethodID {
	var res []mfa.MethodID
	add := func(id mfa.MethodID, ok bool) {
		if ok && (len(p.Methods) == 0 || slices.Contains(p.Methods, id)) {
			res = append(res, id)
		}
	}
	add(mfa.MethodPassword, p.PasswordHash != "")
	add(mfa.MethodEmail, p.Email != "")
	add(mfa.MethodTOTP, p.TOTPSecret != "")
	add(mfa.MethodPhone, p.Phone != "")
	add(mfa.MethodOAuth, len(p.OAuthIdentities) > 0)
	add(mfa.MethodWeb3, len(p.Wallets) > 0)
	return res
}

// ProfileStore loads and saves profiles. Implementations return
// mfa.ErrNotFound for unknown subjects.
type ProfileStore interface {
	GetProfile(ctx context.Context, subjectID string) (Profile, error)
	SaveProfile(ctx context.Context, p Profile) error
}

// Directory adapts a ProfileStore to mfa.UserDirectory and the lookups of
// the authmethod handlers.
type Directory struct {
	store ProfileStore
}

func NewDirectory(store ProfileStore) *Directory {
	return &Directory{store: store}
}

func (d *Directory) GetRegisteredMethods(ctx context.Context, subjectID string) ([]mfa.MethodID, error) {
	p, err := d.store.GetProfile(ctx, subjectID)
	if err != nil {
		if errors.Is(err, mfa.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p.EnrolledMethods(), nil
}

func (d *Directory) GetPasswordHash(ctx context.Context, subjectID string) (string, error) {
	return d.field(ctx, subjectID, func(p Profile) string { return p.PasswordHash })
}

func (d *Directory) GetTOTPSecret(ctx context.Context, subjectID string) (string, error) {
	return d.field(ctx, subjectID, func(p Profile) string { return p.TOTPSecret })
}

func (d *Directory) GetEmail(ctx context.Context, subjectID string) (string, error) {
	return d.field(ctx, subjectID, func(p Profile) string { return p.Email })
}

func (d *Directory) GetPhone(ctx context.Context, subjectID string) (string, error) {
	return d.field(ctx, subjectID, func(p Profile) string { return p.Phone })
}

func (d *Directory) GetWallets(ctx context.Context, subjectID string) ([]string, error) {
	p, err := d.store.GetProfile(ctx, subjectID)
	if err != nil {
		if errors.Is(err, mfa.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	wallets := make([]string, 0, len(p.Wallets))
	for _, w := range p.Wallets {
		wallets = append(wallets, mfa.NormalizeWallet(w))
	}
	return wallets, nil
}

func (d *Directory) IsOAuthIdentityLinked(ctx context.Context, subjectID, provider, providerSubject string) (bool, error) {
	p, err := d.store.GetProfile(ctx, subjectID)
	if err != nil {
		if errors.Is(err, mfa.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return slices.Contains(p.OAuthIdentities, OAuthIdentity{Provider: provider, ProviderSubject: providerSubject}), nil
}

func (d *Directory) field(ctx context.Context, subjectID string, get func(Profile) string) (string, error) {
	p, err := d.store.GetProfile(ctx, subjectID)
	if err != nil {
		if errors.Is(err, mfa.ErrNotFound) {
			return "", authmethod.ErrNotEnrolled
		}
		return "", err
	}
	v := get(p)
	if v == "" {
		return "", authmethod.ErrNotEnrolled
	}
	return v, nil
}

var (
	_ mfa.UserDirectory    = (*Directory)(nil)
	_ authmethod.Directory = (*Directory)(nil)
)
