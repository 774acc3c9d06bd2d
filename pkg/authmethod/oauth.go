package authmethod

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-mfa/pkg/mfa"
)

const DefaultOAuthStateTTL = 15 * time.Minute

// OAuthConfirmHandler accepts proof that the subject just logged in with a
// linked external identity provider. Initiate issues a state that the client
// sends as the OpenID Connect nonce; Validate requires an ID token signed by
// the provider whose nonce is that state and whose subject is linked.
type OAuthConfirmHandler struct {
	store      mfa.PasscodeStore
	identities OAuthIdentityLookup
	verifier   IDTokenVerifier
	ttl        time.Duration
	now        func() time.Time
}

func NewOAuthConfirmHandler(store mfa.PasscodeStore, identities OAuthIdentityLookup, verifier IDTokenVerifier) *OAuthConfirmHandler {
	return &OAuthConfirmHandler{
		store:      store,
		identities: identities,
		verifier:   verifier,
		ttl:        DefaultOAuthStateTTL,
		now:        time.Now,
	}
}

func (h *OAuthConfirmHandler) MethodID() mfa.MethodID {
	return mfa.MethodOAuth
}

func (h *OAuthConfirmHandler) Initiate(ctx context.Context, subjectID string) (mfa.InitiationPayload, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return mfa.InitiationPayload{}, fmt.Errorf("failed to generate oauth state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(b)

	err := h.store.PutPasscode(ctx, mfa.Passcode{
		SubjectID: subjectID,
		Method:    mfa.MethodOAuth,
		Value:     state,
		ExpiresAt: h.now().UTC().Add(h.ttl),
	})
	if err != nil {
		return mfa.InitiationPayload{}, fmt.Errorf("failed to store oauth state: %w", err)
	}
	return mfa.InitiationPayload{
		Hints: map[mfa.MethodID]string{mfa.MethodOAuth: state},
	}, nil
}

func (h *OAuthConfirmHandler) Targets(proof mfa.Proof) bool {
	return proof.OAuth != nil
}

func (h *OAuthConfirmHandler) Validate(ctx context.Context, subjectID string, proof mfa.Proof) (bool, error) {
	p := proof.OAuth
	if p == nil {
		return false, nil
	}
	if p.State == "" || p.Provider == "" || p.IDToken == "" {
		return false, fmt.Errorf("oauth proof needs state, provider and id_token: %w", mfa.ErrMalformedProof)
	}

	claims, err := h.verifier.VerifyIDToken(ctx, p.Provider, p.IDToken)
	if err != nil {
		if errors.Is(err, ErrInvalidIDToken) || errors.Is(err, ErrUnknownProvider) {
			slog.Info("Rejected oauth id token", "subject", subjectID, "provider", p.Provider, "err", err)
			return false, nil
		}
		return false, fmt.Errorf("failed to verify id token: %w", err)
	}
	if claims.Nonce != p.State {
		slog.Info("Oauth id token nonce does not match state", "subject", subjectID, "provider", p.Provider)
		return false, nil
	}

	ok, err := h.store.ConsumePasscode(ctx, subjectID, mfa.MethodOAuth, p.State)
	if err != nil {
		return false, fmt.Errorf("failed to consume oauth state: %w", err)
	}
	if !ok {
		return false, nil
	}

	linked, err := h.identities.IsOAuthIdentityLinked(ctx, subjectID, p.Provider, claims.Subject)
	if err != nil {
		return false, fmt.Errorf("failed to check oauth identity: %w", err)
	}
	return linked, nil
}
