package authmethod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tendant/simple-mfa/pkg/mfa"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHandler re-checks the subject's password. It holds no state of its
// own and never touches codes or nonces.
type PasswordHandler struct {
	lookup PasswordLookup
}

func NewPasswordHandler(lookup PasswordLookup) *PasswordHandler {
	return &PasswordHandler{lookup: lookup}
}

func (h *PasswordHandler) MethodID() mfa.MethodID {
	return mfa.MethodPassword
}

func (h *PasswordHandler) Initiate(ctx context.Context, subjectID string) (mfa.InitiationPayload, error) {
	return mfa.InitiationPayload{}, nil
}

func (h *PasswordHandler) Targets(proof mfa.Proof) bool {
	return proof.Password != nil
}

func (h *PasswordHandler) Validate(ctx context.Context, subjectID string, proof mfa.Proof) (bool, error) {
	if proof.Password == nil {
		return false, nil
	}

	hash, err := h.lookup.GetPasswordHash(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotEnrolled) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get password hash: %w", err)
	}

	err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(*proof.Password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		slog.Error("Failed to compare password hash", "subject", subjectID, "err", err)
		return false, fmt.Errorf("failed to verify password: %w", err)
	}
	return true, nil
}

// HashPassword hashes password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}
