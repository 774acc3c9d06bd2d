package authmethod

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/tendant/simple-mfa/pkg/mfa"
)

const (
	TOTPIssuer = "simple-mfa"
	TOTPPeriod = 30
	TOTPSkew   = 1
)

// MethodTOTPUsed keys the time-step counter of the last accepted TOTP code in
// the PasscodeStore.
const MethodTOTPUsed mfa.MethodID = "totp_used"

// TOTPHandler checks authenticator app codes. Initiate is a no-op. The
// time-step of the last accepted code is remembered so that neither it nor any
// earlier code still inside the skew window validates again.
type TOTPHandler struct {
	secrets TOTPSecretLookup
	store   mfa.PasscodeStore
	now     func() time.Time
	opts    totp.ValidateOpts
}

func NewTOTPHandler(secrets TOTPSecretLookup, store mfa.PasscodeStore) *TOTPHandler {
	return &TOTPHandler{
		secrets: secrets,
		store:   store,
		now:     time.Now,
		opts: totp.ValidateOpts{
			Period:    TOTPPeriod,
			Skew:      TOTPSkew,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
	}
}

// WithClock replaces the clock used to compute the code window.
func (h *TOTPHandler) WithClock(now func() time.Time) *TOTPHandler {
	h.now = now
	return h
}

func (h *TOTPHandler) MethodID() mfa.MethodID {
	return mfa.MethodTOTP
}

func (h *TOTPHandler) Initiate(ctx context.Context, subjectID string) (mfa.InitiationPayload, error) {
	return mfa.InitiationPayload{}, nil
}

func (h *TOTPHandler) Targets(proof mfa.Proof) bool {
	return proof.TOTPCode != nil
}

func (h *TOTPHandler) Validate(ctx context.Context, subjectID string, proof mfa.Proof) (bool, error) {
	if proof.TOTPCode == nil {
		return false, nil
	}
	code := strings.TrimSpace(*proof.TOTPCode)
	if len(code) != h.opts.Digits.Length() {
		return false, nil
	}

	secret, err := h.secrets.GetTOTPSecret(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotEnrolled) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get totp secret: %w", err)
	}

	counter, ok, err := h.matchCounter(code, secret, h.now().UTC())
	if err != nil {
		slog.Error("Failed to validate totp passcode", "subject", subjectID, "err", err)
		return false, fmt.Errorf("failed to validate totp code: %w", err)
	}
	if !ok {
		return false, nil
	}

	used, err := h.store.GetPasscode(ctx, subjectID, MethodTOTPUsed)
	switch {
	case err == nil:
		last, perr := strconv.ParseInt(used.Value, 10, 64)
		if perr == nil && counter <= last {
			slog.Warn("Rejected replayed totp code", "subject", subjectID, "counter", counter, "last", last)
			return false, nil
		}
	case !errors.Is(err, mfa.ErrNotFound):
		return false, fmt.Errorf("failed to check totp replay: %w", err)
	}

	// Codes up to counter stay acceptable until counter+skew has passed.
	period := int64(h.opts.Period)
	expiresAt := time.Unix((counter+int64(h.opts.Skew)+1)*period, 0).UTC()
	err = h.store.PutPasscode(ctx, mfa.Passcode{
		SubjectID: subjectID,
		Method:    MethodTOTPUsed,
		Value:     strconv.FormatInt(counter, 10),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return false, fmt.Errorf("failed to record totp code: %w", err)
	}
	return true, nil
}

// matchCounter returns the time-step counter within the skew window whose
// code equals code.
func (h *TOTPHandler) matchCounter(code, secret string, now time.Time) (int64, bool, error) {
	period := int64(h.opts.Period)
	current := now.Unix() / period
	skew := int64(h.opts.Skew)
	for counter := current - skew; counter <= current+skew; counter++ {
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(counter*period, 0).UTC(), h.opts)
		if err != nil {
			return 0, false, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return counter, true, nil
		}
	}
	return 0, false, nil
}

// GenerateTOTPSecret creates a new base32 secret for accountName.
func GenerateTOTPSecret(accountName string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      TOTPIssuer,
		AccountName: accountName,
		Period:      TOTPPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		slog.Error("Failed to generate totp secret", "account", accountName, "err", err)
		return "", err
	}
	return key.Secret(), nil
}
