package authmethod

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/tendant/simple-mfa/pkg/mfa"
)

const (
	DefaultCodeLength = 8
	DefaultCodeTTL    = 15 * time.Minute
)

// PasscodeHandler delivers a numeric one-time code over a notification
// channel. The email and phone methods are two configurations of it.
type PasscodeHandler struct {
	method      mfa.MethodID
	channel     mfa.Channel
	store       mfa.PasscodeStore
	gateway     mfa.NotificationGateway
	destination func(ctx context.Context, subjectID string) (string, error)
	mask        func(string) string
	field       func(mfa.Proof) *string

	length int
	ttl    time.Duration
	now    func() time.Time
}

type PasscodeOption func(*PasscodeHandler)

func WithCodeLength(length int) PasscodeOption {
	return func(h *PasscodeHandler) {
		if length > 0 {
			h.length = length
		}
	}
}

func WithCodeTTL(ttl time.Duration) PasscodeOption {
	return func(h *PasscodeHandler) {
		if ttl > 0 {
			h.ttl = ttl
		}
	}
}

func WithCodeClock(now func() time.Time) PasscodeOption {
	return func(h *PasscodeHandler) {
		h.now = now
	}
}

// NewEmailCodeHandler creates the email code method.
func NewEmailCodeHandler(store mfa.PasscodeStore, gateway mfa.NotificationGateway, emails EmailLookup, opts ...PasscodeOption) *PasscodeHandler {
	h := &PasscodeHandler{
		method:      mfa.MethodEmail,
		channel:     mfa.ChannelEmail,
		store:       store,
		gateway:     gateway,
		destination: emails.GetEmail,
		mask:        MaskEmail,
		field:       func(p mfa.Proof) *string { return p.EmailCode },
	}
	return h.apply(opts)
}

// NewPhoneCodeHandler creates the SMS code method.
func NewPhoneCodeHandler(store mfa.PasscodeStore, gateway mfa.NotificationGateway, phones PhoneLookup, opts ...PasscodeOption) *PasscodeHandler {
	h := &PasscodeHandler{
		method:      mfa.MethodPhone,
		channel:     mfa.ChannelSMS,
		store:       store,
		gateway:     gateway,
		destination: phones.GetPhone,
		mask:        MaskPhone,
		field:       func(p mfa.Proof) *string { return p.PhoneCode },
	}
	return h.apply(opts)
}

func (h *PasscodeHandler) apply(opts []PasscodeOption) *PasscodeHandler {
	h.length = DefaultCodeLength
	h.ttl = DefaultCodeTTL
	h.now = time.Now
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *PasscodeHandler) MethodID() mfa.MethodID {
	return h.method
}

// Initiate stores a fresh code, which replaces any earlier unconsumed one, and
// sends it to the subject.
func (h *PasscodeHandler) Initiate(ctx context.Context, subjectID string) (mfa.InitiationPayload, error) {
	dest, err := h.destination(ctx, subjectID)
	if err != nil {
		return mfa.InitiationPayload{}, fmt.Errorf("failed to get %s destination: %w", h.channel, err)
	}

	code, err := GenerateNumericCode(h.length)
	if err != nil {
		return mfa.InitiationPayload{}, err
	}

	err = h.store.PutPasscode(ctx, mfa.Passcode{
		SubjectID: subjectID,
		Method:    h.method,
		Value:     code,
		ExpiresAt: h.now().UTC().Add(h.ttl),
	})
	if err != nil {
		return mfa.InitiationPayload{}, fmt.Errorf("failed to store %s code: %w", h.method, err)
	}

	if err := h.gateway.SendCode(ctx, subjectID, h.channel, code); err != nil {
		return mfa.InitiationPayload{}, fmt.Errorf("failed to send %s code: %w", h.method, err)
	}
	slog.Info("Sent mfa code", "subject", subjectID, "method", h.method)

	return mfa.InitiationPayload{
		Hints: map[mfa.MethodID]string{h.method: h.mask(dest)},
	}, nil
}

func (h *PasscodeHandler) Targets(proof mfa.Proof) bool {
	return h.field(proof) != nil
}

func (h *PasscodeHandler) Validate(ctx context.Context, subjectID string, proof mfa.Proof) (bool, error) {
	code := h.field(proof)
	if code == nil {
		return false, nil
	}
	if !isNumeric(*code, h.length) {
		return false, nil
	}

	ok, err := h.store.ConsumePasscode(ctx, subjectID, h.method, *code)
	if err != nil {
		return false, fmt.Errorf("failed to consume %s code: %w", h.method, err)
	}
	return ok, nil
}

// GenerateNumericCode returns a random decimal string of the given length.
func GenerateNumericCode(length int) (string, error) {
	var sb strings.Builder
	sb.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String(), nil
}

func isNumeric(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "***"
	}
	return "***" + phone[len(phone)-4:]
}
