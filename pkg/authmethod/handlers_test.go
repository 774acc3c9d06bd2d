package authmethod

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-mfa/pkg/ethsig"
	"github.com/tendant/simple-mfa/pkg/mfa"
)

type testDirectory struct {
	passwordHash string
	totpSecret   string
	email        string
	phone        string
	wallets      []string
	identities   map[string]string // provider -> provider subject
}

func (d *testDirectory) GetPasswordHash(ctx context.Context, subjectID string) (string, error) {
	if d.passwordHash == "" {
		return "", ErrNotEnrolled
	}
	return d.passwordHash, nil
}

func (d *testDirectory) GetTOTPSecret(ctx context.Context, subjectID string) (string, error) {
	if d.totpSecret == "" {
		return "", ErrNotEnrolled
	}
	return d.totpSecret, nil
}

func (d *testDirectory) GetEmail(ctx context.Context, subjectID string) (string, error) {
	if d.email == "" {
		return "", ErrNotEnrolled
	}
	return d.email, nil
}

func (d *testDirectory) GetPhone(ctx context.Context, subjectID string) (string, error) {
	if d.phone == "" {
		return "", ErrNotEnrolled
	}
	return d.phone, nil
}

func (d *testDirectory) GetWallets(ctx context.Context, subjectID string) ([]string, error) {
	return d.wallets, nil
}

func (d *testDirectory) IsOAuthIdentityLinked(ctx context.Context, subjectID, provider, providerSubject string) (bool, error) {
	return d.identities[provider] == providerSubject, nil
}

type captureGateway struct {
	mu    sync.Mutex
	codes map[mfa.Channel]string
	err   error
}

func (g *captureGateway) SendCode(ctx context.Context, subjectID string, channel mfa.Channel, code string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	if g.codes == nil {
		g.codes = make(map[mfa.Channel]string)
	}
	g.codes[channel] = code
	return nil
}

func (g *captureGateway) last(channel mfa.Channel) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.codes[channel]
}

func strPtr(s string) *string { return &s }

func TestPasswordHandler(t *testing.T) {
	ctx := context.Background()
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	h := NewPasswordHandler(&testDirectory{passwordHash: hash})

	payload, err := h.Initiate(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, payload.Hints)

	assert.False(t, h.Targets(mfa.Proof{TOTPCode: strPtr("123456")}))
	assert.True(t, h.Targets(mfa.Proof{Password: strPtr("x")}))

	ok, err := h.Validate(ctx, "alice", mfa.Proof{Password: strPtr("correct horse")})
	require.NoError(t, err)
	assert.True(t, ok)

	// Password is stateless, so it validates again.
	ok, err = h.Validate(ctx, "alice", mfa.Proof{Password: strPtr("correct horse")})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Validate(ctx, "alice", mfa.Proof{Password: strPtr("wrong")})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.Validate(ctx, "alice", mfa.Proof{})
	require.NoError(t, err)
	assert.False(t, ok)

	unenrolled := NewPasswordHandler(&testDirectory{})
	ok, err = unenrolled.Validate(ctx, "alice", mfa.Proof{Password: strPtr("anything")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmailCodeHandler(t *testing.T) {
	ctx := context.Background()
	store := mfa.NewInMemoryRepository()
	gateway := &captureGateway{}
	h := NewEmailCodeHandler(store, gateway, &testDirectory{email: "alice@example.com"})

	payload, err := h.Initiate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "a***@example.com", payload.Hints[mfa.MethodEmail])

	first := gateway.last(mfa.ChannelEmail)
	require.Len(t, first, DefaultCodeLength)

	// A new initiation invalidates the earlier code.
	_, err = h.Initiate(ctx, "alice")
	require.NoError(t, err)
	second := gateway.last(mfa.ChannelEmail)

	if first != second {
		ok, err := h.Validate(ctx, "alice", mfa.Proof{EmailCode: strPtr(first)})
		require.NoError(t, err)
		assert.False(t, ok)
	}

	ok, err := h.Validate(ctx, "alice", mfa.Proof{EmailCode: strPtr("12ab")})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.Validate(ctx, "alice", mfa.Proof{EmailCode: strPtr(second)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Validate(ctx, "alice", mfa.Proof{EmailCode: strPtr(second)})
	require.NoError(t, err)
	assert.False(t, ok, "codes are single use")
}

func TestPhoneCodeHandler_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := mfa.NewInMemoryRepository().WithClock(clock)
	gateway := &captureGateway{}
	h := NewPhoneCodeHandler(store, gateway, &testDirectory{phone: "+15551234567"}, WithCodeClock(clock))

	payload, err := h.Initiate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "***4567", payload.Hints[mfa.MethodPhone])

	code := gateway.last(mfa.ChannelSMS)
	now = now.Add(DefaultCodeTTL + time.Second)

	ok, err := h.Validate(ctx, "alice", mfa.Proof{PhoneCode: strPtr(code)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasscodeHandler_GatewayFailure(t *testing.T) {
	h := NewEmailCodeHandler(mfa.NewInMemoryRepository(), &captureGateway{err: errors.New("smtp down")}, &testDirectory{email: "a@b.c"})
	_, err := h.Initiate(context.Background(), "alice")
	assert.ErrorContains(t, err, "smtp down")

	noEmail := NewEmailCodeHandler(mfa.NewInMemoryRepository(), &captureGateway{}, &testDirectory{})
	_, err = noEmail.Initiate(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestGenerateNumericCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateNumericCode(8)
		require.NoError(t, err)
		assert.True(t, isNumeric(code, 8), code)
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "j***@example.com", MaskEmail("john@example.com"))
	assert.Equal(t, "***", MaskEmail("invalid"))
	assert.Equal(t, "***1234", MaskPhone("+1 555 000 1234"))
	assert.Equal(t, "***", MaskPhone("12"))
}

func TestTOTPHandler(t *testing.T) {
	ctx := context.Background()
	secret, err := GenerateTOTPSecret("alice")
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := mfa.NewInMemoryRepository().WithClock(func() time.Time { return now })
	h := NewTOTPHandler(&testDirectory{totpSecret: secret}, store).WithClock(func() time.Time { return now })

	code, err := totp.GenerateCodeCustom(secret, now, totp.ValidateOpts{
		Period:    TOTPPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)

	ok, err := h.Validate(ctx, "alice", mfa.Proof{TOTPCode: strPtr(code)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Validate(ctx, "alice", mfa.Proof{TOTPCode: strPtr(code)})
	require.NoError(t, err)
	assert.False(t, ok, "replayed code")

	ok, err = h.Validate(ctx, "alice", mfa.Proof{TOTPCode: strPtr("12345")})
	require.NoError(t, err)
	assert.False(t, ok, "wrong length")

	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}
	ok, err = h.Validate(ctx, "alice", mfa.Proof{TOTPCode: strPtr(wrong)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTOTPHandler_RejectsEarlierCodeAfterNewerAccepted(t *testing.T) {
	ctx := context.Background()
	secret, err := GenerateTOTPSecret("alice")
	require.NoError(t, err)

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	clock := func() time.Time { return now }
	store := mfa.NewInMemoryRepository().WithClock(clock)
	h := NewTOTPHandler(&testDirectory{totpSecret: secret}, store).WithClock(clock)

	opts := totp.ValidateOpts{Period: TOTPPeriod, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1}
	codeAt := func(at time.Time) string {
		code, err := totp.GenerateCodeCustom(secret, at, opts)
		require.NoError(t, err)
		return code
	}
	previous := codeAt(start.Add(-TOTPPeriod * time.Second))
	first := codeAt(start)
	second := codeAt(start.Add(31 * time.Second))
	if first == second || previous == first {
		t.Skip("adjacent windows produced the same code")
	}

	ok, err := h.Validate(ctx, "alice", mfa.Proof{TOTPCode: strPtr(first)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Validate(ctx, "alice", mfa.Proof{TOTPCode: strPtr(previous)})
	require.NoError(t, err)
	assert.False(t, ok, "code from an earlier window")

	now = start.Add(31 * time.Second)
	ok, err = h.Validate(ctx, "alice", mfa.Proof{TOTPCode: strPtr(second)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Validate(ctx, "alice", mfa.Proof{TOTPCode: strPtr(first)})
	require.NoError(t, err)
	assert.False(t, ok, "first code is still inside the skew window but older than the accepted one")

	ok, err = h.Validate(ctx, "alice", mfa.Proof{TOTPCode: strPtr(second)})
	require.NoError(t, err)
	assert.False(t, ok, "second code replayed")
}

func TestOAuthConfirmHandler(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	idp := newTestProvider(t, "google", now)
	store := mfa.NewInMemoryRepository().WithClock(func() time.Time { return now })
	verifier := NewOIDCVerifier(idp.provider).WithClock(func() time.Time { return now })
	h := NewOAuthConfirmHandler(store, &testDirectory{identities: map[string]string{"google": "g-123"}}, verifier)
	h.now = func() time.Time { return now }

	payload, err := h.Initiate(ctx, "alice")
	require.NoError(t, err)
	state := payload.Hints[mfa.MethodOAuth]
	require.NotEmpty(t, state)

	_, err = h.Validate(ctx, "alice", mfa.Proof{OAuth: &mfa.OAuthProof{State: state, Provider: "google"}})
	assert.ErrorIs(t, err, mfa.ErrMalformedProof)

	ok, err := h.Validate(ctx, "alice", mfa.Proof{OAuth: &mfa.OAuthProof{
		State: state, Provider: "google", IDToken: idp.sign(t, "g-123", "forged"),
	}})
	require.NoError(t, err)
	assert.False(t, ok, "nonce must match the issued state")

	ok, err = h.Validate(ctx, "alice", mfa.Proof{OAuth: &mfa.OAuthProof{
		State: state, Provider: "google", IDToken: idp.sign(t, "g-123", state),
	}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Validate(ctx, "alice", mfa.Proof{OAuth: &mfa.OAuthProof{
		State: state, Provider: "google", IDToken: idp.sign(t, "g-123", state),
	}})
	require.NoError(t, err)
	assert.False(t, ok, "state is single use")

	payload, err = h.Initiate(ctx, "alice")
	require.NoError(t, err)
	state = payload.Hints[mfa.MethodOAuth]
	ok, err = h.Validate(ctx, "alice", mfa.Proof{OAuth: &mfa.OAuthProof{
		State: state, Provider: "google", IDToken: idp.sign(t, "someone-else", state),
	}})
	require.NoError(t, err)
	assert.False(t, ok, "identity not linked")
}

func TestOAuthConfirmHandler_RejectsUnsignedIdentityClaims(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	idp := newTestProvider(t, "github", now)
	attacker := newTestProvider(t, "github", now)
	store := mfa.NewInMemoryRepository().WithClock(func() time.Time { return now })
	verifier := NewOIDCVerifier(idp.provider).WithClock(func() time.Time { return now })
	h := NewOAuthConfirmHandler(store, &testDirectory{identities: map[string]string{"github": "583231"}}, verifier)
	h.now = func() time.Time { return now }

	payload, err := h.Initiate(ctx, "alice")
	require.NoError(t, err)
	state := payload.Hints[mfa.MethodOAuth]

	// Echoing the state with a linked subject but a self-made token must fail.
	for name, token := range map[string]string{
		"not a jwt":      "583231",
		"wrong key":      attacker.sign(t, "583231", state),
		"unsigned":       unsignedToken(t, idp.provider, "583231", state, now),
		"unknown issuer": idp.signClaims(t, idp.claims("583231", state, func(c *idTokenClaims) { c.Issuer = "https://evil.example" })),
		"wrong audience": idp.signClaims(t, idp.claims("583231", state, func(c *idTokenClaims) { c.Audience = jwt.ClaimStrings{"other-client"} })),
		"expired":        idp.signClaims(t, idp.claims("583231", state, func(c *idTokenClaims) { c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour)) })),
	} {
		ok, err := h.Validate(ctx, "alice", mfa.Proof{OAuth: &mfa.OAuthProof{State: state, Provider: "github", IDToken: token}})
		require.NoError(t, err, name)
		assert.False(t, ok, name)
	}

	ok, err := h.Validate(ctx, "alice", mfa.Proof{OAuth: &mfa.OAuthProof{
		State: state, Provider: "gitlab", IDToken: idp.sign(t, "583231", state),
	}})
	require.NoError(t, err)
	assert.False(t, ok, "unknown provider")

	// The rejected attempts did not burn the state.
	ok, err = h.Validate(ctx, "alice", mfa.Proof{OAuth: &mfa.OAuthProof{
		State: state, Provider: "github", IDToken: idp.sign(t, "583231", state),
	}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOAuthConfirmHandler_KeysUnavailableIsRetryable(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	idp := newTestProvider(t, "google", now)
	down := idp.provider
	down.Keyfunc = func(*jwt.Token) (interface{}, error) {
		return nil, fmt.Errorf("%w: connection refused", ErrProviderKeysUnavailable)
	}
	store := mfa.NewInMemoryRepository().WithClock(func() time.Time { return now })
	verifier := NewOIDCVerifier(down).WithClock(func() time.Time { return now })
	h := NewOAuthConfirmHandler(store, &testDirectory{identities: map[string]string{"google": "g-123"}}, verifier)
	h.now = func() time.Time { return now }

	payload, err := h.Initiate(ctx, "alice")
	require.NoError(t, err)
	state := payload.Hints[mfa.MethodOAuth]

	_, err = h.Validate(ctx, "alice", mfa.Proof{OAuth: &mfa.OAuthProof{
		State: state, Provider: "google", IDToken: idp.sign(t, "g-123", state),
	}})
	assert.ErrorIs(t, err, ErrProviderKeysUnavailable)
}

type wallet struct {
	key     *ecdsa.PrivateKey
	address string
}

func newWallet(t *testing.T) wallet {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

func (w wallet) sign(t *testing.T, payload mfa.InitiationPayload) mfa.WalletSignature {
	msg, ok := payload.Messages[mfa.NormalizeWallet(w.address)]
	require.True(t, ok)
	sig, err := ethsig.Sign(msg, w.key)
	require.NoError(t, err)
	return mfa.WalletSignature{Wallet: w.address, Signature: sig}
}

func TestWeb3Handler_RequiresEveryWallet(t *testing.T) {
	ctx := context.Background()
	w1, w2 := newWallet(t), newWallet(t)
	store := mfa.NewInMemoryRepository()
	h := NewWeb3Handler(&testDirectory{wallets: []string{w1.address, w2.address}}, store, ethsig.NewVerifier())

	payload, err := h.Initiate(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, payload.Nonces, 2)
	require.Len(t, payload.Messages, 2)

	ok, err := h.Validate(ctx, "alice", mfa.Proof{Signatures: []mfa.WalletSignature{w1.sign(t, payload)}})
	assert.ErrorIs(t, err, mfa.ErrIncompleteProof)
	assert.False(t, ok)

	// The partial attempt left both nonces usable.
	ok, err = h.Validate(ctx, "alice", mfa.Proof{Signatures: []mfa.WalletSignature{w1.sign(t, payload), w2.sign(t, payload)}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Validate(ctx, "alice", mfa.Proof{Signatures: []mfa.WalletSignature{w1.sign(t, payload), w2.sign(t, payload)}})
	require.NoError(t, err)
	assert.False(t, ok, "nonces are single use")
}

func TestWeb3Handler_RejectsBadSignatures(t *testing.T) {
	ctx := context.Background()
	w1, stranger := newWallet(t), newWallet(t)
	store := mfa.NewInMemoryRepository()
	h := NewWeb3Handler(&testDirectory{wallets: []string{w1.address}}, store, ethsig.NewVerifier())

	payload, err := h.Initiate(ctx, "alice")
	require.NoError(t, err)

	forged, err := ethsig.Sign(payload.Messages[mfa.NormalizeWallet(w1.address)], stranger.key)
	require.NoError(t, err)
	ok, err := h.Validate(ctx, "alice", mfa.Proof{Signatures: []mfa.WalletSignature{{Wallet: w1.address, Signature: forged}}})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.Validate(ctx, "alice", mfa.Proof{Signatures: []mfa.WalletSignature{{Wallet: w1.address, Signature: "0xdeadbeef"}}})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.Validate(ctx, "alice", mfa.Proof{Signatures: []mfa.WalletSignature{w1.sign(t, payload), {Wallet: stranger.address, Signature: "0x00"}}})
	require.NoError(t, err)
	assert.False(t, ok, "unlinked wallet")

	ok, err = h.Validate(ctx, "alice", mfa.Proof{Signatures: []mfa.WalletSignature{w1.sign(t, payload)}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWeb3Handler_NoWallets(t *testing.T) {
	h := NewWeb3Handler(&testDirectory{}, mfa.NewInMemoryRepository(), ethsig.NewVerifier())
	_, err := h.Initiate(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestRegisterDefaults(t *testing.T) {
	deps := Deps{
		Directory: &testDirectory{},
		Store:     mfa.NewInMemoryRepository(),
		Gateway:   &captureGateway{},
		Verifier:  ethsig.NewVerifier(),
		IDTokens:  NewOIDCVerifier(),
	}

	reg := mfa.NewMethodRegistry()
	require.NoError(t, RegisterDefaults(reg, deps))
	assert.Len(t, reg.All(), 6)

	// A second pass over the same registry is a configuration error.
	err := RegisterDefaults(reg, deps)
	assert.True(t, mfa.IsDuplicateMethod(err))

	deps.Enabled = []mfa.MethodID{mfa.MethodPassword, mfa.MethodWeb3}
	deps.Verifier = nil
	reg = mfa.NewMethodRegistry()
	require.NoError(t, RegisterDefaults(reg, deps))
	require.Len(t, reg.All(), 1)
	assert.Equal(t, mfa.MethodPassword, reg.All()[0].MethodID())

	assert.Error(t, RegisterDefaults(mfa.NewMethodRegistry(), Deps{}))
}
