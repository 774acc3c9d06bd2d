package mfa

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChallenge(subjectID string, expiresAt time.Time, steps ...MethodID) *Challenge {
	return &Challenge{
		Token:          uuid.NewString(),
		SubjectID:      subjectID,
		Action:         ActionHighValueTransfer,
		StepsRequired:  steps,
		StepsValidated: []MethodID{},
		ExpiresAt:      expiresAt,
		CreatedAt:      time.Now().UTC(),
	}
}

// testRepository runs the behaviour every Repository backend must share.
func testRepository(t *testing.T, repo Repository) {
	ctx := context.Background()
	future := time.Now().Add(10 * time.Minute)

	t.Run("ReplaceActiveKeepsOneChallengePerSubject", func(t *testing.T) {
		subject := "subject-" + uuid.NewString()
		first := newTestChallenge(subject, future, MethodPassword)
		second := newTestChallenge(subject, future, MethodPassword, MethodTOTP)

		require.NoError(t, repo.ReplaceActive(ctx, first))
		require.NoError(t, repo.ReplaceActive(ctx, second))

		_, err := repo.GetByToken(ctx, first.Token)
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := repo.GetBySubject(ctx, subject)
		require.NoError(t, err)
		assert.Equal(t, second.Token, got.Token)
		assert.Equal(t, []MethodID{MethodPassword, MethodTOTP}, got.StepsRequired)
		assert.Empty(t, got.StepsValidated)
	})

	t.Run("UpdateUsesVersionCheck", func(t *testing.T) {
		subject := "subject-" + uuid.NewString()
		ch := newTestChallenge(subject, future, MethodPassword, MethodEmail)
		require.NoError(t, repo.ReplaceActive(ctx, ch))

		a, err := repo.GetBySubject(ctx, subject)
		require.NoError(t, err)
		b, err := repo.GetBySubject(ctx, subject)
		require.NoError(t, err)

		require.True(t, a.MarkValidated(MethodPassword))
		require.NoError(t, repo.Update(ctx, a))
		assert.Equal(t, int64(1), a.Version)

		require.True(t, b.MarkValidated(MethodEmail))
		assert.ErrorIs(t, repo.Update(ctx, b), ErrVersionConflict)

		got, err := repo.GetBySubject(ctx, subject)
		require.NoError(t, err)
		assert.Equal(t, []MethodID{MethodPassword}, got.StepsValidated)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("UpdateUnknownChallenge", func(t *testing.T) {
		ch := newTestChallenge("subject-"+uuid.NewString(), future, MethodPassword)
		assert.ErrorIs(t, repo.Update(ctx, ch), ErrNotFound)
	})

	t.Run("DeleteBySubject", func(t *testing.T) {
		subject := "subject-" + uuid.NewString()
		ch := newTestChallenge(subject, future, MethodPassword)
		require.NoError(t, repo.ReplaceActive(ctx, ch))
		require.NoError(t, repo.DeleteBySubject(ctx, subject))

		_, err := repo.GetBySubject(ctx, subject)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.GetByToken(ctx, ch.Token)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("NonceMustBeValidatedBeforeConsume", func(t *testing.T) {
		subject := "subject-" + uuid.NewString()
		wallet := "0xAbCdEf0000000000000000000000000000000001"
		require.NoError(t, repo.PutNonce(ctx, Nonce{SubjectID: subject, Wallet: wallet, Value: "n1", ExpiresAt: future}))

		got, err := repo.GetNonce(ctx, subject, NormalizeWallet(wallet))
		require.NoError(t, err)
		assert.Equal(t, "n1", got.Value)
		assert.False(t, got.Validated)

		ok, err := repo.ConsumeNonce(ctx, subject, wallet, "n1")
		require.NoError(t, err)
		assert.False(t, ok, "unvalidated nonce must not be consumed")

		assert.ErrorIs(t, repo.MarkNonceValidated(ctx, subject, wallet, "wrong"), ErrNotFound)
		require.NoError(t, repo.MarkNonceValidated(ctx, subject, wallet, "n1"))

		ok, err = repo.ConsumeNonce(ctx, subject, wallet, "n1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.ConsumeNonce(ctx, subject, wallet, "n1")
		require.NoError(t, err)
		assert.False(t, ok, "nonce is single use")
	})

	t.Run("PutNonceReplacesPrevious", func(t *testing.T) {
		subject := "subject-" + uuid.NewString()
		wallet := "0x0000000000000000000000000000000000000002"
		require.NoError(t, repo.PutNonce(ctx, Nonce{SubjectID: subject, Wallet: wallet, Value: "old", ExpiresAt: future}))
		require.NoError(t, repo.PutNonce(ctx, Nonce{SubjectID: subject, Wallet: wallet, Value: "new", ExpiresAt: future}))

		assert.ErrorIs(t, repo.MarkNonceValidated(ctx, subject, wallet, "old"), ErrNotFound)
		got, err := repo.GetNonce(ctx, subject, wallet)
		require.NoError(t, err)
		assert.Equal(t, "new", got.Value)
	})

	t.Run("PasscodeIsSingleUse", func(t *testing.T) {
		subject := "subject-" + uuid.NewString()
		require.NoError(t, repo.PutPasscode(ctx, Passcode{SubjectID: subject, Method: MethodEmail, Value: "11111111", ExpiresAt: future}))
		require.NoError(t, repo.PutPasscode(ctx, Passcode{SubjectID: subject, Method: MethodEmail, Value: "22222222", ExpiresAt: future}))

		ok, err := repo.ConsumePasscode(ctx, subject, MethodEmail, "11111111")
		require.NoError(t, err)
		assert.False(t, ok, "replaced code must not validate")

		got, err := repo.GetPasscode(ctx, subject, MethodEmail)
		require.NoError(t, err)
		assert.Equal(t, "22222222", got.Value)

		ok, err = repo.ConsumePasscode(ctx, subject, MethodPhone, "22222222")
		require.NoError(t, err)
		assert.False(t, ok, "codes are scoped by method")

		ok, err = repo.ConsumePasscode(ctx, subject, MethodEmail, "22222222")
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = repo.GetPasscode(ctx, subject, MethodEmail)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ExpiredSecretsAreRejected", func(t *testing.T) {
		subject := "subject-" + uuid.NewString()
		past := time.Now().Add(-time.Minute)
		require.NoError(t, repo.PutPasscode(ctx, Passcode{SubjectID: subject, Method: MethodPhone, Value: "33333333", ExpiresAt: past}))
		require.NoError(t, repo.PutNonce(ctx, Nonce{SubjectID: subject, Wallet: "0x03", Value: "n3", Validated: true, ExpiresAt: past}))

		_, err := repo.GetPasscode(ctx, subject, MethodPhone)
		assert.ErrorIs(t, err, ErrNotFound)
		ok, err := repo.ConsumePasscode(ctx, subject, MethodPhone, "33333333")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = repo.GetNonce(ctx, subject, "0x03")
		assert.ErrorIs(t, err, ErrNotFound)
		ok, err = repo.ConsumeNonce(ctx, subject, "0x03", "n3")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
