package ethsig

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_Verify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()

	sig, err := Sign("hello", key)
	require.NoError(t, err)

	v := NewVerifier()

	t.Run("ValidSignature", func(t *testing.T) {
		ok, err := v.Verify(wallet, "hello", sig)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("AddressCaseIgnored", func(t *testing.T) {
		ok, err := v.Verify(strings.ToLower(wallet), "hello", sig)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("RecoveryIDZeroOne", func(t *testing.T) {
		raw, err := hexutil.Decode(sig)
		require.NoError(t, err)
		raw[crypto.RecoveryIDOffset] -= 27
		ok, err := v.Verify(wallet, "hello", hexutil.Encode(raw))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("WrongMessage", func(t *testing.T) {
		ok, err := v.Verify(wallet, "goodbye", sig)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("OtherWallet", func(t *testing.T) {
		other, err := crypto.GenerateKey()
		require.NoError(t, err)
		ok, err := v.Verify(crypto.PubkeyToAddress(other.PublicKey).Hex(), "hello", sig)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Malformed", func(t *testing.T) {
		for _, bad := range []string{"", "0x", "not-hex", "0x1234", sig[:len(sig)-2]} {
			ok, err := v.Verify(wallet, "hello", bad)
			assert.NoError(t, err)
			assert.False(t, ok, bad)
		}
		ok, err := v.Verify("not-an-address", "hello", sig)
		assert.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRecoverAddress_RejectsBadRecoveryID(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := Sign("hello", key)
	require.NoError(t, err)

	raw, err := hexutil.Decode(sig)
	require.NoError(t, err)
	raw[crypto.RecoveryIDOffset] = 5

	_, err = RecoverAddress("hello", hexutil.Encode(raw))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
