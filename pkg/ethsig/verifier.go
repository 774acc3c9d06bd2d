// Package ethsig verifies Ethereum personal_sign (EIP-191) signatures.
package ethsig

import (
	"crypto/ecdsa"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidSignature = errors.New("invalid signature")

// Verifier checks that a wallet signed a text message.
type Verifier struct{}

func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify reports whether signature is wallet's personal_sign over message.
// Malformed input verifies false without an error.
func (v *Verifier) Verify(wallet, message, signature string) (bool, error) {
	if !common.IsHexAddress(wallet) {
		return false, nil
	}
	signer, err := RecoverAddress(message, signature)
	if err != nil {
		return false, nil
	}
	return strings.EqualFold(signer.Hex(), common.HexToAddress(wallet).Hex()), nil
}

// RecoverAddress returns the address that produced signature over message.
// The recovery id may be 0/1 or 27/28.
func RecoverAddress(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}

	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, ErrInvalidSignature
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces a personal_sign signature with v in {27, 28}, as wallets do.
func Sign(message string, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
