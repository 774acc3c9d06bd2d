package authmethod

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-mfa/pkg/mfa"
)

const DefaultNonceTTL = 15 * time.Minute

// Web3Handler requires a signature from every wallet linked to the subject,
// each over its own nonce, submitted together in one proof.
type Web3Handler struct {
	wallets  WalletLookup
	store    mfa.NonceStore
	verifier mfa.SignatureVerifier
	ttl      time.Duration
	now      func() time.Time
}

func NewWeb3Handler(wallets WalletLookup, store mfa.NonceStore, verifier mfa.SignatureVerifier) *Web3Handler {
	return &Web3Handler{
		wallets:  wallets,
		store:    store,
		verifier: verifier,
		ttl:      DefaultNonceTTL,
		now:      time.Now,
	}
}

// NonceMessage is the exact text a wallet signs for nonce.
func NonceMessage(wallet, nonce string) string {
	return fmt.Sprintf("Confirm this action with wallet %s.\nNonce: %s", mfa.NormalizeWallet(wallet), nonce)
}

func (h *Web3Handler) MethodID() mfa.MethodID {
	return mfa.MethodWeb3
}

func (h *Web3Handler) Initiate(ctx context.Context, subjectID string) (mfa.InitiationPayload, error) {
	wallets, err := h.wallets.GetWallets(ctx, subjectID)
	if err != nil {
		return mfa.InitiationPayload{}, fmt.Errorf("failed to get wallets: %w", err)
	}
	if len(wallets) == 0 {
		return mfa.InitiationPayload{}, fmt.Errorf("no wallet linked: %w", ErrNotEnrolled)
	}

	payload := mfa.InitiationPayload{
		Nonces:   make(map[string]string, len(wallets)),
		Messages: make(map[string]string, len(wallets)),
	}
	expiresAt := h.now().UTC().Add(h.ttl)
	for _, wallet := range wallets {
		wallet = mfa.NormalizeWallet(wallet)
		nonce, err := generateNonce()
		if err != nil {
			return mfa.InitiationPayload{}, err
		}
		err = h.store.PutNonce(ctx, mfa.Nonce{
			SubjectID: subjectID,
			Wallet:    wallet,
			Value:     nonce,
			ExpiresAt: expiresAt,
		})
		if err != nil {
			return mfa.InitiationPayload{}, fmt.Errorf("failed to store nonce: %w", err)
		}
		payload.Nonces[wallet] = nonce
		payload.Messages[wallet] = NonceMessage(wallet, nonce)
	}
	return payload, nil
}

func (h *Web3Handler) Targets(proof mfa.Proof) bool {
	return len(proof.Signatures) > 0
}

// Validate succeeds only when every linked wallet signed its nonce in this
// proof. A correct but partial set returns mfa.ErrIncompleteProof and leaves
// the nonces untouched for a later full submission.
func (h *Web3Handler) Validate(ctx context.Context, subjectID string, proof mfa.Proof) (bool, error) {
	if len(proof.Signatures) == 0 {
		return false, nil
	}

	wallets, err := h.wallets.GetWallets(ctx, subjectID)
	if err != nil {
		return false, fmt.Errorf("failed to get wallets: %w", err)
	}
	if len(wallets) == 0 {
		return false, nil
	}

	linked := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		linked[mfa.NormalizeWallet(w)] = true
	}
	signatures := make(map[string]string, len(proof.Signatures))
	for _, s := range proof.Signatures {
		wallet := mfa.NormalizeWallet(s.Wallet)
		if !linked[wallet] {
			slog.Warn("Signature from unlinked wallet", "subject", subjectID, "wallet", wallet)
			return false, nil
		}
		signatures[wallet] = s.Signature
	}

	nonces := make(map[string]string, len(linked))
	for wallet, sig := range signatures {
		nonce, err := h.store.GetNonce(ctx, subjectID, wallet)
		if err != nil {
			if errors.Is(err, mfa.ErrNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("failed to get nonce: %w", err)
		}
		ok, err := h.verifier.Verify(wallet, NonceMessage(wallet, nonce.Value), sig)
		if err != nil || !ok {
			slog.Info("Wallet signature rejected", "subject", subjectID, "wallet", wallet, "err", err)
			return false, nil
		}
		nonces[wallet] = nonce.Value
	}
	if len(nonces) < len(linked) {
		return false, mfa.ErrIncompleteProof
	}

	for wallet, value := range nonces {
		if err := h.store.MarkNonceValidated(ctx, subjectID, wallet, value); err != nil {
			if errors.Is(err, mfa.ErrNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("failed to mark nonce validated: %w", err)
		}
	}
	for wallet, value := range nonces {
		ok, err := h.store.ConsumeNonce(ctx, subjectID, wallet, value)
		if err != nil {
			return false, fmt.Errorf("failed to consume nonce: %w", err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func generateNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
