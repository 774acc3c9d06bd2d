package mfa

import (
	"context"
	"sync"
	"time"
)

type nonceKey struct {
	subjectID string
	wallet    string
}

type passcodeKey struct {
	subjectID string
	method    MethodID
}

// InMemoryRepository implements Repository using in-memory maps.
// Intended for tests and single-instance development setups.
type InMemoryRepository struct {
	challenges map[string]*Challenge // keyed by token
	bySubject  map[string]string     // subject -> token
	nonces     map[nonceKey]Nonce
	passcodes  map[passcodeKey]Passcode
	now        func() time.Time
	mu         sync.Mutex
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		challenges: make(map[string]*Challenge),
		bySubject:  make(map[string]string),
		nonces:     make(map[nonceKey]Nonce),
		passcodes:  make(map[passcodeKey]Passcode),
		now:        time.Now,
	}
}

// WithClock replaces the clock used for expiry checks.
func (r *InMemoryRepository) WithClock(now func() time.Time) *InMemoryRepository {
	r.now = now
	return r
}

func (r *InMemoryRepository) ReplaceActive(ctx context.Context, ch *Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleteSubjectLocked(ch.SubjectID)
	r.challenges[ch.Token] = ch.Clone()
	r.bySubject[ch.SubjectID] = ch.Token
	return nil
}

func (r *InMemoryRepository) GetByToken(ctx context.Context, token string) (*Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.challenges[token]
	if !ok {
		return nil, ErrNotFound
	}
	return ch.Clone(), nil
}

func (r *InMemoryRepository) GetBySubject(ctx context.Context, subjectID string) (*Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.bySubject[subjectID]
	if !ok {
		return nil, ErrNotFound
	}
	ch, ok := r.challenges[token]
	if !ok {
		return nil, ErrNotFound
	}
	return ch.Clone(), nil
}

func (r *InMemoryRepository) Update(ctx context.Context, ch *Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.challenges[ch.Token]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != ch.Version {
		return ErrVersionConflict
	}
	ch.Version++
	r.challenges[ch.Token] = ch.Clone()
	return nil
}

func (r *InMemoryRepository) DeleteBySubject(ctx context.Context, subjectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleteSubjectLocked(subjectID)
	return nil
}

func (r *InMemoryRepository) deleteSubjectLocked(subjectID string) {
	if token, ok := r.bySubject[subjectID]; ok {
		delete(r.challenges, token)
		delete(r.bySubject, subjectID)
	}
}

func (r *InMemoryRepository) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for token, ch := range r.challenges {
		if ch.Expired(now) {
			delete(r.challenges, token)
			if r.bySubject[ch.SubjectID] == token {
				delete(r.bySubject, ch.SubjectID)
			}
			count++
		}
	}
	return count, nil
}

func (r *InMemoryRepository) PutNonce(ctx context.Context, n Nonce) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n.Wallet = NormalizeWallet(n.Wallet)
	r.nonces[nonceKey{n.SubjectID, n.Wallet}] = n
	return nil
}

func (r *InMemoryRepository) GetNonce(ctx context.Context, subjectID, wallet string) (*Nonce, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nonces[nonceKey{subjectID, NormalizeWallet(wallet)}]
	if !ok || r.now().After(n.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &n, nil
}

func (r *InMemoryRepository) MarkNonceValidated(ctx context.Context, subjectID, wallet, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nonceKey{subjectID, NormalizeWallet(wallet)}
	n, ok := r.nonces[key]
	if !ok || n.Value != value || r.now().After(n.ExpiresAt) {
		return ErrNotFound
	}
	n.Validated = true
	r.nonces[key] = n
	return nil
}

func (r *InMemoryRepository) ConsumeNonce(ctx context.Context, subjectID, wallet, value string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nonceKey{subjectID, NormalizeWallet(wallet)}
	n, ok := r.nonces[key]
	if !ok || n.Value != value || !n.Validated || r.now().After(n.ExpiresAt) {
		return false, nil
	}
	delete(r.nonces, key)
	return true, nil
}

func (r *InMemoryRepository) DeleteExpiredNonces(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for key, n := range r.nonces {
		if now.After(n.ExpiresAt) {
			delete(r.nonces, key)
			count++
		}
	}
	return count, nil
}

func (r *InMemoryRepository) PutPasscode(ctx context.Context, p Passcode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.passcodes[passcodeKey{p.SubjectID, p.Method}] = p
	return nil
}

func (r *InMemoryRepository) GetPasscode(ctx context.Context, subjectID string, method MethodID) (*Passcode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.passcodes[passcodeKey{subjectID, method}]
	if !ok || r.now().After(p.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *InMemoryRepository) ConsumePasscode(ctx context.Context, subjectID string, method MethodID, value string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := passcodeKey{subjectID, method}
	p, ok := r.passcodes[key]
	if !ok || p.Value != value || r.now().After(p.ExpiresAt) {
		return false, nil
	}
	delete(r.passcodes, key)
	return true, nil
}

func (r *InMemoryRepository) DeleteExpiredPasscodes(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for key, p := range r.passcodes {
		if now.After(p.ExpiresAt) {
			delete(r.passcodes, key)
			count++
		}
	}
	return count, nil
}
