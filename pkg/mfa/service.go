package mfa

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// MfaService orchestrates challenges across the registered method handlers.
type MfaService struct {
	registry  *MethodRegistry
	directory UserDirectory
	repo      Repository
	issuer    CredentialIssuer

	events  EventPublisher
	metrics Metrics
	limiter Limiter

	policies       map[Action][]MethodID
	challengeTTL   time.Duration
	handlerTimeout time.Duration
	now            func() time.Time

	locks *subjectLocks
}

type Option func(*MfaService)

// WithClock overrides time.Now, mostly for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(s *MfaService) {
		s.now = now
	}
}

func WithChallengeTTL(ttl time.Duration) Option {
	return func(s *MfaService) {
		if ttl > 0 {
			s.challengeTTL = ttl
		}
	}
}

func WithHandlerTimeout(timeout time.Duration) Option {
	return func(s *MfaService) {
		if timeout > 0 {
			s.handlerTimeout = timeout
		}
	}
}

func WithEvents(events EventPublisher) Option {
	return func(s *MfaService) {
		s.events = events
	}
}

func WithMetrics(metrics Metrics) Option {
	return func(s *MfaService) {
		s.metrics = metrics
	}
}

func WithLimiter(limiter Limiter) Option {
	return func(s *MfaService) {
		s.limiter = limiter
	}
}

// WithActionPolicy restricts the methods an action may require. Methods the
// subject has not enrolled are still dropped.
func WithActionPolicy(action Action, methods ...MethodID) Option {
	return func(s *MfaService) {
		s.policies[action] = slices.Clone(methods)
	}
}

func NewMfaService(registry *MethodRegistry, directory UserDirectory, repo Repository, issuer CredentialIssuer, opts ...Option) *MfaService {
	s := &MfaService{
		registry:       registry,
		directory:      directory,
		repo:           repo,
		issuer:         issuer,
		events:         noopEvents{},
		metrics:        noopMetrics{},
		policies:       make(map[Action][]MethodID),
		challengeTTL:   DefaultChallengeTTL,
		handlerTimeout: DefaultHandlerTimeout,
		now:            time.Now,
		locks:          newSubjectLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate opens a new challenge for subjectID, replacing any previous one,
// and collects the side data every required handler needs.
func (s *MfaService) Initiate(ctx context.Context, subjectID string, action Action) (InitiationResult, error) {
	unlock := s.locks.lock(subjectID)
	defer unlock()

	methods, err := s.directory.GetRegisteredMethods(ctx, subjectID)
	if err != nil {
		return InitiationResult{}, fmt.Errorf("failed to get registered methods: %w", err)
	}
	if allowed, ok := s.policies[action]; ok {
		methods = slices.DeleteFunc(slices.Clone(methods), func(id MethodID) bool {
			return !slices.Contains(allowed, id)
		})
	}

	handlers := s.registry.Resolve(methods)
	if len(handlers) == 0 {
		slog.Warn("No mfa method available", "subject", subjectID, "action", action, "enrolled", methods)
		return InitiationResult{}, ErrNoAvailableMethod
	}

	token, err := generateToken()
	if err != nil {
		return InitiationResult{}, err
	}

	now := s.now().UTC()
	ch := &Challenge{
		Token:          token,
		SubjectID:      subjectID,
		Action:         action,
		StepsRequired:  make([]MethodID, 0, len(handlers)),
		StepsValidated: []MethodID{},
		ExpiresAt:      now.Add(s.challengeTTL),
		CreatedAt:      now,
	}
	for _, h := range handlers {
		ch.StepsRequired = append(ch.StepsRequired, h.MethodID())
	}

	if err := s.repo.ReplaceActive(ctx, ch); err != nil {
		return InitiationResult{}, fmt.Errorf("failed to store challenge: %w", err)
	}

	payloads := make([]InitiationPayload, len(handlers))
	errs := make([]error, len(handlers))
	var g errgroup.Group
	for i, h := range handlers {
		g.Go(func() error {
			payloads[i], errs[i] = s.initiateHandler(ctx, h, subjectID)
			return nil
		})
	}
	_ = g.Wait()

	result := InitiationResult{
		Token:         ch.Token,
		StepsRequired: slices.Clone(ch.StepsRequired),
		Ready:         make([]MethodID, 0, len(handlers)),
		ExpiresAt:     ch.ExpiresAt,
	}
	for i, h := range handlers {
		if errs[i] != nil {
			slog.Error("Mfa handler initiation failed", "subject", subjectID, "method", h.MethodID(), "err", errs[i])
			s.metrics.HandlerInitiateFailed(h.MethodID())
			result.Failures = append(result.Failures, MethodFailure{Method: h.MethodID(), Error: errs[i].Error()})
			continue
		}
		result.Payload.Merge(payloads[i])
		result.Ready = append(result.Ready, h.MethodID())
	}

	s.metrics.ChallengeInitiated(action)
	if err := s.events.PublishChallengeCreated(ctx, ch); err != nil {
		slog.Warn("Failed to publish challenge created event", "subject", subjectID, "err", err)
	}

	slog.Info("Mfa challenge initiated", "subject", subjectID, "action", action, "steps", ch.StepsRequired, "failed", len(result.Failures))
	return result, nil
}

func (s *MfaService) initiateHandler(ctx context.Context, h MethodHandler, subjectID string) (InitiationPayload, error) {
	return callHandler(ctx, s.handlerTimeout, h.MethodID(), func(hctx context.Context) (InitiationPayload, error) {
		return h.Initiate(hctx, subjectID)
	})
}

func (s *MfaService) validateHandler(ctx context.Context, h MethodHandler, subjectID string, proof Proof) (bool, error) {
	return callHandler(ctx, s.handlerTimeout, h.MethodID(), func(hctx context.Context) (bool, error) {
		return h.Validate(hctx, subjectID, proof)
	})
}

// callHandler runs fn with a deadline of timeout and returns when either fn
// finishes or the deadline passes, even if fn ignores its context. A panic in
// fn is returned as an error.
func callHandler[T any](ctx context.Context, timeout time.Duration, method MethodID, fn func(context.Context) (T, error)) (T, error) {
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out.err = fmt.Errorf("handler %s panicked: %v", method, r)
			}
			done <- out
		}()
		out.value, out.err = fn(hctx)
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-hctx.Done():
		var zero T
		return zero, fmt.Errorf("handler %s: %w", method, hctx.Err())
	}
}

// ValidateStep checks proof against every pending step it targets. The first
// rejected step aborts the call; steps validated before it stay recorded. A
// step whose handler reports ErrIncompleteProof stays pending.
func (s *MfaService) ValidateStep(ctx context.Context, subjectID string, proof Proof) (ValidationResult, error) {
	if s.limiter != nil && !s.limiter.Allow(subjectID) {
		return ValidationResult{}, ErrRateLimited
	}

	unlock := s.locks.lock(subjectID)
	defer unlock()

	ch, err := s.activeChallenge(ctx, subjectID)
	if err != nil {
		return ValidationResult{}, err
	}
	if proof.Empty() {
		return ValidationResult{}, ErrMalformedProof
	}

	targeted := false
	for _, id := range ch.Pending() {
		h, ok := s.registry.Get(id)
		if !ok || !h.Targets(proof) {
			continue
		}
		targeted = true

		ok, err := s.validateHandler(ctx, h, subjectID, proof)
		if errors.Is(err, ErrIncompleteProof) {
			slog.Info("Mfa step incomplete", "subject", subjectID, "method", id)
			continue
		}
		if err != nil {
			slog.Error("Mfa step validation error", "subject", subjectID, "method", id, "err", err)
			return ValidationResult{}, fmt.Errorf("failed to validate %s: %w", id, err)
		}
		s.metrics.StepValidated(id, ok)
		if !ok {
			slog.Info("Mfa step rejected", "subject", subjectID, "method", id)
			return ValidationResult{}, &StepError{Method: id}
		}

		ch.MarkValidated(id)
		if err := s.repo.Update(ctx, ch); err != nil {
			slog.Error("Failed to record validated step", "subject", subjectID, "method", id, "err", err)
			return ValidationResult{}, fmt.Errorf("failed to record step %s: %w", id, err)
		}
		if err := s.events.PublishStepValidated(ctx, ch, id); err != nil {
			slog.Warn("Failed to publish step validated event", "subject", subjectID, "method", id, "err", err)
		}
	}
	if !targeted {
		return ValidationResult{}, ErrMalformedProof
	}

	result := ValidationResult{
		StepsValidated: slices.Clone(ch.StepsValidated),
		StepsRemaining: ch.Pending(),
	}
	if !ch.Complete() {
		return result, nil
	}

	// The challenge is consumed before the credential is minted.
	ch.Consumed = true
	if err := s.repo.Update(ctx, ch); err != nil {
		return ValidationResult{}, fmt.Errorf("failed to consume challenge: %w", err)
	}

	credential, err := s.issuer.Issue(ctx, subjectID, ch.Action, slices.Clone(ch.StepsValidated))
	if err != nil {
		slog.Error("Failed to issue mfa credential", "subject", subjectID, "action", ch.Action, "err", err)
		return ValidationResult{}, fmt.Errorf("failed to issue credential: %w", err)
	}

	s.metrics.CredentialIssued(ch.Action)
	if err := s.events.PublishChallengeCompleted(ctx, ch); err != nil {
		slog.Warn("Failed to publish challenge completed event", "subject", subjectID, "err", err)
	}
	slog.Info("Mfa challenge completed", "subject", subjectID, "action", ch.Action)

	result.Done = true
	result.Credential = credential
	return result, nil
}

// GetStatus returns the subject's active challenge.
func (s *MfaService) GetStatus(ctx context.Context, subjectID string) (Status, error) {
	ch, err := s.activeChallenge(ctx, subjectID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Token:          ch.Token,
		Action:         ch.Action,
		StepsRequired:  ch.StepsRequired,
		StepsValidated: ch.StepsValidated,
		ExpiresAt:      ch.ExpiresAt,
	}, nil
}

// Cancel discards the subject's challenge, if any.
func (s *MfaService) Cancel(ctx context.Context, subjectID string) error {
	unlock := s.locks.lock(subjectID)
	defer unlock()

	if err := s.repo.DeleteBySubject(ctx, subjectID); err != nil {
		return fmt.Errorf("failed to cancel challenge: %w", err)
	}
	slog.Info("Mfa challenge cancelled", "subject", subjectID)
	return nil
}

func (s *MfaService) activeChallenge(ctx context.Context, subjectID string) (*Challenge, error) {
	ch, err := s.repo.GetBySubject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoActiveChallenge
		}
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if !ch.Active(s.now()) {
		return nil, ErrNoActiveChallenge
	}
	return ch, nil
}

// Sweep purges expired challenges, nonces and passcodes once.
func (s *MfaService) Sweep(ctx context.Context) error {
	now := s.now().UTC()
	challenges, err := s.repo.DeleteExpiredChallenges(ctx, now)
	if err != nil {
		return err
	}
	nonces, err := s.repo.DeleteExpiredNonces(ctx, now)
	if err != nil {
		return err
	}
	passcodes, err := s.repo.DeleteExpiredPasscodes(ctx, now)
	if err != nil {
		return err
	}
	if challenges+nonces+passcodes > 0 {
		slog.Info("Swept expired mfa records", "challenges", challenges, "nonces", nonces, "passcodes", passcodes)
	}
	return nil
}

// StartSweeper runs Sweep every interval until ctx is done.
func (s *MfaService) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Sweep(ctx); err != nil {
					slog.Error("Mfa sweep failed", "err", err)
				}
			}
		}
	}()
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate challenge token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// subjectLocks hands out one mutex per subject and drops it when unused.
type subjectLocks struct {
	mu    sync.Mutex
	locks map[string]*subjectLock
}

type subjectLock struct {
	mu   sync.Mutex
	refs int
}

func newSubjectLocks() *subjectLocks {
	return &subjectLocks{locks: make(map[string]*subjectLock)}
}

func (l *subjectLocks) lock(subjectID string) func() {
	l.mu.Lock()
	sl, ok := l.locks[subjectID]
	if !ok {
		sl = &subjectLock{}
		l.locks[subjectID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, subjectID)
		}
		l.mu.Unlock()
	}
}

type noopEvents struct{}

func (noopEvents) PublishChallengeCreated(context.Context, *Challenge) error        { return nil }
func (noopEvents) PublishStepValidated(context.Context, *Challenge, MethodID) error { return nil }
func (noopEvents) PublishChallengeCompleted(context.Context, *Challenge) error      { return nil }

type noopMetrics struct{}

func (noopMetrics) ChallengeInitiated(Action)      {}
func (noopMetrics) HandlerInitiateFailed(MethodID) {}
func (noopMetrics) StepValidated(MethodID, bool)   {}
func (noopMetrics) CredentialIssued(Action)        {}
