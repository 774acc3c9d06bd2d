package mfa

import (
	"slices"
	"strings"
	"time"
)

// MethodID identifies an authentication method handler.
type MethodID string

const (
	MethodPassword MethodID = "password"
	MethodEmail    MethodID = "email"
	MethodTOTP     MethodID = "totp"
	MethodPhone    MethodID = "phone"
	MethodOAuth    MethodID = "oauth"
	MethodWeb3     MethodID = "web3"
)

// Action is the sensitive action a challenge authorizes.
type Action string

const (
	ActionChangeEmail       Action = "change_email"
	ActionHighValueTransfer Action = "high_value_transfer"
	ActionLoginUpgrade      Action = "login_upgrade"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionChangeEmail, ActionHighValueTransfer, ActionLoginUpgrade:
		return true
	}
	return false
}

const (
	DefaultChallengeTTL   = 15 * time.Minute
	DefaultHandlerTimeout = 5 * time.Second
)

// Challenge is one in-flight multi-step verification attempt.
type Challenge struct {
	Token          string     `json:"token"`
	SubjectID      string     `json:"subject_id"`
	Action         Action     `json:"action"`
	StepsRequired  []MethodID `json:"steps_required"`
	StepsValidated []MethodID `json:"steps_validated"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Consumed       bool       `json:"consumed"`
	CreatedAt      time.Time  `json:"created_at"`
	// Version is bumped on every successful Update and used for compare-and-swap.
	Version int64 `json:"version"`
}

// Expired reports whether the challenge is unusable at now.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Active reports whether the challenge can still validate steps.
func (c *Challenge) Active(now time.Time) bool {
	return !c.Consumed && !c.Expired(now)
}

func (c *Challenge) IsRequired(id MethodID) bool {
	return slices.Contains(c.StepsRequired, id)
}

func (c *Challenge) IsValidated(id MethodID) bool {
	return slices.Contains(c.StepsValidated, id)
}

// MarkValidated adds id to StepsValidated. It refuses methods that are not
// required so StepsValidated always stays a subset of StepsRequired.
func (c *Challenge) MarkValidated(id MethodID) bool {
	if !c.IsRequired(id) || c.IsValidated(id) {
		return false
	}
	c.StepsValidated = append(c.StepsValidated, id)
	return true
}

// Pending returns required steps not yet validated, in required order.
func (c *Challenge) Pending() []MethodID {
	pending := make([]MethodID, 0, len(c.StepsRequired))
	for _, id := range c.StepsRequired {
		if !c.IsValidated(id) {
			pending = append(pending, id)
		}
	}
	return pending
}

// Complete reports whether every required step has been validated.
func (c *Challenge) Complete() bool {
	return len(c.StepsRequired) > 0 && len(c.Pending()) == 0
}

// Clone returns a deep copy so stores never share slices with callers.
func (c *Challenge) Clone() *Challenge {
	if c == nil {
		return nil
	}
	cp := *c
	cp.StepsRequired = slices.Clone(c.StepsRequired)
	cp.StepsValidated = slices.Clone(c.StepsValidated)
	return &cp
}

// Nonce is a single-use value bound to a (subject, wallet) pair.
type Nonce struct {
	SubjectID string    `json:"subject_id"`
	Wallet    string    `json:"wallet"`
	Value     string    `json:"value"`
	Validated bool      `json:"validated"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Passcode is a single-use secret bound to a (subject, method) pair: email and
// phone codes, OAuth confirmation states and the TOTP replay marker.
type Passcode struct {
	SubjectID string    `json:"subject_id"`
	Method    MethodID  `json:"method"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NormalizeWallet lower-cases and trims a wallet address for comparisons.
func NormalizeWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}

// WalletSignature is one wallet's signature over its nonce message.
type WalletSignature struct {
	Wallet    string `json:"wallet"`
	Signature string `json:"signature"`
}

// OAuthProof carries the result of an out-of-band OpenID Connect login. The
// ID token must be signed by Provider and carry State as its nonce.
type OAuthProof struct {
	State    string `json:"state"`
	Provider string `json:"provider"`
	IDToken  string `json:"id_token"`
}

// Proof is the tagged union submitted to ValidateStep. Only the fields of the
// methods being attempted are set.
type Proof struct {
	Password   *string           `json:"password,omitempty"`
	EmailCode  *string           `json:"email_code,omitempty"`
	PhoneCode  *string           `json:"phone_code,omitempty"`
	TOTPCode   *string           `json:"totp_code,omitempty"`
	OAuth      *OAuthProof       `json:"oauth,omitempty"`
	Signatures []WalletSignature `json:"signatures,omitempty"`
}

// Empty reports whether the proof carries no fields at all.
func (p Proof) Empty() bool {
	return p.Password == nil && p.EmailCode == nil && p.PhoneCode == nil &&
		p.TOTPCode == nil && p.OAuth == nil && len(p.Signatures) == 0
}

// InitiationPayload is the side data a client needs to complete steps.
type InitiationPayload struct {
	// Nonces maps normalized wallet address to nonce.
	Nonces map[string]string `json:"nonces,omitempty"`
	// Messages maps normalized wallet address to the exact text to sign.
	Messages map[string]string `json:"messages,omitempty"`
	// Hints carries per-method display data, e.g. a masked email address.
	Hints map[MethodID]string `json:"hints,omitempty"`
}

// Merge unions other into p.
func (p *InitiationPayload) Merge(other InitiationPayload) {
	if len(other.Nonces) > 0 && p.Nonces == nil {
		p.Nonces = make(map[string]string, len(other.Nonces))
	}
	for k, v := range other.Nonces {
		p.Nonces[k] = v
	}
	if len(other.Messages) > 0 && p.Messages == nil {
		p.Messages = make(map[string]string, len(other.Messages))
	}
	for k, v := range other.Messages {
		p.Messages[k] = v
	}
	if len(other.Hints) > 0 && p.Hints == nil {
		p.Hints = make(map[MethodID]string, len(other.Hints))
	}
	for k, v := range other.Hints {
		p.Hints[k] = v
	}
}

// MethodFailure describes one handler that failed to initiate.
type MethodFailure struct {
	Method MethodID `json:"method"`
	Error  string   `json:"error"`
}

// InitiationResult is returned by Initiate.
type InitiationResult struct {
	Token         string            `json:"token"`
	StepsRequired []MethodID        `json:"steps_required"`
	Payload       InitiationPayload `json:"payload"`
	Ready         []MethodID        `json:"ready"`
	Failures      []MethodFailure   `json:"failures,omitempty"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

// ValidationResult is returned by ValidateStep.
type ValidationResult struct {
	Done           bool       `json:"done"`
	Credential     string     `json:"credential,omitempty"`
	StepsValidated []MethodID `json:"steps_validated"`
	StepsRemaining []MethodID `json:"steps_remaining"`
}

// Status describes a subject's active challenge.
type Status struct {
	Token          string     `json:"token"`
	Action         Action     `json:"action"`
	StepsRequired  []MethodID `json:"steps_required"`
	StepsValidated []MethodID `json:"steps_validated"`
	ExpiresAt      time.Time  `json:"expires_at"`
}
