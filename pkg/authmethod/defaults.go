package authmethod

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/tendant/simple-mfa/pkg/mfa"
)

// Deps carries the collaborators the default handlers need.
type Deps struct {
	Directory Directory
	Store     mfa.Repository
	Gateway   mfa.NotificationGateway
	Verifier  mfa.SignatureVerifier
	IDTokens  IDTokenVerifier

	// Enabled limits registration to these methods. Empty enables all.
	Enabled []mfa.MethodID

	PasscodeOptions []PasscodeOption
}

// RegisterDefaults registers every built-in method whose dependencies are
// present. It runs once at startup, before the registry serves traffic.
func RegisterDefaults(reg *mfa.MethodRegistry, deps Deps) error {
	if deps.Directory == nil || deps.Store == nil {
		return fmt.Errorf("directory and store are required")
	}

	enabled := func(id mfa.MethodID) bool {
		return len(deps.Enabled) == 0 || slices.Contains(deps.Enabled, id)
	}

	var handlers []mfa.MethodHandler
	if enabled(mfa.MethodPassword) {
		handlers = append(handlers, NewPasswordHandler(deps.Directory))
	}
	if enabled(mfa.MethodEmail) && deps.Gateway != nil {
		handlers = append(handlers, NewEmailCodeHandler(deps.Store, deps.Gateway, deps.Directory, deps.PasscodeOptions...))
	}
	if enabled(mfa.MethodTOTP) {
		handlers = append(handlers, NewTOTPHandler(deps.Directory, deps.Store))
	}
	if enabled(mfa.MethodPhone) && deps.Gateway != nil {
		handlers = append(handlers, NewPhoneCodeHandler(deps.Store, deps.Gateway, deps.Directory, deps.PasscodeOptions...))
	}
	if enabled(mfa.MethodOAuth) && deps.IDTokens != nil {
		handlers = append(handlers, NewOAuthConfirmHandler(deps.Store, deps.Directory, deps.IDTokens))
	}
	if enabled(mfa.MethodWeb3) && deps.Verifier != nil {
		handlers = append(handlers, NewWeb3Handler(deps.Directory, deps.Store, deps.Verifier))
	}

	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return err
		}
		slog.Info("Registered mfa method", "method", h.MethodID())
	}
	return nil
}
