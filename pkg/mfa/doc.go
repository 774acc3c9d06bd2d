// Package mfa orchestrates multi-factor challenges for sensitive actions.
//
// A subject starts a challenge for an action, completes the required steps in
// any order (one or several per call) and receives a short-lived credential once
// every step passed.
//
// # Overview
//
// The package provides:
//   - MethodRegistry, the set of pluggable MethodHandler implementations
//   - MfaService, the orchestrator (Initiate, ValidateStep, GetStatus, Cancel)
//   - Repository backends: in-memory, PostgreSQL and Redis
//
// # Basic Usage
//
//	import "github.com/tendant/simple-mfa/pkg/mfa"
//
//	registry := mfa.NewMethodRegistry()
//	registry.MustRegister(passwordHandler)
//	registry.MustRegister(web3Handler)
//
//	repo, err := mfa.NewRepository("postgres", mfa.RepositoryConfig{DB: pool})
//	service := mfa.NewMfaService(registry, directory, repo, issuer,
//		mfa.WithEvents(publisher),
//		mfa.WithLimiter(limiter),
//	)
//
//	res, err := service.Initiate(ctx, subjectID, mfa.ActionHighValueTransfer)
//	// send res.Payload to the client, then
//	out, err := service.ValidateStep(ctx, subjectID, proof)
//	if out.Done {
//		// out.Credential authorizes the action
//	}
//
// # Invariants
//
// A subject has at most one active challenge. StepsValidated is always a
// subset of StepsRequired. A consumed or expired challenge never validates
// again, and a credential is minted at most once per challenge.
package mfa
