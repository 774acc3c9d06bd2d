package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/jinzhu/copier"
	"github.com/tendant/simple-mfa/pkg/credential"
	mfaerrors "github.com/tendant/simple-mfa/pkg/errors"
	"github.com/tendant/simple-mfa/pkg/mfa"
)

// Service is the part of mfa.MfaService exposed over HTTP.
type Service interface {
	Initiate(ctx context.Context, subjectID string, action mfa.Action) (mfa.InitiationResult, error)
	ValidateStep(ctx context.Context, subjectID string, proof mfa.Proof) (mfa.ValidationResult, error)
	GetStatus(ctx context.Context, subjectID string) (mfa.Status, error)
	Cancel(ctx context.Context, subjectID string) error
}

type Handle struct {
	service Service
}

func NewHandle(service Service) Handle {
	return Handle{service: service}
}

// Routes mounts the challenge endpoints. The caller must install jwtauth
// Verifier and Authenticator in front of them.
func (h Handle) Routes(r chi.Router) {
	r.Post("/initiate", h.Initiate)
	r.Post("/validate", h.Validate)
	r.Get("/status", h.Status)
	r.Delete("/", h.Cancel)
}

// Initiate handles POST /initiate
func (h Handle) Initiate(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := subjectFromContext(w, r)
	if !ok {
		return
	}

	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, mfaerrors.InvalidInput("body", "malformed json"))
		return
	}
	if !req.Action.Valid() {
		writeError(w, r, mfaerrors.InvalidInput("action", "unknown action"))
		return
	}

	result, err := h.service.Initiate(r.Context(), subjectID, req.Action)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var resp InitiateResponse
	if err := copier.Copy(&resp, &result); err != nil {
		slog.Error("Failed to copy initiation result", "err", err)
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// Validate handles POST /validate
func (h Handle) Validate(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := subjectFromContext(w, r)
	if !ok {
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, mfaerrors.InvalidInput("body", "malformed json"))
		return
	}

	result, err := h.service.ValidateStep(r.Context(), subjectID, req.Proof)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var resp ValidateResponse
	if err := copier.Copy(&resp, &result); err != nil {
		slog.Error("Failed to copy validation result", "err", err)
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// Status handles GET /status
func (h Handle) Status(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := subjectFromContext(w, r)
	if !ok {
		return
	}

	status, err := h.service.GetStatus(r.Context(), subjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var resp StatusResponse
	if err := copier.Copy(&resp, &status); err != nil {
		slog.Error("Failed to copy status", "err", err)
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// Cancel handles DELETE /
func (h Handle) Cancel(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := subjectFromContext(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), subjectID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func subjectFromContext(w http.ResponseWriter, r *http.Request) (string, bool) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err == nil {
		if hasAudience(claims["aud"], credential.DefaultAudience) {
			writeError(w, r, mfaerrors.Unauthorized("mfa credentials are not access tokens"))
			return "", false
		}
		if sub, _ := claims["sub"].(string); sub != "" {
			return sub, true
		}
	}
	writeError(w, r, mfaerrors.Unauthorized("missing subject"))
	return "", false
}

func hasAudience(claim any, audience string) bool {
	switch aud := claim.(type) {
	case string:
		return aud == audience
	case []string:
		return slices.Contains(aud, audience)
	case []any:
		return slices.Contains(aud, any(audience))
	}
	return false
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := mfaerrors.FromMfa(err)
	status := e.HTTPStatusCode()
	if status >= http.StatusInternalServerError {
		slog.Error("Mfa request failed", "path", r.URL.Path, "err", err)
	}

	resp := ErrorResponse{Code: string(e.Code), Message: e.Message}
	if method, ok := e.Details["method"].(string); ok {
		resp.Method = method
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}
