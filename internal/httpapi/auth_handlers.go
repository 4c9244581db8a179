package httpapi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/errs"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		a.respond(w, r, err)
		return
	}
	res, err := a.auth.Register(r.Context(), req)
	if err != nil {
		a.respond(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.register", map[string]any{"user_id": res.Principal.ID})
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginInput
	if err := decodeJSON(r, &req); err != nil {
		a.respond(w, r, err)
		return
	}
	res, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.audit(r.Context(), "auth.login_failed", map[string]any{"email": strings.ToLower(strings.TrimSpace(req.Email))})
		a.respond(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.login", map[string]any{"user_id": res.Principal.ID, "role": res.Role})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respond(w, r, err)
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		a.respond(w, r, errs.Validation("refresh_token is required"))
		return
	}
	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.respond(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	profile, err := a.auth.Profile(r.Context(), identity(r).PrincipalID)
	if err != nil {
		a.respond(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := a.auth.ListAPIKeys(r.Context(), identity(r).PrincipalID)
	if err != nil {
		a.respond(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[auth.APIKey]{Data: keys})
}

func (a *API) createAPIKey(w http.ResponseWriter, r *http.Request) {
	var req auth.APIKeyInput
	if err := decodeJSON(r, &req); err != nil {
		a.respond(w, r, err)
		return
	}
	issued, err := a.auth.GenerateAPIKey(r.Context(), identity(r).PrincipalID, req)
	if err != nil {
		a.respond(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.api_key.create", map[string]any{"api_key_id": issued.ID})
	w.Header().Set("Location", "/v1/auth/api-keys/"+issued.ID)
	writeJSON(w, http.StatusCreated, issued)
}

func (a *API) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := r.PathValue("id")
	if err := a.auth.DeactivateAPIKey(r.Context(), identity(r).PrincipalID, keyID); err != nil {
		a.respond(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.api_key.deactivate", map[string]any{"api_key_id": keyID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) rotateAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := r.PathValue("id")
	issued, err := a.auth.RotateAPIKey(r.Context(), identity(r).PrincipalID, keyID)
	if err != nil {
		a.respond(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.api_key.rotate", map[string]any{"api_key_id": keyID, "replacement_id": issued.ID})
	writeJSON(w, http.StatusOK, issued)
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, a.logger, event, fields); err != nil {
		a.logger.Warn("audit event dropped", zap.String("event", event), zap.Error(err))
	}
}
