package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Malilyqueen/max-crm-sub003/internal/consent"
	"github.com/Malilyqueen/max-crm-sub003/internal/gate"
)

type consentRequestBody struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details"`
}

func (a *API) handleConsentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createConsent(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleConsentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/consents/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/approve"); ok {
		a.settleConsent(w, r, strings.TrimSuffix(id, "/"), true)
		return
	}
	if id, ok := strings.CutSuffix(path, "/reject"); ok {
		a.settleConsent(w, r, strings.TrimSuffix(id, "/"), false)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getConsent(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) createConsent(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "identity required")
		return
	}

	var req consentRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeError(w, r, http.StatusBadRequest, "type is required")
		return
	}

	rec, err := a.consents.Request(r.Context(), identity.Tenant, req.Type, req.Description, req.Details)
	if err != nil {
		a.handleConsentError(w, r, err)
		return
	}

	a.audit(r.Context(), "consent.requested", map[string]any{
		"consent_id": rec.ID,
		"type":       rec.ActionType,
	})

	w.Header().Set("Location", "/v1/consents/"+rec.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"consent_id": rec.ID,
		"expires_at": rec.ExpiresAt,
	})
}

func (a *API) getConsent(w http.ResponseWriter, r *http.Request, id string) {
	identity, ok := a.identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "identity required")
		return
	}

	rec, err := a.consents.Get(r.Context(), identity.Tenant, id)
	if err != nil {
		a.handleConsentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) settleConsent(w http.ResponseWriter, r *http.Request, id string, approve bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := a.identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "identity required")
		return
	}

	var (
		rec   consent.Request
		err   error
		event string
	)
	if approve {
		rec, err = a.consents.Approve(r.Context(), identity.Tenant, id)
		event = "consent.approved"
	} else {
		rec, err = a.consents.Reject(r.Context(), identity.Tenant, id)
		event = "consent.rejected"
	}
	if err != nil {
		a.handleConsentError(w, r, err)
		return
	}

	a.audit(r.Context(), event, map[string]any{
		"consent_id": rec.ID,
		"type":       rec.ActionType,
	})
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleConsentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, consent.ErrNotFound):
		writeReason(w, r, http.StatusNotFound, gate.ReasonConsentNotFound, "unknown consent id", nil)
	case errors.Is(err, consent.ErrExpired):
		writeReason(w, r, http.StatusGone, gate.ReasonConsentExpired, "consent request has expired", nil)
	case errors.Is(err, consent.ErrTerminal):
		writeReason(w, r, http.StatusConflict, gate.ReasonConsentTerminal, "consent request is already terminal", nil)
	case errors.Is(err, consent.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
