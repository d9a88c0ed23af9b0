package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Malilyqueen/max-crm-sub003/internal/dispatch"
	"github.com/Malilyqueen/max-crm-sub003/internal/gate"
)

type actionRequest struct {
	Mode      string         `json:"mode"`
	ConsentID string         `json:"consent_id"`
	Params    map[string]any `json:"params"`
}

type actionResponse struct {
	Status    string          `json:"status"`
	EntryID   string          `json:"entry_id"`
	Replayed  bool            `json:"replayed,omitempty"`
	Remaining int             `json:"remaining,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

func (a *API) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	code := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/actions/"), "/")
	if code == "" || strings.Contains(code, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	identity, ok := a.identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "identity required")
		return
	}

	var req actionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// An absent mode means the caller declared nothing; treating that as a
	// request for autonomous keeps the schedule and rate checks in force
	// (the global policy still caps the result).
	mode := gate.ModeAutonomous
	if strings.TrimSpace(req.Mode) != "" {
		parsed, err := gate.ParseMode(req.Mode)
		if err != nil {
			writeReason(w, r, http.StatusBadRequest, "BAD_MODE", "unrecognized mode", nil)
			return
		}
		mode = parsed
	}

	roles := make([]gate.Role, 0, len(identity.Roles))
	for _, role := range identity.Roles {
		roles = append(roles, gate.Role(role))
	}

	out, err := a.dispatcher.Dispatch(r.Context(), dispatch.Invocation{
		Tenant:    identity.Tenant,
		Roles:     roles,
		Code:      code,
		Mode:      mode,
		ConsentID: strings.TrimSpace(req.ConsentID),
		Params:    req.Params,
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrExecutionFailed) {
			writeReason(w, r, http.StatusBadGateway, "EXECUTION_FAILED", err.Error(), map[string]any{
				"entry_id": out.EntryID,
			})
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	switch out.Decision.Outcome {
	case gate.OutcomeDenied:
		a.writeDenial(w, r, out.Decision)
	case gate.OutcomeConsentRequired:
		op := out.Decision.Operation
		writeJSON(w, http.StatusPreconditionFailed, map[string]any{
			"requiresConsent": true,
			"operation": map[string]any{
				"type":        op.Type,
				"description": op.Description,
				"details":     op.Details,
			},
		})
	case gate.OutcomeProceed:
		writeJSON(w, http.StatusOK, actionResponse{
			Status:    "ok",
			EntryID:   out.EntryID,
			Replayed:  out.Replayed,
			Remaining: out.Decision.Remaining,
			Result:    out.Result,
		})
	}
}

func (a *API) writeDenial(w http.ResponseWriter, r *http.Request, dec gate.Decision) {
	extra := map[string]any{}
	status := http.StatusForbidden
	switch dec.Reason {
	case gate.ReasonReadOnlyMode, gate.ReasonForbidden:
		status = http.StatusForbidden
	case gate.ReasonOutOfSchedule:
		status = http.StatusLocked
	case gate.ReasonRateLimit:
		status = http.StatusTooManyRequests
		extra["reset_at"] = dec.ResetAt
	case gate.ReasonConsentNotFound:
		status = http.StatusNotFound
	case gate.ReasonConsentExpired:
		status = http.StatusGone
	case gate.ReasonConsentTerminal:
		status = http.StatusConflict
	}
	writeReason(w, r, status, dec.Reason, dec.Message, extra)
}
