package httpapi

import (
	"net/http"

	"github.com/Malilyqueen/max-crm-sub003/internal/gate"
)

type modeRequest struct {
	Mode string `json:"mode"`
}

func (a *API) handleMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.getMode(w, r)
	case http.MethodPost:
		a.setMode(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) getMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode": a.mode.Global().String(),
	})
}

// setMode escalates (or de-escalates between assisted and autonomous) the
// global operating mode. Read-only is not settable here: it is the safe state
// reached by never escalating, so the only way back to it is a restart with
// the default config.
func (a *API) setMode(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.identity(r)
	if !ok || !identity.HasRole(string(gate.RoleAdmin)) {
		writeReason(w, r, http.StatusForbidden, gate.ReasonForbidden, "admin role required", nil)
		return
	}

	var req modeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	mode, err := gate.ParseMode(req.Mode)
	if err != nil {
		writeReason(w, r, http.StatusBadRequest, "BAD_MODE", "mode must be assisted or autonomous", nil)
		return
	}
	if mode == gate.ModeReadOnly {
		writeReason(w, r, http.StatusBadRequest, "BAD_MODE", "read-only is the default, not a settable mode", nil)
		return
	}

	a.mode.SetGlobal(mode)
	a.audit(r.Context(), "mode.set", map[string]any{"mode": mode.String()})

	writeJSON(w, http.StatusOK, map[string]any{
		"mode": mode.String(),
	})
}
