package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Malilyqueen/max-crm-sub003/internal/execlog"
)

type executionLogResponse struct {
	Items []execlog.Entry `json:"items"`
}

func (a *API) handleExecutionLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	identity, ok := a.identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "identity required")
		return
	}

	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), execlog.DefaultListLimit, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since_hours")); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			writeError(w, r, http.StatusBadRequest, "since_hours must be a positive integer")
			return
		}
		since = time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	}

	items, err := a.log.List(r.Context(), execlog.ListOptions{
		Tenant: identity.Tenant,
		Limit:  limit,
		Since:  since,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []execlog.Entry{}
	}
	writeJSON(w, http.StatusOK, executionLogResponse{Items: items})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}
