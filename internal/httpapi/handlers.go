package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Malilyqueen/max-crm-sub003/internal/audit"
	"github.com/Malilyqueen/max-crm-sub003/internal/consent"
	"github.com/Malilyqueen/max-crm-sub003/internal/dispatch"
	"github.com/Malilyqueen/max-crm-sub003/internal/execlog"
	"github.com/Malilyqueen/max-crm-sub003/internal/gate"
	"github.com/Malilyqueen/max-crm-sub003/internal/obs"
)

// ReadyProbe reports readiness (a DB ping when the durable stores are on).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the gate, the consent ledger and the execution
// log.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	mode       *gate.ModePolicy
	authority  *gate.Authority
	dispatcher *dispatch.Dispatcher
	consents   consent.Ledger
	log        execlog.Log
}

// Deps carries the collaborators the API serves.
type Deps struct {
	Ready      ReadyProbe
	Version    string
	Mode       *gate.ModePolicy
	Authority  *gate.Authority
	Dispatcher *dispatch.Dispatcher
	Consents   consent.Ledger
	Log        execlog.Log
}

func New(deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: deps.Ready,
		version:    deps.Version,
		mode:       deps.Mode,
		authority:  deps.Authority,
		dispatcher: deps.Dispatcher,
		consents:   deps.Consents,
		log:        deps.Log,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// identity
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// operating mode
	a.mux.HandleFunc("/v1/mode", a.handleMode)

	// consent workflow
	a.mux.HandleFunc("/v1/consents", a.handleConsentsCollection)
	a.mux.HandleFunc("/v1/consents/", a.handleConsentResource)

	// gated actions + audit trail
	a.mux.HandleFunc("/v1/actions/", a.handleAction)
	a.mux.HandleFunc("/v1/execution-log", a.handleExecutionLog)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "max-crm-gate",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "max-crm-gate",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"mode":    a.mode.Global().String(),
		"actions": a.dispatcher.Actions(),
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeReason emits a machine-readable rejection the agent can branch on.
func writeReason(w http.ResponseWriter, r *http.Request, code int, reason gate.Reason, msg string, extra map[string]any) {
	payload := map[string]any{
		"error":   string(reason),
		"message": msg,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
