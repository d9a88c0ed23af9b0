package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Malilyqueen/max-crm-sub003/internal/audit"
	"github.com/Malilyqueen/max-crm-sub003/internal/consent"
	"github.com/Malilyqueen/max-crm-sub003/internal/execlog"
	"github.com/Malilyqueen/max-crm-sub003/internal/gate"
)

// ErrExecutionFailed marks a failure of the underlying CRM call after
// authorization already succeeded. It is distinct from a gate denial: the
// authorization is not undone, and the failure is recorded in the execution
// log.
var ErrExecutionFailed = errors.New("dispatch: execution failed")

// Action is one registered agent capability. Run performs the actual CRM
// mutation; it is only ever invoked after the gate said proceed.
type Action struct {
	Code        string
	Type        string
	Area        string
	HighRisk    bool
	Description string
	Run         func(ctx context.Context, tenant string, params map[string]any) (RunResult, error)
}

// RunResult is what an action reports back for the execution log and the
// caller's response payload.
type RunResult struct {
	Updated   int            `json:"updated"`
	Errors    int            `json:"errors"`
	SampleIDs []string       `json:"sample_ids,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Status derives the execution-log status from the counts.
func (r RunResult) Status() execlog.Status {
	switch {
	case r.Errors == 0:
		return execlog.StatusSuccess
	case r.Updated > 0:
		return execlog.StatusPartial
	default:
		return execlog.StatusError
	}
}

// Invocation is one attempt to run an action on behalf of a caller.
type Invocation struct {
	Tenant    string
	Roles     []gate.Role
	Code      string
	Mode      gate.Mode
	ConsentID string
	Params    map[string]any
}

// Outcome is the dispatcher's answer. Exactly one of the three shapes holds:
// a denial (Decision.Outcome == OutcomeDenied), a consent prompt
// (OutcomeConsentRequired), or a completed run (OutcomeProceed with Result
// set).
type Outcome struct {
	Decision gate.Decision
	EntryID  string
	Result   json.RawMessage
	Replayed bool
}

// Dispatcher owns the gate-then-run-then-record sequence for every action.
// Nothing else in the process is allowed to call an Action's Run directly.
type Dispatcher struct {
	gate     *gate.Gate
	log      execlog.Log
	consents consent.Ledger
	actions  map[string]Action
}

// New builds a dispatcher over a fixed action registry.
func New(g *gate.Gate, log execlog.Log, consents consent.Ledger, actions []Action) (*Dispatcher, error) {
	if g == nil || log == nil || consents == nil {
		return nil, errors.New("dispatch: all collaborators are required")
	}
	registry := make(map[string]Action, len(actions))
	for _, a := range actions {
		if a.Code == "" || a.Run == nil {
			return nil, fmt.Errorf("dispatch: action %q is incomplete", a.Code)
		}
		if _, dup := registry[a.Code]; dup {
			return nil, fmt.Errorf("dispatch: duplicate action code %q", a.Code)
		}
		registry[a.Code] = a
	}
	return &Dispatcher{gate: g, log: log, consents: consents, actions: registry}, nil
}

// Actions returns the registered action codes (for the info endpoint).
func (d *Dispatcher) Actions() []string {
	out := make([]string, 0, len(d.actions))
	for code := range d.actions {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Dispatch authorizes and, when allowed, runs the named action. The returned
// error is non-nil only for execution failures; denials travel inside the
// Outcome so callers can map them to wire responses.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) (Outcome, error) {
	action, ok := d.actions[inv.Code]
	if !ok {
		// Unknown codes are denied, not 404ed: the registry is the
		// capability surface and anything outside it is fail-closed.
		dec := gate.Decision{
			Outcome: gate.OutcomeDenied,
			Reason:  gate.ReasonForbidden,
			Message: fmt.Sprintf("unknown action %q", inv.Code),
		}
		d.logDecision(ctx, inv, dec)
		return Outcome{Decision: dec}, nil
	}

	dec := d.gate.Authorize(ctx, gate.Request{
		Tenant:      inv.Tenant,
		Roles:       inv.Roles,
		Action:      inv.Code,
		Mode:        inv.Mode,
		HighRisk:    action.HighRisk,
		ConsentID:   inv.ConsentID,
		ActionType:  action.Type,
		Description: action.Description,
		Details:     inv.Params,
	})
	d.logDecision(ctx, inv, dec)
	if dec.Outcome != gate.OutcomeProceed {
		return Outcome{Decision: dec}, nil
	}

	if action.HighRisk {
		return d.runConsented(ctx, action, inv, dec)
	}
	return d.run(ctx, action, inv, dec)
}

// run executes a low-risk action directly, bracketed by the execution log.
func (d *Dispatcher) run(ctx context.Context, action Action, inv Invocation, dec gate.Decision) (Outcome, error) {
	entryID, err := d.log.Start(ctx, inv.Tenant, action.Code, action.Type, inv.Params)
	if err != nil {
		return Outcome{Decision: dec}, fmt.Errorf("dispatch: open log entry: %w", err)
	}

	res, runErr := action.Run(ctx, inv.Tenant, inv.Params)
	d.finish(ctx, entryID, res, runErr)
	if runErr != nil {
		return Outcome{Decision: dec, EntryID: entryID}, fmt.Errorf("%w: %v", ErrExecutionFailed, runErr)
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return Outcome{Decision: dec, EntryID: entryID}, fmt.Errorf("dispatch: encode result: %w", err)
	}
	return Outcome{Decision: dec, EntryID: entryID, Result: payload}, nil
}

// runConsented routes a high-risk action through the consent ledger so the
// mutation runs at most once per consent id. Replays still get their own
// execution-log entry, flagged so the audit trail stays complete without
// double-counting updates.
func (d *Dispatcher) runConsented(ctx context.Context, action Action, inv Invocation, dec gate.Decision) (Outcome, error) {
	params := inv.Params
	if dec.Replay {
		params = withReplayFlag(params)
	}
	entryID, err := d.log.Start(ctx, inv.Tenant, action.Code, action.Type, params)
	if err != nil {
		return Outcome{Decision: dec}, fmt.Errorf("dispatch: open log entry: %w", err)
	}

	var res RunResult
	payload, replayed, execErr := d.consents.Execute(ctx, inv.Tenant, inv.ConsentID, func(ctx context.Context) (json.RawMessage, error) {
		out, runErr := action.Run(ctx, inv.Tenant, inv.Params)
		if runErr != nil {
			return nil, runErr
		}
		res = out
		return json.Marshal(out)
	})

	if execErr != nil {
		d.finish(ctx, entryID, RunResult{Errors: 1}, execErr)
		// The consent may have expired or been rejected between the gate
		// check and the execute call; surface that as a denial, not a crash.
		if reason, msg, ok := consentDenyReason(execErr); ok {
			dec.Outcome = gate.OutcomeDenied
			dec.Reason = reason
			dec.Message = msg
			return Outcome{Decision: dec, EntryID: entryID}, nil
		}
		return Outcome{Decision: dec, EntryID: entryID}, fmt.Errorf("%w: %v", ErrExecutionFailed, execErr)
	}

	if replayed {
		// The stored result stands in for the run that never happened.
		_ = json.Unmarshal(payload, &res)
		d.finish(ctx, entryID, RunResult{SampleIDs: res.SampleIDs}, nil)
		return Outcome{Decision: dec, EntryID: entryID, Result: payload, Replayed: true}, nil
	}

	d.finish(ctx, entryID, res, nil)
	return Outcome{Decision: dec, EntryID: entryID, Result: payload}, nil
}

func (d *Dispatcher) finish(ctx context.Context, entryID string, res RunResult, runErr error) {
	result := execlog.Result{
		Status:    res.Status(),
		Updated:   res.Updated,
		Errors:    res.Errors,
		SampleIDs: res.SampleIDs,
	}
	if runErr != nil {
		result.Status = execlog.StatusError
		if result.Errors == 0 {
			result.Errors = 1
		}
	}
	if _, err := d.log.Finish(ctx, entryID, result); err != nil {
		audit.LogEvent(ctx, "execlog_finish_failed", map[string]any{
			"entry_id": entryID,
			"error":    err.Error(),
		})
	}
}

func (d *Dispatcher) logDecision(ctx context.Context, inv Invocation, dec gate.Decision) {
	fields := map[string]any{
		"action":  inv.Code,
		"outcome": dec.Outcome.String(),
		"mode":    dec.EffectiveMode.String(),
	}
	if dec.Reason != "" {
		fields["reason"] = string(dec.Reason)
	}
	audit.LogEvent(ctx, "gate_decision", fields)
}

func consentDenyReason(err error) (gate.Reason, string, bool) {
	switch {
	case errors.Is(err, consent.ErrNotFound):
		return gate.ReasonConsentNotFound, "unknown consent id", true
	case errors.Is(err, consent.ErrExpired):
		return gate.ReasonConsentExpired, "consent request has expired", true
	case errors.Is(err, consent.ErrTerminal):
		return gate.ReasonConsentTerminal, "consent request is already terminal", true
	}
	return "", "", false
}

func withReplayFlag(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["consent_replay"] = true
	return out
}
