package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Malilyqueen/max-crm-sub003/internal/consent"
	"github.com/Malilyqueen/max-crm-sub003/internal/obs"
)

// Outcome classifies an authorization decision.
type Outcome int

const (
	OutcomeDenied Outcome = iota
	OutcomeConsentRequired
	OutcomeProceed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDenied:
		return "denied"
	case OutcomeConsentRequired:
		return "consent_required"
	case OutcomeProceed:
		return "proceed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Operation describes the exact high-risk mutation a human is being asked to
// approve. It is echoed back to the caller so the consent request can name
// the specific, fully-specified operation.
type Operation struct {
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Request carries everything the gate needs to decide one action attempt.
type Request struct {
	Tenant      string
	Roles       []Role
	Action      string // action code checked against the capability matrix
	Mode        Mode   // requested mode; callers that send nothing get autonomous
	HighRisk    bool
	ConsentID   string
	ActionType  string
	Description string
	Details     map[string]any
}

// Decision is the gate's answer. On OutcomeProceed the caller (the
// dispatcher) runs the action and records the outcome; the gate itself never
// touches the CRM.
type Decision struct {
	Outcome       Outcome
	Reason        Reason
	Message       string
	EffectiveMode Mode
	Remaining     int
	ResetAt       time.Time
	Operation     *Operation
	// Replay is set when a valid consent id refers to an already-executed
	// request; the dispatcher returns the stored result instead of re-running.
	Replay bool
}

// Gate composes every authorization check into one decision function. All
// mutating entry points go through Authorize before touching the CRM, which
// makes "forgot to gate a new route" a visible omission instead of a silent
// security gap.
type Gate struct {
	mode      *ModePolicy
	authority *Authority
	schedule  Schedule
	limiter   *Limiter
	consents  consent.Ledger
	now       func() time.Time
}

// New wires a gate. All collaborators are required.
func New(mode *ModePolicy, authority *Authority, schedule Schedule, limiter *Limiter, consents consent.Ledger) (*Gate, error) {
	if mode == nil || authority == nil || limiter == nil || consents == nil {
		return nil, errors.New("gate: all collaborators are required")
	}
	return &Gate{
		mode:      mode,
		authority: authority,
		schedule:  schedule,
		limiter:   limiter,
		consents:  consents,
		now:       time.Now,
	}, nil
}

// WithClock overrides the time source (tests only).
func (g *Gate) WithClock(fn func() time.Time) *Gate {
	if fn != nil {
		g.now = fn
	}
	return g
}

// Authorize evaluates ModePolicy, RoleAuthority, ScheduleWindow, RateLimiter
// and the ConsentLedger in that order, short-circuiting on the first failure.
// Cheap stateless checks run before stateful ones, and schedule/rate checks
// only apply to unattended execution so a human confirming an action is
// never blocked by the hour of day.
func (g *Gate) Authorize(ctx context.Context, req Request) Decision {
	dec := g.evaluate(ctx, req)
	obs.ObserveGateDecision(dec.Outcome.String(), string(dec.Reason))
	return dec
}

func (g *Gate) evaluate(ctx context.Context, req Request) Decision {
	effective := Effective(req.Mode, g.mode.Global())

	if effective == ModeReadOnly {
		return deny(effective, ReasonReadOnlyMode, "mutating actions are disabled in read-only mode")
	}

	if !g.authority.AnyAllowsAction(req.Roles, req.Action) {
		return deny(effective, ReasonForbidden, fmt.Sprintf("role may not invoke action %q", req.Action))
	}

	if effective == ModeAutonomous {
		now := g.now()
		if !g.schedule.Contains(now) {
			return deny(effective, ReasonOutOfSchedule, "unattended execution is outside the allowed schedule")
		}
		res := g.limiter.TryConsume(req.Tenant, now)
		if !res.Allowed {
			d := deny(effective, ReasonRateLimit, "hourly unattended action budget exhausted")
			d.ResetAt = res.ResetAt
			return d
		}
		// carry the remaining budget through on success
		if req.HighRisk {
			return g.checkConsent(ctx, req, effective, res)
		}
		return Decision{Outcome: OutcomeProceed, EffectiveMode: effective, Remaining: res.Remaining, ResetAt: res.ResetAt}
	}

	if req.HighRisk {
		return g.checkConsent(ctx, req, effective, Reservation{})
	}
	return Decision{Outcome: OutcomeProceed, EffectiveMode: effective}
}

func (g *Gate) checkConsent(ctx context.Context, req Request, effective Mode, res Reservation) Decision {
	if req.ConsentID == "" {
		return Decision{
			Outcome:       OutcomeConsentRequired,
			Reason:        ReasonConsentRequired,
			Message:       "this action requires explicit human consent",
			EffectiveMode: effective,
			Operation: &Operation{
				Type:        req.ActionType,
				Description: req.Description,
				Details:     req.Details,
			},
		}
	}

	record, err := g.consents.Get(ctx, req.Tenant, req.ConsentID)
	if err != nil {
		return deny(effective, ReasonConsentNotFound, "unknown consent id")
	}
	// A consent authorizes the one operation it was issued for. Checked
	// before the status switch so an executed consent for another operation
	// can never be replayed into this one.
	if record.ActionType != req.ActionType {
		return deny(effective, ReasonConsentNotFound, "consent was issued for a different operation")
	}
	switch record.Status {
	case consent.StatusExpired:
		return deny(effective, ReasonConsentExpired, "consent request has expired")
	case consent.StatusRejected:
		return deny(effective, ReasonConsentTerminal, "consent request was rejected")
	case consent.StatusExecuted:
		return Decision{Outcome: OutcomeProceed, EffectiveMode: effective, Remaining: res.Remaining, ResetAt: res.ResetAt, Replay: true}
	}
	return Decision{Outcome: OutcomeProceed, EffectiveMode: effective, Remaining: res.Remaining, ResetAt: res.ResetAt}
}

func deny(effective Mode, reason Reason, msg string) Decision {
	return Decision{
		Outcome:       OutcomeDenied,
		Reason:        reason,
		Message:       msg,
		EffectiveMode: effective,
	}
}
