package consent

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a consent request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusExecuted Status = "executed"
	StatusExpired  Status = "expired"
	StatusRejected Status = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusExpired, StatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to target is a legal transition.
// The full transition set: pending -> approved|executed|expired|rejected,
// approved -> executed|expired. Terminal states never re-open.
func (s Status) CanTransition(target Status) bool {
	switch s {
	case StatusPending:
		switch target {
		case StatusApproved, StatusExecuted, StatusExpired, StatusRejected:
			return true
		}
	case StatusApproved:
		switch target {
		case StatusExecuted, StatusExpired:
			return true
		}
	}
	return false
}

// DefaultTTL bounds how long a consent request stays actionable.
const DefaultTTL = 15 * time.Minute

// Request is a time-boxed, single-use authorization for one fully-described
// high-risk operation.
type Request struct {
	ID          string          `json:"id"`
	Tenant      string          `json:"tenant"`
	ActionType  string          `json:"action_type"`
	Description string          `json:"description,omitempty"`
	Details     map[string]any  `json:"details,omitempty"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Runner executes the underlying mutation once consent checks pass. The
// returned payload is stored with the request so replays can return it
// without re-running the mutation.
type Runner func(ctx context.Context) (json.RawMessage, error)

var (
	ErrNotFound     = errors.New("consent: not found")
	ErrExpired      = errors.New("consent: expired")
	ErrTerminal     = errors.New("consent: already terminal")
	ErrInvalidInput = errors.New("consent: invalid input")
)

// Ledger is the single source of truth for "has a human agreed to this
// specific operation". Implementations must make every transition atomic per
// consent id.
type Ledger interface {
	// Request creates a new pending entry with a fresh TTL.
	Request(ctx context.Context, tenant, actionType, description string, details map[string]any) (Request, error)
	// Get returns the request, flipping it to expired first when its TTL has
	// elapsed. Reads are tenant-scoped: a foreign tenant sees ErrNotFound.
	Get(ctx context.Context, tenant, id string) (Request, error)
	// Approve transitions pending -> approved.
	Approve(ctx context.Context, tenant, id string) (Request, error)
	// Reject transitions pending -> rejected.
	Reject(ctx context.Context, tenant, id string) (Request, error)
	// Execute runs the mutation for a pending or approved request and
	// transitions it to executed. A second call on an executed request
	// returns the stored payload with replayed=true and never re-invokes the
	// runner.
	Execute(ctx context.Context, tenant, id string, run Runner) (payload json.RawMessage, replayed bool, err error)
}
