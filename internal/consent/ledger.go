package consent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/Malilyqueen/max-crm-sub003/internal/ids"
	"github.com/Malilyqueen/max-crm-sub003/internal/obs"
)

// InMemory implements Ledger with in-process concurrency safety.
// NOTE: consent state should be durable in production (a crash mid-approval
// loses pending consents); see the Postgres implementation in store/pg.
type InMemory struct {
	mu      sync.Mutex
	entries map[string]*record
	ttl     time.Duration
	now     func() time.Time
}

type record struct {
	req Request
	// done is non-nil while a runner is in flight; concurrent Execute calls
	// wait on it instead of invoking the runner a second time.
	done chan struct{}
}

// Option configures the in-memory ledger.
type Option func(*InMemory)

// WithTTL overrides the default consent TTL.
func WithTTL(ttl time.Duration) Option {
	return func(l *InMemory) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *InMemory) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewInMemory creates an empty ledger.
func NewInMemory(opts ...Option) *InMemory {
	l := &InMemory{
		entries: make(map[string]*record),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ Ledger = (*InMemory)(nil)

func (l *InMemory) Request(ctx context.Context, tenant, actionType, description string, details map[string]any) (Request, error) {
	tenant = strings.TrimSpace(tenant)
	actionType = strings.TrimSpace(actionType)
	if tenant == "" || actionType == "" {
		return Request{}, ErrInvalidInput
	}

	now := l.now().UTC()
	req := Request{
		ID:          ids.NewConsentID(),
		Tenant:      tenant,
		ActionType:  actionType,
		Description: strings.TrimSpace(description),
		Details:     copyDetails(details),
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(l.ttl),
	}

	l.mu.Lock()
	l.entries[req.ID] = &record{req: req}
	l.mu.Unlock()

	obs.ObserveConsentTransition(string(StatusPending))
	return req, nil
}

func (l *InMemory) Get(ctx context.Context, tenant, id string) (Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.lookup(tenant, id)
	if err != nil {
		return Request{}, err
	}
	l.expireIfDue(rec)
	return rec.req, nil
}

func (l *InMemory) Approve(ctx context.Context, tenant, id string) (Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.lookup(tenant, id)
	if err != nil {
		return Request{}, err
	}
	if l.expireIfDue(rec) {
		return rec.req, ErrExpired
	}
	if rec.req.Status != StatusPending {
		return rec.req, ErrTerminal
	}
	l.transition(rec, StatusApproved)
	return rec.req, nil
}

func (l *InMemory) Reject(ctx context.Context, tenant, id string) (Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.lookup(tenant, id)
	if err != nil {
		return Request{}, err
	}
	if l.expireIfDue(rec) {
		return rec.req, ErrExpired
	}
	if rec.req.Status != StatusPending {
		return rec.req, ErrTerminal
	}
	l.transition(rec, StatusRejected)
	return rec.req, nil
}

func (l *InMemory) Execute(ctx context.Context, tenant, id string, run Runner) (json.RawMessage, bool, error) {
	l.mu.Lock()
	rec, err := l.lookup(tenant, id)
	if err != nil {
		l.mu.Unlock()
		return nil, false, err
	}

	for rec.done != nil {
		// Another call is mid-execution; wait for it and report its outcome.
		ch := rec.done
		l.mu.Unlock()
		<-ch
		l.mu.Lock()
	}

	if l.expireIfDue(rec) {
		l.mu.Unlock()
		return nil, false, ErrExpired
	}
	switch rec.req.Status {
	case StatusExecuted:
		payload := rec.req.Result
		l.mu.Unlock()
		return payload, true, nil
	case StatusRejected, StatusExpired:
		l.mu.Unlock()
		return nil, false, ErrTerminal
	}

	// Claim execution before releasing the lock so the runner is invoked
	// exactly once for this request.
	ch := make(chan struct{})
	rec.done = ch
	l.mu.Unlock()

	payload, runErr := run(ctx)

	l.mu.Lock()
	rec.done = nil
	if runErr == nil {
		rec.req.Result = payload
		l.transition(rec, StatusExecuted)
	}
	close(ch)
	l.mu.Unlock()

	if runErr != nil {
		// The request stays actionable: the caller may retry inside the TTL.
		return nil, false, runErr
	}
	return payload, false, nil
}

// lookup is tenant-scoped: an id belonging to another tenant is reported as
// unknown rather than forbidden, so ids do not leak across tenants.
func (l *InMemory) lookup(tenant, id string) (*record, error) {
	rec, ok := l.entries[strings.TrimSpace(id)]
	if !ok || rec.req.Tenant != strings.TrimSpace(tenant) {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (l *InMemory) expireIfDue(rec *record) bool {
	if rec.req.Status == StatusExpired {
		return true
	}
	if rec.req.Status.Terminal() {
		return false
	}
	if l.now().After(rec.req.ExpiresAt) {
		l.transition(rec, StatusExpired)
		return true
	}
	return false
}

func (l *InMemory) transition(rec *record, target Status) {
	if !rec.req.Status.CanTransition(target) {
		return
	}
	rec.req.Status = target
	obs.ObserveConsentTransition(string(target))
}

func copyDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}
