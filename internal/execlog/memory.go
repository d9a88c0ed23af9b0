package execlog

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Malilyqueen/max-crm-sub003/internal/ids"
)

// InMemory implements Log for tests and single-node development runs. The
// durable Postgres implementation lives in store/pg.
type InMemory struct {
	mu      sync.Mutex
	entries []*Entry
	index   map[string]*Entry
	now     func() time.Time
}

// Option configures the in-memory log.
type Option func(*InMemory)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *InMemory) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewInMemory creates an empty log.
func NewInMemory(opts ...Option) *InMemory {
	l := &InMemory{
		index: make(map[string]*Entry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ Log = (*InMemory)(nil)

func (l *InMemory) Start(ctx context.Context, tenant, task, typ string, params map[string]any) (string, error) {
	tenant = strings.TrimSpace(tenant)
	task = strings.TrimSpace(task)
	if tenant == "" || task == "" {
		return "", ErrInvalidInput
	}

	e := &Entry{
		ID:        ids.New(),
		Tenant:    tenant,
		Task:      task,
		Type:      strings.TrimSpace(typ),
		Params:    copyParams(params),
		StartedAt: l.now().UTC(),
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.index[e.ID] = e
	l.mu.Unlock()

	return e.ID, nil
}

func (l *InMemory) Finish(ctx context.Context, id string, res Result) (Entry, error) {
	if !res.Status.Valid() {
		return Entry{}, ErrInvalidStatus
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.index[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if e.Finished() {
		return *e, ErrAlreadyFinished
	}

	e.Status = res.Status
	e.Updated = res.Updated
	e.Errors = res.Errors
	e.SampleIDs = CapSamples(res.SampleIDs)
	at := l.now().UTC()
	e.FinishedAt = &at

	return *e, nil
}

func (l *InMemory) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, limit)
	// entries are appended in start order; walk backwards for most recent first
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := l.entries[i]
		if opts.Tenant != "" && e.Tenant != opts.Tenant {
			continue
		}
		if !opts.Since.IsZero() && e.StartedAt.Before(opts.Since) {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

// CapSamples truncates a sample-id slice to SampleIDCap, copying so callers
// cannot mutate stored state afterwards.
func CapSamples(samples []string) []string {
	if len(samples) == 0 {
		return nil
	}
	if len(samples) > SampleIDCap {
		samples = samples[:SampleIDCap]
	}
	out := make([]string, len(samples))
	copy(out, samples)
	return out
}

func copyParams(params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
