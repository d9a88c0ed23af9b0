package crm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// InMemory is a self-contained CRM fake used by tests, the simulator and dev
// runs without a real CRM behind them.
type InMemory struct {
	mu     sync.Mutex
	leads  map[string]map[string]*Lead // tenant -> id -> lead
	fields map[string][]CustomField    // tenant -> fields
	nextID int
	sends  []FollowUp
	now    func() time.Time
}

// FollowUp records one SendFollowUp call for assertions.
type FollowUp struct {
	Tenant   string
	LeadID   string
	Template string
}

// Option configures the fake CRM.
type Option func(*InMemory)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *InMemory) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewInMemory creates an empty fake CRM.
func NewInMemory(opts ...Option) *InMemory {
	c := &InMemory{
		leads:  make(map[string]map[string]*Lead),
		fields: make(map[string][]CustomField),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Client = (*InMemory)(nil)

// Seed adds a lead, assigning an id when none is set.
func (c *InMemory) Seed(tenant string, lead Lead) Lead {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lead.ID == "" {
		c.nextID++
		lead.ID = fmt.Sprintf("lead_%d", c.nextID)
	}
	lead.Tenant = tenant
	if c.leads[tenant] == nil {
		c.leads[tenant] = make(map[string]*Lead)
	}
	stored := lead
	c.leads[tenant][lead.ID] = &stored
	return lead
}

// Sent returns a copy of every follow-up recorded so far.
func (c *InMemory) Sent() []FollowUp {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FollowUp, len(c.sends))
	copy(out, c.sends)
	return out
}

// Fields returns the custom fields created for a tenant.
func (c *InMemory) Fields(tenant string) []CustomField {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CustomField, len(c.fields[tenant]))
	copy(out, c.fields[tenant])
	return out
}

func (c *InMemory) ListLeads(ctx context.Context, tenant string, filter LeadFilter) ([]Lead, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Lead
	cutoff := time.Time{}
	if filter.InactiveDays > 0 {
		cutoff = c.now().AddDate(0, 0, -filter.InactiveDays)
	}
	for _, lead := range c.leads[tenant] {
		if filter.Tag != "" && !hasTag(lead, filter.Tag) {
			continue
		}
		if !cutoff.IsZero() && lead.LastActivity.After(cutoff) {
			continue
		}
		out = append(out, *lead)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (c *InMemory) TagLeads(ctx context.Context, tenant string, leadIDs []string, tag string) (int, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return 0, fmt.Errorf("crm: empty tag")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	updated := 0
	for _, id := range leadIDs {
		lead, ok := c.leads[tenant][id]
		if !ok {
			continue
		}
		if !hasTag(lead, tag) {
			lead.Tags = append(lead.Tags, tag)
		}
		updated++
	}
	return updated, nil
}

func (c *InMemory) DeleteTag(ctx context.Context, tenant, tag string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var affected []string
	for id, lead := range c.leads[tenant] {
		if !hasTag(lead, tag) {
			continue
		}
		kept := lead.Tags[:0]
		for _, t := range lead.Tags {
			if t != tag {
				kept = append(kept, t)
			}
		}
		lead.Tags = kept
		affected = append(affected, id)
	}
	return affected, nil
}

func (c *InMemory) SendFollowUp(ctx context.Context, tenant, leadID, template string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.leads[tenant][leadID]; !ok {
		return ErrNotFound
	}
	c.sends = append(c.sends, FollowUp{Tenant: tenant, LeadID: leadID, Template: template})
	return nil
}

func (c *InMemory) CreateCustomField(ctx context.Context, tenant string, field CustomField) (string, error) {
	if strings.TrimSpace(field.Name) == "" {
		return "", fmt.Errorf("crm: field name required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fields[tenant] = append(c.fields[tenant], field)
	return fmt.Sprintf("f_%s_%d", tenant, len(c.fields[tenant])), nil
}

func hasTag(lead *Lead, tag string) bool {
	for _, t := range lead.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
