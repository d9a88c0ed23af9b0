package crm

import (
	"context"
	"errors"
	"time"
)

// Lead is the subset of a CRM contact record the agent actions operate on.
type Lead struct {
	ID           string    `json:"id"`
	Tenant       string    `json:"tenant"`
	Name         string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

// CustomField describes a schema-level field to add to the lead object.
// Creating one is a high-risk operation: it changes the data model for the
// whole tenant.
type CustomField struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // text, number, date, bool
}

// LeadFilter narrows ListLeads. Zero values mean "no constraint".
type LeadFilter struct {
	Tag          string
	InactiveDays int
	Limit        int
}

var (
	ErrUnavailable = errors.New("crm: upstream unavailable")
	ErrNotFound    = errors.New("crm: not found")
)

// Client is the outbound CRM surface. Every method is a real side effect
// against the tenant's CRM, which is why all callers must pass the gate
// before invoking any of the mutating ones.
type Client interface {
	ListLeads(ctx context.Context, tenant string, filter LeadFilter) ([]Lead, error)
	TagLeads(ctx context.Context, tenant string, leadIDs []string, tag string) (int, error)
	// DeleteTag removes the tag from every lead carrying it and returns the
	// affected lead ids.
	DeleteTag(ctx context.Context, tenant, tag string) ([]string, error)
	SendFollowUp(ctx context.Context, tenant, leadID, template string) error
	CreateCustomField(ctx context.Context, tenant string, field CustomField) (string, error)
}
