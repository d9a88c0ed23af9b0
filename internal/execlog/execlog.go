package execlog

import (
	"context"
	"errors"
	"time"
)

// Status is the final outcome of a gated action run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// Valid reports whether s is one of the final statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusPartial, StatusError:
		return true
	}
	return false
}

// SampleIDCap bounds how many affected-record ids one entry keeps. An operator
// needs a handful to spot-check, not the full set.
const SampleIDCap = 10

// DefaultListLimit bounds List when the caller does not supply a limit.
const DefaultListLimit = 200

// Entry records one attempted action from start to completion. Once finished
// it is immutable.
type Entry struct {
	ID         string         `json:"id"`
	Tenant     string         `json:"tenant"`
	Task       string         `json:"task"`
	Type       string         `json:"type"`
	Status     Status         `json:"status,omitempty"`
	Updated    int            `json:"updated"`
	Errors     int            `json:"errors"`
	Params     map[string]any `json:"params,omitempty"`
	SampleIDs  []string       `json:"sample_ids,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Finished reports whether the entry has been finalized.
func (e Entry) Finished() bool {
	return e.FinishedAt != nil
}

// Result carries the completion data for Finish.
type Result struct {
	Status    Status
	Updated   int
	Errors    int
	SampleIDs []string
}

// ListOptions narrows List output. Zero values mean "default limit, no time
// filter".
type ListOptions struct {
	Tenant string
	Limit  int
	// Since excludes entries started before this instant when non-zero.
	Since time.Time
}

var (
	ErrNotFound        = errors.New("execlog: entry not found")
	ErrAlreadyFinished = errors.New("execlog: entry already finished")
	ErrInvalidStatus   = errors.New("execlog: invalid status")
	ErrInvalidInput    = errors.New("execlog: invalid input")
)

// Log is the append-only record of what the agent actually did. Start opens
// an entry before the action runs so even a crash mid-action leaves a trace;
// Finish seals it exactly once.
type Log interface {
	Start(ctx context.Context, tenant, task, typ string, params map[string]any) (string, error)
	Finish(ctx context.Context, id string, res Result) (Entry, error)
	List(ctx context.Context, opts ListOptions) ([]Entry, error)
}
