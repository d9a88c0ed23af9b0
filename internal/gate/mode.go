package gate

import (
	"fmt"
	"strings"
	"sync"
)

// Mode is the operating mode controlling whether mutating calls are rejected,
// require a human, or may run unattended. Ordering matters: a larger value is
// strictly more permissive.
type Mode int

const (
	ModeReadOnly Mode = iota
	ModeAssisted
	ModeAutonomous
)

func (m Mode) String() string {
	switch m {
	case ModeReadOnly:
		return "read-only"
	case ModeAssisted:
		return "assisted"
	case ModeAutonomous:
		return "autonomous"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps wire values to modes. "ro" is the abbreviation the agent
// tooling sends.
func ParseMode(raw string) (Mode, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "ro", "read-only", "readonly":
		return ModeReadOnly, nil
	case "assisted":
		return ModeAssisted, nil
	case "autonomous":
		return ModeAutonomous, nil
	}
	return ModeReadOnly, fmt.Errorf("%w: unknown mode %q", ErrBadMode, raw)
}

// Effective reconciles a request-level mode with the global policy. The
// result is never more permissive than either input: a caller may always
// downgrade its own request, and the global mode caps everything.
func Effective(requested, global Mode) Mode {
	if requested < global {
		return requested
	}
	return global
}

// ModePolicy holds the global operating mode. Only an admin caller may change
// it (enforced at the API boundary); reads happen on every request.
type ModePolicy struct {
	mu     sync.RWMutex
	global Mode
}

// NewModePolicy starts with the given global mode. Read-only is the safe
// default: escalation is an explicit admin act.
func NewModePolicy(initial Mode) *ModePolicy {
	return &ModePolicy{global: initial}
}

// Global returns the current global mode.
func (p *ModePolicy) Global() Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.global
}

// SetGlobal replaces the global mode.
func (p *ModePolicy) SetGlobal(m Mode) {
	p.mu.Lock()
	p.global = m
	p.mu.Unlock()
}
