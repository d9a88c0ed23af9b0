package gate

import "strings"

// Role identifies a caller's role. The set is closed: anything outside the
// matrix gets empty access.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
)

// Wildcard grants blanket access when present in a capability set.
const Wildcard = "*"

// Capability is the set of UI areas and unattended action codes a role may
// invoke.
type Capability struct {
	Areas   map[string]struct{}
	Actions map[string]struct{}
}

func newCapability(areas, actions []string) Capability {
	return Capability{Areas: toSet(areas), Actions: toSet(actions)}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

// Authority is the static capability matrix. Lookups are fail-closed: an
// unknown role, area or action code is always denied.
type Authority struct {
	matrix map[Role]Capability
}

// NewAuthority builds the default matrix. Admin has blanket access; manager
// drives the day-to-day agent actions; user is read-oriented.
func NewAuthority() *Authority {
	return NewAuthorityWith(map[Role]Capability{
		RoleAdmin: newCapability([]string{Wildcard}, []string{Wildcard}),
		RoleManager: newCapability(
			[]string{"leads", "tickets", "templates", "activity"},
			[]string{"relance-j3", "bulk-tag", "send-followup", "create_custom_field", "bulk_delete_tags"},
		),
		RoleUser: newCapability(
			[]string{"leads", "activity"},
			nil,
		),
	})
}

// NewAuthorityWith builds an authority over an explicit matrix.
func NewAuthorityWith(matrix map[Role]Capability) *Authority {
	if matrix == nil {
		matrix = map[Role]Capability{}
	}
	return &Authority{matrix: matrix}
}

// AllowsArea reports whether the role may open the named UI area.
func (a *Authority) AllowsArea(role Role, area string) bool {
	return a.allows(role, area, func(c Capability) map[string]struct{} { return c.Areas })
}

// AllowsAction reports whether the role may invoke the named action code.
func (a *Authority) AllowsAction(role Role, code string) bool {
	return a.allows(role, code, func(c Capability) map[string]struct{} { return c.Actions })
}

// AnyAllowsAction reports whether any of the caller's roles grants the action.
func (a *Authority) AnyAllowsAction(roles []Role, code string) bool {
	for _, role := range roles {
		if a.AllowsAction(role, code) {
			return true
		}
	}
	return false
}

func (a *Authority) allows(role Role, key string, pick func(Capability) map[string]struct{}) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	cap, ok := a.matrix[role]
	if !ok {
		return false
	}
	set := pick(cap)
	if _, ok := set[Wildcard]; ok {
		return true
	}
	_, ok = set[key]
	return ok
}
