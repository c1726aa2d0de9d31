package enums

import (
	"slices"
	"strings"
)

// Role is the dashboard role a signed-in user acts as.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleChair Role = "chair"
	RolePress Role = "press"
)

// DefaultRole is used when neither the payload nor the page has reported a role.
const DefaultRole = RoleAdmin

var roles = newSet("role", RoleAdmin, RoleChair, RolePress)

func (r Role) String() string { return string(r) }

func (r Role) IsValid() bool { return roles.has(r) }

// ParseRole is case-insensitive and ignores surrounding whitespace.
func ParseRole(value string) (Role, error) {
	return roles.parse(strings.ToLower(strings.TrimSpace(value)))
}

// Roles returns every known role.
func Roles() []Role {
	return slices.Clone(roles.values)
}
