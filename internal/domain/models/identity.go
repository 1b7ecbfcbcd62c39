package models

import (
	"github.com/turtacn/portal-gateway/pkg/constants"
)

// Identity is the read-only view of the current user derived from session claims.
// Identity 是从会话声明派生的当前用户只读视图。
type Identity struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Username string                 `json:"username"`
	Email    string                 `json:"email,omitempty"`
	Roles    []string               `json:"roles"`
	Kind     constants.IdentityKind `json:"kind"`
}

// IsStaff reports whether the identity was classified as staff.
func (i *Identity) IsStaff() bool {
	return i.Kind == constants.IdentityKindStaff
}

// HasRole reports an exact role match.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RolePolicy classifies identities by an exact allow-list of staff roles.
// RolePolicy 通过员工角色精确白名单对身份进行分类。
type RolePolicy struct {
	staff map[string]struct{}
}

// NewRolePolicy builds a policy; an empty list falls back to the default staff roles.
func NewRolePolicy(staffRoles []string) RolePolicy {
	if len(staffRoles) == 0 {
		staffRoles = constants.DefaultStaffRoles
	}
	staff := make(map[string]struct{}, len(staffRoles))
	for _, r := range staffRoles {
		staff[r] = struct{}{}
	}
	return RolePolicy{staff: staff}
}

// Classify returns staff if any role is in the allow-list, student otherwise.
func (p RolePolicy) Classify(roles []string) constants.IdentityKind {
	for _, r := range roles {
		if _, ok := p.staff[r]; ok {
			return constants.IdentityKindStaff
		}
	}
	return constants.IdentityKindStudent
}

// IdentityFromClaims derives an identity. It returns nil for nil claims.
func (p RolePolicy) IdentityFromClaims(c *Claims) *Identity {
	if c == nil {
		return nil
	}

	roles := c.AllRoles()
	if roles == nil {
		roles = []string{}
	}

	name := c.Name
	if name == "" {
		name = c.PreferredUsername
	}

	return &Identity{
		ID:       c.Subject,
		Name:     name,
		Username: c.PreferredUsername,
		Email:    c.Email,
		Roles:    roles,
		Kind:     p.Classify(roles),
	}
}
