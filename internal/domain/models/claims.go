package models

import (
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of the identity provider's token claims the portal relies on.
// Claims 是门户依赖的身份提供方令牌声明子集。
type Claims struct {
	// Subject is the stable user identifier (sub).
	// Subject 是稳定的用户标识符 (sub)。
	Subject string `json:"sub"`

	// PreferredUsername is the login name.
	// PreferredUsername 是登录名。
	PreferredUsername string `json:"preferred_username,omitempty"`

	// Name is the display name.
	// Name 是显示名称。
	Name string `json:"name,omitempty"`

	// Email is the user's e-mail address.
	// Email 是用户的电子邮件地址。
	Email string `json:"email,omitempty"`

	// RealmRoles are the realm-level roles (realm_access.roles).
	// RealmRoles 是领域级角色 (realm_access.roles)。
	RealmRoles []string `json:"realm_roles,omitempty"`

	// ClientRoles are the per-client roles (resource_access.<client>.roles).
	// ClientRoles 是按客户端划分的角色 (resource_access.<client>.roles)。
	ClientRoles map[string][]string `json:"client_roles,omitempty"`

	// IssuedAt is the iat claim.
	// IssuedAt 是 iat 声明。
	IssuedAt time.Time `json:"iat,omitempty"`

	// ExpiresAt is the exp claim; zero if the token carries none.
	// ExpiresAt 是 exp 声明；令牌未携带时为零值。
	ExpiresAt time.Time `json:"exp,omitempty"`
}

// keycloakClaims mirrors the provider's access token layout.
type keycloakClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
}

// ParseClaims decodes the payload of a JWT without verifying its signature.
// The gateway only reads tokens it received directly from the provider's token endpoint;
// the ID token is verified separately at login.
func ParseClaims(token string) (*Claims, error) {
	var kc keycloakClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &kc); err != nil {
		return nil, err
	}

	c := &Claims{
		Subject:           kc.Subject,
		PreferredUsername: kc.PreferredUsername,
		Name:              kc.Name,
		Email:             kc.Email,
		RealmRoles:        kc.RealmAccess.Roles,
	}
	if kc.IssuedAt != nil {
		c.IssuedAt = kc.IssuedAt.Time
	}
	if kc.ExpiresAt != nil {
		c.ExpiresAt = kc.ExpiresAt.Time
	}
	if len(kc.ResourceAccess) > 0 {
		c.ClientRoles = make(map[string][]string, len(kc.ResourceAccess))
		for client, access := range kc.ResourceAccess {
			c.ClientRoles[client] = access.Roles
		}
	}

	return c, nil
}

// MergeProfile fills empty profile fields from other, typically the ID token's claims.
func (c *Claims) MergeProfile(other *Claims) {
	if other == nil || (c.Subject != "" && other.Subject != "" && c.Subject != other.Subject) {
		return
	}
	if c.Subject == "" {
		c.Subject = other.Subject
	}
	if c.PreferredUsername == "" {
		c.PreferredUsername = other.PreferredUsername
	}
	if c.Name == "" {
		c.Name = other.Name
	}
	if c.Email == "" {
		c.Email = other.Email
	}
}

// AllRoles returns realm and client roles without duplicates, realm roles first.
func (c *Claims) AllRoles() []string {
	seen := make(map[string]struct{})
	var roles []string
	add := func(r string) {
		if _, ok := seen[r]; ok || r == "" {
			return
		}
		seen[r] = struct{}{}
		roles = append(roles, r)
	}

	for _, r := range c.RealmRoles {
		add(r)
	}
	for _, client := range sortedKeys(c.ClientRoles) {
		for _, r := range c.ClientRoles[client] {
			add(r)
		}
	}
	return roles
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
