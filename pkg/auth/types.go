package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Role is the closed set of account roles
type Role string

const (
	RoleSuperUser         Role = "super-user"         // Platform operator, holds the wildcard
	RoleBusinessOwner     Role = "business-owner"     // Owns one organization
	RoleHRManager         Role = "hr-manager"
	RoleHODManager        Role = "hod-manager"
	RoleDepartmentManager Role = "department-manager"
	RoleReseller          Role = "reseller" // Sells subscriptions, earns commission
)

// Wildcard grants every permission
const Wildcard = "*"

var validRoles = map[Role]bool{
	RoleSuperUser:         true,
	RoleBusinessOwner:     true,
	RoleHRManager:         true,
	RoleHODManager:        true,
	RoleDepartmentManager: true,
	RoleReseller:          true,
}

// ParseRole converts a role id into a Role
func ParseRole(id string) (Role, error) {
	role := Role(strings.TrimSpace(id))
	if !validRoles[role] {
		return "", fmt.Errorf("unknown role: %q", id)
	}
	return role, nil
}

// IsSystem reports whether the role lives outside any organization partition
func (r Role) IsSystem() bool {
	return r == RoleSuperUser || r == RoleReseller
}

// NormalizeRole decodes a stored role that is either a bare string
// ("business-owner") or an object with an id field ({"id": "business-owner"}).
func NormalizeRole(raw json.RawMessage) (Role, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("role is missing")
	}

	switch raw[0] {
	case '"':
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", fmt.Errorf("invalid role string: %w", err)
		}
		return ParseRole(id)
	case '{':
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", fmt.Errorf("invalid role object: %w", err)
		}
		if obj.ID == "" {
			return "", fmt.Errorf("role object has no id")
		}
		return ParseRole(obj.ID)
	default:
		return "", fmt.Errorf("unsupported role encoding: %s", string(raw))
	}
}

// PermissionSet returns the sorted keys of a stored permission map
func PermissionSet(perms map[string]bool) []string {
	keys := make([]string, 0, len(perms))
	for k := range perms {
		if k == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// User is a user profile as stored in a root or organization partition
type User struct {
	ID             string          `json:"id"`
	Email          string          `json:"email"`
	Role           Role            `json:"role"`
	OrganizationID string          `json:"organizationId,omitempty"`
	Permissions    map[string]bool `json:"permissions,omitempty"`
	IsActive       bool            `json:"isActive"`
}

// Identity is an authenticated caller as asserted by the identity provider
type Identity struct {
	UID           string    `json:"uid"`
	Email         string    `json:"email,omitempty"`
	EmailVerified bool      `json:"emailVerified"`
	IssuedAt      time.Time `json:"issuedAt"`
}

// Claims is the published access-token claim set for a user
type Claims struct {
	Role           Role      `json:"role"`
	OrganizationID string    `json:"organizationId,omitempty"`
	Permissions    []string  `json:"permissions"`
	LastUpdated    time.Time `json:"lastUpdated"`
	ValidAfter     time.Time `json:"validAfter,omitempty"`
}

// ClaimsContext is a validated, cacheable view of a user's access rights
type ClaimsContext struct {
	UID            string    `json:"uid"`
	Email          string    `json:"email,omitempty"`
	Role           Role      `json:"role,omitempty"`
	OrganizationID string    `json:"organizationId,omitempty"`
	Permissions    []string  `json:"permissions"`
	IssuedAt       time.Time `json:"issuedAt"`
	ValidAfter     time.Time `json:"validAfter,omitempty"`
}

// HasPermission checks a single permission, honouring the wildcard
func (c *ClaimsContext) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == Wildcard || p == perm {
			return true
		}
	}
	return false
}

// HasAllPermissions checks that every requested permission is held
func (c *ClaimsContext) HasAllPermissions(perms []string) bool {
	for _, p := range perms {
		if !c.HasPermission(p) {
			return false
		}
	}
	return true
}

// Age returns how long ago the context was issued
func (c *ClaimsContext) Age(now time.Time) time.Duration {
	return now.Sub(c.IssuedAt)
}

// RevokesTokenIssuedAt reports whether a token issued at issuedAt predates the
// ValidAfter marker. JWT issued-at has second precision.
func (c *ClaimsContext) RevokesTokenIssuedAt(issuedAt time.Time) bool {
	return !c.ValidAfter.IsZero() && issuedAt.Before(c.ValidAfter.Truncate(time.Second))
}

// Clone returns a deep copy
func (c *ClaimsContext) Clone() *ClaimsContext {
	if c == nil {
		return nil
	}
	out := *c
	out.Permissions = append([]string(nil), c.Permissions...)
	return &out
}

// NewClaimsContext builds a context from published claims
func NewClaimsContext(uid, email string, claims *Claims, issuedAt time.Time) *ClaimsContext {
	return &ClaimsContext{
		UID:            uid,
		Email:          email,
		Role:           claims.Role,
		OrganizationID: claims.OrganizationID,
		Permissions:    append([]string(nil), claims.Permissions...),
		IssuedAt:       issuedAt,
		ValidAfter:     claims.ValidAfter,
	}
}
