package domain

import (
	"sort"
	"strings"
	"time"
)

// Permissions is a set of discrete capability flags.
type Permissions uint64

const (
	PermAccountsRead Permissions = 1 << iota
	PermAccountsWrite
	PermAccountsUnlock
	PermAccountsDelete
	PermAccountsSelf
	PermRolesManage
	PermTokensRevoke
	PermCodesIssue
)

// PermNone is the empty set.
const PermNone Permissions = 0

var permissionNames = map[Permissions]string{
	PermAccountsRead:   "accounts:read",
	PermAccountsWrite:  "accounts:write",
	PermAccountsUnlock: "accounts:unlock",
	PermAccountsDelete: "accounts:delete",
	PermAccountsSelf:   "accounts:self",
	PermRolesManage:    "roles:manage",
	PermTokensRevoke:   "tokens:revoke",
	PermCodesIssue:     "codes:issue",
}

// ParsePermission resolves a canonical permission name.
func ParsePermission(name string) (Permissions, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for flag, n := range permissionNames {
		if n == name {
			return flag, nil
		}
	}
	return PermNone, ErrUnknownPermission.WithDetail("permission", name)
}

// ParsePermissions resolves a list of names into a single set.
func ParsePermissions(names []string) (Permissions, error) {
	var set Permissions
	for _, name := range names {
		flag, err := ParsePermission(name)
		if err != nil {
			return PermNone, err
		}
		set |= flag
	}
	return set, nil
}

// Has reports whether every flag in required is present.
func (p Permissions) Has(required Permissions) bool {
	return p&required == required
}

// Union merges two sets.
func (p Permissions) Union(other Permissions) Permissions {
	return p | other
}

// Missing returns the flags of required not present in p.
func (p Permissions) Missing(required Permissions) Permissions {
	return required &^ p
}

// Names lists canonical names in sorted order.
func (p Permissions) Names() []string {
	names := make([]string, 0, len(permissionNames))
	for flag, name := range permissionNames {
		if p&flag != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (p Permissions) String() string {
	if p == PermNone {
		return "none"
	}
	return strings.Join(p.Names(), ",")
}

// Role is a named bundle of permissions.
type Role struct {
	ID          string
	Name        string
	Description *string
	Permissions Permissions
}

// RoleAssignment assigns a role to an account.
type RoleAssignment struct {
	AccountID  string
	RoleID     string
	AssignedAt time.Time
}

// EffectivePermissions is the union over roles. Order and duplicates do not matter.
func EffectivePermissions(roles []Role) Permissions {
	var set Permissions
	for _, r := range roles {
		set = set.Union(r.Permissions)
	}
	return set
}
