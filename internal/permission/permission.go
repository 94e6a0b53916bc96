// Package permission answers role, permission and group admin checks for
// scenario actions.
package permission

import (
	"context"
	"slices"
	"strconv"

	"github.com/alekspetrov/scenarist/internal/config"
)

// Checker is the access capability consulted by the chain builder.
type Checker interface {
	HasRole(ctx context.Context, userID int64, role string) (bool, error)
	HasPermission(ctx context.Context, userID int64, perm string) (bool, error)
	IsGroupAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// SettingsChecker answers checks from the permissions section of the
// settings. A user has a permission when any of their roles grants it.
type SettingsChecker struct {
	roles           map[string][]int64
	rolePermissions map[string][]string
	groupAdmins     map[int64][]int64
}

// NewSettingsChecker returns nil when cfg is nil, meaning the capability is
// absent.
func NewSettingsChecker(cfg *config.PermissionsConfig) *SettingsChecker {
	if cfg == nil {
		return nil
	}
	c := &SettingsChecker{
		roles:           cfg.Roles,
		rolePermissions: cfg.RolePermissions,
		groupAdmins:     make(map[int64][]int64, len(cfg.GroupAdmins)),
	}
	for chat, admins := range cfg.GroupAdmins {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			continue
		}
		c.groupAdmins[id] = admins
	}
	return c
}

// HasRole reports whether userID is listed under role.
func (c *SettingsChecker) HasRole(_ context.Context, userID int64, role string) (bool, error) {
	return slices.Contains(c.roles[role], userID), nil
}

// HasPermission reports whether any role of userID grants perm.
func (c *SettingsChecker) HasPermission(_ context.Context, userID int64, perm string) (bool, error) {
	for role, users := range c.roles {
		if slices.Contains(users, userID) && slices.Contains(c.rolePermissions[role], perm) {
			return true, nil
		}
	}
	return false, nil
}

// IsGroupAdmin reports whether userID administers chatID.
func (c *SettingsChecker) IsGroupAdmin(_ context.Context, chatID, userID int64) (bool, error) {
	return slices.Contains(c.groupAdmins[chatID], userID), nil
}

// Roles returns the roles held by userID.
func (c *SettingsChecker) Roles(userID int64) []string {
	var out []string
	for role, users := range c.roles {
		if slices.Contains(users, userID) {
			out = append(out, role)
		}
	}
	slices.Sort(out)
	return out
}
