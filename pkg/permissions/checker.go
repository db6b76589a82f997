// Package permissions checks permission strings carried in caller tokens
// with support for wildcards.
//
// Permission Format:
//   - "*" - Full access (all permissions)
//   - "resource.*" - All actions on a resource (e.g., "inventory.*")
//   - "resource.action" - Specific action (e.g., "inventory.adjust")
package permissions

import (
	"strings"
)

// Inventory permissions understood by the service.
const (
	InventoryRead     = "inventory.read"
	InventoryWrite    = "inventory.write"
	InventoryAdjust   = "inventory.adjust"
	InventoryTransfer = "inventory.transfer"
	// InventoryAdmin grants the elevated flag: count corrections, restorations
	// and cross-branch access.
	InventoryAdmin = "inventory.admin"
)

// HasPermission checks if the user's permissions include the required permission.
// Supports wildcard matching:
//   - "*" matches everything
//   - "inventory.*" matches "inventory.read", "inventory.admin", etc.
//   - Exact match for specific permissions
func HasPermission(userPerms []string, required string) bool {
	if required == "" {
		return true
	}

	for _, p := range userPerms {
		if p == "*" || p == required {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}

// IsElevated reports whether the permission set carries the given elevated
// permission (defaults to InventoryAdmin when empty).
func IsElevated(userPerms []string, elevatedPermission string) bool {
	if elevatedPermission == "" {
		elevatedPermission = InventoryAdmin
	}
	return HasPermission(userPerms, elevatedPermission)
}
