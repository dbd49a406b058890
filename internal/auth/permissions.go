package auth

// Role is the authorisation tier carried in a token.
type Role string

const (
	// RoleViewer can read statistics and dead letters.
	RoleViewer Role = "viewer"

	// RoleOperator can also replay and delete dead letters.
	RoleOperator Role = "operator"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// Permission represents a named capability in the API.
type Permission string

// Permission constants.
const (
	PermStatsRead        Permission = "stats:read"
	PermDeadLetterRead   Permission = "deadletter:read"
	PermDeadLetterManage Permission = "deadletter:manage"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermStatsRead,
		PermDeadLetterRead,
	},
	RoleOperator: {
		PermStatsRead,
		PermDeadLetterRead,
		PermDeadLetterManage,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
