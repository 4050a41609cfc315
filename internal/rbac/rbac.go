// Package rbac maps resolved playbook roles onto the operations they may perform.
package rbac

type Role string
type Operation string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	RoleNone   Role = "none"
)

const (
	OpRead             Operation = "read"
	OpEditStructure    Operation = "edit_structure"
	OpUpdateTask       Operation = "update_task"
	OpChangeVisibility Operation = "change_visibility"
	OpManageMembers    Operation = "manage_members"
	OpEditMetadata     Operation = "edit_metadata"
)

var ownerOnly = []Role{RoleOwner}

var policy = map[Operation][]Role{
	OpRead:             {RoleOwner, RoleEditor, RoleViewer},
	OpEditStructure:    {RoleOwner, RoleEditor},
	OpUpdateTask:       {RoleOwner, RoleEditor},
	OpChangeVisibility: ownerOnly,
	OpManageMembers:    ownerOnly,
	OpEditMetadata:     ownerOnly,
}

// Can reports whether role may perform op. Unknown operations and RoleNone are always denied.
func Can(role Role, op Operation) bool {
	for _, allowed := range policy[op] {
		if allowed == role {
			return true
		}
	}
	return false
}

// Allowed returns the roles permitted to perform op.
func Allowed(op Operation) []Role {
	roles := policy[op]
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// ParseMemberRole accepts the roles a direct membership row may carry.
func ParseMemberRole(role string) (Role, bool) {
	switch Role(role) {
	case RoleEditor, RoleViewer:
		return Role(role), true
	default:
		return "", false
	}
}
