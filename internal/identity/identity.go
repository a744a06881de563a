package identity

import "strings"

// Role classifies a caller for permission checks.
type Role string

const (
	RoleAnnotator  Role = "annotator"
	RoleReviewer   Role = "reviewer"
	RoleOpsManager Role = "ops_manager"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

var allRoles = []Role{
	RoleAnnotator,
	RoleReviewer,
	RoleOpsManager,
	RoleAdmin,
	RoleSuperAdmin,
}

var roleSet = func() map[Role]struct{} {
	set := make(map[Role]struct{}, len(allRoles))
	for _, role := range allRoles {
		set[role] = struct{}{}
	}
	return set
}()

// opsRoles bypass roster and ownership checks.
var opsRoles = map[Role]struct{}{
	RoleOpsManager: {},
	RoleAdmin:      {},
	RoleSuperAdmin: {},
}

// ParseRole converts a string into a known Role.
func ParseRole(value string) (Role, bool) {
	normalized := Role(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := roleSet[normalized]
	return normalized, ok
}

// AllRoles returns the ordered list of known roles.
func AllRoles() []Role {
	cp := make([]Role, len(allRoles))
	copy(cp, allRoles)
	return cp
}

// Actor is the identity a caller presents to the services. The user directory
// is an external collaborator; id and role are all the core consumes.
type Actor struct {
	ID   int64
	Role Role
	Name string
}

// IsOps reports whether the actor holds an operations-tier role.
func (a Actor) IsOps() bool {
	_, ok := opsRoles[a.Role]
	return ok
}

// CanAnnotate reports whether the actor may hold annotation work at all.
// Roster membership is checked separately against the project.
func (a Actor) CanAnnotate() bool {
	return a.Role == RoleAnnotator || a.IsOps()
}

// CanReview reports whether the actor may act on the review queue.
func (a Actor) CanReview() bool {
	return a.Role == RoleReviewer || a.IsOps()
}
