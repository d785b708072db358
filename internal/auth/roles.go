package auth

// Role is the closed set of per-academy roles stored in user_roles.
type Role string

const (
	RoleAcademyAdmin   Role = "academia_admin"
	RoleAcademyManager Role = "academia_gestor"
	RoleFrontDesk      Role = "portaria"
	RoleAthlete        Role = "atleta"
	RoleUnknown        Role = ""
)

// ParseRole maps a stored role string onto the closed enumeration.
// Unrecognised values become RoleUnknown and carry no permissions.
func ParseRole(raw string) Role {
	switch Role(raw) {
	case RoleAcademyAdmin, RoleAcademyManager, RoleFrontDesk, RoleAthlete:
		return Role(raw)
	default:
		return RoleUnknown
	}
}

// Permission names a capability a role may hold at an academy.
type Permission string

const (
	PermManualCheckin  Permission = "checkin.manual"
	PermViewAttendance Permission = "attendance.view"
)

var rolePermissions = map[Role]map[Permission]struct{}{
	RoleAcademyAdmin: {
		PermManualCheckin:  {},
		PermViewAttendance: {},
	},
	RoleAcademyManager: {
		PermManualCheckin:  {},
		PermViewAttendance: {},
	},
	RoleFrontDesk: {
		PermViewAttendance: {},
	},
	RoleAthlete: {},
}

// Can reports whether the role holds the permission.
func (r Role) Can(p Permission) bool {
	perms, ok := rolePermissions[r]
	if !ok {
		return false
	}
	_, ok = perms[p]
	return ok
}
