package auth

// CanCreate reports whether a caller holding caller may create an account
// with role requested. Anything outside the hierarchy is denied.
//
//	super_leader -> super_leader, admin, leader, member
//	admin        -> leader, member
//	leader       -> member
func CanCreate(caller, requested Role) bool {
	switch caller {
	case RoleSuperLeader:
		return requested.Valid()
	case RoleAdmin:
		return requested == RoleLeader || requested == RoleMember
	case RoleLeader:
		return requested == RoleMember
	default:
		return false
	}
}

// AssignableRoles returns the roles caller may create, most privileged first.
func AssignableRoles(caller Role) []Role {
	var out []Role
	for _, r := range Roles {
		if CanCreate(caller, r) {
			out = append(out, r)
		}
	}
	return out
}
