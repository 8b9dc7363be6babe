package auth

// Role is the closed set of roles an account may hold. The zero value,
// RoleNone, stands for an absent or unrecognised role claim.
type Role uint8

const (
	RoleNone Role = iota
	RoleMember
	RoleLeader
	RoleAdmin
	RoleSuperLeader
)

// Roles lists every assignable role from most to least privileged.
var Roles = []Role{RoleSuperLeader, RoleAdmin, RoleLeader, RoleMember}

var roleNames = map[Role]string{
	RoleMember:      "member",
	RoleLeader:      "leader",
	RoleAdmin:       "admin",
	RoleSuperLeader: "super_leader",
}

// ParseRole maps a claim value to a Role. Matching is exact: claims are
// compared byte for byte and anything else yields RoleNone and false.
func ParseRole(s string) (Role, bool) {
	for r, name := range roleNames {
		if name == s {
			return r, true
		}
	}
	return RoleNone, false
}

// String returns the claim value of r, or "" for RoleNone.
func (r Role) String() string {
	return roleNames[r]
}

// Valid reports whether r is an assignable role.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// CanManageUsers reports whether r may list and inspect other users' profiles.
func (r Role) CanManageUsers() bool {
	switch r {
	case RoleLeader, RoleAdmin, RoleSuperLeader:
		return true
	default:
		return false
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	*r, _ = ParseRole(string(text))
	return nil
}
