package auth

// Role grants access to groups of endpoints.
type Role string

const (
	// RoleAdmin manages nodes and may use private nodes
	RoleAdmin Role = "admin"

	// RoleUser may generate and manage their own credentials
	RoleUser Role = "user"
)

func (r Role) String() string {
	return string(r)
}

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleUser:
		return true
	default:
		return false
	}
}

// HasPermission reports whether r satisfies required. Admin satisfies
// every role.
func (r Role) HasPermission(required Role) bool {
	if r == RoleAdmin {
		return true
	}
	return r == required
}
