package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RolePatient   = "patient"
	RolePhysician = "physician"
	RoleStaff     = "staff"
	RoleAgent     = "agent"
	RoleAdmin     = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// IsParticipantRole reports whether the role can be a party to a consultation.
func IsParticipantRole(role string) bool {
	return role == RolePatient || role == RolePhysician
}
