package types

// UserRole represents the different staff roles in the hospital
type UserRole string

const (
	RoleAdmin         UserRole = "admin"
	RoleDoctor        UserRole = "doctor"
	RoleNurse         UserRole = "nurse"
	RoleReceptionist  UserRole = "receptionist"
	RoleLabTechnician UserRole = "lab_technician"
	RolePharmacist    UserRole = "pharmacist"
)

// Valid reports whether r is a known role
func (r UserRole) Valid() bool {
	_, ok := RolePermissions[r]
	return ok
}

// Permission names checked by the guarded API
const (
	PermManageUsers       = "manage_users"
	PermManageRoles       = "manage_roles"
	PermViewAll           = "view_all"
	PermEditAll           = "edit_all"
	PermViewPatients      = "view_patients"
	PermEditPatients      = "edit_patients"
	PermViewRecords       = "view_records"
	PermEditRecords       = "edit_records"
	PermViewAppointments  = "view_appointments"
	PermEditAppointments  = "edit_appointments"
	PermViewPrescriptions = "view_prescriptions"
	PermEditPrescriptions = "edit_prescriptions"
)

// RolePermissions is the default permission set granted to each role
var RolePermissions = map[UserRole][]string{
	RoleAdmin:         {PermManageUsers, PermManageRoles, PermViewAll, PermEditAll},
	RoleDoctor:        {PermViewPatients, PermEditPatients, PermViewRecords, PermEditRecords, PermViewAppointments, PermEditAppointments},
	RoleNurse:         {PermViewPatients, PermViewRecords, PermEditRecords, PermViewAppointments},
	RoleReceptionist:  {PermViewPatients, PermEditPatients, PermViewAppointments, PermEditAppointments},
	RoleLabTechnician: {PermViewPatients, PermViewRecords, PermEditRecords},
	RolePharmacist:    {PermViewPatients, PermViewRecords, PermViewPrescriptions, PermEditPrescriptions},
}

// User represents a staff account
type User struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	Role           UserRole `json:"role"`
	Department     string   `json:"department,omitempty"`
	Specialization string   `json:"specialization,omitempty"`
	Avatar         string   `json:"avatar,omitempty"`
	Permissions    []string `json:"permissions"`
}

// UserClaims represents JWT token claims
type UserClaims struct {
	UserID      string   `json:"sub"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        UserRole `json:"role"`
	Permissions []string `json:"permissions"`
}
