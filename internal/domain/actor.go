package domain

// Actor is the caller identity resolved by the auth collaborator upstream
// of this core (gateway headers in the default wiring).
type Actor struct {
	ID   string
	Role string
}

const (
	RoleCustomer = "CUSTOMER"
	RoleProvider = "PROVIDER"
)
