package models

// Role is the authorization role carried by an authenticated actor.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// Actor is the authenticated user on whose behalf a command runs.
type Actor struct {
	UserID int64
	Role   Role
}

// IsStaff reports whether the actor may run back-office commands.
func (a Actor) IsStaff() bool {
	return a.Role == RoleAdmin || a.Role == RoleStaff
}

// Owns reports whether the actor owns the order.
func (a Actor) Owns(o Order) bool {
	return a.UserID > 0 && a.UserID == o.UserID
}
