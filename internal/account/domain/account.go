package domain

import "time"

// Role is the actor class of an account.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Account is a user record in the credential store. This subsystem reads
// accounts and (only during password reset) rewrites the password hash; it
// never creates or deletes them.
type Account struct {
	ID           string
	Email        string
	Role         Role
	PasswordHash string
	DisplayName  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
