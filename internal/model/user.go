// Package model defines the data structures used throughout the application.
package model

import "time"

// Role is the authorization level carried by a user and by their token.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User is the only persisted entity.
//
// PasswordHash is tagged json:"-" so a User can be written to a response
// as-is; the hash never leaves the process. ListAll does not even select it.
type User struct {
	ID           int64     `json:"id"        db:"id"`
	Username     string    `json:"username"  db:"username"`
	Email        string    `json:"email"     db:"email"`
	PasswordHash string    `json:"-"         db:"password_hash"`
	FullName     string    `json:"fullName"  db:"full_name"`
	Role         Role      `json:"role"      db:"role"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// UserUpdate is a partial update. A nil field is left unchanged.
type UserUpdate struct {
	Username *string
	Email    *string
	FullName *string
}

// Empty reports whether no field is set.
func (u UserUpdate) Empty() bool {
	return u.Username == nil && u.Email == nil && u.FullName == nil
}
