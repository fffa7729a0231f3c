package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is a record of the user directory. The session layer reads it and
// only ever changes the password, through the directory.
type User struct {
	ID           string
	Name         string
	Email        string
	PhoneNumber  string
	PasswordHash []byte
	IsVerified   bool
	CreatedAt    time.Time
}

// IsPasswordMatch compares plain against the stored bcrypt hash.
func (u *User) IsPasswordMatch(plain string) bool {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(plain)) == nil
}

// UserUpdate lists the fields UpdateUserByID may change. Nil means untouched.
type UserUpdate struct {
	Password *string
}
