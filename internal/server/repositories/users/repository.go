// Package users is the user directory adapter: lookup by identity or id,
// password updates, and creation for bootstrap tooling. Passwords are hashed
// with bcrypt and never leave this package in clear text.
package users

import (
	"context"
	"fmt"
	"unicode"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

// Repository is the user directory contract consumed by the session layer.
type Repository interface {
	// Create stores user with password hashed. Email and phone must be unique.
	Create(ctx context.Context, user *models.User, password string) (*models.User, error)

	// GetUser looks a user up by email or phone number.
	GetUser(ctx context.Context, identity string) (*models.User, error)

	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// UpdateUserByID applies upd and returns the updated user.
	UpdateUserByID(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error)
}

// ValidatePassword enforces the directory password policy: at least
// common.MinPasswordLength characters with at least one letter and one digit.
func ValidatePassword(password string) error {
	if len(password) < common.MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrorValidation, common.MinPasswordLength)
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return fmt.Errorf("%w: password must contain at least one letter and one number", common.ErrorValidation)
	}
	return nil
}
