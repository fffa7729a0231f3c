package models

import "time"

// TokenKind names what a token may be used for.
type TokenKind string

const (
	TokenAccess        TokenKind = "access"
	TokenRefresh       TokenKind = "refresh"
	TokenResetPassword TokenKind = "resetPassword"
	TokenVerifyEmail   TokenKind = "verifyEmail"
)

// Valid reports whether k is one of the known kinds.
func (k TokenKind) Valid() bool {
	switch k {
	case TokenAccess, TokenRefresh, TokenResetPassword, TokenVerifyEmail:
		return true
	}
	return false
}

// Token is one issued credential.
type Token struct {
	ID        string
	Value     string
	UserID    string
	Kind      TokenKind
	Expires   time.Time
	Revoked   bool
	CreatedAt time.Time
}

// ActiveAt reports whether the token is usable at t.
func (t *Token) ActiveAt(now time.Time) bool {
	return !t.Revoked && now.Before(t.Expires)
}
