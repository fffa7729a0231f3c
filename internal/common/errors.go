// Package common defines shared constants and sentinel errors used across
// the gophauth server and tooling. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrDuplicateToken  = errors.New("duplicate token")
	ErrorValidation    = errors.New("validation error")
	ErrorAlreadyExists = errors.New("already exists")

	// Token codec errors. They never cross the session manager boundary
	// on their own, only as the cause of a flow-level error.
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrWrongTokenKind = errors.New("wrong token kind")
	ErrEmptySecret    = errors.New("empty signing secret")
)
