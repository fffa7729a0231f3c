// Package autherr is the flow-level error taxonomy of the session manager.
//
// An *Error carries two faces: a Kind with a fixed generic message, which is
// all a caller ever sees through Error(), and an internal Cause reachable
// through errors.Unwrap for logs and tests. Security-sensitive flows collapse
// every failure into one kind so that the reason never leaks to the caller.
package autherr

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is the externally visible class of a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindUnauthenticated
	KindResetFailed
	KindVerificationUnavailable
)

var kindNames = map[Kind]string{
	KindInternal:                "internal",
	KindUnauthorized:            "unauthorized",
	KindForbidden:               "forbidden",
	KindNotFound:                "not_found",
	KindUnauthenticated:         "unauthenticated",
	KindResetFailed:             "reset_failed",
	KindVerificationUnavailable: "verification_unavailable",
}

var kindMessages = map[Kind]string{
	KindInternal:                "Internal error",
	KindUnauthorized:            "Incorrect email or password",
	KindForbidden:               "Account not verified",
	KindNotFound:                "Not found",
	KindUnauthenticated:         "Please authenticate",
	KindResetFailed:             "Password reset failed",
	KindVerificationUnavailable: "Something went wrong",
}

// String returns a stable snake_case name, used as a metrics label.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Message is the generic text shown to callers.
func (k Kind) Message() string {
	if m, ok := kindMessages[k]; ok {
		return m
	}
	return kindMessages[KindInternal]
}

// Code maps the kind onto a gRPC status code for the transport layer.
func (k Kind) Code() codes.Code {
	switch k {
	case KindUnauthorized, KindUnauthenticated, KindResetFailed:
		return codes.Unauthenticated
	case KindForbidden:
		return codes.PermissionDenied
	case KindNotFound:
		return codes.NotFound
	case KindVerificationUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// Error is a flow-level failure.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrInternal                = &Error{Kind: KindInternal}
	ErrUnauthorized            = &Error{Kind: KindUnauthorized}
	ErrForbidden               = &Error{Kind: KindForbidden}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrUnauthenticated         = &Error{Kind: KindUnauthenticated}
	ErrResetFailed             = &Error{Kind: KindResetFailed}
	ErrVerificationUnavailable = &Error{Kind: KindVerificationUnavailable}
)

// E builds an *Error of kind k for operation op. A nil cause is allowed.
func E(k Kind, op string, cause error) *Error {
	return &Error{Kind: k, Op: op, Cause: cause}
}

// Error returns the generic message only. The cause is deliberately absent.
func (e *Error) Error() string {
	return e.Kind.Message()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// GRPCStatus lets status.FromError and the grpc server translate the error
// without exposing the cause.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Kind.Code(), e.Kind.Message())
}

// Detail renders op and cause for server-side logs.
func (e *Error) Detail() string {
	switch {
	case e.Cause == nil && e.Op == "":
		return e.Kind.String()
	case e.Cause == nil:
		return e.Op + ": " + e.Kind.String()
	case e.Op == "":
		return e.Kind.String() + ": " + e.Cause.Error()
	default:
		return e.Op + ": " + e.Kind.String() + ": " + e.Cause.Error()
	}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Collapse converts any error into kind k for op. An *Error of kind k is
// returned unchanged so that its original op and cause survive.
func Collapse(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == k {
		return e
	}
	return E(k, op, err)
}
