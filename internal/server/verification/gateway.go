// Package verification is the contract to the external one-time-password
// provider plus a Twilio Verify adapter and a rate-limiting decorator.
//
// Every failure returned by an implementation in this package is an
// autherr.Error of kind VerificationUnavailable. The provider-specific cause
// is kept behind Unwrap for logs and tests only.
package verification

import (
	"context"

	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

// Gateway sends and checks one-time codes for a phone number. Calls are
// network round trips and are not assumed to be idempotent.
type Gateway interface {
	SendCode(ctx context.Context, phoneNumber string) (*models.VerificationReceipt, error)
	CheckCode(ctx context.Context, phoneNumber, code string) (*models.VerificationResult, error)
}
