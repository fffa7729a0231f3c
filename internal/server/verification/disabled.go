package verification

import (
	"context"

	"github.com/dmitrijs2005/gophauth/internal/server/autherr"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

// Disabled is the gateway used when no provider is configured. Every call
// fails VerificationUnavailable with cause ErrMissingCredentials.
type Disabled struct{}

var _ Gateway = Disabled{}

func (Disabled) SendCode(context.Context, string) (*models.VerificationReceipt, error) {
	return nil, autherr.E(autherr.KindVerificationUnavailable, "verification.SendCode", ErrMissingCredentials)
}

func (Disabled) CheckCode(context.Context, string, string) (*models.VerificationResult, error) {
	return nil, autherr.E(autherr.KindVerificationUnavailable, "verification.CheckCode", ErrMissingCredentials)
}
