package verification

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophauth/internal/server/autherr"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"golang.org/x/time/rate"
)

// ErrThrottled is the cause of a call refused by ThrottledGateway.
var ErrThrottled = errors.New("verification provider quota exceeded")

// ThrottledGateway limits the rate of calls reaching next. A refused call
// never reaches the provider.
type ThrottledGateway struct {
	next    Gateway
	limiter *rate.Limiter
}

var _ Gateway = (*ThrottledGateway)(nil)

// NewThrottledGateway allows r calls per second with the given burst.
func NewThrottledGateway(next Gateway, r rate.Limit, burst int) *ThrottledGateway {
	return &ThrottledGateway{next: next, limiter: rate.NewLimiter(r, burst)}
}

func (g *ThrottledGateway) SendCode(ctx context.Context, phoneNumber string) (*models.VerificationReceipt, error) {
	if !g.limiter.Allow() {
		return nil, autherr.E(autherr.KindVerificationUnavailable, "verification.SendCode", ErrThrottled)
	}
	return g.next.SendCode(ctx, phoneNumber)
}

func (g *ThrottledGateway) CheckCode(ctx context.Context, phoneNumber, code string) (*models.VerificationResult, error) {
	if !g.limiter.Allow() {
		return nil, autherr.E(autherr.KindVerificationUnavailable, "verification.CheckCode", ErrThrottled)
	}
	return g.next.CheckCode(ctx, phoneNumber, code)
}
