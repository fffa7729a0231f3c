// Package tokens declares the token store contract and its PostgreSQL and
// in-memory implementations.
//
// A token is active when it is neither revoked nor expired. Every lookup
// treats an expired token exactly like a missing one, and reports both as
// common.ErrorNotFound.
package tokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

// RedeemFunc is the side effect of a redemption. tx is nil when the store
// has no transaction to share.
type RedeemFunc func(ctx context.Context, tx dbx.DBTX) error

// Store persists issued tokens.
type Store interface {
	// Save persists a newly issued token. A value collision yields
	// common.ErrDuplicateToken.
	Save(ctx context.Context, token *models.Token) error

	// FindActive returns the active token with the given value and kind.
	FindActive(ctx context.Context, value string, kind models.TokenKind) (*models.Token, error)

	// Invalidate deletes a token by value. Deleting an absent token is not
	// an error.
	Invalidate(ctx context.Context, value string) error

	// InvalidateAllOfKindForSubject deletes every token of kind owned by userID.
	InvalidateAllOfKindForSubject(ctx context.Context, userID string, kind models.TokenKind) error

	// Rotate atomically consumes the active token oldValue of kind and
	// persists replacement, which must belong to the same user. When the old
	// token is no longer active nothing is written and common.ErrorNotFound
	// is returned, so of two concurrent rotations of one value at most one
	// succeeds. The consumed token is returned.
	Rotate(ctx context.Context, oldValue string, kind models.TokenKind, replacement *models.Token) (*models.Token, error)

	// Redeem spends a single-use token together with its whole family: it
	// locks userID's tokens of kind, checks that value is active among them,
	// runs apply and then deletes all of them. If apply fails nothing is
	// deleted. Redemptions for the same user and kind are serialized, so once
	// one succeeds every other token of the family is gone.
	//
	// apply receives the transaction holding the lock so that its writes
	// commit or roll back together with the deletion. Stores without
	// transactions pass nil.
	Redeem(ctx context.Context, value string, kind models.TokenKind, userID string, apply RedeemFunc) error

	// DeleteExpired removes tokens whose expiry is not after now and returns
	// how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
