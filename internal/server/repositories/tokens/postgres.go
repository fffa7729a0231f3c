package tokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/google/uuid"
)

// PostgresStore implements Store over PostgreSQL. Multi-step operations run
// in a single transaction.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore constructs a store bound to db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

var _ Store = (*PostgresStore)(nil)

func insertToken(ctx context.Context, q dbx.DBTX, t *models.Token) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	query := `
		INSERT INTO tokens (id, token, user_id, type, expires_at, blacklisted)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := q.ExecContext(ctx, query, t.ID, t.Value, t.UserID, string(t.Kind), t.Expires, t.Revoked); err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrDuplicateToken
		}
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

// Save inserts a new token row.
func (s *PostgresStore) Save(ctx context.Context, token *models.Token) error {
	return insertToken(ctx, s.db, token)
}

// FindActive returns the non-revoked, non-expired token with value and kind.
func (s *PostgresStore) FindActive(ctx context.Context, value string, kind models.TokenKind) (*models.Token, error) {
	query := `
		SELECT id, user_id, expires_at, created_at
		FROM tokens
		WHERE token = $1 AND type = $2 AND blacklisted = FALSE AND expires_at > $3
	`
	t := &models.Token{Value: value, Kind: kind}
	err := s.db.QueryRowContext(ctx, query, value, string(kind), s.now()).
		Scan(&t.ID, &t.UserID, &t.Expires, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

// Invalidate deletes a token by value.
func (s *PostgresStore) Invalidate(ctx context.Context, value string) error {
	query := `
		DELETE FROM tokens
		WHERE token = $1
	`
	if _, err := s.db.ExecContext(ctx, query, value); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// InvalidateAllOfKindForSubject deletes every token of kind owned by userID.
func (s *PostgresStore) InvalidateAllOfKindForSubject(ctx context.Context, userID string, kind models.TokenKind) error {
	return deleteFamily(ctx, s.db, userID, kind)
}

func deleteFamily(ctx context.Context, q dbx.DBTX, userID string, kind models.TokenKind) error {
	query := `
		DELETE FROM tokens
		WHERE user_id = $1 AND type = $2
	`
	if _, err := q.ExecContext(ctx, query, userID, string(kind)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Rotate consumes oldValue with a conditional DELETE ... RETURNING and
// inserts replacement in the same transaction. A concurrent rotation of the
// same value blocks on the row lock and then finds nothing to delete.
func (s *PostgresStore) Rotate(ctx context.Context, oldValue string, kind models.TokenKind, replacement *models.Token) (*models.Token, error) {
	var consumed *models.Token

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `
			DELETE FROM tokens
			WHERE token = $1 AND type = $2 AND blacklisted = FALSE AND expires_at > $3
			RETURNING id, user_id, expires_at, created_at
		`
		t := &models.Token{Value: oldValue, Kind: kind}
		if err := tx.QueryRowContext(ctx, query, oldValue, string(kind), s.now()).
			Scan(&t.ID, &t.UserID, &t.Expires, &t.CreatedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.ErrorNotFound
			}
			return fmt.Errorf("error consuming token: %w", err)
		}
		if t.UserID != replacement.UserID {
			return fmt.Errorf("replacement belongs to %q, consumed token to %q", replacement.UserID, t.UserID)
		}
		if err := insertToken(ctx, tx, replacement); err != nil {
			return err
		}
		consumed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

// Redeem locks the user's family with SELECT ... FOR UPDATE. Rows deleted
// by a concurrent redemption are skipped once its transaction commits, so
// the loser observes its token as missing. apply runs on the same
// transaction.
func (s *PostgresStore) Redeem(ctx context.Context, value string, kind models.TokenKind, userID string, apply RedeemFunc) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `
			SELECT token, expires_at, blacklisted
			FROM tokens
			WHERE user_id = $1 AND type = $2
			FOR UPDATE
		`
		rows, err := tx.QueryContext(ctx, query, userID, string(kind))
		if err != nil {
			return fmt.Errorf("error locking tokens: %w", err)
		}

		now := s.now()
		found := false
		for rows.Next() {
			t := models.Token{}
			if err := rows.Scan(&t.Value, &t.Expires, &t.Revoked); err != nil {
				rows.Close()
				return fmt.Errorf("error scanning token: %w", err)
			}
			if t.Value == value && t.ActiveAt(now) {
				found = true
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("error reading tokens: %w", err)
		}
		rows.Close()

		if !found {
			return common.ErrorNotFound
		}
		if err := apply(ctx, tx); err != nil {
			return err
		}
		return deleteFamily(ctx, tx, userID, kind)
	})
}

// DeleteExpired removes every token whose expiry is not after now.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM tokens
		WHERE expires_at <= $1
	`
	res, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
