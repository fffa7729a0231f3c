package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"golang.org/x/crypto/bcrypt"
)

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db         dbx.DBTX
	bcryptCost int
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db, bcryptCost: bcrypt.DefaultCost}
}

var _ Repository = (*PostgresRepository)(nil)

const userColumns = `id, name, email, COALESCE(phone_number, ''), password_hash, is_verified, created_at`

func scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PhoneNumber, &u.PasswordHash, &u.IsVerified, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) hash(password string) ([]byte, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), r.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}
	return h, nil
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User, password string) (*models.User, error) {
	h, err := r.hash(password)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO users (name, email, phone_number, password_hash, is_verified)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING id, created_at
	`
	err = r.db.QueryRowContext(ctx, query, user.Name, user.Email, user.PhoneNumber, h, user.IsVerified).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	user.PasswordHash = h
	return user, nil
}

func (r *PostgresRepository) GetUser(ctx context.Context, identity string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE email = $1 OR phone_number = $1
	`
	return scanUser(r.db.QueryRowContext(ctx, query, identity))
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1
	`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) UpdateUserByID(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error) {
	if upd.Password == nil {
		return r.GetUserByID(ctx, id)
	}

	h, err := r.hash(*upd.Password)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE users SET password_hash = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, id, h))
}
