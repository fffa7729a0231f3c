package users

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MemoryRepository is an in-process user directory.
type MemoryRepository struct {
	mu         sync.RWMutex
	byID       map[string]*models.User
	bcryptCost int
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty directory hashing with cost.
func NewMemoryRepository(cost int) *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*models.User), bcryptCost: cost}
}

func (r *MemoryRepository) Create(ctx context.Context, user *models.User, password string) (*models.User, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), r.bcryptCost)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.byID {
		if u.Email == user.Email || (user.PhoneNumber != "" && u.PhoneNumber == user.PhoneNumber) {
			return nil, common.ErrorAlreadyExists
		}
	}

	c := *user
	c.ID = uuid.NewString()
	c.PasswordHash = h
	c.CreatedAt = time.Now()
	r.byID[c.ID] = &c

	out := c
	return &out, nil
}

func (r *MemoryRepository) GetUser(ctx context.Context, identity string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.byID {
		if u.Email == identity || (u.PhoneNumber != "" && u.PhoneNumber == identity) {
			c := *u
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *u
	return &c, nil
}

func (r *MemoryRepository) UpdateUserByID(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error) {
	var h []byte
	if upd.Password != nil {
		if err := ValidatePassword(*upd.Password); err != nil {
			return nil, err
		}
		var err error
		if h, err = bcrypt.GenerateFromPassword([]byte(*upd.Password), r.bcryptCost); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if h != nil {
		u.PasswordHash = h
	}
	c := *u
	return &c, nil
}
