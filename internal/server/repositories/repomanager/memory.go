package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/tokens"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/users"
)

// InMemoryRepositoryManager serves process-local repositories and ignores
// the database handle it is given.
type InMemoryRepositoryManager struct {
	users  *users.MemoryRepository
	tokens *tokens.MemoryStore
}

// NewInMemoryRepositoryManager wires a memory directory and token store.
func NewInMemoryRepositoryManager(u *users.MemoryRepository, t *tokens.MemoryStore) *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{users: u, tokens: t}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

func (m *InMemoryRepositoryManager) Users(dbx.DBTX) users.Repository {
	return m.users
}

func (m *InMemoryRepositoryManager) Tokens(*sql.DB) tokens.Store {
	return m.tokens
}
