package tokens

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/google/uuid"
)

// MemoryStore is a process-local Store. The map is guarded by one mutex that
// is never held while Redeem's apply runs; apply is serialized per user and
// kind by a separate lock instead.
type MemoryStore struct {
	mu      sync.Mutex
	byValue map[string]*models.Token
	family  familyLocks
	now     func() time.Time
}

// NewMemoryStore returns an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock returns an empty store using now for expiry checks.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		byValue: make(map[string]*models.Token),
		family:  familyLocks{m: make(map[string]*familyLock)},
		now:     now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) saveLocked(t *models.Token) error {
	if _, ok := s.byValue[t.Value]; ok {
		return common.ErrDuplicateToken
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	c := *t
	s.byValue[t.Value] = &c
	return nil
}

func (s *MemoryStore) Save(ctx context.Context, token *models.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(token)
}

func (s *MemoryStore) activeLocked(value string, kind models.TokenKind) (*models.Token, bool) {
	t, ok := s.byValue[value]
	if !ok || t.Kind != kind || !t.ActiveAt(s.now()) {
		return nil, false
	}
	return t, true
}

func (s *MemoryStore) FindActive(ctx context.Context, value string, kind models.TokenKind) (*models.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.activeLocked(value, kind)
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *t
	return &c, nil
}

func (s *MemoryStore) Invalidate(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byValue, value)
	return nil
}

func (s *MemoryStore) deleteFamilyLocked(userID string, kind models.TokenKind) {
	for v, t := range s.byValue {
		if t.UserID == userID && t.Kind == kind {
			delete(s.byValue, v)
		}
	}
}

func (s *MemoryStore) InvalidateAllOfKindForSubject(ctx context.Context, userID string, kind models.TokenKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteFamilyLocked(userID, kind)
	return nil
}

func (s *MemoryStore) Rotate(ctx context.Context, oldValue string, kind models.TokenKind, replacement *models.Token) (*models.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.activeLocked(oldValue, kind)
	if !ok {
		return nil, common.ErrorNotFound
	}
	if old.UserID != replacement.UserID {
		return nil, fmt.Errorf("replacement belongs to %q, consumed token to %q", replacement.UserID, old.UserID)
	}
	if err := s.saveLocked(replacement); err != nil {
		return nil, err
	}
	delete(s.byValue, oldValue)
	return old, nil
}

func (s *MemoryStore) Redeem(ctx context.Context, value string, kind models.TokenKind, userID string, apply RedeemFunc) error {
	unlock := s.family.lock(userID + "\x00" + string(kind))
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	t, ok := s.activeLocked(value, kind)
	owned := ok && t.UserID == userID
	s.mu.Unlock()
	if !owned {
		return common.ErrorNotFound
	}

	if err := apply(ctx, nil); err != nil {
		return err
	}

	s.mu.Lock()
	s.deleteFamilyLocked(userID, kind)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for v, t := range s.byValue {
		if !now.Before(t.Expires) {
			delete(s.byValue, v)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored tokens, active or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byValue)
}

// familyLocks hands out one mutex per key and forgets it once unused.
type familyLocks struct {
	mu sync.Mutex
	m  map[string]*familyLock
}

type familyLock struct {
	sync.Mutex
	refs int
}

func (f *familyLocks) lock(key string) (unlock func()) {
	f.mu.Lock()
	l, ok := f.m[key]
	if !ok {
		l = &familyLock{}
		f.m[key] = l
	}
	l.refs++
	f.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		f.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(f.m, key)
		}
		f.mu.Unlock()
	}
}
