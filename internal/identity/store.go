package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// AccountStore persists accounts for the local provider. Implementations
// return ErrEmailExists on duplicate email and ErrNotFound for unknown
// accounts; other errors are treated as infrastructure failures.
type AccountStore interface {
	Insert(ctx context.Context, acct Account) error
	FindByEmail(ctx context.Context, email string) (Account, error)
	Find(ctx context.Context, uid string) (Account, error)
	UpdateClaims(ctx context.Context, uid string, claims Claims, at time.Time) error
	Delete(ctx context.Context, uid string) error
}

// MemoryStore is an in-process AccountStore.
type MemoryStore struct {
	mu      sync.RWMutex
	byUID   map[string]Account
	byEmail map[string]string
}

var _ AccountStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUID:   make(map[string]Account),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryStore) Insert(_ context.Context, acct Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalizeEmail(acct.Email)
	if _, ok := m.byEmail[key]; ok {
		return ErrEmailExists
	}
	acct.Claims = acct.Claims.Clone()
	m.byUID[acct.UID] = acct
	m.byEmail[key] = acct.UID
	return nil
}

func (m *MemoryStore) FindByEmail(_ context.Context, email string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uid, ok := m.byEmail[normalizeEmail(email)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return m.copyOf(uid)
}

func (m *MemoryStore) Find(_ context.Context, uid string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyOf(uid)
}

func (m *MemoryStore) UpdateClaims(_ context.Context, uid string, claims Claims, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.byUID[uid]
	if !ok {
		return ErrNotFound
	}
	acct.Claims = claims.Clone()
	acct.UpdatedAt = at
	m.byUID[uid] = acct
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.byUID[uid]
	if !ok {
		return ErrNotFound
	}
	delete(m.byUID, uid)
	delete(m.byEmail, normalizeEmail(acct.Email))
	return nil
}

// Len reports the number of stored accounts.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUID)
}

func (m *MemoryStore) copyOf(uid string) (Account, error) {
	acct, ok := m.byUID[uid]
	if !ok {
		return Account{}, ErrNotFound
	}
	acct.Claims = acct.Claims.Clone()
	return acct, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
