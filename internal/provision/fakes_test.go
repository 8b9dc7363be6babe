package provision

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"iepp.org/internal/directory"
	"iepp.org/internal/identity"
)

// fakeProvider is a real local provider with injectable failures.
type fakeProvider struct {
	*identity.Local
	accounts *identity.MemoryStore

	mu          sync.Mutex
	createErr   error
	lookupErr   error
	claimsErr   error
	deleteErr   error
	createCalls int
	deleteCalls int
	// onClaims runs before SetClaims returns.
	onClaims          func()
	observedDeleteCtx error
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	tokens, err := identity.NewTokenService(identity.WithHMACSecret("provision-test-secret"))
	require.NoError(t, err)
	accounts := identity.NewMemoryStore()
	local, err := identity.NewLocal(accounts, tokens, identity.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	return &fakeProvider{Local: local, accounts: accounts}
}

func (f *fakeProvider) CreateAccount(ctx context.Context, in identity.NewAccount) (identity.Account, error) {
	f.mu.Lock()
	f.createCalls++
	err := f.createErr
	f.mu.Unlock()
	if err != nil {
		return identity.Account{}, err
	}
	return f.Local.CreateAccount(ctx, in)
}

func (f *fakeProvider) LookupByEmail(ctx context.Context, email string) (identity.Account, error) {
	if f.lookupErr != nil {
		return identity.Account{}, f.lookupErr
	}
	return f.Local.LookupByEmail(ctx, email)
}

func (f *fakeProvider) SetClaims(ctx context.Context, uid string, claims identity.Claims) error {
	if f.onClaims != nil {
		f.onClaims()
	}
	if f.claimsErr != nil {
		return f.claimsErr
	}
	return f.Local.SetClaims(ctx, uid, claims)
}

func (f *fakeProvider) DeleteAccount(ctx context.Context, uid string) error {
	f.mu.Lock()
	f.deleteCalls++
	f.observedDeleteCtx = ctx.Err()
	err := f.deleteErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Local.DeleteAccount(ctx, uid)
}

// fakeStore is an in-memory directory with injectable failures.
type fakeStore struct {
	*directory.MemoryStore

	mu        sync.Mutex
	putErr    error
	queryErr  error
	updateErr error
	puts      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{MemoryStore: directory.NewMemoryStore()}
}

func (s *fakeStore) Put(ctx context.Context, collection, id string, doc directory.Document) error {
	s.mu.Lock()
	s.puts++
	err := s.putErr
	s.mu.Unlock()
	if err != nil && collection == directory.CollectionUsers {
		return err
	}
	return s.MemoryStore.Put(ctx, collection, id, doc)
}

func (s *fakeStore) Query(ctx context.Context, collection string, filters ...directory.Filter) ([]directory.Snapshot, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.MemoryStore.Query(ctx, collection, filters...)
}

func (s *fakeStore) Update(ctx context.Context, collection, id string, fields directory.Document) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.MemoryStore.Update(ctx, collection, id, fields)
}

func (s *fakeStore) profilePuts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newTestService(t *testing.T, opts ...Option) (*Service, *fakeProvider, *fakeStore) {
	t.Helper()
	p := newFakeProvider(t)
	s := newFakeStore()
	opts = append([]Option{WithLogger(discardLogger()), WithCompensationTimeout(time.Second)}, opts...)
	return New(p, s, opts...), p, s
}
