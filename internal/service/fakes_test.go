package service

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/pulse/pulse/internal/config"
	"github.com/pulse/pulse/internal/models"
	"github.com/pulse/pulse/internal/repository"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		StandardAccessSecret:  strings.Repeat("sa", 16),
		StandardRefreshSecret: strings.Repeat("sr", 16),
		ElevatedAccessSecret:  strings.Repeat("ea", 16),
		ElevatedRefreshSecret: strings.Repeat("er", 16),
		AccessExpiry:          15 * time.Minute,
		RefreshExpiry:         24 * time.Hour,
	}
}

type memoryAccountStore struct {
	mu        sync.Mutex
	accounts  map[string]models.Account
	findErr   error
	updateErr error
}

func newMemoryAccountStore(accounts ...models.Account) *memoryAccountStore {
	s := &memoryAccountStore{accounts: make(map[string]models.Account)}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *memoryAccountStore) FindByID(ctx context.Context, id string) (*models.Account, error) {
	return s.FindOne(ctx, models.AccountFilter{ID: id})
}

func (s *memoryAccountStore) FindOne(ctx context.Context, filter models.AccountFilter) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, a := range s.accounts {
		account := a
		if filter.Matches(&account) {
			return &account, nil
		}
	}
	return nil, nil
}

func (s *memoryAccountStore) Create(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == account.Email {
			return repository.ErrAccountExists
		}
	}
	s.accounts[account.ID] = *account
	return nil
}

func (s *memoryAccountStore) UpdateOne(ctx context.Context, filter models.AccountFilter, patch models.AccountPatch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	for id, a := range s.accounts {
		account := a
		if !filter.Matches(&account) {
			continue
		}
		patch.Apply(&account)
		s.accounts[id] = account
		return 1, nil
	}
	return 0, nil
}

func (s *memoryAccountStore) get(id string) models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

type memoryRevocationStore struct {
	mu        sync.Mutex
	records   map[string]models.RevocationRecord
	createErr error
	findErr   error
	// block makes every call wait for ctx to end.
	block bool
}

func newMemoryRevocationStore() *memoryRevocationStore {
	return &memoryRevocationStore{records: make(map[string]models.RevocationRecord)}
}

func (s *memoryRevocationStore) Create(ctx context.Context, record models.RevocationRecord) (*models.RevocationRecord, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	if _, ok := s.records[record.TokenID]; ok {
		return nil, nil
	}
	s.records[record.TokenID] = record
	return &record, nil
}

func (s *memoryRevocationStore) FindOne(ctx context.Context, jti string) (*models.RevocationRecord, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	record, ok := s.records[jti]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

type credentialFixture struct {
	svc      *CredentialService
	clock    *testClock
	accounts *memoryAccountStore
	ledger   *memoryRevocationStore
}

func newCredentialFixture(t *testing.T, accounts ...models.Account) *credentialFixture {
	t.Helper()

	clock := newTestClock()
	logger := newTestLogger()
	accountStore := newMemoryAccountStore(accounts...)
	revocationStore := newMemoryRevocationStore()

	tokens := NewJWTService(logger)
	tokens.now = clock.Now

	ledger := NewRevocationService(revocationStore, time.Second, nil, logger)
	ledger.now = clock.Now

	svc := NewCredentialService(testJWTConfig(), tokens, ledger, accountStore, time.Second, NewMetricsService(), logger)
	svc.now = clock.Now

	return &credentialFixture{
		svc:      svc,
		clock:    clock,
		accounts: accountStore,
		ledger:   revocationStore,
	}
}

func newTestHasher() *BcryptHasher {
	return NewBcryptHasher(bcrypt.MinCost)
}
