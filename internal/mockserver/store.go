package mockserver

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	ncerr "authclient/internal/errors"
)

// Password length bounds.  bcrypt only hashes the first 72 bytes.
const (
	MinPasswordLength = 6
	MaxPasswordBytes  = 72
)

// Account is a stored user without its credential.
type Account struct {
	UserID   string
	UserName string
	Role     string
}

// Store holds accounts and their password hashes.
type Store interface {
	// Add creates an account.  It fails with ErrDuplicateAccount if the
	// id is taken.
	Add(ctx context.Context, acct Account, password string) error

	// Verify checks password and returns the account.  Unknown ids and
	// wrong passwords both yield ErrInvalidCredential.
	Verify(ctx context.Context, userID, password string) (Account, error)

	// SetPassword replaces the credential of an existing account.
	SetPassword(ctx context.Context, userID, password string) error

	// Lookup returns the account or ErrUnknownAccount.
	Lookup(ctx context.Context, userID string) (Account, error)

	Close() error
}

// hasher produces and checks bcrypt hashes at a fixed cost.
type hasher struct{ cost int }

func newHasher(cost int) hasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return hasher{cost: cost}
}

func (h hasher) hash(password string) ([]byte, error) {
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: shorter than %d characters", ncerr.ErrPasswordRejected, MinPasswordLength)
	}
	if len(password) > MaxPasswordBytes {
		return nil, fmt.Errorf("%w: longer than %d bytes", ncerr.ErrPasswordRejected, MaxPasswordBytes)
	}
	return bcrypt.GenerateFromPassword([]byte(password), h.cost)
}

func (h hasher) check(hash []byte, password string) error {
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ncerr.ErrInvalidCredential
	}
	return nil
}

// ── MemoryStore ──────────────────────────────────────────────────────

type memoryEntry struct {
	account Account
	hash    []byte
}

// MemoryStore is a Store kept in a map.
type MemoryStore struct {
	hasher
	mu       sync.RWMutex
	accounts map[string]memoryEntry
}

// NewMemoryStore returns an empty store hashing at cost (0 means
// bcrypt.DefaultCost).
func NewMemoryStore(cost int) *MemoryStore {
	return &MemoryStore{hasher: newHasher(cost), accounts: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Add(_ context.Context, acct Account, password string) error {
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acct.UserID]; ok {
		return fmt.Errorf("%w: %s", ncerr.ErrDuplicateAccount, acct.UserID)
	}
	s.accounts[acct.UserID] = memoryEntry{account: acct, hash: hash}
	return nil
}

func (s *MemoryStore) Verify(_ context.Context, userID, password string) (Account, error) {
	s.mu.RLock()
	e, ok := s.accounts[userID]
	s.mu.RUnlock()
	if !ok {
		return Account{}, ncerr.ErrInvalidCredential
	}
	if err := s.check(e.hash, password); err != nil {
		return Account{}, err
	}
	return e.account, nil
}

func (s *MemoryStore) SetPassword(_ context.Context, userID, password string) error {
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.accounts[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ncerr.ErrUnknownAccount, userID)
	}
	e.hash = hash
	s.accounts[userID] = e
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, userID string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.accounts[userID]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ncerr.ErrUnknownAccount, userID)
	}
	return e.account, nil
}

func (s *MemoryStore) Close() error { return nil }
