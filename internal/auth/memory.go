package auth

import (
	"context"
	"sync"
)

// InMemory implements AccountStore for tests and development runs.
type InMemory struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewInMemory() *InMemory {
	return &InMemory{accounts: make(map[string]Account)}
}

func (s *InMemory) FindBySubjectOrEmail(ctx context.Context, subjectID, email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = NormalizeEmail(email)
	var byEmail *Account
	for _, acct := range s.accounts {
		if subjectID != "" && acct.SubjectID == subjectID {
			return acct, nil
		}
		if acct.Email == email {
			a := acct
			byEmail = &a
		}
	}
	if byEmail != nil {
		return *byEmail, nil
	}
	return Account{}, ErrNotFound
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = NormalizeEmail(email)
	for _, acct := range s.accounts {
		if acct.Email == email {
			return acct, nil
		}
	}
	return Account{}, ErrNotFound
}

func (s *InMemory) FindByID(ctx context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

func (s *InMemory) Create(ctx context.Context, acct *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	NormalizeAccount(acct)
	if _, ok := s.accounts[acct.ID]; ok {
		return ErrDuplicate
	}
	if s.conflicts(*acct) {
		return ErrDuplicate
	}
	s.accounts[acct.ID] = *acct
	return nil
}

func (s *InMemory) Update(ctx context.Context, acct *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	NormalizeAccount(acct)
	if _, ok := s.accounts[acct.ID]; !ok {
		return ErrNotFound
	}
	if s.conflicts(*acct) {
		return ErrDuplicate
	}
	s.accounts[acct.ID] = *acct
	return nil
}

// conflicts reports whether another account holds acct's email or subject id.
// Callers must hold the write lock.
func (s *InMemory) conflicts(acct Account) bool {
	for id, other := range s.accounts {
		if id == acct.ID {
			continue
		}
		if other.Email == acct.Email {
			return true
		}
		if acct.SubjectID != "" && other.SubjectID == acct.SubjectID {
			return true
		}
	}
	return false
}
