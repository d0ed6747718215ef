package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and single-node development runs.
type InMemory struct {
	mu         sync.RWMutex
	records    map[string]memRecord
	byUsername map[string]string
	seq        uint64
	now        func() time.Time
}

type memRecord struct {
	rec Record
	seq uint64
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		records:    make(map[string]memRecord),
		byUsername: make(map[string]string),
		now:        time.Now,
	}
}

// WithNow overrides the clock used to stamp timestamps.
func (s *InMemory) WithNow(fn func() time.Time) *InMemory {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *InMemory) Insert(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := NormalizeUsername(rec.Username)
	if _, ok := s.byUsername[username]; ok {
		return ErrDuplicateUsername
	}
	now := s.now().UTC()
	rec.Username = username
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.seq++
	s.records[rec.ID] = memRecord{rec: cloneRecord(*rec), seq: s.seq}
	s.byUsername[username] = rec.ID
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(m.rec), nil
}

func (s *InMemory) FindByUsername(ctx context.Context, username string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[NormalizeUsername(username)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(s.records[id].rec), nil
}

func (s *InMemory) ListByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	s.mu.RLock()
	owned := make([]memRecord, 0)
	for _, m := range s.records {
		if m.rec.OwnerID == ownerID {
			owned = append(owned, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		a, b := owned[i], owned[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.seq > b.seq
	})
	out := make([]Record, 0, len(owned))
	for _, m := range owned {
		out = append(out, cloneRecord(m.rec))
	}
	return out, nil
}

func (s *InMemory) UsernameTaken(ctx context.Context, username, excludeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[NormalizeUsername(username)]
	if !ok {
		return false, nil
	}
	return excludeID == "" || id != excludeID, nil
}

func (s *InMemory) Update(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.records[rec.ID]
	if !ok || m.rec.OwnerID != rec.OwnerID {
		return ErrNotFound
	}
	username := NormalizeUsername(rec.Username)
	if holder, taken := s.byUsername[username]; taken && holder != rec.ID {
		return ErrDuplicateUsername
	}
	rec.Username = username
	rec.CreatedAt = m.rec.CreatedAt
	rec.UpdatedAt = s.now().UTC()

	delete(s.byUsername, m.rec.Username)
	s.byUsername[username] = rec.ID
	s.records[rec.ID] = memRecord{rec: cloneRecord(*rec), seq: m.seq}
	return nil
}

func (s *InMemory) Delete(ctx context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.records[id]
	if !ok || m.rec.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(s.records, id)
	delete(s.byUsername, m.rec.Username)
	return nil
}

// cloneRecord copies every slice so stored records never alias caller memory.
func cloneRecord(r Record) Record {
	r.Endpoints.Static = cloneStrings(r.Endpoints.Static)
	r.Endpoints.AdaptiveResolver.Policies = cloneStrings(r.Endpoints.AdaptiveResolver.Policies)
	r.Capabilities.Modalities = cloneStrings(r.Capabilities.Modalities)
	r.Capabilities.Authentication.Methods = cloneStrings(r.Capabilities.Authentication.Methods)
	r.Capabilities.Authentication.RequiredScopes = cloneStrings(r.Capabilities.Authentication.RequiredScopes)
	if r.Skills != nil {
		skills := make([]Skill, len(r.Skills))
		for i, sk := range r.Skills {
			sk.InputModes = cloneStrings(sk.InputModes)
			sk.OutputModes = cloneStrings(sk.OutputModes)
			sk.SupportedLanguages = cloneStrings(sk.SupportedLanguages)
			skills[i] = sk
		}
		r.Skills = skills
	}
	return r
}

func cloneStrings(v []string) []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v))
	copy(out, v)
	return out
}
