package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"list39.org/internal/ids"
	"list39.org/internal/obs"
)

// Service sequences record operations against the store and the authority.
// Every error it returns is one of the package sentinels; ownership
// failures leave it as ErrNotFound.
type Service struct {
	store     Store
	authority *Authority
	cache     PublicCache
	now       func() time.Time
	newID     func() string
	log       zerolog.Logger

	// usernames whose cache invalidation failed; the cache is bypassed
	// for them until a retried invalidation succeeds.
	mu    sync.Mutex
	stale map[string]struct{}
}

// Option configures Service.
type Option func(*Service)

// WithCache enables caching of public projections.
func WithCache(c PublicCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// NewService constructs Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		authority: NewAuthority(store),
		now:       time.Now,
		newID:     ids.NewRecordID,
		stale:     make(map[string]struct{}),
		log:       obs.Logger().With().Str("component", "registry").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListOwned returns the caller's records, newest first.
func (s *Service) ListOwned(ctx context.Context, accountID string) (_ []Record, err error) {
	defer func() { observe("list", err) }()

	recs, err := s.store.ListByOwner(ctx, accountID)
	if err != nil {
		return nil, storeErr("list records", err)
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// GetOwned returns one of the caller's records.
func (s *Service) GetOwned(ctx context.Context, accountID, id string) (_ Record, err error) {
	defer func() { observe("get", err) }()
	return s.loadOwned(ctx, accountID, id)
}

// Create materializes in with defaults and stores it owned by accountID.
func (s *Service) Create(ctx context.Context, accountID string, in Input) (_ Record, err error) {
	defer func() { observe("create", err) }()

	if strings.TrimSpace(accountID) == "" {
		return Record{}, invalid("userId", "is required")
	}
	rec, err := Materialize(in, s.now(), s.newID())
	if err != nil {
		return Record{}, err
	}
	ok, err := s.authority.CheckUsernameAvailable(ctx, rec.Username, "")
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrDuplicateUsername
	}
	rec.OwnerID = accountID
	if err := s.store.Insert(ctx, &rec); err != nil {
		return Record{}, translateWrite("insert record", err)
	}
	s.log.Debug().Str("id", rec.ID).Str("username", rec.Username).Msg("record created")
	return rec, nil
}

// Update replaces the top-level keys present in in and leaves the rest
// untouched. Unlike Create it never fills absent sections with defaults.
func (s *Service) Update(ctx context.Context, accountID, id string, in Input) (_ Record, err error) {
	defer func() { observe("update", err) }()

	cur, err := s.loadOwned(ctx, accountID, id)
	if err != nil {
		return Record{}, err
	}
	next := cur
	if in.Username != nil {
		username := NormalizeUsername(*in.Username)
		if err := validateUsername(username); err != nil {
			return Record{}, err
		}
		if username != cur.Username {
			ok, err := s.authority.CheckUsernameAvailable(ctx, username, cur.ID)
			if err != nil {
				return Record{}, err
			}
			if !ok {
				return Record{}, ErrDuplicateUsername
			}
			next.Username = username
		}
	}
	if err := apply(&next, in); err != nil {
		return Record{}, err
	}
	normalizeLists(&next)

	if err := s.store.Update(ctx, &next); err != nil {
		return Record{}, translateWrite("update record", err)
	}
	s.invalidate(ctx, cur.Username, next.Username)
	return next, nil
}

// Remove deletes one of the caller's records.
func (s *Service) Remove(ctx context.Context, accountID, id string) (err error) {
	defer func() { observe("delete", err) }()

	rec, err := s.loadOwned(ctx, accountID, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, rec.ID, accountID); err != nil {
		return translateWrite("delete record", err)
	}
	s.invalidate(ctx, rec.Username)
	return nil
}

func (s *Service) loadOwned(ctx context.Context, accountID, id string) (Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Record{}, ErrNotFound
	}
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, storeErr("load record", err)
	}
	if err := AssertOwnership(rec, accountID); err != nil {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func apply(rec *Record, in Input) error {
	if in.AgentName != nil {
		name := strings.TrimSpace(*in.AgentName)
		if name == "" {
			return invalid("agent_name", "is required")
		}
		rec.AgentName = name
	}
	if in.Label != nil {
		label := strings.TrimSpace(*in.Label)
		if label == "" {
			return invalid("label", "is required")
		}
		rec.Label = label
	}
	if in.Description != nil {
		rec.Description = *in.Description
	}
	if in.Version != nil {
		rec.Version = *in.Version
	}
	if in.DocumentationURL != nil {
		rec.DocumentationURL = *in.DocumentationURL
	}
	if in.Jurisdiction != nil {
		rec.Jurisdiction = *in.Jurisdiction
	}
	if in.Provider != nil {
		rec.Provider = *in.Provider
	}
	if in.Endpoints != nil {
		rec.Endpoints = *in.Endpoints
	}
	if in.Capabilities != nil {
		rec.Capabilities = *in.Capabilities
	}
	if in.Skills != nil {
		rec.Skills = *in.Skills
	}
	if in.Evaluations != nil {
		rec.Evaluations = *in.Evaluations
	}
	if in.Telemetry != nil {
		rec.Telemetry = *in.Telemetry
	}
	if in.Certification != nil {
		rec.Certification = *in.Certification
	}
	if in.IsPublic != nil {
		rec.IsPublic = *in.IsPublic
	}
	return nil
}

func translateWrite(op string, err error) error {
	switch {
	case errors.Is(err, ErrDuplicateUsername):
		return ErrDuplicateUsername
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	default:
		return storeErr(op, err)
	}
}

func observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrValidation):
		result = "invalid"
	case errors.Is(err, ErrDuplicateUsername):
		result = "duplicate"
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	obs.ObserveOperation(op, result)
}

func (s *Service) invalidate(ctx context.Context, usernames ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, usernames...); err != nil {
		s.log.Warn().Err(err).Strs("usernames", usernames).Msg("public cache invalidation failed")
		s.mu.Lock()
		for _, u := range usernames {
			if u = NormalizeUsername(u); u != "" {
				s.stale[u] = struct{}{}
			}
		}
		s.mu.Unlock()
	}
}

// settle reports whether the cache may be used for username, retrying a
// previously failed invalidation first.
func (s *Service) settle(ctx context.Context, username string) bool {
	s.mu.Lock()
	_, pending := s.stale[username]
	s.mu.Unlock()
	if !pending {
		return true
	}
	if err := s.cache.Invalidate(ctx, username); err != nil {
		return false
	}
	s.mu.Lock()
	delete(s.stale, username)
	s.mu.Unlock()
	return true
}
