package auth

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"list39.org/internal/ids"
	"list39.org/internal/obs"
)

// Resolver maps an identity provider assertion onto a local account,
// creating or linking it as needed.
type Resolver struct {
	store AccountStore
	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

func WithIDGenerator(fn func() string) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.newID = fn
		}
	}
}

func WithLogger(l zerolog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.log = l
	}
}

func NewResolver(store AccountStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store: store,
		now:   time.Now,
		newID: ids.New,
		log:   obs.Logger().With().Str("component", "auth").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve finds the account by subject id or email, syncs its profile and
// returns it; an unknown identity gets a new account. Repeating the call
// with the same assertion performs no write.
func (r *Resolver) Resolve(ctx context.Context, a Assertion) (Account, error) {
	a = a.normalized()
	if a.SubjectID == "" || a.Email == "" {
		return Account{}, ErrInvalidInput
	}

	acct, err := r.store.FindBySubjectOrEmail(ctx, a.SubjectID, a.Email)
	switch {
	case err == nil:
		return r.sync(ctx, acct, a)
	case !errors.Is(err, ErrNotFound):
		return Account{}, storeErr("find account", err)
	}

	now := r.now().UTC()
	acct = Account{
		ID:        r.newID(),
		SubjectID: a.SubjectID,
		Email:     a.Email,
		Name:      a.Name,
		Picture:   a.Picture,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Create(ctx, &acct); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			return Account{}, storeErr("create account", err)
		}
		// Lost a creation race; link to whichever account now holds the email.
		existing, findErr := r.store.FindByEmail(ctx, a.Email)
		if findErr != nil {
			r.log.Warn().Err(findErr).Str("email", a.Email).Msg("re-query after duplicate account failed")
			return Account{}, storeErr("create account", err)
		}
		return r.sync(ctx, existing, a)
	}
	r.log.Info().Str("account_id", acct.ID).Msg("account created")
	return acct, nil
}

func (r *Resolver) sync(ctx context.Context, acct Account, a Assertion) (Account, error) {
	changed := false
	if acct.Name != a.Name {
		acct.Name = a.Name
		changed = true
	}
	if acct.Picture != a.Picture {
		acct.Picture = a.Picture
		changed = true
	}
	if acct.SubjectID == "" {
		acct.SubjectID = a.SubjectID
		changed = true
	}
	if !changed {
		return acct, nil
	}
	acct.UpdatedAt = r.now().UTC()
	if err := r.store.Update(ctx, &acct); err != nil {
		return Account{}, storeErr("update account", err)
	}
	return acct, nil
}

// Account loads the account a session token was issued for.
func (r *Resolver) Account(ctx context.Context, id string) (Account, error) {
	acct, err := r.store.FindByID(ctx, id)
	switch {
	case err == nil:
		return acct, nil
	case errors.Is(err, ErrNotFound):
		return Account{}, ErrNotFound
	default:
		return Account{}, storeErr("find account", err)
	}
}
