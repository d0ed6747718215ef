package registry

import (
	"context"
	"errors"

	"list39.org/internal/obs"
)

// ResolvePublic returns the public projection for username. Private and
// unknown usernames both yield ErrNotFound.
func (s *Service) ResolvePublic(ctx context.Context, username string) (PublicRecord, error) {
	username = NormalizeUsername(username)
	if username == "" {
		obs.ObserveResolution("not_found", "store")
		return PublicRecord{}, ErrNotFound
	}

	var (
		generation int64
		cacheable  bool
	)
	if s.cache != nil && s.settle(ctx, username) {
		entry, err := s.cache.Get(ctx, username)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Str("username", username).Msg("public cache read failed")
		case entry.Hit:
			obs.ObserveResolution("found", "cache")
			return entry.Record, nil
		default:
			generation, cacheable = entry.Generation, true
		}
	}

	rec, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveResolution("not_found", "store")
			return PublicRecord{}, ErrNotFound
		}
		obs.ObserveResolution("error", "store")
		return PublicRecord{}, storeErr("resolve username", err)
	}
	if !rec.IsPublic {
		obs.ObserveResolution("not_found", "store")
		return PublicRecord{}, ErrNotFound
	}

	pub := rec.Public()
	if cacheable {
		if err := s.cache.Set(ctx, username, generation, pub); err != nil {
			s.log.Warn().Err(err).Str("username", username).Msg("public cache write failed")
		}
	}
	obs.ObserveResolution("found", "store")
	return pub, nil
}
