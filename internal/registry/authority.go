package registry

import "context"

// Authority answers username availability and ownership questions. The
// availability check is a fast path only; the store's unique constraint
// decides races.
type Authority struct {
	store Store
}

func NewAuthority(store Store) *Authority {
	return &Authority{store: store}
}

// CheckUsernameAvailable reports whether username is free. excludeID lets a
// record keep its own username during an update.
func (a *Authority) CheckUsernameAvailable(ctx context.Context, username, excludeID string) (bool, error) {
	taken, err := a.store.UsernameTaken(ctx, NormalizeUsername(username), excludeID)
	if err != nil {
		return false, storeErr("check username", err)
	}
	return !taken, nil
}

// AssertOwnership fails with ErrOwnership unless accountID owns rec.
func AssertOwnership(rec Record, accountID string) error {
	if accountID == "" || rec.OwnerID != accountID {
		return ErrOwnership
	}
	return nil
}
