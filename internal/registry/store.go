package registry

import "context"

// Store is the durable record store. Implementations enforce username
// uniqueness (on the normalised value) themselves and report violations as
// ErrDuplicateUsername; absent rows are reported as ErrNotFound. Insert and
// Update stamp CreatedAt/UpdatedAt on the passed record.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
	FindByID(ctx context.Context, id string) (Record, error)
	FindByUsername(ctx context.Context, username string) (Record, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Record, error)
	// UsernameTaken reports whether another record than excludeID holds username.
	UsernameTaken(ctx context.Context, username, excludeID string) (bool, error)
	// Update replaces the mutable fields of the record matching rec.ID and rec.OwnerID.
	Update(ctx context.Context, rec *Record) error
	// Delete removes the record matching id and ownerID.
	Delete(ctx context.Context, id, ownerID string) error
}

// CacheEntry is the result of a cache read. Generation is the username's
// invalidation counter at read time, reported on hits and misses alike.
type CacheEntry struct {
	Record     PublicRecord
	Hit        bool
	Generation int64
}

// PublicCache caches public projections by normalised username.
type PublicCache interface {
	Get(ctx context.Context, username string) (CacheEntry, error)
	// Set stores rec only while username's generation still equals
	// generation, so a read racing a write cannot re-cache a stale projection.
	Set(ctx context.Context, username string, generation int64, rec PublicRecord) error
	// Invalidate drops the entries and bumps the generation of each username.
	Invalidate(ctx context.Context, usernames ...string) error
}
