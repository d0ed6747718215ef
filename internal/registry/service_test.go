package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestService(t *testing.T, opts ...Option) (*Service, *InMemory) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewInMemory().WithNow(clock.Now)
	var n int
	base := []Option{
		WithClock(clock.Now),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("rec-%d", n) }),
		WithLogger(zerolog.Nop()),
	}
	return NewService(store, append(base, opts...)...), store
}

func basicInput(username string) Input {
	return Input{Username: strp(username), AgentName: strp("Bot One"), Label: strp("assistant")}
}

func TestCreateThenResolvePublic(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "acct-a", basicInput("bot1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	pub, err := svc.ResolvePublic(ctx, "bot1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if diff := cmp.Diff([]string{"text"}, pub.Capabilities.Modalities); diff != "" {
		t.Fatalf("modalities mismatch (-want +got):\n%s", diff)
	}
	if len(pub.Skills) == 0 || pub.Skills[0].ID != "chat" {
		t.Fatalf("expected default chat skill, got %+v", pub.Skills)
	}
}

func TestCreateDuplicateUsernameIsCaseInsensitive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "acct-a", basicInput("Agent1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, "acct-b", basicInput("agent1")); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
	if _, err := svc.Create(ctx, "acct-b", basicInput("AGENT1")); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
}

// racyStore hides existing usernames from the pre-check so the store-level
// constraint has to catch the collision.
type racyStore struct {
	*InMemory
}

func (racyStore) UsernameTaken(context.Context, string, string) (bool, error) {
	return false, nil
}

func TestCreateStoreConstraintBackstop(t *testing.T) {
	svc := NewService(racyStore{NewInMemory()}, WithLogger(zerolog.Nop()))
	ctx := context.Background()

	if _, err := svc.Create(ctx, "acct-a", basicInput("bot1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, "acct-b", basicInput("BOT1")); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername from store, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Create(context.Background(), "acct-a", Input{Username: strp("bot"), Label: strp("x")})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestListOwnedNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, u := range []string{"first", "second", "third"} {
		if _, err := svc.Create(ctx, "acct-a", basicInput(u)); err != nil {
			t.Fatalf("create %s: %v", u, err)
		}
	}
	if _, err := svc.Create(ctx, "acct-b", basicInput("other")); err != nil {
		t.Fatalf("create: %v", err)
	}

	recs, err := svc.ListOwned(ctx, "acct-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var got []string
	for _, r := range recs {
		got = append(got, r.Username)
	}
	if diff := cmp.Diff([]string{"third", "second", "first"}, got); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}

	empty, err := svc.ListOwned(ctx, "acct-none")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil list, got %v, %v", empty, err)
	}
}

func TestUpdatePartiality(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "acct-a", basicInput("bot1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.Update(ctx, "acct-a", created.ID, Input{Description: strp("new")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Description != "new" {
		t.Fatalf("description not applied: %q", updated.Description)
	}
	if diff := cmp.Diff(created.Capabilities, updated.Capabilities); diff != "" {
		t.Fatalf("capabilities changed (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(created.Skills, updated.Skills); diff != "" {
		t.Fatalf("skills changed (-before +after):\n%s", diff)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) || !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("unexpected timestamps: created=%v updated=%v", updated.CreatedAt, updated.UpdatedAt)
	}

	replaced, err := svc.Update(ctx, "acct-a", created.ID, Input{Capabilities: &Capabilities{Batch: true}})
	if err != nil {
		t.Fatalf("update capabilities: %v", err)
	}
	want := Capabilities{
		Batch:          true,
		Modalities:     []string{},
		Authentication: Authentication{Methods: []string{}, RequiredScopes: []string{}},
	}
	if diff := cmp.Diff(want, replaced.Capabilities); diff != "" {
		t.Fatalf("capabilities must be replaced wholesale (-want +got):\n%s", diff)
	}
}

func TestUpdateRejectsBlankRequiredFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, "acct-a", basicInput("bot1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Update(ctx, "acct-a", created.ID, Input{Label: strp("  ")}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestUpdateUsernameCollision(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mine, err := svc.Create(ctx, "acct-a", basicInput("mine"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, "acct-c", basicInput("taken")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Update(ctx, "acct-a", mine.ID, Input{Username: strp("Taken"), Description: strp("x")}); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
	after, err := svc.GetOwned(ctx, "acct-a", mine.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(mine, after); diff != "" {
		t.Fatalf("record changed after failed update (-before +after):\n%s", diff)
	}

	// Keeping the current username, in any case, is not a collision.
	kept, err := svc.Update(ctx, "acct-a", mine.ID, Input{Username: strp("MINE")})
	if err != nil {
		t.Fatalf("update with own username: %v", err)
	}
	if kept.Username != "mine" {
		t.Fatalf("expected normalised username, got %q", kept.Username)
	}

	renamed, err := svc.Update(ctx, "acct-a", mine.ID, Input{Username: strp("fresh")})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := svc.ResolvePublic(ctx, "mine"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old username should be released, got %v", err)
	}
	if _, err := svc.ResolvePublic(ctx, renamed.Username); err != nil {
		t.Fatalf("resolve renamed: %v", err)
	}
}

func TestOwnershipIsolation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "acct-b", basicInput("theirs"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.GetOwned(ctx, "acct-a", rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Update(ctx, "acct-a", rec.ID, Input{Description: strp("hijack")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update: expected ErrNotFound, got %v", err)
	}
	if err := svc.Remove(ctx, "acct-a", rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("remove: expected ErrNotFound, got %v", err)
	}
	for _, err := range []error{
		func() error { _, err := svc.GetOwned(ctx, "acct-a", rec.ID); return err }(),
		svc.Remove(ctx, "acct-a", "missing"),
	} {
		if errors.Is(err, ErrOwnership) {
			t.Fatalf("ownership error leaked: %v", err)
		}
	}

	still, err := svc.GetOwned(ctx, "acct-b", rec.ID)
	if err != nil || still.Description != "" {
		t.Fatalf("owner's record was modified: %+v, %v", still, err)
	}
}

func TestRemove(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	rec, err := svc.Create(ctx, "acct-a", basicInput("gone"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Remove(ctx, "acct-a", rec.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := svc.Remove(ctx, "acct-a", rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Create(ctx, "acct-b", basicInput("gone")); err != nil {
		t.Fatalf("username should be free after delete: %v", err)
	}
}

func TestResolvePublicPrivateAndAbsentLookAlike(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	in := basicInput("hidden")
	private := false
	in.IsPublic = &private
	if _, err := svc.Create(ctx, "acct-a", in); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, errPrivate := svc.ResolvePublic(ctx, "hidden")
	_, errAbsent := svc.ResolvePublic(ctx, "nobody")
	if !errors.Is(errPrivate, ErrNotFound) || !errors.Is(errAbsent, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for both, got %v and %v", errPrivate, errAbsent)
	}
	if errPrivate.Error() != errAbsent.Error() {
		t.Fatalf("private and absent must be indistinguishable: %q vs %q", errPrivate, errAbsent)
	}
}

type fakeCache struct {
	mu             sync.Mutex
	items          map[string]PublicRecord
	gens           map[string]int64
	invalidated    []string
	fail           bool
	failInvalidate bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: make(map[string]PublicRecord), gens: make(map[string]int64)}
}

func (c *fakeCache) Get(_ context.Context, username string) (CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return CacheEntry{}, errors.New("cache down")
	}
	rec, ok := c.items[username]
	return CacheEntry{Record: rec, Hit: ok, Generation: c.gens[username]}, nil
}

func (c *fakeCache) Set(_ context.Context, username string, gen int64, rec PublicRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("cache down")
	}
	if c.gens[username] != gen {
		return nil
	}
	c.items[username] = rec
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, usernames ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.failInvalidate {
		return errors.New("cache down")
	}
	c.invalidated = append(c.invalidated, usernames...)
	for _, u := range usernames {
		delete(c.items, u)
		c.gens[u]++
	}
	return nil
}

func TestResolvePublicUsesCache(t *testing.T) {
	cache := newFakeCache()
	svc, _ := newTestService(t, WithCache(cache))
	ctx := context.Background()

	rec, err := svc.Create(ctx, "acct-a", basicInput("cached"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ResolvePublic(ctx, "Cached"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := cache.items["cached"]; !ok {
		t.Fatalf("expected projection to be cached")
	}

	if _, err := svc.Update(ctx, "acct-a", rec.ID, Input{Username: strp("renamed")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if diff := cmp.Diff([]string{"cached", "renamed"}, cache.invalidated); diff != "" {
		t.Fatalf("unexpected invalidations (-want +got):\n%s", diff)
	}
	if _, err := svc.ResolvePublic(ctx, "cached"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale cache entry served: %v", err)
	}
}

func TestResolvePublicBypassesFailingCache(t *testing.T) {
	cache := newFakeCache()
	cache.fail = true
	svc, _ := newTestService(t, WithCache(cache))
	ctx := context.Background()

	rec, err := svc.Create(ctx, "acct-a", basicInput("sturdy"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	pub, err := svc.ResolvePublic(ctx, "sturdy")
	if err != nil {
		t.Fatalf("resolve with failing cache: %v", err)
	}
	if pub.ID != rec.ID {
		t.Fatalf("unexpected projection %+v", pub)
	}
	if err := svc.Remove(ctx, "acct-a", rec.ID); err != nil {
		t.Fatalf("remove with failing cache: %v", err)
	}
}

// writeDuringRead runs a write after the store lookup of a public
// resolution but before the resolution reaches the cache.
type writeDuringRead struct {
	*InMemory
	mu     sync.Mutex
	during func()
}

func (s *writeDuringRead) FindByUsername(ctx context.Context, username string) (Record, error) {
	rec, err := s.InMemory.FindByUsername(ctx, username)
	s.mu.Lock()
	fn := s.during
	s.during = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return rec, err
}

func TestResolvePublicDoesNotRecacheConcurrentWrites(t *testing.T) {
	hidden := false
	cases := []struct {
		name  string
		write func(svc *Service, id string) error
	}{
		{"made private", func(svc *Service, id string) error {
			_, err := svc.Update(context.Background(), "acct-a", id, Input{IsPublic: &hidden})
			return err
		}},
		{"removed", func(svc *Service, id string) error {
			return svc.Remove(context.Background(), "acct-a", id)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			cache := newFakeCache()
			store := &writeDuringRead{InMemory: NewInMemory()}
			svc := NewService(store, WithCache(cache), WithLogger(zerolog.Nop()))

			rec, err := svc.Create(ctx, "acct-a", basicInput("bot1"))
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			store.mu.Lock()
			store.during = func() {
				if err := tc.write(svc, rec.ID); err != nil {
					t.Errorf("write: %v", err)
				}
			}
			store.mu.Unlock()

			if _, err := svc.ResolvePublic(ctx, "bot1"); err != nil {
				t.Fatalf("first resolve: %v", err)
			}
			if _, ok := cache.items["bot1"]; ok {
				t.Fatalf("projection read before the write was cached")
			}
			if _, err := svc.ResolvePublic(ctx, "bot1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after write, got %v", err)
			}
		})
	}
}

func TestResolvePublicSkipsCacheAfterFailedInvalidation(t *testing.T) {
	cache := newFakeCache()
	svc, _ := newTestService(t, WithCache(cache))
	ctx := context.Background()

	rec, err := svc.Create(ctx, "acct-a", basicInput("bot1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ResolvePublic(ctx, "bot1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	cache.failInvalidate = true
	hidden := false
	if _, err := svc.Update(ctx, "acct-a", rec.ID, Input{IsPublic: &hidden}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok := cache.items["bot1"]; !ok {
		t.Fatalf("expected the stale entry to survive the failed invalidation")
	}
	if _, err := svc.ResolvePublic(ctx, "bot1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale cache entry served: %v", err)
	}

	cache.failInvalidate = false
	if _, err := svc.ResolvePublic(ctx, "bot1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, ok := cache.items["bot1"]; ok {
		t.Fatalf("expected the retried invalidation to drop the entry")
	}
	if len(svc.stale) != 0 {
		t.Fatalf("expected no pending invalidations, got %v", svc.stale)
	}
}

type brokenStore struct {
	*InMemory
}

func (brokenStore) FindByID(context.Context, string) (Record, error) {
	return Record{}, errors.New("connection refused")
}

func (brokenStore) ListByOwner(context.Context, string) ([]Record, error) {
	return nil, errors.New("connection refused")
}

func TestStoreFailuresAreTagged(t *testing.T) {
	svc := NewService(brokenStore{NewInMemory()}, WithLogger(zerolog.Nop()))
	ctx := context.Background()

	if _, err := svc.ListOwned(ctx, "acct-a"); !errors.Is(err, ErrStore) {
		t.Fatalf("list: expected ErrStore, got %v", err)
	}
	if _, err := svc.GetOwned(ctx, "acct-a", "x"); !errors.Is(err, ErrStore) || errors.Is(err, ErrNotFound) {
		t.Fatalf("get: expected ErrStore, got %v", err)
	}
}

func TestConcurrentCreatesSameUsername(t *testing.T) {
	svc := NewService(racyStore{NewInMemory()}, WithLogger(zerolog.Nop()))
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, dup int
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Create(ctx, fmt.Sprintf("acct-%d", i), basicInput("contested"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrDuplicateUsername):
				dup++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if ok != 1 || dup != 19 {
		t.Fatalf("expected exactly one winner, got ok=%d dup=%d", ok, dup)
	}
}
