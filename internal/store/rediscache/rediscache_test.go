package rediscache

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"list39.org/internal/registry"
)

// fakeRedis models the two cache scripts over a map.
type fakeRedis struct {
	data  map[string]string
	ttls  map[string]time.Duration
	evals int
	fail  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) MGet(_ context.Context, keys ...string) *redis.SliceCmd {
	if f.fail != nil {
		return redis.NewSliceResult(nil, f.fail)
	}
	vals := make([]any, len(keys))
	for i, k := range keys {
		if v, ok := f.data[k]; ok {
			vals[i] = v
		}
	}
	return redis.NewSliceResult(vals, nil)
}

func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...any) *redis.Cmd {
	f.evals++
	if f.fail != nil {
		return redis.NewCmdResult(nil, f.fail)
	}
	entry, gen := keys[0], keys[1]
	switch script {
	case setScript:
		cur, ok := f.data[gen]
		if !ok {
			cur = "0"
		}
		if cur != args[0].(string) {
			return redis.NewCmdResult(int64(0), nil)
		}
		f.data[entry] = args[1].(string)
		f.ttls[entry] = time.Duration(args[2].(int64)) * time.Millisecond
		return redis.NewCmdResult(int64(1), nil)
	case invalidateScript:
		n, _ := strconv.ParseInt(f.data[gen], 10, 64)
		f.data[gen] = strconv.FormatInt(n+1, 10)
		delete(f.data, entry)
		delete(f.ttls, entry)
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(nil, errors.New("unknown script"))
}

func TestCacheSetGet(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	c := newCache(rdb, time.Minute)

	entry, err := c.Get(ctx, "ada")
	if err != nil || entry.Hit || entry.Generation != 0 {
		t.Fatalf("expected miss at generation 0, got %+v err=%v", entry, err)
	}

	rec := registry.PublicRecord{
		ID:        "rec-1",
		AgentName: "ada",
		Label:     "Ada",
		Skills:    []registry.Skill{},
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := c.Set(ctx, "Ada", entry.Generation, rec); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := rdb.ttls["list39:public:{ada}"]; got != time.Minute {
		t.Fatalf("expected ttl 1m on normalised key, got %v", got)
	}

	got, err := c.Get(ctx, "ADA")
	if err != nil || !got.Hit {
		t.Fatalf("expected hit, got %+v err=%v", got, err)
	}
	if diff := cmp.Diff(rec, got.Record); diff != "" {
		t.Fatalf("cached record mismatch (-want +got):\n%s", diff)
	}
}

func TestCacheInvalidateBumpsGeneration(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	c := newCache(rdb, time.Minute, WithPrefix("t:"))

	_ = c.Set(ctx, "old", 0, registry.PublicRecord{ID: "1"})
	_ = c.Set(ctx, "new", 0, registry.PublicRecord{ID: "1"})

	if err := c.Invalidate(ctx, "Old", "", "new"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	want := map[string]string{"t:{old}:gen": "1", "t:{new}:gen": "1"}
	if diff := cmp.Diff(want, rdb.data); diff != "" {
		t.Fatalf("cache contents mismatch (-want +got):\n%s", diff)
	}

	evals := rdb.evals
	if err := c.Invalidate(ctx, "", "  "); err != nil {
		t.Fatalf("invalidate blanks: %v", err)
	}
	if rdb.evals != evals {
		t.Fatalf("blank usernames must not reach redis")
	}
}

func TestCacheRejectsSetFromBeforeInvalidate(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	c := newCache(rdb, time.Minute)

	before, err := c.Get(ctx, "ada")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := c.Invalidate(ctx, "ada"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := c.Set(ctx, "ada", before.Generation, registry.PublicRecord{ID: "stale"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	after, err := c.Get(ctx, "ada")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Hit {
		t.Fatalf("projection read before the invalidation was cached: %+v", after.Record)
	}
	if after.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", after.Generation)
	}

	if err := c.Set(ctx, "ada", after.Generation, registry.PublicRecord{ID: "fresh"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := c.Get(ctx, "ada"); !got.Hit || got.Record.ID != "fresh" {
		t.Fatalf("expected fresh projection, got %+v", got)
	}
}

func TestCacheErrorsSurface(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	rdb.fail = errors.New("connection refused")
	c := newCache(rdb, time.Minute)

	if _, err := c.Get(ctx, "ada"); err == nil {
		t.Fatal("expected get error")
	}
	if err := c.Set(ctx, "ada", 0, registry.PublicRecord{}); err == nil {
		t.Fatal("expected set error")
	}
	if err := c.Invalidate(ctx, "ada"); err == nil {
		t.Fatal("expected invalidate error")
	}
}

func TestCacheCorruptEntry(t *testing.T) {
	rdb := newFakeRedis()
	rdb.data["list39:public:{ada}"] = "{not json"
	c := newCache(rdb, time.Minute)
	if entry, err := c.Get(context.Background(), "ada"); err == nil || entry.Hit {
		t.Fatalf("expected decode error, got %+v err=%v", entry, err)
	}

	rdb = newFakeRedis()
	rdb.data["list39:public:{ada}:gen"] = "x"
	c = newCache(rdb, time.Minute)
	if _, err := c.Get(context.Background(), "ada"); err == nil {
		t.Fatal("expected generation parse error")
	}
}
