package mongostore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"list39.org/internal/auth"
	"list39.org/internal/ids"
	"list39.org/internal/registry"
)

func TestPickAccountPrefersSubject(t *testing.T) {
	byEmail := auth.Account{ID: "a", Email: "ada@example.com"}
	bySubject := auth.Account{ID: "b", SubjectID: "sub-1", Email: "other@example.com"}

	got, err := pickAccount([]auth.Account{byEmail, bySubject}, "sub-1")
	if err != nil {
		t.Fatalf("pickAccount: %v", err)
	}
	if got.ID != "b" {
		t.Fatalf("expected subject match, got %q", got.ID)
	}

	got, err = pickAccount([]auth.Account{byEmail}, "sub-1")
	if err != nil || got.ID != "a" {
		t.Fatalf("expected email fallback, got %q err=%v", got.ID, err)
	}

	if _, err := pickAccount(nil, "sub-1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNotFoundMapping(t *testing.T) {
	if err := notFound(mongo.ErrNoDocuments, registry.ErrNotFound); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	other := errors.New("boom")
	if err := notFound(other, registry.ErrNotFound); err != other {
		t.Fatalf("expected passthrough, got %v", err)
	}
}

// openTestStore connects to LIST39_TEST_MONGO_URI in a throwaway database.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("LIST39_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("LIST39_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := Open(ctx, uri, "list39_test_"+ids.New())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = s.Close(context.Background())
	})
	return s
}

func TestRecordStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	recs := s.Records()

	rec := registry.Record{ID: ids.NewRecordID(), Username: "Ada", OwnerID: "acct-1", AgentName: "ada", Label: "Ada"}
	if err := recs.Insert(ctx, &rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := registry.Record{ID: ids.NewRecordID(), Username: "ada", OwnerID: "acct-2"}
	if err := recs.Insert(ctx, &dup); !errors.Is(err, registry.ErrDuplicateUsername) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	got, err := recs.FindByUsername(ctx, "ADA")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != rec.ID || !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("unexpected record %+v", got)
	}

	taken, err := recs.UsernameTaken(ctx, "ada", rec.ID)
	if err != nil || taken {
		t.Fatalf("own username must not count as taken: %v %v", taken, err)
	}

	rec.OwnerID = "acct-2"
	if err := recs.Update(ctx, &rec); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
	if err := recs.Delete(ctx, rec.ID, "acct-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := recs.FindByID(ctx, rec.ID); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestAccountStoreUniqueness(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	accts := s.Accounts()

	a := auth.Account{ID: ids.New(), SubjectID: "sub-1", Email: "Ada@Example.com", Name: "Ada"}
	if err := accts.Create(ctx, &a); err != nil {
		t.Fatalf("create: %v", err)
	}
	b := auth.Account{ID: ids.New(), Email: "ada@example.com"}
	if err := accts.Create(ctx, &b); !errors.Is(err, auth.ErrDuplicate) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
	// accounts without a subject must not collide on the sparse index
	c := auth.Account{ID: ids.New(), Email: "c@example.com"}
	d := auth.Account{ID: ids.New(), Email: "d@example.com"}
	if err := accts.Create(ctx, &c); err != nil {
		t.Fatalf("create c: %v", err)
	}
	if err := accts.Create(ctx, &d); err != nil {
		t.Fatalf("create d: %v", err)
	}

	got, err := accts.FindBySubjectOrEmail(ctx, "sub-1", "d@example.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != a.ID {
		t.Fatalf("expected subject match %q, got %q", a.ID, got.ID)
	}
}
