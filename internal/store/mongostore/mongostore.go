package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	recordsCollection  = "agentfacts"
	accountsCollection = "users"
)

// Store is a MongoDB backed record and account store. Collection names
// match the agentfacts and users collections of earlier deployments.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	records  *mongo.Collection
	accounts *mongo.Collection
	now      func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source used to stamp documents.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// Open connects to uri, verifies the connection and ensures indexes.
func Open(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	db := client.Database(database)
	s := &Store{
		client:   client,
		db:       db,
		records:  db.Collection(recordsCollection),
		accounts: db.Collection(accountsCollection),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the unique indexes the stores rely on for
// correctness under concurrent writes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.records.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("id_unique")},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetName("username_unique")},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("owner_created")},
	})
	if err != nil {
		return fmt.Errorf("mongostore: record indexes: %w", err)
	}
	_, err = s.accounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("id_unique")},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("email_unique")},
		{Keys: bson.D{{Key: "subject_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true).SetName("subject_unique")},
	})
	if err != nil {
		return fmt.Errorf("mongostore: account indexes: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping reports whether the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Records returns the agent record store.
func (s *Store) Records() *RecordStore { return &RecordStore{s} }

// Accounts returns the account store.
func (s *Store) Accounts() *AccountStore { return &AccountStore{s} }

// stamp truncates to the millisecond precision BSON dates keep.
func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func notFound(err, sentinel error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return sentinel
	}
	return err
}
