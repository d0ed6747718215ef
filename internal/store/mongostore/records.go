package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"list39.org/internal/registry"
)

var _ registry.Store = (*RecordStore)(nil)

// RecordStore implements registry.Store over the agentfacts collection.
type RecordStore struct {
	s *Store
}

func (r *RecordStore) Insert(ctx context.Context, rec *registry.Record) error {
	rec.Username = registry.NormalizeUsername(rec.Username)
	now := r.s.stamp()
	rec.CreatedAt, rec.UpdatedAt = now, now
	if _, err := r.s.records.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return registry.ErrDuplicateUsername
		}
		return err
	}
	return nil
}

func (r *RecordStore) FindByID(ctx context.Context, id string) (registry.Record, error) {
	return r.findOne(ctx, bson.D{{Key: "id", Value: id}})
}

func (r *RecordStore) FindByUsername(ctx context.Context, username string) (registry.Record, error) {
	return r.findOne(ctx, bson.D{{Key: "username", Value: registry.NormalizeUsername(username)}})
}

func (r *RecordStore) findOne(ctx context.Context, filter bson.D) (registry.Record, error) {
	var rec registry.Record
	if err := r.s.records.FindOne(ctx, filter).Decode(&rec); err != nil {
		return registry.Record{}, notFound(err, registry.ErrNotFound)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func (r *RecordStore) ListByOwner(ctx context.Context, ownerID string) ([]registry.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.s.records.Find(ctx, bson.D{{Key: "userId", Value: ownerID}}, opts)
	if err != nil {
		return nil, err
	}
	recs := []registry.Record{}
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].CreatedAt = recs[i].CreatedAt.UTC()
		recs[i].UpdatedAt = recs[i].UpdatedAt.UTC()
	}
	return recs, nil
}

func (r *RecordStore) UsernameTaken(ctx context.Context, username, excludeID string) (bool, error) {
	filter := bson.D{{Key: "username", Value: registry.NormalizeUsername(username)}}
	if excludeID != "" {
		filter = append(filter, bson.E{Key: "id", Value: bson.D{{Key: "$ne", Value: excludeID}}})
	}
	n, err := r.s.records.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RecordStore) Update(ctx context.Context, rec *registry.Record) error {
	rec.Username = registry.NormalizeUsername(rec.Username)
	rec.UpdatedAt = r.s.stamp()
	res, err := r.s.records.ReplaceOne(ctx,
		bson.D{{Key: "id", Value: rec.ID}, {Key: "userId", Value: rec.OwnerID}}, rec)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return registry.ErrDuplicateUsername
		}
		return err
	}
	if res.MatchedCount == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (r *RecordStore) Delete(ctx context.Context, id, ownerID string) error {
	res, err := r.s.records.DeleteOne(ctx, bson.D{{Key: "id", Value: id}, {Key: "userId", Value: ownerID}})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return registry.ErrNotFound
	}
	return nil
}
