package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"list39.org/internal/auth"
)

var _ auth.AccountStore = (*AccountStore)(nil)

// AccountStore implements auth.AccountStore over the users collection.
type AccountStore struct {
	s *Store
}

// FindBySubjectOrEmail issues one $or query and prefers the subject match
// when both keys hit different documents.
func (a *AccountStore) FindBySubjectOrEmail(ctx context.Context, subjectID, email string) (auth.Account, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "subject_id", Value: subjectID}},
		bson.D{{Key: "email", Value: auth.NormalizeEmail(email)}},
	}}}
	cur, err := a.s.accounts.Find(ctx, filter, options.Find().SetLimit(2))
	if err != nil {
		return auth.Account{}, err
	}
	var found []auth.Account
	if err := cur.All(ctx, &found); err != nil {
		return auth.Account{}, err
	}
	return pickAccount(found, subjectID)
}

func pickAccount(found []auth.Account, subjectID string) (auth.Account, error) {
	if len(found) == 0 {
		return auth.Account{}, auth.ErrNotFound
	}
	for _, acct := range found {
		if subjectID != "" && acct.SubjectID == subjectID {
			return utc(acct), nil
		}
	}
	return utc(found[0]), nil
}

func (a *AccountStore) FindByEmail(ctx context.Context, email string) (auth.Account, error) {
	return a.findOne(ctx, bson.D{{Key: "email", Value: auth.NormalizeEmail(email)}})
}

func (a *AccountStore) FindByID(ctx context.Context, id string) (auth.Account, error) {
	return a.findOne(ctx, bson.D{{Key: "id", Value: id}})
}

func (a *AccountStore) findOne(ctx context.Context, filter bson.D) (auth.Account, error) {
	var acct auth.Account
	if err := a.s.accounts.FindOne(ctx, filter).Decode(&acct); err != nil {
		return auth.Account{}, notFound(err, auth.ErrNotFound)
	}
	return utc(acct), nil
}

func (a *AccountStore) Create(ctx context.Context, acct *auth.Account) error {
	auth.NormalizeAccount(acct)
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = a.s.stamp()
	}
	acct.CreatedAt = acct.CreatedAt.Truncate(time.Millisecond)
	acct.UpdatedAt = acct.CreatedAt
	if _, err := a.s.accounts.InsertOne(ctx, acct); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return auth.ErrDuplicate
		}
		return err
	}
	return nil
}

func (a *AccountStore) Update(ctx context.Context, acct *auth.Account) error {
	auth.NormalizeAccount(acct)
	acct.UpdatedAt = a.s.stamp()
	res, err := a.s.accounts.ReplaceOne(ctx, bson.D{{Key: "id", Value: acct.ID}}, acct)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return auth.ErrDuplicate
		}
		return err
	}
	if res.MatchedCount == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func utc(acct auth.Account) auth.Account {
	acct.CreatedAt = acct.CreatedAt.UTC()
	acct.UpdatedAt = acct.UpdatedAt.UTC()
	return acct
}
