package auth

import "context"

// AccountStore persists accounts. Email and subject id are unique; a
// violation is reported as ErrDuplicate and a missing row as ErrNotFound.
type AccountStore interface {
	// FindBySubjectOrEmail returns the account matching either key. When two
	// accounts match, the subject id match wins.
	FindBySubjectOrEmail(ctx context.Context, subjectID, email string) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	Create(ctx context.Context, acct *Account) error
	Update(ctx context.Context, acct *Account) error
}
