package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"list39.org/internal/auth"
)

var _ auth.AccountStore = (*AccountStore)(nil)

// AccountStore implements auth.AccountStore.
type AccountStore struct {
	s *Store
}

const accountColumns = `id, subject_id, email, name, picture, preferred_username, created_at, updated_at`

func scanAccount(row rowScanner) (auth.Account, error) {
	var (
		acct      auth.Account
		subject   sql.NullString
		preferred sql.NullString
	)
	if err := row.Scan(&acct.ID, &subject, &acct.Email, &acct.Name, &acct.Picture, &preferred,
		&acct.CreatedAt, &acct.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Account{}, auth.ErrNotFound
		}
		return auth.Account{}, err
	}
	acct.SubjectID = subject.String
	acct.PreferredUsername = preferred.String
	acct.CreatedAt = acct.CreatedAt.UTC()
	acct.UpdatedAt = acct.UpdatedAt.UTC()
	return acct, nil
}

// FindBySubjectOrEmail runs a single query; the ordering puts a subject
// match ahead of an email match.
func (a *AccountStore) FindBySubjectOrEmail(ctx context.Context, subjectID, email string) (auth.Account, error) {
	row := a.s.db.QueryRowContext(ctx, a.s.q(`
		select `+accountColumns+`
		from accounts
		where subject_id = $1 or email = $2
		order by case when subject_id = $1 then 0 else 1 end
		limit 1
	`), subjectID, auth.NormalizeEmail(email))
	return scanAccount(row)
}

func (a *AccountStore) FindByEmail(ctx context.Context, email string) (auth.Account, error) {
	row := a.s.db.QueryRowContext(ctx, a.s.q(`select `+accountColumns+` from accounts where email = $1`),
		auth.NormalizeEmail(email))
	return scanAccount(row)
}

func (a *AccountStore) FindByID(ctx context.Context, id string) (auth.Account, error) {
	row := a.s.db.QueryRowContext(ctx, a.s.q(`select `+accountColumns+` from accounts where id = $1`), id)
	return scanAccount(row)
}

func (a *AccountStore) Create(ctx context.Context, acct *auth.Account) error {
	auth.NormalizeAccount(acct)
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = a.s.stamp()
	}
	if acct.UpdatedAt.IsZero() {
		acct.UpdatedAt = acct.CreatedAt
	}
	_, err := a.s.db.ExecContext(ctx, a.s.q(`
		insert into accounts (`+accountColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`), acct.ID, nullIfEmpty(acct.SubjectID), acct.Email, acct.Name, acct.Picture,
		nullIfEmpty(acct.PreferredUsername), acct.CreatedAt, acct.UpdatedAt)
	if _, ok := uniqueViolation(err); ok {
		return auth.ErrDuplicate
	}
	return err
}

func (a *AccountStore) Update(ctx context.Context, acct *auth.Account) error {
	auth.NormalizeAccount(acct)
	acct.UpdatedAt = a.s.stamp()
	res, err := a.s.db.ExecContext(ctx, a.s.q(`
		update accounts set
			subject_id = $2, email = $3, name = $4, picture = $5,
			preferred_username = $6, updated_at = $7
		where id = $1
	`), acct.ID, nullIfEmpty(acct.SubjectID), acct.Email, acct.Name, acct.Picture,
		nullIfEmpty(acct.PreferredUsername), acct.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return auth.ErrDuplicate
		}
		return err
	}
	return expectOneRow(res, auth.ErrNotFound)
}
