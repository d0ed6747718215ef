package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"list39.org/internal/migrate"
)

// Dialect selects the SQL flavour and driver.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const pgErrUniqueViolation = "23505"

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Store provides SQL-backed record and account stores sharing one pool.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Option configures Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp rows.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// Open connects to the database for the dialect and verifies the connection.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*Store, error) {
	var driver string
	switch dialect {
	case Postgres:
		driver = "pgx"
	case SQLite:
		driver = "sqlite3"
	default:
		return nil, fmt.Errorf("sqlstore: unknown dialect %q", dialect)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		// SQLite serialises writers; a single connection avoids "database is locked".
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	return New(db, dialect, opts...), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{db: db, dialect: dialect, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrations returns the embedded schema for the store's dialect.
func (s *Store) Migrations() (fs.FS, error) {
	return fs.Sub(migrationsFS, "migrations/"+string(s.dialect))
}

// Migrator returns a migration manager bound to the store's schema. seeds
// may be nil.
func (s *Store) Migrator(seeds fs.FS) (*migrate.Manager, error) {
	migrations, err := s.Migrations()
	if err != nil {
		return nil, err
	}
	var opts []migrate.Option
	if s.dialect == SQLite {
		opts = append(opts, migrate.WithPlaceholder(func(n int) string { return fmt.Sprintf("?%d", n) }))
	}
	return migrate.NewManager(s.db, migrations, seeds, opts...), nil
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	mgr, err := s.Migrator(nil)
	if err != nil {
		return err
	}
	return mgr.Up(ctx)
}

// Records returns the agent record store.
func (s *Store) Records() *RecordStore { return &RecordStore{s} }

// Accounts returns the account store.
func (s *Store) Accounts() *AccountStore { return &AccountStore{s} }

// q adapts a query written with $n placeholders to the dialect.
func (s *Store) q(query string) string {
	if s.dialect != SQLite {
		return query
	}
	return rebind(query)
}

// rebind rewrites $n placeholders as ?n, which SQLite binds by position
// while still allowing a parameter to be reused.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (s *Store) stamp() time.Time {
	return s.now().UTC()
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// uniqueViolation reports whether err is a unique constraint failure and
// returns a description naming the constraint or column.
func uniqueViolation(err error) (string, bool) {
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return pgErr.ConstraintName, true
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return liteErr.Error(), true
	}
	return "", false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}
