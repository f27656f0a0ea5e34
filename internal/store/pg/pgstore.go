package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// DB owns the shared connection pool behind the three domain stores.
type DB struct {
	sql *sql.DB
}

// Open connects to Postgres via the pgx stdlib driver.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &DB{sql: db}, nil
}

// NewDB wraps an existing connection, used by tests.
func NewDB(db *sql.DB) *DB { return &DB{sql: db} }

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) SQL() *sql.DB { return d.sql }

func (d *DB) Ping(ctx context.Context) error { return d.sql.PingContext(ctx) }

// Access returns the access-control store view.
func (d *DB) Access() *AccessStore { return &AccessStore{db: d.sql, q: d.sql} }

// Budget returns the fiscal-year graph store view.
func (d *DB) Budget() *BudgetStore { return &BudgetStore{db: d.sql, q: d.sql} }

// Audit returns the audit event store view.
func (d *DB) Audit() *AuditStore { return &AuditStore{q: d.sql} }

// querier is satisfied by both *sql.DB and *sql.Tx, so store methods
// run unchanged inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func runTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
