// Package store persists APOD records in a relational table.
//
// Both sqlite (modernc) and postgres (lib/pq) are supported. The SQL is shared,
// sqlx rebinds placeholders for whichever driver the connection was opened with.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/apod/internal/apod"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and tunes the storage backend.
type Config struct {
	Driver           string        `env:"DRIVER, default=sqlite"`
	DSN              string        `env:"DSN, required"`
	StatementTimeout time.Duration `env:"STATEMENT_TIMEOUT, default=5s"`
}

// Pragmas applied to sqlite connections when the DSN doesn't bring its own.
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// Open connects to the configured database and makes sure it answers.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	dsn := cfg.DSN
	switch cfg.Driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn = fmt.Sprintf("%s?%s", dsn, sqlitePragmas)
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	dbx, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %s", err)
	}
	if err := dbx.PingContext(ctx); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	return dbx, nil
}

// Repo owns the apod_data table.
type Repo struct {
	db               *sqlx.DB
	statementTimeout time.Duration
}

func New(db *sqlx.DB, cfg Config) Repo {
	return Repo{
		db:               db,
		statementTimeout: cfg.StatementTimeout,
	}
}

// Load upserts the record keyed by its date.
//
// The insert and the update happen in one statement against the unique index
// on date, so concurrent loads of the same day can't produce two rows.
func (r Repo) Load(ctx context.Context, rec apod.CanonicalRecord) error {
	const q = `INSERT INTO apod_data (title, explanation, url, date, media_type)
	VALUES (:title, :explanation, :url, :date, :media_type)
	ON CONFLICT (date) DO UPDATE SET
		title = excluded.title,
		explanation = excluded.explanation,
		url = excluded.url,
		media_type = excluded.media_type;`

	if rec.Date.IsZero() {
		return &LoadError{Kind: KindConstraintViolation, Err: fmt.Errorf("record has no date")}
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.NamedExecContext(ctx, q, rec); err != nil {
		return classifyLoadErr(fmt.Errorf("error upserting record for %s: %w", rec.Date, err))
	}

	return nil
}

func (r Repo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.statementTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, r.statementTimeout)
}

// Ping checks the database is still reachable.
func (r Repo) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	return r.db.PingContext(ctx)
}
