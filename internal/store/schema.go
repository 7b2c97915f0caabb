package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// EnsureSchema creates apod_data and its unique date index if they are missing.
//
// Safe to call on every run. Any failure is a [*SchemaError].
func (r Repo) EnsureSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &SchemaError{Err: err}
	}

	migrator, release, err := r.migrator()
	if err != nil {
		return &SchemaError{Err: err}
	}
	defer release()

	// A run that died partway leaves the version dirty, and migrate refuses to
	// go further until it's cleared.
	if err := clearDirty(ctx, migrator); err != nil {
		return &SchemaError{Err: err}
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if cerr := clearDirty(ctx, migrator); cerr != nil {
			slog.ErrorContext(ctx, "error clearing failed migration", "error", cerr)
		}
		return &SchemaError{Err: fmt.Errorf("error migrating: %w", err)}
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		return &SchemaError{Err: fmt.Errorf("error reading schema version: %w", err)}
	}
	slog.DebugContext(ctx, "schema ready", "version", version, "dirty", dirty)

	return nil
}

// Forces a dirty version back to the one before it so the next Up retries the
// failed migration. Migrations are numbered without gaps and each one can be
// run again on top of a partial attempt.
func clearDirty(ctx context.Context, migrator *migrate.Migrate) error {
	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error reading schema version: %w", err)
	}
	if !dirty {
		return nil
	}

	clean := int(version) - 1
	if clean < 1 {
		clean = database.NilVersion
	}
	slog.WarnContext(ctx, "clearing dirty schema version", "version", version, "forced_to", clean)
	if err := migrator.Force(clean); err != nil {
		return fmt.Errorf("error forcing schema version %d: %w", clean, err)
	}

	return nil
}

// Builds a migrator over the repo's connection pool.
//
// The returned func frees what the migrator holds without closing the pool:
// the postgres driver pins a dedicated connection, while closing the sqlite
// driver would close the whole *sql.DB.
func (r Repo) migrator() (*migrate.Migrate, func(), error) {
	var (
		driver     database.Driver
		release    = func() {}
		err        error
		driverName = r.db.DriverName()
	)
	switch driverName {
	case DriverSQLite:
		driver, err = migratesqlite.WithInstance(r.db.DB, &migratesqlite.Config{})
	case DriverPostgres:
		driver, err = migratepg.WithInstance(r.db.DB, &migratepg.Config{})
		if err == nil {
			release = func() { driver.Close() }
		}
	default:
		return nil, nil, fmt.Errorf("no migrations for driver %q", driverName)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("error creating %s instance for migration: %w", driverName, err)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+driverName)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("error creating migrations source: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", src, driverName, driver)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("error creating migrator: %w", err)
	}

	return migrator, release, nil
}
