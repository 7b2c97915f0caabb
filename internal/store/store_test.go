package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/apod/internal/apod"
)

func newTestRepo(t *testing.T) (Repo, *sqlx.DB) {
	t.Helper()

	cfg := Config{
		Driver:           DriverSQLite,
		DSN:              filepath.Join(t.TempDir(), "apod.db"),
		StatementTimeout: 5 * time.Second,
	}
	dbx, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })

	repo := New(dbx, cfg)
	require.NoError(t, repo.EnsureSchema(context.Background()))

	return repo, dbx
}

func day(t *testing.T, s string) apod.Date {
	t.Helper()

	d, err := apod.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestEnsureSchema_Twice(t *testing.T) {
	repo, dbx := newTestRepo(t)

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, repo.EnsureSchema(context.Background()))

	var tables int
	require.NoError(t, dbx.Get(&tables, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'apod_data';`))
	assert.Equal(t, 1, tables)

	var indexes int
	require.NoError(t, dbx.Get(&indexes, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'apod_data_date_key';`))
	assert.Equal(t, 1, indexes)
}

func TestEnsureSchema_LegacyTable(t *testing.T) {
	cfg := Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "legacy.db")}
	dbx, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })

	// The shape the table had before the unique constraint.
	_, err = dbx.Exec(`CREATE TABLE apod_data(id INTEGER PRIMARY KEY AUTOINCREMENT, title VARCHAR(255), explanation TEXT, url TEXT, date DATE, media_type VARCHAR(50));`)
	require.NoError(t, err)

	repo := New(dbx, cfg)
	require.NoError(t, repo.EnsureSchema(context.Background()))

	rec := apod.CanonicalRecord{Title: "A", Date: day(t, "2024-01-01")}
	require.NoError(t, repo.Load(context.Background(), rec))
	rec.Title = "B"
	require.NoError(t, repo.Load(context.Background(), rec))

	count, err := repo.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEnsureSchema_LegacyDuplicateDates(t *testing.T) {
	cfg := Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "legacy.db")}
	dbx, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })

	_, err = dbx.Exec(`CREATE TABLE apod_data(id INTEGER PRIMARY KEY AUTOINCREMENT, title VARCHAR(255), explanation TEXT, url TEXT, date DATE, media_type VARCHAR(50));`)
	require.NoError(t, err)
	_, err = dbx.Exec(`INSERT INTO apod_data (title, explanation, url, date, media_type) VALUES
		('Old', '', '', '2024-01-01', 'image'),
		('New', '', '', '2024-01-01', 'image'),
		('Other', '', '', '2024-01-02', 'image');`)
	require.NoError(t, err)

	repo := New(dbx, cfg)
	require.NoError(t, repo.EnsureSchema(context.Background()))

	count, err := repo.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := repo.Record(context.Background(), day(t, "2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, "New", got.Title)
	assert.Equal(t, int64(2), got.ID)
}

func TestEnsureSchema_RetriesAfterFailedMigration(t *testing.T) {
	cfg := Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "broken.db")}
	dbx, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })

	// A view by the table's name survives CREATE TABLE IF NOT EXISTS but
	// can't be deleted from, so the migration fails halfway.
	_, err = dbx.Exec(`CREATE VIEW apod_data AS SELECT 1 AS id, '2024-01-01' AS date;`)
	require.NoError(t, err)

	repo := New(dbx, cfg)
	err = repo.EnsureSchema(context.Background())
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)

	var dirty int
	require.NoError(t, dbx.Get(&dirty, `SELECT COUNT(*) FROM schema_migrations WHERE dirty;`))
	assert.Zero(t, dirty)

	_, err = dbx.Exec(`DROP VIEW apod_data;`)
	require.NoError(t, err)

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, repo.Load(context.Background(), apod.CanonicalRecord{Title: "A", Date: day(t, "2024-01-01")}))
}

func TestEnsureSchema_Canceled(t *testing.T) {
	repo, _ := newTestRepo(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.EnsureSchema(ctx)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.False(t, schemaErr.Retryable())
}

func TestLoad_Upsert(t *testing.T) {
	var (
		repo, _ = newTestRepo(t)
		ctx     = context.Background()
		date    = day(t, "2024-01-01")
	)

	require.NoError(t, repo.Load(ctx, apod.CanonicalRecord{Date: date, Title: "A"}))
	first, err := repo.Record(ctx, date)
	require.NoError(t, err)

	require.NoError(t, repo.Load(ctx, apod.CanonicalRecord{Date: date, Title: "B"}))

	count, err := repo.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := repo.Record(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Title)
	assert.Equal(t, date, got.Date)
	// Updated in place, not replaced
	assert.Equal(t, first.ID, got.ID)
}

func TestLoad_AllFields(t *testing.T) {
	var (
		repo, _ = newTestRepo(t)
		ctx     = context.Background()
		rec     = apod.CanonicalRecord{
			Title:       "Moon",
			Explanation: "...",
			URL:         "http://x",
			Date:        day(t, "2024-03-01"),
			MediaType:   apod.MediaTypeImage,
		}
	)

	require.NoError(t, repo.Load(ctx, rec))

	got, err := repo.Record(ctx, rec.Date)
	require.NoError(t, err)
	assert.NotZero(t, got.ID)
	assert.Equal(t, rec, got.CanonicalRecord)
}

func TestLoad_UpdateClearsFields(t *testing.T) {
	var (
		repo, _ = newTestRepo(t)
		ctx     = context.Background()
		date    = day(t, "2024-02-02")
	)

	require.NoError(t, repo.Load(ctx, apod.CanonicalRecord{Date: date, Title: "A", URL: "http://a", MediaType: "video"}))
	require.NoError(t, repo.Load(ctx, apod.CanonicalRecord{Date: date, Title: "A"}))

	got, err := repo.Record(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, apod.CanonicalRecord{Date: date, Title: "A"}, got.CanonicalRecord)
}

func TestLoad_Concurrent(t *testing.T) {
	var (
		repo, _ = newTestRepo(t)
		ctx     = context.Background()
		date    = day(t, "2024-04-04")
		wg      sync.WaitGroup
		errs    = make(chan error, 8)
	)

	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Load(ctx, apod.CanonicalRecord{Date: date, Title: fmt.Sprintf("run-%d", i)})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	count, err := repo.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLoad_NoDate(t *testing.T) {
	repo, _ := newTestRepo(t)

	err := repo.Load(context.Background(), apod.CanonicalRecord{Title: "orphan"})
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, KindConstraintViolation, loadErr.Kind)
	assert.False(t, loadErr.Retryable())
}

func TestLoad_Canceled(t *testing.T) {
	repo, _ := newTestRepo(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.Load(ctx, apod.CanonicalRecord{Date: day(t, "2024-01-01")})
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, KindConnectionLost, loadErr.Kind)
	assert.True(t, loadErr.Retryable())
}

func TestRecord_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.Record(context.Background(), day(t, "1999-01-01"))
	assert.ErrorIs(t, err, apod.ErrNotFound)
}

func TestRecords_Pagination(t *testing.T) {
	var (
		repo, _ = newTestRepo(t)
		ctx     = context.Background()
	)

	for _, d := range []string{"2024-01-01", "2024-01-03", "2024-01-02"} {
		require.NoError(t, repo.Load(ctx, apod.CanonicalRecord{Date: day(t, d), Title: d}))
	}

	page, err := repo.Records(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "2024-01-03", page[0].Title)
	assert.Equal(t, "2024-01-02", page[1].Title)

	page, err = repo.Records(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "2024-01-01", page[0].Title)

	all, err := repo.Records(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}

func TestConnectionLost(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "bad conn", err: fmt.Errorf("wrapped: %w", driver.ErrBadConn), want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "pg connection failure", err: &pq.Error{Code: "08006"}, want: true},
		{name: "pg admin shutdown", err: &pq.Error{Code: "57P01"}, want: true},
		{name: "pg serialization", err: &pq.Error{Code: "40001"}, want: true},
		{name: "pg unique violation", err: &pq.Error{Code: "23505"}, want: false},
		{name: "pg undefined table", err: &pq.Error{Code: "42P01"}, want: false},
		{name: "anything else", err: errors.New("no such column: media_type"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, connectionLost(tt.err))
			assert.Equal(t, tt.want, classifyLoadErr(tt.err).Retryable())
		})
	}
}
