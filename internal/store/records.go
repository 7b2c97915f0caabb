package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/jdholdren/apod/internal/apod"
)

var recordColumns = []string{"id", "title", "explanation", "url", "date", "media_type"}

// Record fetches the stored row for a single day.
func (r Repo) Record(ctx context.Context, date apod.Date) (apod.StoredRow, error) {
	query, args, err := sq.Select(recordColumns...).
		From("apod_data").
		Where(sq.Eq{"date": date}).
		ToSql()
	if err != nil {
		return apod.StoredRow{}, fmt.Errorf("error constructing sql: %s", err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var row apod.StoredRow
	err = r.db.GetContext(ctx, &row, r.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return apod.StoredRow{}, apod.ErrNotFound
	}
	if err != nil {
		return apod.StoredRow{}, fmt.Errorf("error fetching record: %w", err)
	}

	return row, nil
}

// Records returns a page of stored rows, most recent day first.
func (r Repo) Records(ctx context.Context, offset, limit int) ([]apod.StoredRow, error) {
	q := sq.Select(recordColumns...).
		From("apod_data").
		OrderBy("date DESC")
	// sqlite only accepts an offset alongside a limit
	if limit > 0 {
		q = q.Limit(uint64(limit))
		if offset > 0 {
			q = q.Offset(uint64(offset))
		}
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows := []apod.StoredRow{}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("error selecting records: %w", err)
	}

	return rows, nil
}

// CountRecords returns the total number of stored days.
func (r Repo) CountRecords(ctx context.Context) (int, error) {
	const q = "SELECT COUNT(*) FROM apod_data;"

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var count int
	if err := r.db.GetContext(ctx, &count, q); err != nil {
		return 0, fmt.Errorf("error counting records: %w", err)
	}

	return count, nil
}
