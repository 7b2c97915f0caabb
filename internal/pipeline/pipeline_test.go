package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/apod/internal/apod"
	"github.com/jdholdren/apod/internal/nasa"
	"github.com/jdholdren/apod/internal/pipeline"
	"github.com/jdholdren/apod/internal/store"
)

type mockSchema struct{ mock.Mock }

func (m *mockSchema) EnsureSchema(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockFetcher struct{ mock.Mock }

func (m *mockFetcher) Fetch(ctx context.Context, date apod.Date) (apod.RawRecord, error) {
	args := m.Called(ctx, date)
	raw, _ := args.Get(0).(apod.RawRecord)
	return raw, args.Error(1)
}

type mockLoader struct{ mock.Mock }

func (m *mockLoader) Load(ctx context.Context, rec apod.CanonicalRecord) error {
	return m.Called(ctx, rec).Error(0)
}

// Records every state a run passes through.
type stateLog struct {
	mu     sync.Mutex
	states []pipeline.State
}

func (s *stateLog) observe(_ context.Context, state pipeline.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func day(t *testing.T, s string) apod.Date {
	t.Helper()

	d, err := apod.ParseDate(s)
	require.NoError(t, err)
	return d
}

func newStore(t *testing.T) store.Repo {
	t.Helper()

	cfg := store.Config{
		Driver:           store.DriverSQLite,
		DSN:              filepath.Join(t.TempDir(), "apod.db"),
		StatementTimeout: 5 * time.Second,
	}
	dbx, err := store.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })

	return store.New(dbx, cfg)
}

func newNASA(t *testing.T, status int, body string) nasa.Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return nasa.NewClient(nasa.Config{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second})
}

func TestRun_EndToEnd(t *testing.T) {
	var (
		ctx   = context.Background()
		repo  = newStore(t)
		api   = newNASA(t, http.StatusOK, `{"title":"Moon","explanation":"...","url":"http://x","date":"2024-03-01","media_type":"image"}`)
		trace stateLog
		p     = pipeline.New(repo, api, repo, pipeline.WithObserver(trace.observe))
		date  = day(t, "2024-03-01")
	)

	require.NoError(t, p.Run(ctx, date))

	got, err := repo.Record(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, apod.CanonicalRecord{
		Title:       "Moon",
		Explanation: "...",
		URL:         "http://x",
		Date:        date,
		MediaType:   "image",
	}, got.CanonicalRecord)

	assert.Equal(t, []pipeline.State{
		pipeline.StateInit,
		pipeline.StateSchemaReady,
		pipeline.StateFetched,
		pipeline.StateTransformed,
		pipeline.StateLoaded,
		pipeline.StateDone,
	}, trace.states)
}

func TestRun_Idempotent(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = newStore(t)
		raw  = `{"title":"Twice","explanation":"e","url":"http://y","date":"2024-06-01","media_type":"video"}`
		p    = pipeline.New(repo, newNASA(t, http.StatusOK, raw), repo)
		date = day(t, "2024-06-01")
	)

	require.NoError(t, p.Run(ctx, date))
	require.NoError(t, p.Run(ctx, date))

	count, err := repo.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := repo.Record(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, apod.Transform(apod.RawRecord{
		"title":       "Twice",
		"explanation": "e",
		"url":         "http://y",
		"date":        "2024-06-01",
		"media_type":  "video",
	}, date), got.CanonicalRecord)
}

func TestRun_MissingDateUsesLogicalDate(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = newStore(t)
		p    = pipeline.New(repo, newNASA(t, http.StatusOK, `{"title":"Undated"}`), repo)
		date = day(t, "2024-07-04")
	)

	require.NoError(t, p.Run(ctx, date))

	got, err := repo.Record(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, apod.CanonicalRecord{Title: "Undated", Date: date}, got.CanonicalRecord)
}

func TestRun_FetchFailureNeverLoads(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{name: "unavailable", status: http.StatusServiceUnavailable, retryable: true},
		{name: "forbidden", status: http.StatusForbidden, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				schema = &mockSchema{}
				loader = &mockLoader{}
				trace  stateLog
				p      = pipeline.New(schema, newNASA(t, tt.status, `{}`), loader, pipeline.WithObserver(trace.observe))
			)
			schema.On("EnsureSchema", mock.Anything).Return(nil)

			err := p.Run(context.Background(), day(t, "2024-01-01"))

			var pErr *pipeline.Error
			require.ErrorAs(t, err, &pErr)
			assert.Equal(t, pipeline.StageFetch, pErr.Stage)
			assert.Equal(t, tt.retryable, pErr.Retryable())
			assert.Equal(t, tt.retryable, pipeline.IsRetryable(err))

			var fetchErr *nasa.FetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, tt.status, fetchErr.StatusCode)

			loader.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
			assert.Equal(t, pipeline.StateFailed, trace.states[len(trace.states)-1])
			assert.NotContains(t, trace.states, pipeline.StateFetched)
		})
	}
}

func TestRun_SchemaFailureStopsEverything(t *testing.T) {
	var (
		schema  = &mockSchema{}
		fetcher = &mockFetcher{}
		loader  = &mockLoader{}
		p       = pipeline.New(schema, fetcher, loader)
	)
	schema.On("EnsureSchema", mock.Anything).Return(&store.SchemaError{Err: errors.New("permission denied")})

	err := p.Run(context.Background(), day(t, "2024-01-01"))

	var pErr *pipeline.Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, pipeline.StageSchema, pErr.Stage)
	assert.False(t, pErr.Retryable())
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	loader.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
}

func TestRun_LoadFailure(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "connection lost", err: &store.LoadError{Kind: store.KindConnectionLost, Err: errors.New("eof")}, retryable: true},
		{name: "constraint", err: &store.LoadError{Kind: store.KindConstraintViolation, Err: errors.New("no such table")}, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				schema  = &mockSchema{}
				fetcher = &mockFetcher{}
				loader  = &mockLoader{}
				date    = day(t, "2024-01-01")
				p       = pipeline.New(schema, fetcher, loader)
			)
			schema.On("EnsureSchema", mock.Anything).Return(nil)
			fetcher.On("Fetch", mock.Anything, date).Return(apod.RawRecord{"title": "A"}, nil)
			loader.On("Load", mock.Anything, apod.CanonicalRecord{Title: "A", Date: date}).Return(tt.err)

			err := p.Run(context.Background(), date)

			var pErr *pipeline.Error
			require.ErrorAs(t, err, &pErr)
			assert.Equal(t, pipeline.StageLoad, pErr.Stage)
			assert.Equal(t, tt.retryable, pErr.Retryable())
			loader.AssertExpectations(t)
		})
	}
}

func TestRun_CanceledBetweenStages(t *testing.T) {
	var (
		ctx, cancel = context.WithCancel(context.Background())
		schema      = &mockSchema{}
		fetcher     = &mockFetcher{}
		loader      = &mockLoader{}
		date        = day(t, "2024-01-01")
		p           = pipeline.New(schema, fetcher, loader)
	)
	defer cancel()
	schema.On("EnsureSchema", mock.Anything).Return(nil)
	// The run is canceled while the fetch is in flight, but the fetch itself
	// still returns a record.
	fetcher.On("Fetch", mock.Anything, date).Run(func(mock.Arguments) { cancel() }).Return(apod.RawRecord{}, nil)

	err := p.Run(ctx, date)

	var pErr *pipeline.Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, pipeline.StageTransform, pErr.Stage)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, pErr.Retryable())
	loader.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, pipeline.IsRetryable(nil))
	assert.False(t, pipeline.IsRetryable(errors.New("mystery")))
	assert.True(t, pipeline.IsRetryable(context.DeadlineExceeded))
	assert.True(t, pipeline.IsRetryable(&nasa.FetchError{Kind: nasa.KindHTTPStatus, StatusCode: http.StatusTooManyRequests}))
	assert.False(t, pipeline.IsRetryable(&nasa.FetchError{Kind: nasa.KindParse}))
}
