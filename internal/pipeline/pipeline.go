// Package pipeline runs one ingestion of the astronomy picture of the day:
// ensure the table, fetch, transform, load.
//
// A run for a given logical date is always safe to repeat in full. The load is
// an upsert, so however many earlier runs succeeded or failed, the table ends
// up with exactly one row for the date.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/jdholdren/apod/internal/apod"
	"github.com/jdholdren/apod/internal/logger"
)

type (
	// SchemaInitializer makes sure storage is ready to take records.
	SchemaInitializer interface {
		EnsureSchema(ctx context.Context) error
	}

	// Fetcher pulls the raw record for a day.
	Fetcher interface {
		Fetch(ctx context.Context, date apod.Date) (apod.RawRecord, error)
	}

	// Loader idempotently persists a record keyed by its date.
	Loader interface {
		Load(ctx context.Context, rec apod.CanonicalRecord) error
	}

	// Observer is told about every state the pipeline enters.
	Observer func(ctx context.Context, state State)
)

// Pipeline sequences the stages. It holds no per-run state and can be shared
// between concurrent runs.
type Pipeline struct {
	schema  SchemaInitializer
	fetcher Fetcher
	loader  Loader

	observers []Observer
}

type Option func(*Pipeline)

// WithObserver registers a callback for state transitions.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observers = append(p.observers, o)
	}
}

func New(schema SchemaInitializer, fetcher Fetcher, loader Loader, opts ...Option) Pipeline {
	p := Pipeline{
		schema:  schema,
		fetcher: fetcher,
		loader:  loader,
	}
	for _, opt := range opts {
		opt(&p)
	}

	return p
}

// Run executes one full run for the logical date.
//
// Stages run strictly in order and the first failure stops the run, so a
// failed fetch never reaches the loader. Failures are returned as [*Error].
func (p Pipeline) Run(ctx context.Context, date apod.Date) error {
	ctx = logger.Ctx(ctx, slog.String("logical_date", date.String()))
	start := time.Now()
	r := run{Pipeline: p, state: StateInit}
	r.enter(ctx, StateInit)

	if err := r.stage(ctx, StageSchema, func(ctx context.Context) error {
		return p.schema.EnsureSchema(ctx)
	}); err != nil {
		return err
	}
	r.enter(ctx, StateSchemaReady)

	var raw apod.RawRecord
	if err := r.stage(ctx, StageFetch, func(ctx context.Context) error {
		var err error
		raw, err = p.fetcher.Fetch(ctx, date)
		return err
	}); err != nil {
		return err
	}
	r.enter(ctx, StateFetched)

	var rec apod.CanonicalRecord
	if err := r.stage(ctx, StageTransform, func(context.Context) error {
		rec = apod.Transform(raw, date)
		return nil
	}); err != nil {
		return err
	}
	r.enter(ctx, StateTransformed)

	if err := r.stage(ctx, StageLoad, func(ctx context.Context) error {
		return p.loader.Load(ctx, rec)
	}); err != nil {
		return err
	}
	r.enter(ctx, StateLoaded)

	r.enter(ctx, StateDone)
	slog.InfoContext(ctx, "pipeline run complete",
		"record_date", rec.Date.String(),
		"media_type", rec.MediaType,
		"duration", time.Since(start),
	)

	return nil
}

// Tracks the state of a single run.
type run struct {
	Pipeline
	state State
}

func (r *run) enter(ctx context.Context, s State) {
	slog.DebugContext(ctx, "pipeline state", "from", r.state, "to", s)
	r.state = s
	for _, o := range r.observers {
		o(ctx, s)
	}
}

// Runs a stage unless the run was canceled in the meantime.
func (r *run) stage(ctx context.Context, stage Stage, f func(context.Context) error) error {
	ctx = logger.Ctx(ctx, slog.String("stage", string(stage)))

	err := ctx.Err()
	if err == nil {
		err = f(ctx)
	}
	if err == nil {
		return nil
	}

	pErr := &Error{Stage: stage, Err: err}
	slog.ErrorContext(ctx, "pipeline stage failed", "error", err, "retryable", pErr.Retryable())
	r.enter(ctx, StateFailed)

	return pErr
}
