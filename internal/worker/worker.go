// Package worker runs the pipeline under temporal, which plays the scheduler:
// it triggers a run every day and retries the retryable failures. Manual runs
// of the same date are collapsed into one.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/fx"

	"github.com/jdholdren/apod/internal/pipeline"
)

const scheduleID = "apod_daily"

// Config controls the schedule and the retry behaviour of runs.
type Config struct {
	TaskQueue       string        `env:"TEMPORAL_TASK_QUEUE, default=apod"`
	ScheduleEvery   time.Duration `env:"SCHEDULE_EVERY, default=24h"`
	ScheduleOffset  time.Duration `env:"SCHEDULE_OFFSET, default=0s"`
	Zone            string        `env:"LOGICAL_DATE_ZONE, default=America/New_York"`
	ActivityTimeout time.Duration `env:"ACTIVITY_TIMEOUT, default=2m"`
	MaxAttempts     int32         `env:"ACTIVITY_MAX_ATTEMPTS, default=5"`
}

// Location is the zone logical dates are resolved in.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Zone)
	if err != nil {
		return nil, fmt.Errorf("error loading zone %q: %w", c.Zone, err)
	}

	return loc, nil
}

type Params struct {
	fx.In

	Ctx      context.Context
	Config   Config
	Client   client.Client
	Pipeline pipeline.Pipeline
}

// NewWorker sets up the worker with registration of workflows, activities, and
// the daily schedule, and ties its lifetime to the fx app.
func NewWorker(lc fx.Lifecycle, p Params) (worker.Worker, error) {
	w, err := newWorker(p.Ctx, p.Config, p.Client, p.Pipeline)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			slog.Info("starting worker", "task_queue", p.Config.TaskQueue)
			return w.Start()
		},
		OnStop: func(ctx context.Context) error {
			w.Stop()
			return nil
		},
	})

	return w, nil
}

func newWorker(ctx context.Context, cfg Config, cli client.Client, r runner) (worker.Worker, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	w := worker.New(cli, cfg.TaskQueue, worker.Options{})

	// Workflows
	wfs := newWorkflows(cfg, loc)
	w.RegisterWorkflow(wfs.RunAPOD)

	// Activities
	a := activities{runner: r}
	w.RegisterActivity(&a)

	if err := ensureSchedule(ctx, cli, cfg, wfs); err != nil {
		return nil, fmt.Errorf("error ensuring schedule: %w", err)
	}

	return w, nil
}

func scheduleSpec(cfg Config) *client.ScheduleSpec {
	return &client.ScheduleSpec{
		Intervals: []client.ScheduleIntervalSpec{{
			Every:  cfg.ScheduleEvery,
			Offset: cfg.ScheduleOffset,
		}},
	}
}

// Creates the daily schedule if it's missing, otherwise brings its spec in
// line with the current config.
func ensureSchedule(ctx context.Context, cli client.Client, cfg Config, wfs workflows) error {
	handle := cli.ScheduleClient().GetHandle(ctx, scheduleID)
	_, err := handle.Describe(ctx)
	var notFound *serviceerror.NotFound
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("error describing schedule: %w", err)
	}
	if err != nil {
		_, err = cli.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID:   scheduleID,
			Spec: *scheduleSpec(cfg),
			Action: &client.ScheduleWorkflowAction{
				// Temporal suffixes this with the scheduled time, so scheduled runs
				// never share an id with manual apod-<date> runs. Only manual
				// triggers collapse per date.
				ID:        scheduleID,
				Workflow:  wfs.RunAPOD,
				Args:      []any{RunRequest{}},
				TaskQueue: cfg.TaskQueue,
			},
			// A run that's still going (retrying, most likely) is left alone
			Overlap:            enums.SCHEDULE_OVERLAP_POLICY_SKIP,
			TriggerImmediately: true,
		})
		if err != nil {
			return err
		}
		slog.Info("created schedule", "schedule_id", scheduleID, "every", cfg.ScheduleEvery)

		return nil
	}

	return handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			schedule := input.Description.Schedule
			schedule.Spec = scheduleSpec(cfg)
			return &client.ScheduleUpdate{
				Schedule: &schedule,
			}, nil
		},
	})
}

// Error types
//
// These are error types in the temporal sense, not the general "go" error types sense.
// They are used since between activities error types are marshaled and type information is lost.
const (
	errTypeRetryable = "retryable"
	errTypeFatal     = "fatal"
)
