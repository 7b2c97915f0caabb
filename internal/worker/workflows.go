package worker

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/jdholdren/apod/internal/apod"
	apoderrs "github.com/jdholdren/apod/internal/errors"
)

type workflows struct {
	zone            *time.Location
	activityTimeout time.Duration
	maxAttempts     int32
}

func newWorkflows(cfg Config, zone *time.Location) workflows {
	return workflows{
		zone:            zone,
		activityTimeout: cfg.ActivityTimeout,
		maxAttempts:     cfg.MaxAttempts,
	}
}

// RunRequest asks for a run of a single logical date.
//
// A zero date means "today" in the configured zone, which is what the schedule
// sends.
type RunRequest struct {
	Date apod.Date `json:"date"`
}

type RunResult struct {
	Date apod.Date `json:"date"`
}

// RunAPOD resolves the logical date and runs the pipeline for it, retrying
// whatever failed with a retryable error.
func (w workflows) RunAPOD(ctx workflow.Context, req RunRequest) (RunResult, error) {
	l := workflow.GetLogger(ctx)

	date := req.Date
	if date.IsZero() {
		zone := w.zone
		if zone == nil {
			zone = time.UTC
		}
		date = apod.DateOf(workflow.Now(ctx).In(zone))
	}

	options := workflow.ActivityOptions{
		StartToCloseTimeout: w.activityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        5 * time.Minute,
			MaximumAttempts:        w.maxAttempts, // 0 is unlimited retries
			NonRetryableErrorTypes: []string{errTypeFatal},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, options)

	if err := workflow.ExecuteActivity(ctx, acts.RunPipeline, date).Get(ctx, nil); err != nil {
		l.Error("run failed", "logical_date", date.String(), "error", err)
		return RunResult{}, err
	}

	l.Info("run complete", "logical_date", date.String())
	return RunResult{Date: date}, nil
}

// Runner triggers runs through temporal. It's what the api hands requests to.
type Runner struct {
	Client    client.Client
	TaskQueue string
}

// TriggerRun runs the pipeline for the date and waits for it to finish.
//
// Runs are keyed on the date, so triggering a date that is already running
// waits on that run instead of starting a second one.
func (r Runner) TriggerRun(ctx context.Context, date apod.Date) (RunResult, error) {
	options := client.StartWorkflowOptions{
		ID:                       "apod-" + date.String(),
		TaskQueue:                r.TaskQueue,
		WorkflowIDConflictPolicy: enums.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}
	we, err := r.Client.ExecuteWorkflow(ctx, options, workflows{}.RunAPOD, RunRequest{Date: date})
	if err != nil {
		return RunResult{}, fmt.Errorf("unable to execute workflow: %s", err)
	}

	var res RunResult
	err = we.Get(ctx, &res)
	apodErr := &apoderrs.Error{}
	if asAPODErr(err, &apodErr) {
		return RunResult{}, apodErr
	}
	if err != nil {
		return RunResult{}, fmt.Errorf("error executing workflow: %s", err)
	}

	return res, nil
}
