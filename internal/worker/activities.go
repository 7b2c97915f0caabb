package worker

import (
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/jdholdren/apod/internal/apod"
)

// Anything that can do a full run for a logical date, usually a
// [pipeline.Pipeline].
type runner interface {
	Run(ctx context.Context, date apod.Date) error
}

type activities struct {
	runner runner
}

// Instance to make the workflow a bit more readable
var acts = activities{}

// RunPipeline does one complete run for the date.
//
// Failures come back as application errors typed retryable or fatal, carrying
// an [apoderrs.Error] describing the stage that failed.
func (a activities) RunPipeline(ctx context.Context, date apod.Date) error {
	l := activity.GetLogger(ctx)
	l.Info("running pipeline", "logical_date", date.String(), "attempt", activity.GetInfo(ctx).Attempt)

	if err := a.runner.Run(ctx, date); err != nil {
		return toApplicationError(err)
	}

	return nil
}
