package worker

import (
	"errors"
	"net/http"

	"go.temporal.io/sdk/temporal"

	apoderrs "github.com/jdholdren/apod/internal/errors"
	"github.com/jdholdren/apod/internal/nasa"
	"github.com/jdholdren/apod/internal/pipeline"
	"github.com/jdholdren/apod/internal/store"
)

// Unwraps the application error from temporal into an apoderr if possible.
//
// Returns true if the error is convertible to an apod error.
// Returns false otherwise.
func asAPODErr(err error, apodErr **apoderrs.Error) bool {
	if err == nil {
		return false
	}

	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Details(apodErr) == nil
}

// Describes a failed run in terms the api can hand back to a caller.
func describeRunErr(err error) *apoderrs.Error {
	var (
		retryable = pipeline.IsRetryable(err)
		status    = http.StatusInternalServerError
		details   []apoderrs.Detail
	)

	var pErr *pipeline.Error
	if errors.As(err, &pErr) {
		details = append(details, apoderrs.Detail{Field: "stage", Error: string(pErr.Stage)})
	}

	var fetchErr *nasa.FetchError
	var loadErr *store.LoadError
	switch {
	case errors.As(err, &fetchErr):
		// The upstream api is at fault
		status = http.StatusBadGateway
		details = append(details, apoderrs.Detail{Field: "kind", Error: string(fetchErr.Kind)})
	case errors.As(err, &loadErr):
		details = append(details, apoderrs.Detail{Field: "kind", Error: string(loadErr.Kind)})
	}
	if retryable {
		status = http.StatusServiceUnavailable
	}

	return apoderrs.E(err, status, retryable, details)
}

// Converts a run failure into something temporal's retry policy understands.
func toApplicationError(err error) error {
	desc := describeRunErr(err)
	if desc.Retryable {
		return temporal.NewApplicationErrorWithCause(err.Error(), errTypeRetryable, err, desc)
	}

	return temporal.NewNonRetryableApplicationError(err.Error(), errTypeFatal, err, desc)
}
