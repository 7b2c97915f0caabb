package nasa

import (
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	// KindNetwork covers connection failures and timeouts.
	KindNetwork ErrorKind = "network"
	// KindHTTPStatus is any non-2xx response.
	KindHTTPStatus ErrorKind = "http_status"
	// KindParse means the body wasn't a JSON object, or was too big to be one.
	KindParse ErrorKind = "parse"
	// KindConfig means the client can't build a request at all, e.g. a bad
	// base url.
	KindConfig ErrorKind = "config"
)

// FetchError is the failure of a single fetch.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int // Only set for KindHTTPStatus
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch %s (%d): %s", e.Kind, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("fetch %s: %s", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether running the fetch again could succeed.
//
// Server errors and rate limiting are worth another try, other client errors
// (a bad key, a date out of range), unparseable bodies and a misconfigured
// client are not.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindNetwork:
		return true
	case KindHTTPStatus:
		return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}
