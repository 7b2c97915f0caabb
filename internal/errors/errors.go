package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error represents a universal error type between the worker and the api.
//
// It is what travels as temporal application error details, so it has to
// survive a JSON round trip.
type Error struct {
	Status    int
	Err       error // The error this wraps
	Details   []Detail
	Retryable bool
}

type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s, details: %v", e.Status, e.Err, e.Details)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type transport struct {
	Message   string   `json:"message"`
	Details   []Detail `json:"details"`
	Status    int      `json:"status"`
	Retryable bool     `json:"retryable"`
}

func (s *Error) MarshalJSON() ([]byte, error) {
	msg := ""
	if s.Err != nil {
		msg = s.Err.Error()
	}

	return json.Marshal(transport{
		Message:   msg,
		Details:   s.Details,
		Status:    s.Status,
		Retryable: s.Retryable,
	})
}

func (s *Error) UnmarshalJSON(byts []byte) error {
	t := transport{}
	if err := json.Unmarshal(byts, &t); err != nil {
		return err
	}

	s.Err = errors.New(t.Message)
	s.Details = t.Details
	s.Status = t.Status
	s.Retryable = t.Retryable
	return nil
}

// Detail looks up the detail for a field.
func (s *Error) Detail(field string) (string, bool) {
	for _, d := range s.Details {
		if d.Field == field {
			return d.Error, true
		}
	}

	return "", false
}

// E builds an [Error] out of whatever it's given: a string or error becomes the
// message, an int the status, a bool whether it's retryable, and details are
// appended.
func E(args ...any) *Error {
	ret := &Error{
		Status:  http.StatusInternalServerError,
		Err:     nil,
		Details: nil,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case int:
			ret.Status = arg
		case bool:
			ret.Retryable = arg
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	return ret
}
