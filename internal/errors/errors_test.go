package errors_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apoderrs "github.com/jdholdren/apod/internal/errors"
)

func TestEConstructor(t *testing.T) {
	got := apoderrs.E(
		"fetch failed",
		apoderrs.Detail{Field: "stage", Error: "fetch"},
		http.StatusBadGateway,
		true,
	)
	want := &apoderrs.Error{
		Err: errors.New("fetch failed"),
		Details: []apoderrs.Detail{
			{Field: "stage", Error: "fetch"},
		},
		Status:    http.StatusBadGateway,
		Retryable: true,
	}

	assert.Equal(t, want, got)
}

func TestEDefaults(t *testing.T) {
	cause := errors.New("boom")
	got := apoderrs.E(cause)

	assert.Equal(t, http.StatusInternalServerError, got.Status)
	assert.False(t, got.Retryable)
	assert.ErrorIs(t, got, cause)
}

func TestJSONRoundTrip(t *testing.T) {
	orig := apoderrs.E("load failed", http.StatusServiceUnavailable, true,
		[]apoderrs.Detail{{Field: "stage", Error: "load"}, {Field: "kind", Error: "connection_lost"}},
	)

	byts, err := json.Marshal(orig)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"message": "load failed",
		"status": 503,
		"retryable": true,
		"details": [{"field": "stage", "error": "load"}, {"field": "kind", "error": "connection_lost"}]
	}`, string(byts))

	var back apoderrs.Error
	require.NoError(t, json.Unmarshal(byts, &back))
	assert.Equal(t, orig.Error(), back.Error())
	assert.True(t, back.Retryable)

	stage, ok := back.Detail("stage")
	assert.True(t, ok)
	assert.Equal(t, "load", stage)

	_, ok = back.Detail("missing")
	assert.False(t, ok)
}
