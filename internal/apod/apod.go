// Package apod holds the domain types for the astronomy picture of the day
// ingestion: what comes off the wire, what gets stored, and the mapping between
// the two.
package apod

import (
	"errors"
)

var ErrNotFound = errors.New("record not found")

type (
	// RawRecord is the decoded JSON object returned by the APOD endpoint.
	//
	// Nothing about its keys is assumed, see [Transform].
	RawRecord map[string]any

	// CanonicalRecord is a fully defaulted record that is safe to persist.
	CanonicalRecord struct {
		Title       string `db:"title" json:"title"`
		Explanation string `db:"explanation" json:"explanation"`
		URL         string `db:"url" json:"url"`
		Date        Date   `db:"date" json:"date"`
		MediaType   string `db:"media_type" json:"media_type"`
	}

	// StoredRow is a row of the apod_data table.
	StoredRow struct {
		ID int64 `db:"id" json:"id"`
		CanonicalRecord
	}
)

// Keys of interest in a [RawRecord].
const (
	keyTitle       = "title"
	keyExplanation = "explanation"
	keyURL         = "url"
	keyDate        = "date"
	keyMediaType   = "media_type"
)

// Media types the API is known to return.
const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
)
