package apod

// Transform maps a raw API record into its canonical form.
//
// It never fails: string fields missing from the record (or holding something
// other than a string) become empty strings. The date is the exception, since
// it keys storage: when it is missing or malformed the logical date of the run
// is used instead.
func Transform(raw RawRecord, logical Date) CanonicalRecord {
	rec := CanonicalRecord{
		Title:       stringField(raw, keyTitle),
		Explanation: stringField(raw, keyExplanation),
		URL:         stringField(raw, keyURL),
		MediaType:   stringField(raw, keyMediaType),
		Date:        logical,
	}

	if d, err := ParseDate(stringField(raw, keyDate)); err == nil {
		rec.Date = d
	}

	return rec
}

func stringField(raw RawRecord, key string) string {
	s, ok := raw[key].(string)
	if !ok {
		return ""
	}

	return s
}
