// Package timeparse provides permissive timestamp parsing for patch
// timestamp sequences.
//
// Patch timestamps arrive from many sources: ISO date strings in
// configuration files, RFC3339 strings in stored metadata, and
// time.Time values built in code. This package normalizes all of them
// to UTC time.Time values and reports anything unparsable as a
// validation error instead of guessing.
package timeparse

import (
	"time"

	"github.com/c360/geopatch/errors"
)

// layouts tried in order; first match wins
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2.1.2006",
}

// Parse converts a single flexible input to a UTC time.Time.
// Supported inputs: time.Time, *time.Time and strings in RFC3339,
// ISO date or day.month.year form.
func Parse(input any) (time.Time, error) {
	switch v := input.(type) {
	case time.Time:
		return v.UTC(), nil
	case *time.Time:
		if v == nil {
			return time.Time{}, errors.Validation(errors.ErrInvalidTimestamps, "nil timestamp")
		}
		return v.UTC(), nil
	case string:
		for _, layout := range layouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, errors.Validation(errors.ErrInvalidTimestamps, "cannot parse timestamp %q", v)
	default:
		return time.Time{}, errors.Validation(errors.ErrInvalidTimestamps, "cannot parse timestamp of type %T", input)
	}
}

// ParseSequence converts a sequence of flexible inputs. A nil sequence
// stays nil (timestamps unset); any unparsable element fails the whole
// sequence.
func ParseSequence[T any](inputs []T) ([]time.Time, error) {
	if inputs == nil {
		return nil, nil
	}
	out := make([]time.Time, len(inputs))
	for i, input := range inputs {
		ts, err := Parse(input)
		if err != nil {
			return nil, err
		}
		out[i] = ts
	}
	return out, nil
}

// Format renders a timestamp the way stored metadata expects it
func Format(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}
