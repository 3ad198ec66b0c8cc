package storage

import (
	"time"

	"github.com/c360/geopatch/errors"
)

// TemporalSelection restricts which first-axis positions of a chunked
// store a save writes or a load reads. Only chunked (zarr) stores
// support restriction; using one against a dense file is fatal.
type TemporalSelection interface {
	// resolve maps the selection to store positions. stored holds the
	// timestamps already persisted at the destination and is only
	// consulted by the inferring selection; storeLen bounds the result.
	resolve(stored []time.Time, storeLen int) ([]int, error)
}

type indexSelection []int

func (s indexSelection) resolve(_ []time.Time, storeLen int) ([]int, error) {
	for _, idx := range s {
		if idx < 0 || idx >= storeLen {
			return nil, errors.Validation(errors.ErrTemporalSelection,
				"position %d out of bounds for %d stored frames", idx, storeLen)
		}
	}
	return append([]int(nil), s...), nil
}

type rangeSelection struct{ start, stop int }

func (s rangeSelection) resolve(_ []time.Time, storeLen int) ([]int, error) {
	if s.start < 0 || s.stop > storeLen || s.start > s.stop {
		return nil, errors.Validation(errors.ErrTemporalSelection,
			"range [%d, %d) out of bounds for %d stored frames", s.start, s.stop, storeLen)
	}
	out := make([]int, 0, s.stop-s.start)
	for i := s.start; i < s.stop; i++ {
		out = append(out, i)
	}
	return out, nil
}

// inferSelection matches the in-memory timestamps against the stored
// ones; every timestamp must match exactly one stored position
type inferSelection struct {
	times []time.Time
}

func (s inferSelection) resolve(stored []time.Time, storeLen int) ([]int, error) {
	if stored == nil {
		return nil, errors.Validation(errors.ErrTemporalSelection,
			"cannot infer a temporal selection without stored timestamps")
	}
	out := make([]int, len(s.times))
	for i, want := range s.times {
		found := -1
		for j, ts := range stored {
			if !ts.Equal(want) {
				continue
			}
			if found >= 0 {
				return nil, errors.Validation(errors.ErrTemporalSelection,
					"timestamp %s matches several stored frames", want.Format(time.RFC3339))
			}
			found = j
		}
		if found < 0 || found >= storeLen {
			return nil, errors.Validation(errors.ErrTemporalSelection,
				"timestamp %s not found among stored frames", want.Format(time.RFC3339))
		}
		out[i] = found
	}
	return out, nil
}

// SelectIndices restricts to explicit store positions
func SelectIndices(indices ...int) TemporalSelection { return indexSelection(indices) }

// SelectRange restricts to the half-open position range [start, stop)
func SelectRange(start, stop int) TemporalSelection { return rangeSelection{start, stop} }

// SelectInfer matches the in-memory patch timestamps against the
// timestamps already stored at the destination
func SelectInfer() TemporalSelection { return inferSelection{} }

// bindInfer attaches the in-memory patch timestamps to an inferring
// selection; other selections pass through unchanged
func bindInfer(sel TemporalSelection, times []time.Time) TemporalSelection {
	if _, ok := sel.(inferSelection); ok {
		return inferSelection{times: times}
	}
	return sel
}
