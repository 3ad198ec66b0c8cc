package patch

import (
	"time"

	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/pkg/geo"
)

// TemporalSelector picks frame indices out of a timestamp sequence
type TemporalSelector interface {
	indices(timestamps []time.Time) ([]int, error)
}

type indexSelector []int

func (s indexSelector) indices(timestamps []time.Time) ([]int, error) {
	for _, i := range s {
		if i < 0 || i >= len(timestamps) {
			return nil, errors.Validation(
				errors.ErrTemporalSelection, "temporal index %d out of range for %d timestamps", i, len(timestamps))
		}
	}
	return append([]int(nil), s...), nil
}

type rangeSelector struct{ start, stop int }

func (s rangeSelector) indices(timestamps []time.Time) ([]int, error) {
	if s.start < 0 || s.stop > len(timestamps) || s.start > s.stop {
		return nil, errors.Validation(
			errors.ErrTemporalSelection, "temporal range [%d, %d) invalid for %d timestamps", s.start, s.stop, len(timestamps))
	}
	out := make([]int, 0, s.stop-s.start)
	for i := s.start; i < s.stop; i++ {
		out = append(out, i)
	}
	return out, nil
}

type timeSelector []time.Time

func (s timeSelector) indices(timestamps []time.Time) ([]int, error) {
	out := make([]int, 0, len(s))
	for _, want := range s {
		found := -1
		for i, ts := range timestamps {
			if ts.Equal(want) {
				found = i
				break
			}
		}
		if found < 0 {
			return nil, errors.Validation(
				errors.ErrTemporalSelection, "timestamp %s not present on patch", want.Format(time.RFC3339))
		}
		out = append(out, found)
	}
	return out, nil
}

type predicateSelector func(time.Time) bool

func (s predicateSelector) indices(timestamps []time.Time) ([]int, error) {
	var out []int
	for i, ts := range timestamps {
		if s(ts) {
			out = append(out, i)
		}
	}
	return out, nil
}

// ByIndices selects frames by position, in the given order
func ByIndices(indices ...int) TemporalSelector { return indexSelector(indices) }

// ByRange selects the half-open frame range [start, stop)
func ByRange(start, stop int) TemporalSelector { return rangeSelector{start, stop} }

// ByTimes selects frames matching the given timestamps exactly; a
// timestamp absent from the patch is an error
func ByTimes(times ...time.Time) TemporalSelector { return timeSelector(times) }

// ByPredicate selects the frames whose timestamp satisfies fn
func ByPredicate(fn func(time.Time) bool) TemporalSelector { return predicateSelector(fn) }

// TemporalSubset returns a new patch restricted to the selected frames.
// Temporal arrays keep the selected frames in selector order, temporal
// vector tables keep the rows whose timestamp survives, and timeless
// features are shared with the source.
func (p *Patch) TemporalSubset(selector TemporalSelector) (*Patch, error) {
	if p.timestamps == nil {
		return nil, errors.Validation(errors.ErrMissingTimestamps, "temporal subset of a patch without timestamps")
	}
	indices, err := selector.indices(p.timestamps)
	if err != nil {
		return nil, err
	}

	out := New(p.bbox).WithLogger(p.logger)
	kept := make([]time.Time, len(indices))
	for i, idx := range indices {
		kept[i] = p.timestamps[idx]
	}
	out.timestamps = kept

	for _, ftype := range AllTypes() {
		src, dst := p.container(ftype), out.container(ftype)
		if !ftype.IsTemporal() {
			src.shallowInto(dst, src.names)
			continue
		}
		for _, name := range src.names {
			if ftype.IsArray() {
				a, err := src.GetArray(name)
				if err != nil {
					return nil, err
				}
				subset, err := a.TakeTime(indices)
				if err != nil {
					return nil, err
				}
				dst.put(name, &entry{value: subset})
				continue
			}
			table, err := src.GetTable(name)
			if err != nil {
				return nil, err
			}
			filtered, err := filterTableByTimes(table, kept)
			if err != nil {
				return nil, err
			}
			dst.put(name, &entry{value: filtered})
		}
	}
	return out, nil
}

// ConsolidateTimestamps prunes the patch timestamps down to those in
// keep, dropping the matching frames of every temporal array and the
// matching rows of every temporal vector table in place. Timestamps in
// keep that the patch never had are ignored. Returns the removed
// timestamps in chronological order.
func (p *Patch) ConsolidateTimestamps(keep []time.Time) ([]time.Time, error) {
	if p.timestamps == nil {
		return nil, errors.Validation(errors.ErrMissingTimestamps, "consolidating a patch without timestamps")
	}
	wanted := make(map[time.Time]bool, len(keep))
	for _, ts := range keep {
		wanted[ts.UTC()] = true
	}

	var surviving []int
	var removed []time.Time
	for i, ts := range p.timestamps {
		if wanted[ts] {
			surviving = append(surviving, i)
		} else {
			removed = append(removed, ts)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}

	newTimestamps := make([]time.Time, len(surviving))
	for i, idx := range surviving {
		newTimestamps[i] = p.timestamps[idx]
	}

	for _, ftype := range []FeatureType{Data, Mask, Scalar, Label} {
		c := p.container(ftype)
		for _, name := range c.names {
			a, err := c.GetArray(name)
			if err != nil {
				return nil, err
			}
			subset, err := a.TakeTime(surviving)
			if err != nil {
				return nil, err
			}
			c.entries[name] = &entry{value: subset}
		}
	}
	vectors := p.container(Vector)
	for _, name := range vectors.names {
		table, err := vectors.GetTable(name)
		if err != nil {
			return nil, err
		}
		filtered, err := filterTableByTimes(table, newTimestamps)
		if err != nil {
			return nil, err
		}
		vectors.entries[name] = &entry{value: filtered}
	}

	p.timestamps = newTimestamps
	return sortedRemoved(removed), nil
}

// filterTableByTimes keeps the rows whose timestamp is in kept
func filterTableByTimes(table *geo.Table, kept []time.Time) (*geo.Table, error) {
	allowed := make(map[time.Time]bool, len(kept))
	for _, ts := range kept {
		allowed[ts.UTC()] = true
	}
	return table.FilterRows(func(row int) bool {
		return allowed[table.Timestamps[row].UTC()]
	})
}
