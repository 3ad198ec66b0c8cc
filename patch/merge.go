package patch

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/pkg/geo"
	"github.com/c360/geopatch/pkg/ndarray"
)

// Reduction resolves conflicting values of the same feature when
// merging patches
type Reduction int

const (
	// ReduceStrict treats any disagreement as an error
	ReduceStrict Reduction = iota
	// ReduceMean averages disagreeing array values elementwise
	ReduceMean
	// ReduceMin takes the elementwise minimum
	ReduceMin
	// ReduceMax takes the elementwise maximum
	ReduceMax
)

func (r Reduction) String() string {
	switch r {
	case ReduceStrict:
		return "strict"
	case ReduceMean:
		return "mean"
	case ReduceMin:
		return "min"
	case ReduceMax:
		return "max"
	default:
		return fmt.Sprintf("Reduction(%d)", int(r))
	}
}

func (r Reduction) apply(values []float64) float64 {
	switch r {
	case ReduceMean:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	case ReduceMin:
		out := values[0]
		for _, v := range values[1:] {
			if v < out {
				out = v
			}
		}
		return out
	default:
		out := values[0]
		for _, v := range values[1:] {
			if v > out {
				out = v
			}
		}
		return out
	}
}

// Merge combines the feature sets of the given patches into a new
// patch. All patches must share one bounding box. Timestamps are united
// chronologically with duplicates collapsed; temporal arrays are
// reassembled frame by frame over the union, and a timestamp covered by
// several patches must carry equal frames or be resolved by the
// reduction. Timeless features overlapping across patches follow the
// same rule. Vector tables concatenate with exact duplicate rows
// dropped; overlapping metadata keeps the first value and warns when a
// later patch disagrees.
func Merge(reduction Reduction, patches ...*Patch) (*Patch, error) {
	if len(patches) == 0 {
		return nil, errors.Validation(errors.ErrInvalidFeatureData, "merge requires at least one patch")
	}
	bbox := patches[0].bbox
	for _, p := range patches[1:] {
		if !bbox.Equal(p.bbox) {
			return nil, errors.Validation(errors.ErrMismatchedBBox, "cannot merge patches with different bounding boxes")
		}
	}

	out := New(bbox).WithLogger(patches[0].logger)
	union, positions := mergedTimestamps(patches)
	if union != nil {
		out.timestamps = union
	}

	for _, ftype := range AllTypes() {
		var err error
		switch {
		case ftype.IsArray() && ftype.IsTemporal():
			err = mergeTemporalArrays(out, ftype, reduction, patches, union, positions)
		case ftype.IsArray():
			err = mergeTimelessArrays(out, ftype, reduction, patches)
		case ftype.IsVector():
			err = mergeVectors(out, ftype, patches)
		default:
			err = mergeMeta(out, patches)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// mergedTimestamps builds the chronological deduplicated union and, per
// patch, the position of each of its frames within the union
func mergedTimestamps(patches []*Patch) ([]time.Time, [][]int) {
	anySet := false
	for _, p := range patches {
		if p.timestamps != nil {
			anySet = true
		}
	}
	if !anySet {
		return nil, nil
	}

	seen := map[time.Time]bool{}
	var union []time.Time
	for _, p := range patches {
		for _, ts := range p.timestamps {
			if !seen[ts] {
				seen[ts] = true
				union = append(union, ts)
			}
		}
	}
	sort.Slice(union, func(i, j int) bool { return union[i].Before(union[j]) })
	if union == nil {
		union = []time.Time{}
	}

	index := make(map[time.Time]int, len(union))
	for i, ts := range union {
		index[ts] = i
	}
	positions := make([][]int, len(patches))
	for pi, p := range patches {
		positions[pi] = make([]int, len(p.timestamps))
		for fi, ts := range p.timestamps {
			positions[pi][fi] = index[ts]
		}
	}
	return union, positions
}

// featureUnion lists every name held by any patch in first-seen order
func featureUnion(ftype FeatureType, patches []*Patch) []string {
	var names []string
	seen := map[string]bool{}
	for _, p := range patches {
		for _, name := range p.container(ftype).names {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

func mergeTemporalArrays(out *Patch, ftype FeatureType, reduction Reduction, patches []*Patch, union []time.Time, positions [][]int) error {
	for _, name := range featureUnion(ftype, patches) {
		// frames[t] collects every contributed frame for union slot t
		frames := make([][]*ndarray.Array, len(union))
		for pi, p := range patches {
			c := p.container(ftype)
			if !c.Has(name) {
				continue
			}
			a, err := c.GetArray(name)
			if err != nil {
				return err
			}
			if a.Dim(0) != len(p.timestamps) {
				return errors.Validation(errors.ErrTemporalMismatch,
					"cannot merge temporal feature %s with %d frames over %d timestamps",
					Feature{ftype, name}, a.Dim(0), len(p.timestamps))
			}
			for fi := 0; fi < a.Dim(0); fi++ {
				frame, err := a.Frame(fi)
				if err != nil {
					return err
				}
				frames[positions[pi][fi]] = append(frames[positions[pi][fi]], frame)
			}
		}

		merged := make([]*ndarray.Array, len(union))
		for t, candidates := range frames {
			if len(candidates) == 0 {
				return errors.Validation(errors.ErrTemporalMismatch,
					"temporal feature %s has no frame for merged timestamp %s",
					Feature{ftype, name}, union[t].Format(time.RFC3339))
			}
			frame, err := resolveArrays(ftype, name, reduction, candidates)
			if err != nil {
				return err
			}
			merged[t] = frame
		}
		stacked, err := ndarray.StackTime(merged)
		if err != nil {
			return err
		}
		out.container(ftype).put(name, &entry{value: stacked})
	}
	return nil
}

func mergeTimelessArrays(out *Patch, ftype FeatureType, reduction Reduction, patches []*Patch) error {
	for _, name := range featureUnion(ftype, patches) {
		var candidates []*ndarray.Array
		for _, p := range patches {
			c := p.container(ftype)
			if !c.Has(name) {
				continue
			}
			a, err := c.GetArray(name)
			if err != nil {
				return err
			}
			candidates = append(candidates, a)
		}
		resolved, err := resolveArrays(ftype, name, reduction, candidates)
		if err != nil {
			return err
		}
		out.container(ftype).put(name, &entry{value: resolved})
	}
	return nil
}

// resolveArrays deduplicates equal candidates and reduces the rest.
// Strict reduction refuses any disagreement; discrete feature types
// refuse reductions that would produce fractional values.
func resolveArrays(ftype FeatureType, name string, reduction Reduction, candidates []*ndarray.Array) (*ndarray.Array, error) {
	distinct := []*ndarray.Array{candidates[0]}
	for _, c := range candidates[1:] {
		matched := false
		for _, d := range distinct {
			if d.Equal(c) {
				matched = true
				break
			}
		}
		if !matched {
			distinct = append(distinct, c)
		}
	}
	if len(distinct) == 1 {
		return distinct[0].DeepCopy(), nil
	}
	if reduction == ReduceStrict {
		return nil, errors.Validation(errors.ErrMismatchedFeature,
			"feature %s differs between merged patches", Feature{ftype, name})
	}
	if reduction == ReduceMean && ftype.IsDiscrete() {
		return nil, errors.Validation(errors.ErrMismatchedFeature,
			"mean reduction is not defined for discrete feature %s", Feature{ftype, name})
	}
	first := distinct[0]
	for _, d := range distinct[1:] {
		if d.DType() != first.DType() || !shapeEqual(d.Shape(), first.Shape()) {
			return nil, errors.Validation(errors.ErrMismatchedFeature,
				"feature %s has incompatible shapes or dtypes between merged patches", Feature{ftype, name})
		}
	}
	out := first.DeepCopy()
	values := make([]float64, len(distinct))
	for i := 0; i < out.Len(); i++ {
		for j, d := range distinct {
			values[j] = d.AtFlat(i)
		}
		out.SetFlat(i, reduction.apply(values))
	}
	return out, nil
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mergeVectors(out *Patch, ftype FeatureType, patches []*Patch) error {
	for _, name := range featureUnion(ftype, patches) {
		var merged *geo.Table
		seen := map[string]bool{}
		for _, p := range patches {
			c := p.container(ftype)
			if !c.Has(name) {
				continue
			}
			table, err := c.GetTable(name)
			if err != nil {
				return err
			}
			if merged == nil {
				merged = geo.NewTable(table.CRS)
				if table.HasTimestamps() {
					merged.Timestamps = []time.Time{}
				}
				for _, col := range table.Columns {
					if err := merged.AddColumn(col, nil); err != nil {
						return err
					}
				}
			} else if merged.CRS != table.CRS {
				return errors.Validation(errors.ErrMismatchedFeature,
					"vector feature %s has mixed reference systems between merged patches", Feature{ftype, name})
			}
			for row := 0; row < table.Len(); row++ {
				key := rowKey(table, row)
				if seen[key] {
					continue
				}
				seen[key] = true
				var ts *time.Time
				if table.HasTimestamps() {
					t := table.Timestamps[row]
					ts = &t
				}
				attrs := map[string]any{}
				for _, col := range table.Columns {
					attrs[col] = table.Attributes[col][row]
				}
				if err := merged.AddRow(table.Geometries[row], ts, attrs); err != nil {
					return err
				}
			}
		}
		out.container(ftype).put(name, &entry{value: merged})
	}
	return nil
}

// rowKey fingerprints a table row for duplicate elimination
func rowKey(table *geo.Table, row int) string {
	key := wkt.MarshalString(table.Geometries[row])
	if table.HasTimestamps() {
		key += "|" + table.Timestamps[row].UTC().Format(time.RFC3339Nano)
	}
	for _, col := range table.Columns {
		key += "|" + col + "=" + fmt.Sprint(table.Attributes[col][row])
	}
	return key
}

func mergeMeta(out *Patch, patches []*Patch) error {
	dst := out.container(MetaInfo)
	for _, p := range patches {
		c := p.container(MetaInfo)
		for _, name := range c.names {
			value, err := c.Get(name)
			if err != nil {
				return err
			}
			if !dst.Has(name) {
				dst.put(name, &entry{value: deepCopyValue(value)})
				continue
			}
			existing, err := dst.Get(name)
			if err != nil {
				return err
			}
			if !metaEqual(existing, value) {
				out.warn("conflicting metadata entry kept from the first patch",
					slog.String("key", name))
			}
		}
	}
	return nil
}
