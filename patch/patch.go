package patch

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/pkg/geo"
	"github.com/c360/geopatch/pkg/ndarray"
	"github.com/c360/geopatch/pkg/timeparse"
)

// Patch is the aggregate root: a bounding box, an optional ordered
// timestamp sequence and one container per feature type. A nil bounding
// box is a deprecated legacy state and warns on construction and
// assignment.
type Patch struct {
	bbox       *geo.BBox
	timestamps []time.Time // nil = unset
	logger     *slog.Logger

	data           *Container
	mask           *Container
	scalar         *Container
	label          *Container
	vector         *Container
	dataTimeless   *Container
	maskTimeless   *Container
	scalarTimeless *Container
	labelTimeless  *Container
	vectorTimeless *Container
	metaInfo       *Container
}

// New creates an empty patch. Passing a nil bounding box is permitted
// transitionally and logs a deprecation warning.
func New(bbox *geo.BBox) *Patch {
	return NewWithLogger(bbox, nil)
}

// NewWithLogger creates an empty patch whose warnings, including the
// nil-bbox deprecation warning raised during construction, go to the
// given sink; nil uses the default logger
func NewWithLogger(bbox *geo.BBox, logger *slog.Logger) *Patch {
	p := &Patch{logger: slog.Default()}
	p.data = newContainer(Data, p)
	p.mask = newContainer(Mask, p)
	p.scalar = newContainer(Scalar, p)
	p.label = newContainer(Label, p)
	p.vector = newContainer(Vector, p)
	p.dataTimeless = newContainer(DataTimeless, p)
	p.maskTimeless = newContainer(MaskTimeless, p)
	p.scalarTimeless = newContainer(ScalarTimeless, p)
	p.labelTimeless = newContainer(LabelTimeless, p)
	p.vectorTimeless = newContainer(VectorTimeless, p)
	p.metaInfo = newContainer(MetaInfo, p)
	p.WithLogger(logger)
	p.SetBBox(bbox)
	return p
}

// WithLogger replaces the warning sink; nil restores the default logger
func (p *Patch) WithLogger(logger *slog.Logger) *Patch {
	if logger == nil {
		logger = slog.Default()
	}
	p.logger = logger
	return p
}

// Container dispatches a feature type to its container field
func (p *Patch) Container(ftype FeatureType) (*Container, error) {
	switch ftype {
	case Data:
		return p.data, nil
	case Mask:
		return p.mask, nil
	case Scalar:
		return p.scalar, nil
	case Label:
		return p.label, nil
	case Vector:
		return p.vector, nil
	case DataTimeless:
		return p.dataTimeless, nil
	case MaskTimeless:
		return p.maskTimeless, nil
	case ScalarTimeless:
		return p.scalarTimeless, nil
	case LabelTimeless:
		return p.labelTimeless, nil
	case VectorTimeless:
		return p.vectorTimeless, nil
	case MetaInfo:
		return p.metaInfo, nil
	default:
		return nil, errors.Validation(errors.ErrInvalidFeatureType, "unknown feature type %q", string(ftype))
	}
}

func (p *Patch) container(ftype FeatureType) *Container {
	c, err := p.Container(ftype)
	if err != nil {
		panic(err)
	}
	return c
}

// Attribute-style container access

// Data holds temporal continuous rasters (time, height, width, channel)
func (p *Patch) Data() *Container { return p.data }

// Mask holds temporal discrete rasters (time, height, width, channel)
func (p *Patch) Mask() *Container { return p.mask }

// Scalar holds temporal continuous per-frame values (time, channel)
func (p *Patch) Scalar() *Container { return p.scalar }

// Label holds temporal discrete per-frame values (time, channel)
func (p *Patch) Label() *Container { return p.label }

// Vector holds temporal geometry tables
func (p *Patch) Vector() *Container { return p.vector }

// DataTimeless holds static continuous rasters (height, width, channel)
func (p *Patch) DataTimeless() *Container { return p.dataTimeless }

// MaskTimeless holds static discrete rasters (height, width, channel)
func (p *Patch) MaskTimeless() *Container { return p.maskTimeless }

// ScalarTimeless holds static continuous values (channel)
func (p *Patch) ScalarTimeless() *Container { return p.scalarTimeless }

// LabelTimeless holds static discrete values (channel)
func (p *Patch) LabelTimeless() *Container { return p.labelTimeless }

// VectorTimeless holds static geometry tables
func (p *Patch) VectorTimeless() *Container { return p.vectorTimeless }

// MetaInfo holds free-form metadata entries
func (p *Patch) MetaInfo() *Container { return p.metaInfo }

// BBox returns the bounding box, nil when unset
func (p *Patch) BBox() *geo.BBox { return p.bbox }

// SetBBox assigns the bounding box; nil warns as deprecated
func (p *Patch) SetBBox(bbox *geo.BBox) {
	if bbox == nil {
		p.warn("patch without a bounding box is deprecated", slog.String("reason", "deprecation"))
	}
	p.bbox = bbox
}

// crs is the reference system used when coercing loose vector inputs
func (p *Patch) crs() geo.CRS {
	if p.bbox != nil {
		return p.bbox.CRS
	}
	return geo.WGS84
}

// HasTimestamps reports whether a timestamp sequence is set, even an
// empty one
func (p *Patch) HasTimestamps() bool { return p.timestamps != nil }

// Timestamps returns a copy of the timestamp sequence, nil when unset
func (p *Patch) Timestamps() []time.Time {
	if p.timestamps == nil {
		return nil
	}
	return append([]time.Time(nil), p.timestamps...)
}

// TimeLen returns the number of timestamps
func (p *Patch) TimeLen() int { return len(p.timestamps) }

// SetTimestamps assigns the timestamp sequence and re-checks every
// temporal array feature against the new length
func (p *Patch) SetTimestamps(timestamps []time.Time) {
	if timestamps == nil {
		p.timestamps = nil
	} else {
		normalized := make([]time.Time, len(timestamps))
		for i, ts := range timestamps {
			normalized[i] = ts.UTC()
		}
		p.timestamps = normalized
	}
	p.checkAllTemporal()
}

// SetTimestampsFrom parses flexible timestamp inputs (date strings,
// RFC3339 strings, time.Time) before assigning them
func SetTimestampsFrom[T any](p *Patch, inputs []T) error {
	parsed, err := timeparse.ParseSequence(inputs)
	if err != nil {
		return err
	}
	if inputs != nil && parsed == nil {
		parsed = []time.Time{}
	}
	p.SetTimestamps(parsed)
	return nil
}

// SetFeature assigns a value under (type, name) with validation
func (p *Patch) SetFeature(ftype FeatureType, name string, value any) error {
	c, err := p.Container(ftype)
	if err != nil {
		return err
	}
	return c.Set(name, value)
}

// GetFeature reads a value, materializing a lazy entry
func (p *Patch) GetFeature(ftype FeatureType, name string) (any, error) {
	c, err := p.Container(ftype)
	if err != nil {
		return nil, err
	}
	return c.Get(name)
}

// DeleteFeature removes (type, name); missing names are lookup errors
func (p *Patch) DeleteFeature(ftype FeatureType, name string) error {
	c, err := p.Container(ftype)
	if err != nil {
		return err
	}
	return c.Delete(name)
}

// DeleteType clears every feature of the given type
func (p *Patch) DeleteType(ftype FeatureType) error {
	c, err := p.Container(ftype)
	if err != nil {
		return err
	}
	c.Clear()
	return nil
}

// HasType reports whether the container of the type is non-empty
func (p *Patch) HasType(ftype FeatureType) bool {
	c, err := p.Container(ftype)
	return err == nil && !c.IsEmpty()
}

// Has reports whether (type, name) is present, without materializing
func (p *Patch) Has(ftype FeatureType, name string) bool {
	c, err := p.Container(ftype)
	return err == nil && c.Has(name)
}

// GetFeatures lists every present feature in canonical type order and
// per-type insertion order
func (p *Patch) GetFeatures() []Feature {
	var out []Feature
	for _, ftype := range AllTypes() {
		c := p.container(ftype)
		for _, name := range c.names {
			out = append(out, Feature{Type: ftype, Name: name})
		}
	}
	return out
}

// GetSpatialDimension returns (height, width) of a spatial array feature
func (p *Patch) GetSpatialDimension(ftype FeatureType, name string) (int, int, error) {
	if !ftype.IsSpatial() {
		return 0, 0, errors.Validation(errors.ErrInvalidFeatureType, "feature type %s has no spatial dimensions", ftype)
	}
	c := p.container(ftype)
	a, err := c.GetArray(name)
	if err != nil {
		return 0, 0, err
	}
	if ftype.IsTemporal() {
		return a.Dim(1), a.Dim(2), nil
	}
	return a.Dim(0), a.Dim(1), nil
}

// warn emits a consistency warning through the patch logger
func (p *Patch) warn(msg string, args ...any) {
	p.logger.Warn(msg, args...)
}

// checkTemporalFeature warns when a freshly assigned temporal array
// disagrees with the current timestamp count. Fires exactly once per
// offending assignment and is never fatal, so exploratory pipelines can
// proceed.
func (p *Patch) checkTemporalFeature(ftype FeatureType, name string, value any) {
	if !ftype.IsArray() || !ftype.IsTemporal() {
		return
	}
	a, ok := value.(*ndarray.Array)
	if !ok {
		return
	}
	if p.timestamps == nil {
		p.warn("temporal feature assigned to a patch without timestamps",
			slog.String("feature", Feature{ftype, name}.String()),
			slog.Int("frames", a.Dim(0)))
		return
	}
	if a.Dim(0) != len(p.timestamps) {
		p.warn("temporal dimension mismatch",
			slog.String("feature", Feature{ftype, name}.String()),
			slog.Int("frames", a.Dim(0)),
			slog.Int("timestamps", len(p.timestamps)))
	}
}

// checkAllTemporal re-checks every materialized temporal array feature
func (p *Patch) checkAllTemporal() {
	for _, issue := range p.TemporalIssues() {
		p.warn("temporal dimension mismatch",
			slog.String("feature", issue.Feature.String()),
			slog.Int("frames", issue.Frames),
			slog.Int("timestamps", p.TimeLen()))
	}
}

// TemporalIssue describes one temporal array feature whose frame count
// disagrees with the patch timestamps
type TemporalIssue struct {
	Feature Feature
	Frames  int
}

// TemporalIssues lists the current temporal-dimension inconsistencies.
// Only materialized values are inspected; lazy entries are not loaded.
func (p *Patch) TemporalIssues() []TemporalIssue {
	var issues []TemporalIssue
	for _, ftype := range []FeatureType{Data, Mask, Scalar, Label} {
		c := p.container(ftype)
		for _, name := range c.names {
			e := c.entries[name]
			a, ok := e.value.(*ndarray.Array)
			if !ok {
				continue
			}
			if p.timestamps == nil || a.Dim(0) != len(p.timestamps) {
				issues = append(issues, TemporalIssue{Feature: Feature{ftype, name}, Frames: a.Dim(0)})
			}
		}
	}
	return issues
}

// featureValuesEqual compares canonical feature values, NaN-aware for
// arrays
func featureValuesEqual(a, b any) bool {
	switch av := a.(type) {
	case *ndarray.Array:
		bv, ok := b.(*ndarray.Array)
		return ok && av.Equal(bv)
	case *geo.Table:
		bv, ok := b.(*geo.Table)
		return ok && av.Equal(bv)
	default:
		return metaEqual(a, b)
	}
}

// metaEqual compares metadata values structurally with numbers
// normalized, so values survive a JSON round trip unchanged
func metaEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for key, item := range av {
			other, present := bv[key]
			if !present || !metaEqual(item, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i, item := range av {
			if !metaEqual(item, bv[i]) {
				return false
			}
		}
		return true
	default:
		return normalizeNumber(a) == normalizeNumber(b)
	}
}

func normalizeNumber(value any) any {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}

// Equals compares bounding box, timestamps and every feature by value.
// Differing feature sets compare unequal, never error. Lazy entries are
// materialized only when both sides hold the feature.
func (p *Patch) Equals(other *Patch) bool {
	if p == nil || other == nil {
		return p == other
	}
	if !p.bbox.Equal(other.bbox) {
		return false
	}
	if (p.timestamps == nil) != (other.timestamps == nil) || len(p.timestamps) != len(other.timestamps) {
		return false
	}
	for i, ts := range p.timestamps {
		if !ts.Equal(other.timestamps[i]) {
			return false
		}
	}
	for _, ftype := range AllTypes() {
		a, b := p.container(ftype), other.container(ftype)
		if a.Len() != b.Len() {
			return false
		}
		for _, name := range a.names {
			if !b.Has(name) {
				return false
			}
			left, err := a.Get(name)
			if err != nil {
				return false
			}
			right, err := b.Get(name)
			if err != nil {
				return false
			}
			if !featureValuesEqual(left, right) {
				return false
			}
		}
	}
	return true
}

// String renders a repr-style listing of the patch contents
func (p *Patch) String() string {
	var b strings.Builder
	b.WriteString("Patch(\n")
	if p.bbox != nil {
		fmt.Fprintf(&b, "  bbox=%s\n", p.bbox)
	}
	if p.timestamps != nil {
		fmt.Fprintf(&b, "  timestamps=<%d items>\n", len(p.timestamps))
	}
	for _, ftype := range AllTypes() {
		c := p.container(ftype)
		if c.IsEmpty() {
			continue
		}
		fmt.Fprintf(&b, "  %s={%s}\n", ftype, strings.Join(c.names, ", "))
	}
	b.WriteString(")")
	return b.String()
}

// sortedRemoved renders removed timestamps deterministically
func sortedRemoved(removed []time.Time) []time.Time {
	sort.Slice(removed, func(i, j int) bool { return removed[i].Before(removed[j]) })
	return removed
}
