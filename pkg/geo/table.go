package geo

import (
	"encoding/json"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/c360/geopatch/errors"
)

// TimestampColumn is the name under which per-row timestamps travel in
// serialized tables. Temporal vector features must carry this column.
const TimestampColumn = "TIMESTAMP"

// Table is a geometry collection with per-row attributes, the storage
// behind vector-typed patch features. Attribute values are normalized to
// JSON-natural types (string, bool, float64) so that serialization round
// trips preserve equality.
type Table struct {
	CRS        CRS
	Geometries []orb.Geometry
	Timestamps []time.Time // nil when the table has no timestamp column
	Columns    []string
	Attributes map[string][]any
}

// NewTable creates an empty table in the given reference system
func NewTable(crs CRS) *Table {
	return &Table{CRS: crs, Attributes: map[string][]any{}}
}

// TableFromGeometries wraps a plain geometry sequence into a table,
// the coercion applied when a geometry slice is assigned to a vector feature
func TableFromGeometries(crs CRS, geometries []orb.Geometry) *Table {
	t := NewTable(crs)
	t.Geometries = append(t.Geometries, geometries...)
	return t
}

// Len returns the number of rows
func (t *Table) Len() int { return len(t.Geometries) }

// HasTimestamps reports whether the table carries the timestamp column
func (t *Table) HasTimestamps() bool { return t.Timestamps != nil }

func normalize(value any) any {
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

// AddColumn registers an attribute column; values must cover every row
func (t *Table) AddColumn(name string, values []any) error {
	if len(values) != t.Len() {
		return errors.Validation(
			errors.ErrInvalidFeatureData, "column %q has %d values for %d rows", name, len(values), t.Len())
	}
	if _, exists := t.Attributes[name]; !exists {
		t.Columns = append(t.Columns, name)
	}
	normalized := make([]any, len(values))
	for i, v := range values {
		normalized[i] = normalize(v)
	}
	t.Attributes[name] = normalized
	return nil
}

// AddRow appends one row; attrs may omit columns (stored as nil)
func (t *Table) AddRow(geometry orb.Geometry, ts *time.Time, attrs map[string]any) error {
	if t.HasTimestamps() != (ts != nil) && t.Len() > 0 {
		return errors.Validation(errors.ErrInvalidFeatureData, "rows must agree on having a timestamp")
	}
	t.Geometries = append(t.Geometries, geometry)
	if ts != nil {
		t.Timestamps = append(t.Timestamps, ts.UTC())
	}
	for _, col := range t.Columns {
		t.Attributes[col] = append(t.Attributes[col], normalize(attrs[col]))
	}
	for name, value := range attrs {
		if _, known := t.Attributes[name]; !known {
			column := make([]any, t.Len())
			column[t.Len()-1] = normalize(value)
			t.Columns = append(t.Columns, name)
			t.Attributes[name] = column
		}
	}
	return nil
}

// TakeRows returns a new table with the selected rows in selector order
func (t *Table) TakeRows(indices []int) (*Table, error) {
	out := NewTable(t.CRS)
	out.Columns = append([]string(nil), t.Columns...)
	for _, col := range out.Columns {
		out.Attributes[col] = make([]any, 0, len(indices))
	}
	if t.HasTimestamps() {
		out.Timestamps = make([]time.Time, 0, len(indices))
	}
	for _, idx := range indices {
		if idx < 0 || idx >= t.Len() {
			return nil, errors.Validation(
				errors.ErrTemporalSelection, "row %d out of range for %d rows", idx, t.Len())
		}
		out.Geometries = append(out.Geometries, t.Geometries[idx])
		if t.HasTimestamps() {
			out.Timestamps = append(out.Timestamps, t.Timestamps[idx])
		}
		for _, col := range out.Columns {
			out.Attributes[col] = append(out.Attributes[col], t.Attributes[col][idx])
		}
	}
	return out, nil
}

// FilterRows keeps rows whose timestamp satisfies the predicate
func (t *Table) FilterRows(keep func(i int) bool) (*Table, error) {
	var indices []int
	for i := 0; i < t.Len(); i++ {
		if keep(i) {
			indices = append(indices, i)
		}
	}
	return t.TakeRows(indices)
}

// ShallowCopy shares row storage with the original
func (t *Table) ShallowCopy() *Table {
	clone := *t
	return &clone
}

// DeepCopy clones all row storage
func (t *Table) DeepCopy() *Table {
	out := NewTable(t.CRS)
	out.Geometries = append([]orb.Geometry(nil), t.Geometries...)
	if t.Timestamps != nil {
		out.Timestamps = make([]time.Time, len(t.Timestamps))
		copy(out.Timestamps, t.Timestamps)
	}
	out.Columns = append([]string(nil), t.Columns...)
	for _, col := range t.Columns {
		out.Attributes[col] = append([]any(nil), t.Attributes[col]...)
	}
	return out
}

// Equal compares CRS, rows, timestamps and attributes
func (t *Table) Equal(other *Table) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.CRS != other.CRS || t.Len() != other.Len() || t.HasTimestamps() != other.HasTimestamps() {
		return false
	}
	if len(t.Columns) != len(other.Columns) {
		return false
	}
	for i, col := range t.Columns {
		if other.Columns[i] != col {
			return false
		}
	}
	for i, g := range t.Geometries {
		if !orb.Equal(g, other.Geometries[i]) {
			return false
		}
	}
	for i, ts := range t.Timestamps {
		if !ts.Equal(other.Timestamps[i]) {
			return false
		}
	}
	for _, col := range t.Columns {
		a, b := t.Attributes[col], other.Attributes[col]
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

// MarshalGeoJSON encodes the table as a GeoJSON feature collection with
// the CRS and the column order preserved as foreign members
func (t *Table) MarshalGeoJSON() ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{crsMember: t.CRS.String()}
	if t.HasTimestamps() {
		// recorded explicitly so empty temporal tables keep their column
		fc.ExtraMembers["temporal"] = true
	}
	if len(t.Columns) > 0 {
		columns := make([]any, len(t.Columns))
		for i, col := range t.Columns {
			columns[i] = col
		}
		fc.ExtraMembers["columns"] = columns
	}
	for i, geometry := range t.Geometries {
		feature := geojson.NewFeature(geometry)
		feature.Properties = geojson.Properties{}
		for _, col := range t.Columns {
			feature.Properties[col] = t.Attributes[col][i]
		}
		if t.HasTimestamps() {
			feature.Properties[TimestampColumn] = t.Timestamps[i].UTC().Format(time.RFC3339Nano)
		}
		fc.Append(feature)
	}
	raw, err := json.Marshal(fc)
	if err != nil {
		return nil, errors.IO(err, "marshal geometry table")
	}
	return raw, nil
}

// UnmarshalTableGeoJSON decodes a table written by MarshalGeoJSON
func UnmarshalTableGeoJSON(raw []byte) (*Table, error) {
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, errors.IO(err, "unmarshal geometry table")
	}
	crsValue, ok := fc.ExtraMembers[crsMember].(string)
	if !ok {
		return nil, errors.IO(errors.ErrCorruptedStore, "geometry table is missing its CRS")
	}
	crs, err := ParseCRS(crsValue)
	if err != nil {
		return nil, err
	}

	out := NewTable(crs)
	if temporal, _ := fc.ExtraMembers["temporal"].(bool); temporal {
		out.Timestamps = []time.Time{}
	}
	if rawColumns, ok := fc.ExtraMembers["columns"].([]any); ok {
		for _, col := range rawColumns {
			name, _ := col.(string)
			out.Columns = append(out.Columns, name)
			out.Attributes[name] = []any{}
		}
	}
	for _, feature := range fc.Features {
		out.Geometries = append(out.Geometries, feature.Geometry)
		if tsValue, present := feature.Properties[TimestampColumn]; present {
			tsString, _ := tsValue.(string)
			ts, parseErr := time.Parse(time.RFC3339Nano, tsString)
			if parseErr != nil {
				return nil, errors.IO(errors.ErrCorruptedStore, "bad timestamp %q in geometry table", tsString)
			}
			out.Timestamps = append(out.Timestamps, ts)
		}
		for _, col := range out.Columns {
			out.Attributes[col] = append(out.Attributes[col], normalize(feature.Properties[col]))
		}
	}
	return out, nil
}
