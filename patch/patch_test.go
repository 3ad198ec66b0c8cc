package patch

import (
	"bytes"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/pkg/geo"
	"github.com/c360/geopatch/pkg/ndarray"
)

func testBBox(t *testing.T) *geo.BBox {
	t.Helper()
	bbox, err := geo.NewBBox(0, 0, 1, 1, geo.PopWeb)
	require.NoError(t, err)
	return bbox
}

func testTimestamps(n int) []time.Time {
	base := time.Date(2017, 1, 1, 10, 4, 10, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = base.AddDate(0, 0, 7*i)
	}
	return out
}

// newTestPatch builds a patch with one feature of most types, the way
// local pipelines start out
func newTestPatch(t *testing.T) *Patch {
	t.Helper()
	p := New(testBBox(t))
	p.SetTimestamps(testTimestamps(3))
	require.NoError(t, p.Data().Set("bands", ndarray.Arange(ndarray.Float32, 3, 4, 5, 2)))
	require.NoError(t, p.Mask().Set("clm", ndarray.Zeros(ndarray.Uint8, 3, 4, 5, 1)))
	require.NoError(t, p.ScalarTimeless().Set("mean", ndarray.Full(ndarray.Float64, 0.42, 2)))
	require.NoError(t, p.MetaInfo().Set("origin", map[string]any{"source": "s2"}))
	return p
}

func TestFeatureAssignmentValidation(t *testing.T) {
	p := New(testBBox(t))
	p.SetTimestamps(testTimestamps(3))

	// wrong rank
	err := p.Data().Set("bands", ndarray.Zeros(ndarray.Float32, 4, 5, 2))
	assert.True(t, errors.IsValidation(err))

	// float data in a discrete container
	err = p.Mask().Set("clm", ndarray.Zeros(ndarray.Float32, 3, 4, 5, 1))
	assert.True(t, errors.Is(err, errors.ErrInvalidFeatureData))

	// array value in a vector container
	err = p.Vector().Set("geoms", ndarray.Zeros(ndarray.Float32, 3, 2))
	assert.True(t, errors.IsValidation(err))

	// names that would break the storage layout
	for _, name := range []string{"", "a/b", "a.b", "a:b", `a\b`} {
		err = p.Data().Set(name, ndarray.Zeros(ndarray.Float32, 3, 4, 5, 2))
		assert.True(t, errors.Is(err, errors.ErrInvalidFeatureName), name)
	}
}

func TestVectorCoercion(t *testing.T) {
	p := New(testBBox(t))

	geoms := []orb.Geometry{orb.Point{0.1, 0.2}, orb.Point{0.5, 0.9}}
	require.NoError(t, p.VectorTimeless().Set("points", geoms))

	table, err := p.VectorTimeless().GetTable("points")
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, geo.PopWeb, table.CRS)

	// temporal vector requires a timestamp column
	err = p.Vector().Set("points", geoms)
	assert.True(t, errors.Is(err, errors.ErrMissingTimestampCol))
}

func TestDeleteFeature(t *testing.T) {
	p := newTestPatch(t)

	require.NoError(t, p.DeleteFeature(Data, "bands"))
	assert.False(t, p.Has(Data, "bands"))

	err := p.DeleteFeature(Data, "bands")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, p.DeleteType(Mask))
	assert.False(t, p.HasType(Mask))
}

func TestGetFeaturesOrder(t *testing.T) {
	p := New(testBBox(t))
	p.SetTimestamps(testTimestamps(2))
	require.NoError(t, p.Data().Set("b", ndarray.Zeros(ndarray.Float32, 2, 1, 1, 1)))
	require.NoError(t, p.Data().Set("a", ndarray.Zeros(ndarray.Float32, 2, 1, 1, 1)))
	require.NoError(t, p.MaskTimeless().Set("m", ndarray.Zeros(ndarray.Bool, 1, 1, 1)))

	assert.Equal(t, []Feature{
		{Data, "b"}, {Data, "a"}, {MaskTimeless, "m"},
	}, p.GetFeatures())
}

func TestGetSpatialDimension(t *testing.T) {
	p := newTestPatch(t)

	h, w, err := p.GetSpatialDimension(Data, "bands")
	require.NoError(t, err)
	assert.Equal(t, 4, h)
	assert.Equal(t, 5, w)

	require.NoError(t, p.MaskTimeless().Set("lulc", ndarray.Zeros(ndarray.Int32, 6, 7, 1)))
	h, w, err = p.GetSpatialDimension(MaskTimeless, "lulc")
	require.NoError(t, err)
	assert.Equal(t, 6, h)
	assert.Equal(t, 7, w)

	_, _, err = p.GetSpatialDimension(Scalar, "anything")
	assert.True(t, errors.IsValidation(err))
}

func TestEquality(t *testing.T) {
	a := newTestPatch(t)
	b := newTestPatch(t)
	assert.True(t, a.Equals(b))
	assert.True(t, b.Equals(a))

	// NaN equals NaN in feature arrays
	nan := ndarray.Full(ndarray.Float64, 0, 3, 2)
	nan.Set(math.NaN(), 0, 0)
	require.NoError(t, a.Scalar().Set("cloud", nan))
	require.NoError(t, b.Scalar().Set("cloud", nan.DeepCopy()))
	assert.True(t, a.Equals(b))

	// differing feature sets are unequal, not an error
	require.NoError(t, b.Data().Set("extra", ndarray.Zeros(ndarray.Float32, 3, 4, 5, 2)))
	assert.False(t, a.Equals(b))
	require.NoError(t, b.Data().Delete("extra"))

	// differing values
	require.NoError(t, b.Data().Set("bands", ndarray.Zeros(ndarray.Float32, 3, 4, 5, 2)))
	assert.False(t, a.Equals(b))
}

func TestEqualityBBoxAndTimestamps(t *testing.T) {
	a := newTestPatch(t)
	b := newTestPatch(t)

	other, err := geo.NewBBox(0, 0, 2, 2, geo.PopWeb)
	require.NoError(t, err)
	b.SetBBox(other)
	assert.False(t, a.Equals(b))

	b.SetBBox(testBBox(t))
	b.SetTimestamps(testTimestamps(2))
	assert.False(t, a.Equals(b))
}

func TestTimestampWarnings(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	p := New(testBBox(t)).WithLogger(logger)
	p.SetTimestamps(testTimestamps(3))
	buf.Reset()

	// mismatched temporal dimension warns but succeeds
	require.NoError(t, p.Data().Set("bands", ndarray.Zeros(ndarray.Float32, 5, 4, 5, 2)))
	assert.Contains(t, buf.String(), "temporal dimension mismatch")
	assert.True(t, p.Has(Data, "bands"))

	issues := p.TemporalIssues()
	require.Len(t, issues, 1)
	assert.Equal(t, Feature{Data, "bands"}, issues[0].Feature)
	assert.Equal(t, 5, issues[0].Frames)

	// fixing the timestamps clears the issue
	buf.Reset()
	p.SetTimestamps(testTimestamps(5))
	assert.Empty(t, p.TemporalIssues())
}

func TestMissingTimestampsWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	p := New(testBBox(t)).WithLogger(logger)
	require.NoError(t, p.Data().Set("bands", ndarray.Zeros(ndarray.Float32, 3, 4, 5, 2)))
	assert.Contains(t, buf.String(), "without timestamps")
}

func TestNilBBoxDeprecationWarning(t *testing.T) {
	var buf bytes.Buffer
	base := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(base)

	New(nil)
	assert.Contains(t, buf.String(), "deprecated")

	// a logger given at construction receives the warning instead
	buf.Reset()
	var own bytes.Buffer
	NewWithLogger(nil, slog.New(slog.NewTextHandler(&own, nil)))
	assert.Contains(t, own.String(), "deprecated")
	assert.Empty(t, buf.String())
}

func TestSetTimestampsFrom(t *testing.T) {
	p := New(testBBox(t))
	require.NoError(t, SetTimestampsFrom(p, []string{"2017-01-01", "2017-01-08T10:00:00"}))
	ts := p.Timestamps()
	require.Len(t, ts, 2)
	assert.Equal(t, time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), ts[0])
	assert.Equal(t, time.Date(2017, 1, 8, 10, 0, 0, 0, time.UTC), ts[1])

	err := SetTimestampsFrom(p, []string{"not a date"})
	assert.Error(t, err)

	// empty sequence is set, nil is unset
	require.NoError(t, SetTimestampsFrom(p, []string{}))
	assert.True(t, p.HasTimestamps())
	assert.Equal(t, 0, p.TimeLen())

	require.NoError(t, SetTimestampsFrom[string](p, nil))
	assert.False(t, p.HasTimestamps())
}

func TestStringListing(t *testing.T) {
	p := newTestPatch(t)
	repr := p.String()
	assert.Contains(t, repr, "bbox=")
	assert.Contains(t, repr, "timestamps=<3 items>")
	assert.Contains(t, repr, "data={bands}")
	assert.Contains(t, repr, "meta_info={origin}")
}
