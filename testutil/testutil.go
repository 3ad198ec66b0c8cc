// Package testutil generates deterministic patches and geometry tables
// for tests. Generation is seeded, so two calls with the same options
// produce byte-identical data.
package testutil

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/paulmach/orb"

	"github.com/c360/geopatch/patch"
	"github.com/c360/geopatch/pkg/geo"
	"github.com/c360/geopatch/pkg/ndarray"
)

// GenerateOptions controls patch generation. The zero value is not
// usable; start from DefaultOptions.
type GenerateOptions struct {
	// Seed feeds the random source; equal seeds give equal patches
	Seed int64
	// Timestamps is the length of the temporal axis
	Timestamps int
	// Height and Width are the spatial dimensions of array features
	Height, Width int
	// Depth is the channel count of array features
	Depth int
	// BBox bounds the patch; nil uses a fixed WGS84 box
	BBox *geo.BBox
	// Start anchors the timestamp sequence; zero uses 2019-01-01
	Start time.Time
	// MaxInt caps generated discrete values
	MaxInt int64
}

// DefaultOptions mirrors a small but fully-populated patch
func DefaultOptions() GenerateOptions {
	return GenerateOptions{
		Seed:       42,
		Timestamps: 5,
		Height:     4,
		Width:      3,
		Depth:      2,
		MaxInt:     5,
	}
}

func (opts *GenerateOptions) fill() {
	if opts.BBox == nil {
		opts.BBox, _ = geo.NewBBox(0, 0, 1, 1, geo.WGS84)
	}
	if opts.Start.IsZero() {
		opts.Start = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if opts.MaxInt <= 0 {
		opts.MaxInt = 5
	}
}

// TimestampList returns the timestamp sequence the generated patch carries
func (opts GenerateOptions) TimestampList() []time.Time {
	opts.fill()
	out := make([]time.Time, opts.Timestamps)
	for i := range out {
		out[i] = opts.Start.AddDate(0, 0, i*10)
	}
	return out
}

// GeneratePatch builds a patch with one feature of every requested
// type, filled with seeded random data
func GeneratePatch(features []patch.Feature, opts GenerateOptions) (*patch.Patch, error) {
	opts.fill()
	rng := rand.New(rand.NewSource(opts.Seed))

	p := patch.New(opts.BBox)
	p.SetTimestamps(opts.TimestampList())

	for _, f := range features {
		value, err := generateValue(f.Type, opts, rng)
		if err != nil {
			return nil, err
		}
		if err := p.SetFeature(f.Type, f.Name, value); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func generateValue(ftype patch.FeatureType, opts GenerateOptions, rng *rand.Rand) (any, error) {
	switch {
	case ftype.IsArray():
		return randomArray(ftype, opts, rng), nil
	case ftype.IsVector():
		return randomTable(ftype, opts, rng)
	default:
		return map[string]any{"origin": "generated", "seed": opts.Seed}, nil
	}
}

func arrayShape(ftype patch.FeatureType, opts GenerateOptions) []int {
	t, h, w, d := opts.Timestamps, opts.Height, opts.Width, opts.Depth
	switch ftype {
	case patch.Data, patch.Mask:
		return []int{t, h, w, d}
	case patch.Scalar, patch.Label:
		return []int{t, d}
	case patch.DataTimeless, patch.MaskTimeless:
		return []int{h, w, d}
	default: // scalar_timeless, label_timeless
		return []int{d}
	}
}

func randomArray(ftype patch.FeatureType, opts GenerateOptions, rng *rand.Rand) *ndarray.Array {
	shape := arrayShape(ftype, opts)
	dtype := ndarray.Float32
	if ftype.IsDiscrete() {
		dtype = ndarray.Int32
	}
	arr := ndarray.Zeros(dtype, shape...)
	for i := 0; i < arr.Len(); i++ {
		if ftype.IsDiscrete() {
			arr.SetFlat(i, float64(rng.Int63n(opts.MaxInt)))
		} else {
			arr.SetFlat(i, rng.Float64())
		}
	}
	return arr
}

func randomTable(ftype patch.FeatureType, opts GenerateOptions, rng *rand.Rand) (*geo.Table, error) {
	table := geo.NewTable(opts.BBox.CRS)
	times := opts.TimestampList()
	rows := opts.Timestamps
	if ftype.IsTimeless() {
		rows = 3
	}
	for i := 0; i < rows; i++ {
		pt := orb.Point{
			opts.BBox.MinX + rng.Float64()*(opts.BBox.MaxX-opts.BBox.MinX),
			opts.BBox.MinY + rng.Float64()*(opts.BBox.MaxY-opts.BBox.MinY),
		}
		var ts *time.Time
		if ftype.IsTemporal() {
			ts = &times[i%len(times)]
		}
		attrs := map[string]any{"label": fmt.Sprintf("feature-%d", i)}
		if err := table.AddRow(pt, ts, attrs); err != nil {
			return nil, err
		}
	}
	return table, nil
}
