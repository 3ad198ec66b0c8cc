package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/geopatch/pkg/ndarray"
)

func TestParseFeatureType(t *testing.T) {
	for _, ftype := range AllTypes() {
		parsed, err := ParseFeatureType(string(ftype))
		require.NoError(t, err)
		assert.Equal(t, ftype, parsed)
	}

	_, err := ParseFeatureType("DATA")
	assert.Error(t, err)
	_, err = ParseFeatureType("raster")
	assert.Error(t, err)
}

func TestFeatureTypeTaxonomy(t *testing.T) {
	cases := []struct {
		ftype    FeatureType
		temporal bool
		array    bool
		discrete bool
		rank     int
	}{
		{Data, true, true, false, 4},
		{Mask, true, true, true, 4},
		{Scalar, true, true, false, 2},
		{Label, true, true, true, 2},
		{Vector, true, false, false, 0},
		{DataTimeless, false, true, false, 3},
		{MaskTimeless, false, true, true, 3},
		{ScalarTimeless, false, true, false, 1},
		{LabelTimeless, false, true, true, 1},
		{VectorTimeless, false, false, false, 0},
		{MetaInfo, false, false, false, 0},
	}
	for _, tc := range cases {
		t.Run(string(tc.ftype), func(t *testing.T) {
			assert.Equal(t, tc.temporal, tc.ftype.IsTemporal())
			assert.Equal(t, tc.array, tc.ftype.IsArray())
			assert.Equal(t, tc.discrete, tc.ftype.IsDiscrete())
			if tc.array {
				assert.Equal(t, tc.rank, tc.ftype.Rank())
			}
		})
	}
}

func TestValidateArrayRanks(t *testing.T) {
	ok := map[FeatureType]*ndarray.Array{
		Data:           ndarray.Zeros(ndarray.Float32, 3, 4, 5, 2),
		Mask:           ndarray.Zeros(ndarray.Uint8, 3, 4, 5, 1),
		Scalar:         ndarray.Zeros(ndarray.Float64, 3, 2),
		Label:          ndarray.Zeros(ndarray.Int32, 3, 1),
		DataTimeless:   ndarray.Zeros(ndarray.Float64, 4, 5, 2),
		MaskTimeless:   ndarray.Zeros(ndarray.Bool, 4, 5, 1),
		ScalarTimeless: ndarray.Zeros(ndarray.Float32, 3),
		LabelTimeless:  ndarray.Zeros(ndarray.Int64, 2),
	}
	for ftype, a := range ok {
		assert.NoError(t, ftype.validateArray(a), string(ftype))
	}

	// wrong rank
	assert.Error(t, Data.validateArray(ndarray.Zeros(ndarray.Float32, 4, 5, 2)))
	assert.Error(t, ScalarTimeless.validateArray(ndarray.Zeros(ndarray.Float32, 3, 1)))

	// discrete types reject float dtypes, continuous accept anything
	assert.Error(t, Mask.validateArray(ndarray.Zeros(ndarray.Float32, 3, 4, 5, 1)))
	assert.Error(t, LabelTimeless.validateArray(ndarray.Zeros(ndarray.Float64, 2)))
	assert.NoError(t, Data.validateArray(ndarray.Zeros(ndarray.Int16, 3, 4, 5, 2)))
}

func TestFeatureString(t *testing.T) {
	assert.Equal(t, "data/bands", Feature{Data, "bands"}.String())
	assert.Equal(t, "mask_timeless/lulc", Feature{MaskTimeless, "lulc"}.String())
}
