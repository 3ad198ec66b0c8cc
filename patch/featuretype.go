// Package patch implements the GeoPatch data model: the feature type
// taxonomy, per-type feature containers with validation and lazy
// entries, and the Patch aggregate with its copy, equality, temporal
// subsetting and merge operations.
package patch

import (
	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/pkg/ndarray"
)

// FeatureType enumerates the categories of data a patch may hold.
// The string value doubles as the storage folder name.
type FeatureType string

// The closed set of feature types
const (
	Data           FeatureType = "data"
	Mask           FeatureType = "mask"
	Scalar         FeatureType = "scalar"
	Label          FeatureType = "label"
	Vector         FeatureType = "vector"
	DataTimeless   FeatureType = "data_timeless"
	MaskTimeless   FeatureType = "mask_timeless"
	ScalarTimeless FeatureType = "scalar_timeless"
	LabelTimeless  FeatureType = "label_timeless"
	VectorTimeless FeatureType = "vector_timeless"
	MetaInfo       FeatureType = "meta_info"
)

// AllTypes returns every feature type in canonical order
func AllTypes() []FeatureType {
	return []FeatureType{
		Data, Mask, Scalar, Label, Vector,
		DataTimeless, MaskTimeless, ScalarTimeless, LabelTimeless, VectorTimeless,
		MetaInfo,
	}
}

// spec describes the structural constraints of one feature type
type spec struct {
	array    bool
	vector   bool
	timeless bool
	discrete bool
	rank     int // exact array rank; 0 for non-array types
}

var specs = map[FeatureType]spec{
	Data:           {array: true, rank: 4},
	Mask:           {array: true, rank: 4, discrete: true},
	Scalar:         {array: true, rank: 2},
	Label:          {array: true, rank: 2, discrete: true},
	Vector:         {vector: true},
	DataTimeless:   {array: true, rank: 3, timeless: true},
	MaskTimeless:   {array: true, rank: 3, timeless: true, discrete: true},
	ScalarTimeless: {array: true, rank: 1, timeless: true},
	LabelTimeless:  {array: true, rank: 1, timeless: true, discrete: true},
	VectorTimeless: {vector: true, timeless: true},
	MetaInfo:       {timeless: true},
}

// IsValid reports whether the value names a known feature type
func (ft FeatureType) IsValid() bool {
	_, ok := specs[ft]
	return ok
}

// IsArray reports whether values are dense numeric buffers
func (ft FeatureType) IsArray() bool { return specs[ft].array }

// IsVector reports whether values are geometry tables
func (ft FeatureType) IsVector() bool { return specs[ft].vector }

// IsMeta reports whether values are free-form metadata entries
func (ft FeatureType) IsMeta() bool { return ft == MetaInfo }

// IsTimeless reports whether values have no temporal axis
func (ft FeatureType) IsTimeless() bool { return specs[ft].timeless }

// IsTemporal reports whether the leading axis (or the timestamp column)
// is bound to the patch timestamps
func (ft FeatureType) IsTemporal() bool { return !specs[ft].timeless }

// IsDiscrete reports whether array elements must be integer or boolean
func (ft FeatureType) IsDiscrete() bool { return specs[ft].discrete }

// IsSpatial reports whether array values carry height/width axes
func (ft FeatureType) IsSpatial() bool { return specs[ft].array && specs[ft].rank >= 3 }

// Rank returns the exact required array rank, 0 for non-array types
func (ft FeatureType) Rank() int { return specs[ft].rank }

// Folder returns the storage folder name of the type
func (ft FeatureType) Folder() string { return string(ft) }

// ParseFeatureType resolves a folder name back to a feature type
func ParseFeatureType(s string) (FeatureType, error) {
	ft := FeatureType(s)
	if !ft.IsValid() {
		return "", errors.Validation(errors.ErrInvalidFeatureType, "unknown feature type %q", s)
	}
	return ft, nil
}

// validateArray checks dtype discreteness and exact rank for the type
func (ft FeatureType) validateArray(a *ndarray.Array) error {
	if !ft.IsArray() {
		return errors.Validation(errors.ErrInvalidFeatureType, "feature type %s does not hold arrays", ft)
	}
	if ft.IsDiscrete() && !a.DType().IsDiscrete() {
		return errors.Validation(
			errors.ErrInvalidFeatureData,
			"feature type %s requires an integer or boolean dtype, got %s", ft, a.DType())
	}
	if a.Rank() != ft.Rank() {
		return errors.Validation(
			errors.ErrInvalidFeatureData,
			"feature type %s requires rank %d arrays, got rank %d", ft, ft.Rank(), a.Rank())
	}
	return nil
}

// Feature identifies one named value within a patch
type Feature struct {
	Type FeatureType
	Name string
}

// String renders "type/name", the storage-relative identity
func (f Feature) String() string {
	return f.Type.Folder() + "/" + f.Name
}
