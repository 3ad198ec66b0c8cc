// Package ndarray implements the dense rectangular numeric buffers that
// back array-typed patch features: a dtype taxonomy, rank-N row-major
// storage, NaN-aware equality and subsetting along the leading (time)
// axis. The package also provides the NPY v1.0 wire codec used by the
// storage engine.
package ndarray

import (
	"fmt"
	"math"

	"github.com/c360/geopatch/errors"
)

// DType enumerates the supported element types
type DType int

const (
	Bool DType = iota
	Uint8
	Int16
	Int32
	Int64
	Float32
	Float64
)

// String returns the numpy-style name of the dtype
func (d DType) String() string {
	switch d {
	case Bool:
		return "bool"
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// IsFloat reports whether the dtype holds floating point elements
func (d DType) IsFloat() bool {
	return d == Float32 || d == Float64
}

// IsDiscrete reports whether the dtype holds integer or boolean elements
func (d DType) IsDiscrete() bool {
	return !d.IsFloat()
}

// ItemSize returns the per-element size in bytes
func (d DType) ItemSize() int {
	switch d {
	case Bool, Uint8:
		return 1
	case Int16:
		return 2
	case Int32, Float32:
		return 4
	default:
		return 8
	}
}

// Array is a dense row-major buffer with a fixed dtype and shape.
// The zero value is not usable; construct arrays with New, Zeros or Full.
type Array struct {
	dtype DType
	shape []int
	data  any // []bool, []uint8, []int16, []int32, []int64, []float32 or []float64
}

func volume(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

func dataLen(data any) (int, bool) {
	switch v := data.(type) {
	case []bool:
		return len(v), true
	case []uint8:
		return len(v), true
	case []int16:
		return len(v), true
	case []int32:
		return len(v), true
	case []int64:
		return len(v), true
	case []float32:
		return len(v), true
	case []float64:
		return len(v), true
	default:
		return 0, false
	}
}

func dtypeOf(data any) DType {
	switch data.(type) {
	case []bool:
		return Bool
	case []uint8:
		return Uint8
	case []int16:
		return Int16
	case []int32:
		return Int32
	case []int64:
		return Int64
	case []float32:
		return Float32
	default:
		return Float64
	}
}

// New wraps a typed slice into an array of the given shape. The slice is
// not copied, mutating it mutates the array.
func New(shape []int, data any) (*Array, error) {
	for _, dim := range shape {
		if dim < 0 {
			return nil, errors.Validation(errors.ErrInvalidFeatureData, "negative dimension in shape %v", shape)
		}
	}
	length, ok := dataLen(data)
	if !ok {
		return nil, errors.Validation(errors.ErrInvalidFeatureData, "unsupported buffer type %T", data)
	}
	if length != volume(shape) {
		return nil, errors.Validation(
			errors.ErrInvalidFeatureData, "buffer of %d elements does not fit shape %v", length, shape)
	}
	return &Array{dtype: dtypeOf(data), shape: append([]int(nil), shape...), data: data}, nil
}

// MustNew is New that panics on error, for statically correct literals in tests
func MustNew(shape []int, data any) *Array {
	a, err := New(shape, data)
	if err != nil {
		panic(err)
	}
	return a
}

func alloc(dtype DType, n int) any {
	switch dtype {
	case Bool:
		return make([]bool, n)
	case Uint8:
		return make([]uint8, n)
	case Int16:
		return make([]int16, n)
	case Int32:
		return make([]int32, n)
	case Int64:
		return make([]int64, n)
	case Float32:
		return make([]float32, n)
	default:
		return make([]float64, n)
	}
}

// Zeros creates a zero-filled array
func Zeros(dtype DType, shape ...int) *Array {
	return &Array{dtype: dtype, shape: append([]int(nil), shape...), data: alloc(dtype, volume(shape))}
}

// Full creates an array filled with the given value, truncated to the dtype
func Full(dtype DType, fill float64, shape ...int) *Array {
	a := Zeros(dtype, shape...)
	a.Fill(fill)
	return a
}

// Arange creates a flat array containing 0..n-1 reshaped to the given shape
func Arange(dtype DType, shape ...int) *Array {
	a := Zeros(dtype, shape...)
	for i := 0; i < a.Len(); i++ {
		a.setFlat(i, float64(i))
	}
	return a
}

// DType returns the element type
func (a *Array) DType() DType { return a.dtype }

// Shape returns a copy of the dimensions
func (a *Array) Shape() []int { return append([]int(nil), a.shape...) }

// Rank returns the number of dimensions
func (a *Array) Rank() int { return len(a.shape) }

// Len returns the total number of elements
func (a *Array) Len() int { return volume(a.shape) }

// Dim returns the length of one axis
func (a *Array) Dim(axis int) int { return a.shape[axis] }

// Data exposes the underlying typed slice. Mutating it mutates the array,
// which is exactly the sharing contract of shallow patch copies.
func (a *Array) Data() any { return a.data }

func (a *Array) getFlat(i int) float64 {
	switch v := a.data.(type) {
	case []bool:
		if v[i] {
			return 1
		}
		return 0
	case []uint8:
		return float64(v[i])
	case []int16:
		return float64(v[i])
	case []int32:
		return float64(v[i])
	case []int64:
		return float64(v[i])
	case []float32:
		return float64(v[i])
	default:
		return v.([]float64)[i]
	}
}

func (a *Array) setFlat(i int, x float64) {
	switch v := a.data.(type) {
	case []bool:
		v[i] = x != 0
	case []uint8:
		v[i] = uint8(x)
	case []int16:
		v[i] = int16(x)
	case []int32:
		v[i] = int32(x)
	case []int64:
		v[i] = int64(x)
	case []float32:
		v[i] = float32(x)
	default:
		v.([]float64)[i] = x
	}
}

func (a *Array) flatIndex(index []int) int {
	flat := 0
	for axis, i := range index {
		flat = flat*a.shape[axis] + i
	}
	return flat
}

// At returns the element at the given multi-dimensional index as float64
func (a *Array) At(index ...int) float64 {
	return a.getFlat(a.flatIndex(index))
}

// Set assigns the element at the given multi-dimensional index
func (a *Array) Set(x float64, index ...int) {
	a.setFlat(a.flatIndex(index), x)
}

// AtFlat returns the element at flat (C-order) position i as float64
func (a *Array) AtFlat(i int) float64 { return a.getFlat(i) }

// SetFlat assigns the element at flat (C-order) position i
func (a *Array) SetFlat(i int, x float64) { a.setFlat(i, x) }

// Fill assigns every element in place
func (a *Array) Fill(x float64) {
	for i := 0; i < a.Len(); i++ {
		a.setFlat(i, x)
	}
}

// AddScalar adds x to every element in place
func (a *Array) AddScalar(x float64) {
	for i := 0; i < a.Len(); i++ {
		a.setFlat(i, a.getFlat(i)+x)
	}
}

// Equal compares dtype, shape and every element. For float dtypes NaN
// compares equal to NaN, so round-tripped nodata stays equal.
func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.dtype != b.dtype || len(a.shape) != len(b.shape) {
		return false
	}
	for i, dim := range a.shape {
		if b.shape[i] != dim {
			return false
		}
	}
	if !a.dtype.IsFloat() {
		for i := 0; i < a.Len(); i++ {
			if a.getFlat(i) != b.getFlat(i) {
				return false
			}
		}
		return true
	}
	for i := 0; i < a.Len(); i++ {
		x, y := a.getFlat(i), b.getFlat(i)
		if x != y && !(math.IsNaN(x) && math.IsNaN(y)) {
			return false
		}
	}
	return true
}

func copySlice(data any) any {
	switch v := data.(type) {
	case []bool:
		return append([]bool(nil), v...)
	case []uint8:
		return append([]uint8(nil), v...)
	case []int16:
		return append([]int16(nil), v...)
	case []int32:
		return append([]int32(nil), v...)
	case []int64:
		return append([]int64(nil), v...)
	case []float32:
		return append([]float32(nil), v...)
	default:
		return append([]float64(nil), v.([]float64)...)
	}
}

// DeepCopy returns an independently owned clone
func (a *Array) DeepCopy() *Array {
	if a == nil {
		return nil
	}
	return &Array{dtype: a.dtype, shape: a.Shape(), data: copySlice(a.data)}
}

// frameVolume is the element count of one leading-axis frame
func (a *Array) frameVolume() int {
	if len(a.shape) == 0 {
		return 1
	}
	return volume(a.shape[1:])
}

func sliceRange(data any, lo, hi int) any {
	switch v := data.(type) {
	case []bool:
		return v[lo:hi]
	case []uint8:
		return v[lo:hi]
	case []int16:
		return v[lo:hi]
	case []int32:
		return v[lo:hi]
	case []int64:
		return v[lo:hi]
	case []float32:
		return v[lo:hi]
	default:
		return v.([]float64)[lo:hi]
	}
}

func copyInto(dst any, dstOff int, src any, srcLo, srcHi int) {
	switch d := dst.(type) {
	case []bool:
		copy(d[dstOff:], src.([]bool)[srcLo:srcHi])
	case []uint8:
		copy(d[dstOff:], src.([]uint8)[srcLo:srcHi])
	case []int16:
		copy(d[dstOff:], src.([]int16)[srcLo:srcHi])
	case []int32:
		copy(d[dstOff:], src.([]int32)[srcLo:srcHi])
	case []int64:
		copy(d[dstOff:], src.([]int64)[srcLo:srcHi])
	case []float32:
		copy(d[dstOff:], src.([]float32)[srcLo:srcHi])
	default:
		copy(d.([]float64)[dstOff:], src.([]float64)[srcLo:srcHi])
	}
}

// TakeTime returns a new array holding the selected leading-axis frames
// in selector order. Elements are copied.
func (a *Array) TakeTime(indices []int) (*Array, error) {
	if a.Rank() == 0 {
		return nil, errors.Validation(errors.ErrInvalidFeatureData, "cannot subset a rank 0 array along time")
	}
	frame := a.frameVolume()
	shape := a.Shape()
	shape[0] = len(indices)
	out := Zeros(a.dtype, shape...)
	for pos, idx := range indices {
		if idx < 0 || idx >= a.shape[0] {
			return nil, errors.Validation(
				errors.ErrTemporalSelection, "index %d out of range for %d frames", idx, a.shape[0])
		}
		copyInto(out.data, pos*frame, a.data, idx*frame, (idx+1)*frame)
	}
	return out, nil
}

// Frame returns frame i of the leading axis as an array of one lower rank.
// The returned array shares storage with the original.
func (a *Array) Frame(i int) (*Array, error) {
	if a.Rank() == 0 {
		return nil, errors.Validation(errors.ErrInvalidFeatureData, "rank 0 array has no frames")
	}
	if i < 0 || i >= a.shape[0] {
		return nil, errors.Validation(errors.ErrTemporalSelection, "frame %d out of range for %d frames", i, a.shape[0])
	}
	frame := a.frameVolume()
	return &Array{
		dtype: a.dtype,
		shape: append([]int(nil), a.shape[1:]...),
		data:  sliceRange(a.data, i*frame, (i+1)*frame),
	}, nil
}

// StackTime concatenates equally shaped frames along a new leading axis
func StackTime(frames []*Array) (*Array, error) {
	if len(frames) == 0 {
		return nil, errors.Validation(errors.ErrInvalidFeatureData, "cannot stack zero frames")
	}
	first := frames[0]
	shape := append([]int{len(frames)}, first.shape...)
	out := Zeros(first.dtype, shape...)
	frame := first.Len()
	for pos, f := range frames {
		if f.dtype != first.dtype || f.Len() != frame {
			return nil, errors.Validation(errors.ErrInvalidFeatureData, "frame %d does not match frame 0", pos)
		}
		copyInto(out.data, pos*frame, f.data, 0, frame)
	}
	return out, nil
}

// String renders a short description, not the elements
func (a *Array) String() string {
	return fmt.Sprintf("ndarray(%s, shape=%v)", a.dtype, a.shape)
}
