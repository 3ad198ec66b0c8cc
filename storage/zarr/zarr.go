// Package zarr implements a zarr-v2 style directory store for dense
// numeric arrays, chunked along the first axis so single time frames
// can be read and written without touching the rest of the store.
//
// Layout under the store directory:
//
//	.zarray     JSON metadata (dtype, shape, chunks, zarr_format 2)
//	<t>.0...0   one raw little-endian C-order chunk per first-axis index
//
// Chunks are uncompressed (compressor null), which keeps partial writes
// a single-file replace. Concurrent writes into overlapping first-axis
// ranges are not synchronized; callers must avoid them.
package zarr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/pkg/ndarray"
)

const metadataFile = ".zarray"

// metadata is the persisted .zarray document
type metadata struct {
	Chunks     []int   `json:"chunks"`
	Compressor any     `json:"compressor"`
	DType      string  `json:"dtype"`
	FillValue  float64 `json:"fill_value"`
	Filters    any     `json:"filters"`
	Order      string  `json:"order"`
	Shape      []int   `json:"shape"`
	ZarrFormat int     `json:"zarr_format"`
}

// Store is one chunked array bound to a directory
type Store struct {
	fs    afero.Fs
	path  string
	dtype ndarray.DType
	shape []int
}

// Exists reports whether a store directory with metadata is present
func Exists(fs afero.Fs, path string) bool {
	ok, err := afero.Exists(fs, joinPath(path, metadataFile))
	return err == nil && ok
}

// Create initializes a store directory for the given dtype and shape,
// replacing any existing store at the path
func Create(fs afero.Fs, path string, dtype ndarray.DType, shape []int) (*Store, error) {
	if len(shape) == 0 {
		return nil, errors.Validation(errors.ErrInvalidFeatureData, "chunked store requires at least one axis")
	}
	if err := fs.RemoveAll(path); err != nil {
		return nil, errors.IO(err, "clearing store at %q", path)
	}
	if err := fs.MkdirAll(path, 0o755); err != nil {
		return nil, errors.IO(err, "creating store at %q", path)
	}

	chunks := append([]int(nil), shape...)
	chunks[0] = 1
	meta := metadata{
		Chunks:     chunks,
		DType:      ndarray.Descr(dtype),
		Order:      "C",
		Shape:      append([]int(nil), shape...),
		ZarrFormat: 2,
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.IO(err, "encoding store metadata")
	}
	if err := afero.WriteFile(fs, joinPath(path, metadataFile), raw, 0o644); err != nil {
		return nil, errors.IO(err, "writing store metadata at %q", path)
	}
	return &Store{fs: fs, path: path, dtype: dtype, shape: meta.Shape}, nil
}

// Open binds to an existing store directory
func Open(fs afero.Fs, path string) (*Store, error) {
	raw, err := afero.ReadFile(fs, joinPath(path, metadataFile))
	if err != nil {
		return nil, errors.IO(errors.ErrFileNotFound, "no chunked store at %q", path)
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errors.IO(errors.ErrCorruptedStore, "invalid store metadata at %q: %v", path, err)
	}
	if meta.ZarrFormat != 2 {
		return nil, errors.IO(errors.ErrUnsupportedVersion, "store at %q uses zarr format %d", path, meta.ZarrFormat)
	}
	if len(meta.Shape) == 0 || len(meta.Chunks) != len(meta.Shape) || meta.Chunks[0] != 1 {
		return nil, errors.IO(errors.ErrCorruptedStore, "store at %q is not chunked along the first axis", path)
	}
	dtype, err := ndarray.DTypeFromDescr(meta.DType)
	if err != nil {
		return nil, err
	}
	return &Store{fs: fs, path: path, dtype: dtype, shape: meta.Shape}, nil
}

// DType returns the element type of the store
func (s *Store) DType() ndarray.DType { return s.dtype }

// Shape returns the full array shape of the store
func (s *Store) Shape() []int { return append([]int(nil), s.shape...) }

// Len returns the first-axis length
func (s *Store) Len() int { return s.shape[0] }

// chunkKey is the file name of first-axis chunk i, e.g. "4.0.0.0"
func (s *Store) chunkKey(i int) string {
	parts := make([]string, len(s.shape))
	parts[0] = strconv.Itoa(i)
	for axis := 1; axis < len(s.shape); axis++ {
		parts[axis] = "0"
	}
	return strings.Join(parts, ".")
}

func (s *Store) frameShape() []int {
	return append([]int(nil), s.shape[1:]...)
}

// WriteIndices writes the frames of a to the given first-axis positions
func (s *Store) WriteIndices(a *ndarray.Array, indices []int) error {
	if a.DType() != s.dtype {
		return errors.Validation(errors.ErrInvalidFeatureData,
			"cannot write %s frames into a %s store", a.DType(), s.dtype)
	}
	if a.Dim(0) != len(indices) {
		return errors.Validation(errors.ErrTemporalSelection,
			"%d frames for %d target positions", a.Dim(0), len(indices))
	}
	if !tailShapeEqual(a.Shape(), s.shape) {
		return errors.Validation(errors.ErrInvalidFeatureData,
			"frame shape %v does not match store shape %v", a.Shape(), s.shape)
	}
	for _, idx := range indices {
		if idx < 0 || idx >= s.shape[0] {
			return errors.Validation(errors.ErrTemporalSelection,
				"position %d out of bounds for store of length %d", idx, s.shape[0])
		}
	}
	for fi, idx := range indices {
		frame, err := a.Frame(fi)
		if err != nil {
			return err
		}
		if err := afero.WriteFile(s.fs, joinPath(s.path, s.chunkKey(idx)), ndarray.EncodeBytes(frame), 0o644); err != nil {
			return errors.IO(err, "writing chunk %d at %q", idx, s.path)
		}
	}
	return nil
}

// Write stores the whole array; its first-axis length must match
func (s *Store) Write(a *ndarray.Array) error {
	if a.Dim(0) != s.shape[0] {
		return errors.Validation(errors.ErrTemporalSelection,
			"array has %d frames, store expects %d", a.Dim(0), s.shape[0])
	}
	indices := make([]int, a.Dim(0))
	for i := range indices {
		indices[i] = i
	}
	return s.WriteIndices(a, indices)
}

// ReadIndices assembles the frames at the given first-axis positions,
// in selector order. A position whose chunk was never written reads as
// the fill value.
func (s *Store) ReadIndices(indices []int) (*ndarray.Array, error) {
	frames := make([]*ndarray.Array, len(indices))
	frameShape := s.frameShape()
	for i, idx := range indices {
		if idx < 0 || idx >= s.shape[0] {
			return nil, errors.Validation(errors.ErrTemporalSelection,
				"position %d out of bounds for store of length %d", idx, s.shape[0])
		}
		raw, err := afero.ReadFile(s.fs, joinPath(s.path, s.chunkKey(idx)))
		switch {
		case err == nil:
			frame, err := ndarray.DecodeBytes(s.dtype, frameShape, raw)
			if err != nil {
				return nil, errors.IO(errors.ErrCorruptedStore, "chunk %d at %q: %v", idx, s.path, err)
			}
			frames[i] = frame
		default:
			frames[i] = ndarray.Zeros(s.dtype, frameShape...)
		}
	}
	if len(frames) == 0 {
		return ndarray.Zeros(s.dtype, append([]int{0}, s.shape[1:]...)...), nil
	}
	return ndarray.StackTime(frames)
}

// Read assembles the full array
func (s *Store) Read() (*ndarray.Array, error) {
	indices := make([]int, s.shape[0])
	for i := range indices {
		indices[i] = i
	}
	return s.ReadIndices(indices)
}

func tailShapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 1; i < len(a); i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func joinPath(parts ...string) string {
	return strings.Join(parts, "/")
}

// String identifies the store in logs and errors
func (s *Store) String() string {
	return fmt.Sprintf("zarr store %q %s%v", s.path, s.dtype, s.shape)
}
