package storage

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/patch"
	"github.com/c360/geopatch/pkg/geo"
	"github.com/c360/geopatch/pkg/ndarray"
	"github.com/c360/geopatch/pkg/timeparse"
	"github.com/c360/geopatch/storage/zarr"
)

// DefaultCompressLevel is the gzip level applied to feature files when
// the caller does not choose one
const DefaultCompressLevel = gzip.BestSpeed

// writeBytes writes raw through an optional gzip layer
func writeBytes(fs afero.Fs, path string, raw []byte, compressLevel int) error {
	if compressLevel > 0 {
		var buf bytes.Buffer
		zw, err := gzip.NewWriterLevel(&buf, compressLevel)
		if err != nil {
			return errors.IO(err, "gzip level %d", compressLevel)
		}
		if _, err := zw.Write(raw); err != nil {
			return errors.IO(err, "compressing %q", path)
		}
		if err := zw.Close(); err != nil {
			return errors.IO(err, "compressing %q", path)
		}
		raw = buf.Bytes()
	}
	if err := afero.WriteFile(fs, path, raw, 0o644); err != nil {
		return errors.IO(err, "writing %q", path)
	}
	return nil
}

// readBytes reads a file through an optional gzip layer
func readBytes(fs afero.Fs, path string, gzipped bool) ([]byte, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.IO(errors.ErrFileNotFound, "missing file %q", path)
	}
	if !gzipped {
		return raw, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.IO(errors.ErrCorruptedStore, "corrupt gzip file %q: %v", path, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.IO(errors.ErrCorruptedStore, "corrupt gzip file %q: %v", path, err)
	}
	return out, nil
}

// saveArray writes a dense array as an npy file
func saveArray(fs afero.Fs, path string, a *ndarray.Array, compressLevel int) error {
	var buf bytes.Buffer
	if err := ndarray.WriteNPY(&buf, a); err != nil {
		return err
	}
	return writeBytes(fs, path, buf.Bytes(), compressLevel)
}

func loadArray(fs afero.Fs, path string, gzipped bool) (*ndarray.Array, error) {
	raw, err := readBytes(fs, path, gzipped)
	if err != nil {
		return nil, err
	}
	return ndarray.ReadNPY(bytes.NewReader(raw))
}

// saveTable writes a geometry table as a GeoJSON feature collection
func saveTable(fs afero.Fs, path string, table *geo.Table, compressLevel int) error {
	raw, err := table.MarshalGeoJSON()
	if err != nil {
		return err
	}
	return writeBytes(fs, path, raw, compressLevel)
}

func loadTable(fs afero.Fs, path string, gzipped bool) (*geo.Table, error) {
	raw, err := readBytes(fs, path, gzipped)
	if err != nil {
		return nil, err
	}
	return geo.UnmarshalTableGeoJSON(raw)
}

// saveJSON writes a metadata value as a JSON document
func saveJSON(fs afero.Fs, path string, value any, compressLevel int) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.IO(err, "encoding %q", path)
	}
	return writeBytes(fs, path, raw, compressLevel)
}

func loadJSON(fs afero.Fs, path string, gzipped bool) (any, error) {
	raw, err := readBytes(fs, path, gzipped)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, errors.IO(errors.ErrCorruptedStore, "invalid JSON in %q: %v", path, err)
	}
	return value, nil
}

// saveBBox writes the bounding box file, always uncompressed
func saveBBox(fs afero.Fs, root string, bbox *geo.BBox) error {
	raw, err := bbox.MarshalGeoJSON()
	if err != nil {
		return err
	}
	return writeBytes(fs, joinPath(root, BBoxFile), raw, 0)
}

func loadBBox(fs afero.Fs, root string) (*geo.BBox, error) {
	raw, err := readBytes(fs, joinPath(root, BBoxFile), false)
	if err != nil {
		return nil, err
	}
	return geo.UnmarshalBBoxGeoJSON(raw)
}

// saveTimestamps writes the timestamp file, always uncompressed
func saveTimestamps(fs afero.Fs, root string, timestamps []time.Time) error {
	encoded := make([]string, len(timestamps))
	for i, ts := range timestamps {
		encoded[i] = timeparse.Format(ts)
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return errors.IO(err, "encoding timestamps")
	}
	return writeBytes(fs, joinPath(root, TimestampsFile), raw, 0)
}

func loadTimestamps(fs afero.Fs, root string) ([]time.Time, error) {
	raw, err := readBytes(fs, joinPath(root, TimestampsFile), false)
	if err != nil {
		return nil, err
	}
	var encoded []string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, errors.IO(errors.ErrCorruptedStore, "invalid timestamp file under %q: %v", root, err)
	}
	out, err := timeparse.ParseSequence(encoded)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []time.Time{}
	}
	return out, nil
}

// Loader is a lazy feature value bound to one stored file. The first
// Materialize call reads and caches; later calls return the cache.
// Loaders are safe for concurrent materialization.
type Loader struct {
	fs      afero.Fs
	file    storedFile
	ftype   patch.FeatureType
	indices []int // zarr first-axis restriction, nil = full

	mu     sync.Mutex
	cached any
}

// NewLoader binds a loader to a stored feature file
func NewLoader(fs afero.Fs, ftype patch.FeatureType, path string, format Format, gzipped bool) *Loader {
	return &Loader{fs: fs, ftype: ftype, file: storedFile{path: path, format: format, gzipped: gzipped}}
}

func (l *Loader) withIndices(indices []int) *Loader {
	l.indices = indices
	return l
}

// Materialize reads the value on first call and caches it
func (l *Loader) Materialize() (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cached != nil {
		return l.cached, nil
	}
	value, err := l.read()
	if err != nil {
		return nil, err
	}
	l.cached = value
	return value, nil
}

func (l *Loader) read() (any, error) {
	switch l.file.format {
	case FormatNPY:
		return loadArray(l.fs, l.file.path, l.file.gzipped)
	case FormatZarr:
		store, err := zarr.Open(l.fs, l.file.path)
		if err != nil {
			return nil, err
		}
		if l.indices != nil {
			return store.ReadIndices(l.indices)
		}
		return store.Read()
	case FormatGeoJSON:
		return loadTable(l.fs, l.file.path, l.file.gzipped)
	default:
		return loadJSON(l.fs, l.file.path, l.file.gzipped)
	}
}

// Loaded peeks at the cache without touching storage
func (l *Loader) Loaded() (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cached == nil {
		return nil, false
	}
	return l.cached, true
}

// Fork returns an independent loader with the same file binding. A
// cached value is cloned; an unloaded fork reads on its own.
func (l *Loader) Fork() patch.LazyValue {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := &Loader{fs: l.fs, file: l.file, ftype: l.ftype, indices: l.indices}
	if l.cached != nil {
		out.cached = cloneValue(l.cached)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case *ndarray.Array:
		return v.DeepCopy()
	case *geo.Table:
		return v.DeepCopy()
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
