package storage

import (
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/patch"
)

// Fixed file names under a patch root. The bounding box and timestamp
// files are always plain JSON, never gzipped.
const (
	BBoxFile       = "bbox.geojson"
	TimestampsFile = "timestamps.json"

	legacyMetaFile   = "meta_info.json"
	legacyMetaFileGz = "meta_info.json.gz"
)

// Format is the on-disk representation of one feature
type Format int

const (
	// FormatNPY is a dense numpy array file
	FormatNPY Format = iota
	// FormatZarr is a chunked array directory store
	FormatZarr
	// FormatGeoJSON is a geometry table feature collection
	FormatGeoJSON
	// FormatJSON is a plain JSON document
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatNPY:
		return "npy"
	case FormatZarr:
		return "zarr"
	case FormatGeoJSON:
		return "geojson"
	default:
		return "json"
	}
}

// extension returns the file suffix for a format and compression state
func extension(format Format, gzipped bool) string {
	ext := "." + format.String()
	if format == FormatZarr {
		return ext
	}
	if gzipped {
		ext += ".gz"
	}
	return ext
}

// formatFor returns the canonical storage format of a feature type
func formatFor(ftype patch.FeatureType, useZarr bool) Format {
	switch {
	case ftype.IsArray() && useZarr:
		return FormatZarr
	case ftype.IsArray():
		return FormatNPY
	case ftype.IsVector():
		return FormatGeoJSON
	default:
		return FormatJSON
	}
}

// storedFile is one discovered on-disk variant of a logical feature
type storedFile struct {
	path    string
	format  Format
	gzipped bool
}

// featurePath builds the file path of a feature variant under root
func featurePath(root string, f patch.Feature, format Format, gzipped bool) string {
	return joinPath(root, f.Type.Folder(), f.Name+extension(format, gzipped))
}

func joinPath(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, strings.TrimSuffix(p, "/"))
		}
	}
	return strings.Join(out, "/")
}

// parseStoredName splits a stored file name into feature name, format
// and compression state; ok is false for foreign files
func parseStoredName(name string) (feature string, format Format, gzipped bool, ok bool) {
	for _, candidate := range []struct {
		suffix  string
		format  Format
		gzipped bool
	}{
		{".npy.gz", FormatNPY, true},
		{".npy", FormatNPY, false},
		{".zarr", FormatZarr, false},
		{".geojson.gz", FormatGeoJSON, true},
		{".geojson", FormatGeoJSON, false},
		{".json.gz", FormatJSON, true},
		{".json", FormatJSON, false},
	} {
		if strings.HasSuffix(name, candidate.suffix) {
			base := strings.TrimSuffix(name, candidate.suffix)
			if base == "" {
				return "", 0, false, false
			}
			return base, candidate.format, candidate.gzipped, true
		}
	}
	return "", 0, false, false
}

// scanFeatures discovers every stored feature variant under root,
// grouped by logical feature
func scanFeatures(fs afero.Fs, root string) (map[patch.Feature][]storedFile, error) {
	out := map[patch.Feature][]storedFile{}
	for _, ftype := range patch.AllTypes() {
		folder := joinPath(root, ftype.Folder())
		entries, err := afero.ReadDir(fs, folder)
		if err != nil {
			continue // absent folder = no features of this type
		}
		for _, info := range entries {
			name, format, gzipped, ok := parseStoredName(info.Name())
			if !ok || (format == FormatZarr) != info.IsDir() {
				continue
			}
			f := patch.Feature{Type: ftype, Name: name}
			out[f] = append(out[f], storedFile{
				path:    joinPath(folder, info.Name()),
				format:  format,
				gzipped: gzipped,
			})
		}
	}
	return out, nil
}

// resolveStored picks the single variant of a logical feature; several
// coexisting variants are a fatal ambiguity
func resolveStored(f patch.Feature, variants []storedFile) (storedFile, error) {
	if len(variants) != 1 {
		paths := make([]string, len(variants))
		for i, v := range variants {
			paths[i] = v.path
		}
		sort.Strings(paths)
		return storedFile{}, errors.IO(errors.ErrAmbiguousStorage,
			"feature %s is stored in multiple variants: %s", f, strings.Join(paths, ", "))
	}
	return variants[0], nil
}

// removeVariants deletes every stored variant of a feature except the
// one at keep, clearing stale files left by earlier saves
func removeVariants(fs afero.Fs, variants []storedFile, keep string) error {
	for _, v := range variants {
		if v.path == keep {
			continue
		}
		if err := fs.RemoveAll(v.path); err != nil {
			return errors.IO(err, "removing stale variant %q", v.path)
		}
	}
	return nil
}
