package storage

import (
	"log/slog"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/patch"
	"github.com/c360/geopatch/pkg/geo"
)

// LoadOptions configures Load. The zero value loads every stored
// feature eagerly with automatic timestamp handling.
type LoadOptions struct {
	// Features restricts what is loaded; nil loads everything stored
	Features patch.Selection
	// Lazy returns unmaterialized loaders instead of reading eagerly
	Lazy bool
	// Timestamps controls the timestamp file
	Timestamps TimestampPolicy
	// TemporalSelection restricts which frames are read from chunked
	// stores; reading a restricted selection from dense storage is
	// fatal. The inferring selection is save-only.
	TemporalSelection TemporalSelection
	// Logger receives consistency warnings on the loaded patch
	Logger *slog.Logger
}

// Load reads a patch from root. A pre-migration single-file metadata
// document is folded into the metadata container with a deprecation
// warning; the next save removes it.
func Load(fs afero.Fs, root string, opts LoadOptions) (*patch.Patch, error) {
	if ok, err := afero.DirExists(fs, root); err != nil || !ok {
		return nil, errors.IO(errors.ErrPathNotFound, "no patch at %q", root)
	}

	// an absent bbox file is the deprecated legacy state; an unreadable
	// one is corruption
	var bbox *geo.BBox
	if ok, _ := afero.Exists(fs, joinPath(root, BBoxFile)); ok {
		var err error
		if bbox, err = loadBBox(fs, root); err != nil {
			return nil, errors.IO(errors.ErrCorruptedStore,
				"unreadable bounding box file under %q: %v", root, err)
		}
	}
	p := patch.NewWithLogger(bbox, opts.Logger)

	stored, err := scanFeatures(fs, root)
	if err != nil {
		return nil, err
	}
	wanted, err := resolveLoadSelection(opts.Features, stored)
	if err != nil {
		return nil, err
	}

	indices, err := resolveLoadTimestamps(fs, p, root, opts, wanted)
	if err != nil {
		return nil, err
	}

	for _, f := range wanted {
		file, err := resolveStored(f, stored[f])
		if err != nil {
			return nil, err
		}
		if err := loadFeature(fs, p, f, file, indices, opts.Lazy); err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := foldLegacyMeta(fs, p, root, opts.Features, logger); err != nil {
		return nil, err
	}
	return p, nil
}

// resolveLoadSelection expands the selection against what is stored;
// a named feature missing from storage is fatal
func resolveLoadSelection(sel patch.Selection, stored map[patch.Feature][]storedFile) ([]patch.Feature, error) {
	ordered := func() []patch.Feature {
		var out []patch.Feature
		for _, ftype := range patch.AllTypes() {
			for f := range stored {
				if f.Type == ftype {
					out = append(out, f)
				}
			}
		}
		return out
	}
	if sel == nil {
		return sortedByName(ordered()), nil
	}

	var out []patch.Feature
	seen := map[patch.Feature]bool{}
	for _, s := range sel {
		if !s.Type.IsValid() {
			return nil, errors.Validation(errors.ErrInvalidFeatureType, "unknown feature type %q", string(s.Type))
		}
		if s.Name == "" {
			for _, f := range sortedByName(ordered()) {
				if f.Type == s.Type && !seen[f] {
					seen[f] = true
					out = append(out, f)
				}
			}
			continue
		}
		f := patch.Feature{Type: s.Type, Name: s.Name}
		if len(stored[f]) == 0 {
			return nil, errors.IO(errors.ErrFileNotFound, "feature %s is not stored", f)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// resolveLoadTimestamps applies the auto rule, loads the timestamp
// file when called for and returns the resolved temporal restriction
func resolveLoadTimestamps(fs afero.Fs, p *patch.Patch, root string, opts LoadOptions, wanted []patch.Feature) ([]int, error) {
	read := false
	switch opts.Timestamps {
	case TimestampsAlways:
		read = true
	case TimestampsNever:
	default:
		hasFile, _ := afero.Exists(fs, joinPath(root, TimestampsFile))
		if hasFile {
			if opts.Features == nil {
				read = true
			} else {
				for _, f := range wanted {
					if f.Type.IsTemporal() {
						read = true
						break
					}
				}
			}
		}
	}

	if !read && opts.TemporalSelection == nil {
		return nil, nil
	}

	timestamps, err := loadTimestamps(fs, root)
	if err != nil {
		if opts.TemporalSelection == nil {
			return nil, err
		}
		// restricted loads can work from store metadata alone
		timestamps = nil
	}

	if opts.TemporalSelection == nil {
		p.SetTimestamps(timestamps)
		return nil, nil
	}
	if _, isInfer := opts.TemporalSelection.(inferSelection); isInfer {
		return nil, errors.Validation(errors.ErrTemporalSelection,
			"an inferred temporal selection only applies to saving")
	}
	if timestamps == nil {
		return nil, errors.IO(errors.ErrMissingTimestamps,
			"a restricted load requires the timestamp file under %q", root)
	}
	indices, err := opts.TemporalSelection.resolve(nil, len(timestamps))
	if err != nil {
		return nil, err
	}
	if read {
		subset := make([]time.Time, len(indices))
		for i, idx := range indices {
			subset[i] = timestamps[idx]
		}
		p.SetTimestamps(subset)
	}
	return indices, nil
}

func loadFeature(fs afero.Fs, p *patch.Patch, f patch.Feature, file storedFile, indices []int, lazy bool) error {
	if indices != nil && f.Type.IsTemporal() && f.Type.IsArray() && file.format != FormatZarr {
		return errors.IO(errors.ErrDenseTemporalRead,
			"feature %s is stored dense; a restricted load needs chunked storage", f)
	}
	loader := NewLoader(fs, f.Type, file.path, file.format, file.gzipped)
	if indices != nil && f.Type.IsTemporal() && f.Type.IsArray() {
		loader.withIndices(indices)
	}

	c, err := p.Container(f.Type)
	if err != nil {
		return err
	}
	if lazy {
		return c.SetLazy(f.Name, loader)
	}
	value, err := loader.Materialize()
	if err != nil {
		return err
	}
	return c.Set(f.Name, value)
}

// foldLegacyMeta folds a pre-migration single-file metadata document
// into the metadata container
func foldLegacyMeta(fs afero.Fs, p *patch.Patch, root string, sel patch.Selection, logger *slog.Logger) error {
	if sel != nil && !selectionWantsMeta(sel) {
		return nil
	}
	for _, candidate := range []struct {
		name    string
		gzipped bool
	}{
		{legacyMetaFile, false},
		{legacyMetaFileGz, true},
	} {
		path := joinPath(root, candidate.name)
		if ok, _ := afero.Exists(fs, path); !ok {
			continue
		}
		logger.Warn("single-file metadata storage is deprecated; the next save migrates it",
			slog.String("path", path))
		value, err := loadJSON(fs, path, candidate.gzipped)
		if err != nil {
			return err
		}
		doc, ok := value.(map[string]any)
		if !ok {
			return errors.IO(errors.ErrCorruptedStore, "legacy metadata file %q is not a JSON mapping", path)
		}
		meta := p.MetaInfo()
		for key, item := range doc {
			if meta.Has(key) {
				continue // per-key files win over the legacy document
			}
			if err := meta.Set(key, item); err != nil {
				return err
			}
		}
	}
	return nil
}

func selectionWantsMeta(sel patch.Selection) bool {
	for _, s := range sel {
		if s.Type == patch.MetaInfo {
			return true
		}
	}
	return false
}

// sortedByName orders same-type features alphabetically; the stored
// map has no insertion order to preserve
func sortedByName(features []patch.Feature) []patch.Feature {
	sort.SliceStable(features, func(i, j int) bool {
		if features[i].Type != features[j].Type {
			return false
		}
		return features[i].Name < features[j].Name
	})
	return features
}
