package storage

import (
	"strings"

	"github.com/spf13/afero"

	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/patch"
	"github.com/c360/geopatch/pkg/geo"
	"github.com/c360/geopatch/pkg/ndarray"
	"github.com/c360/geopatch/storage/zarr"
)

// OverwritePermission controls how a save treats existing files
type OverwritePermission int

const (
	// AddOnly refuses to touch any already stored feature
	AddOnly OverwritePermission = iota
	// OverwriteFeatures replaces exactly the features being written
	OverwriteFeatures
	// OverwritePatch clears the whole destination folder first
	OverwritePatch
)

func (p OverwritePermission) String() string {
	switch p {
	case AddOnly:
		return "add-only"
	case OverwriteFeatures:
		return "overwrite-features"
	default:
		return "overwrite-patch"
	}
}

// TimestampPolicy controls whether save and load touch the timestamp file
type TimestampPolicy int

const (
	// TimestampsAuto writes or reads timestamps iff the operation
	// covers a temporal feature or the whole patch
	TimestampsAuto TimestampPolicy = iota
	// TimestampsAlways forces the timestamp file
	TimestampsAlways
	// TimestampsNever skips the timestamp file
	TimestampsNever
)

// SaveOptions configures Save. The zero value saves everything
// add-only, dense, with default compression.
type SaveOptions struct {
	// Features restricts what is written; nil saves every feature
	Features patch.Selection
	// Overwrite is the collision policy
	Overwrite OverwritePermission
	// Timestamps controls the timestamp file
	Timestamps TimestampPolicy
	// UseZarr stores array features chunked instead of dense
	UseZarr bool
	// CompressLevel is the gzip level for feature files; 0 disables.
	// The bounding box and timestamp files are never compressed.
	CompressLevel int
	// TemporalSelection writes only the selected frames into existing
	// chunked stores; requires UseZarr and leaves timestamps untouched
	TemporalSelection TemporalSelection
}

// Save writes the selected features of a patch under root. The
// bounding box file is always written. Stale variants of each written
// feature (a different compression state or array format) are removed,
// and a pre-migration single-file metadata document is replaced by the
// per-key layout.
func Save(fs afero.Fs, p *patch.Patch, root string, opts SaveOptions) error {
	features, err := opts.Features.Resolve(p)
	if err != nil {
		return err
	}
	if opts.TemporalSelection != nil && !opts.UseZarr {
		return errors.Validation(errors.ErrDenseTemporalRead,
			"a temporal selection requires chunked array storage")
	}

	if opts.Overwrite == OverwritePatch {
		if err := fs.RemoveAll(root); err != nil {
			return errors.IO(err, "clearing patch at %q", root)
		}
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return errors.IO(err, "creating patch folder %q", root)
	}

	stored, err := scanFeatures(fs, root)
	if err != nil {
		return err
	}
	if opts.Overwrite == AddOnly {
		for _, f := range features {
			if variants := stored[f]; len(variants) > 0 {
				return errors.Overwrite(errors.ErrAddOnlyCollision,
					"feature %s already stored at %q", f, variants[0].path)
			}
		}
	}

	if p.BBox() != nil {
		if err := saveBBox(fs, root, p.BBox()); err != nil {
			return err
		}
	}
	if opts.TemporalSelection == nil && p.HasTimestamps() && writeTimestamps(opts, features) {
		if err := saveTimestamps(fs, root, p.Timestamps()); err != nil {
			return err
		}
	}

	for _, f := range features {
		if err := saveFeature(fs, p, root, f, stored[f], opts); err != nil {
			return err
		}
	}

	// a save covering the metadata container migrates away from the
	// legacy single-file layout; subset saves must not touch a legacy
	// document whose content was never folded into this patch
	if savesMeta(opts.Features) {
		for _, legacy := range []string{legacyMetaFile, legacyMetaFileGz} {
			if err := fs.RemoveAll(joinPath(root, legacy)); err != nil {
				return errors.IO(err, "removing legacy metadata file under %q", root)
			}
		}
	}
	return nil
}

// savesMeta reports whether the selection covers the metadata container
func savesMeta(sel patch.Selection) bool {
	if sel == nil {
		return true
	}
	for _, s := range sel {
		if s.Type == patch.MetaInfo {
			return true
		}
	}
	return false
}

// writeTimestamps applies the auto rule: the timestamp file is written
// when the whole patch is saved or the selection covers a temporal
// feature
func writeTimestamps(opts SaveOptions, features []patch.Feature) bool {
	switch opts.Timestamps {
	case TimestampsAlways:
		return true
	case TimestampsNever:
		return false
	}
	if opts.Features == nil {
		return true
	}
	for _, f := range features {
		if f.Type.IsTemporal() {
			return true
		}
	}
	return false
}

func saveFeature(fs afero.Fs, p *patch.Patch, root string, f patch.Feature, existing []storedFile, opts SaveOptions) error {
	value, err := p.GetFeature(f.Type, f.Name)
	if err != nil {
		return err
	}

	format := formatFor(f.Type, opts.UseZarr)
	gzipped := opts.CompressLevel > 0 && format != FormatZarr
	target := featurePath(root, f, format, gzipped)
	if err := fs.MkdirAll(joinPath(root, f.Type.Folder()), 0o755); err != nil {
		return errors.IO(err, "creating folder for %s", f.Type)
	}

	switch format {
	case FormatZarr:
		if err := saveZarrFeature(fs, p, f, target, value, existing, opts); err != nil {
			return err
		}
	case FormatNPY:
		if err := saveArray(fs, target, value.(*ndarray.Array), opts.CompressLevel); err != nil {
			return err
		}
	case FormatGeoJSON:
		if err := saveTable(fs, target, value.(*geo.Table), opts.CompressLevel); err != nil {
			return err
		}
	default:
		if err := saveJSON(fs, target, value, opts.CompressLevel); err != nil {
			return err
		}
	}
	return removeVariants(fs, existing, target)
}

func saveZarrFeature(fs afero.Fs, p *patch.Patch, f patch.Feature, target string, value any, existing []storedFile, opts SaveOptions) error {
	a := value.(*ndarray.Array)

	if opts.TemporalSelection == nil || !f.Type.IsTemporal() {
		store, err := zarr.Create(fs, target, a.DType(), a.Shape())
		if err != nil {
			return err
		}
		return store.Write(a)
	}

	// partial write into an existing chunked store
	for _, v := range existing {
		if v.format != FormatZarr {
			return errors.Overwrite(errors.ErrFormatCollision,
				"cannot write a temporal selection of %s into dense storage at %q", f, v.path)
		}
	}
	store, err := zarr.Open(fs, target)
	if err != nil {
		return errors.IO(errors.ErrFileNotFound,
			"temporal selection of %s requires an existing chunked store at %q", f, target)
	}

	storedTimes, timesErr := loadTimestamps(fs, pathDirOf(target))
	if timesErr != nil {
		storedTimes = nil
	}
	sel := bindInfer(opts.TemporalSelection, p.Timestamps())
	indices, err := sel.resolve(storedTimes, store.Len())
	if err != nil {
		return err
	}
	if a.Dim(0) != len(indices) {
		return errors.Validation(errors.ErrTemporalSelection,
			"feature %s has %d frames for a selection of %d positions", f, a.Dim(0), len(indices))
	}
	return store.WriteIndices(a, indices)
}

// pathDirOf strips the feature file and type folder, yielding the
// patch root the feature belongs to
func pathDirOf(featureFile string) string {
	parts := strings.Split(featureFile, "/")
	if len(parts) < 2 {
		return ""
	}
	return joinPath(parts[:len(parts)-2]...)
}
