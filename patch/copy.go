package patch

// TimestampCopy controls whether a copy receives the source timestamps
type TimestampCopy int

const (
	// TimestampsAuto copies timestamps when the whole patch is copied
	// or when the selection touches a temporal feature type
	TimestampsAuto TimestampCopy = iota
	// TimestampsAlways copies timestamps unconditionally
	TimestampsAlways
	// TimestampsNever leaves the copy without timestamps
	TimestampsNever
)

// CopyOptions configures Patch.Copy. The zero value is a shallow copy
// of everything with automatic timestamp handling.
type CopyOptions struct {
	// Features restricts the copy; nil copies every feature
	Features Selection
	// Deep clones feature values instead of sharing them
	Deep bool
	// Timestamps selects the timestamp copy policy
	Timestamps TimestampCopy
}

// Copy produces a new patch holding the selected features. A shallow
// copy shares feature cells with the source, so materializing a lazy
// feature on either side makes it visible on both; a deep copy is fully
// independent. The bounding box is always carried over.
func (p *Patch) Copy(opts CopyOptions) (*Patch, error) {
	features, err := opts.Features.Resolve(p)
	if err != nil {
		return nil, err
	}

	out := New(p.bbox).WithLogger(p.logger)
	if p.copyTimestamps(opts, features) {
		out.timestamps = p.Timestamps()
	}

	byType := map[FeatureType][]string{}
	for _, f := range features {
		byType[f.Type] = append(byType[f.Type], f.Name)
	}
	for _, ftype := range AllTypes() {
		names := byType[ftype]
		if len(names) == 0 {
			continue
		}
		src, dst := p.container(ftype), out.container(ftype)
		if opts.Deep {
			if err := src.deepInto(dst, names); err != nil {
				return nil, err
			}
		} else {
			src.shallowInto(dst, names)
		}
	}
	return out, nil
}

func (p *Patch) copyTimestamps(opts CopyOptions, features []Feature) bool {
	if p.timestamps == nil {
		return false
	}
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
