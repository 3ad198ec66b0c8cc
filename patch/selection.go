package patch

import (
	"github.com/c360/geopatch/errors"
)

// Selector names either one feature (Type, Name) or, with an empty
// Name, every feature of Type present on the patch at resolution time.
type Selector struct {
	Type FeatureType
	Name string
}

// Select names a single feature
func Select(ftype FeatureType, name string) Selector {
	return Selector{Type: ftype, Name: name}
}

// SelectType names all features of a type
func SelectType(ftype FeatureType) Selector {
	return Selector{Type: ftype}
}

// Selection is an ordered feature filter; nil selects everything
type Selection []Selector

// Resolve expands the selection against a patch into concrete features,
// preserving selection order and per-type insertion order. A named
// feature absent from the patch is an error listing the offender; a
// whole-type selector over an empty container resolves to nothing.
func (s Selection) Resolve(p *Patch) ([]Feature, error) {
	if s == nil {
		return p.GetFeatures(), nil
	}
	var out []Feature
	seen := map[Feature]bool{}
	for _, sel := range s {
		c, err := p.Container(sel.Type)
		if err != nil {
			return nil, err
		}
		if sel.Name == "" {
			for _, name := range c.names {
				f := Feature{sel.Type, name}
				if !seen[f] {
					seen[f] = true
					out = append(out, f)
				}
			}
			continue
		}
		if !c.Has(sel.Name) {
			return nil, errors.NotFound(errors.ErrFeatureNotFound, "feature %s not present on patch", Feature{sel.Type, sel.Name})
		}
		f := Feature{sel.Type, sel.Name}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// Types returns the distinct feature types a selection touches on the
// given patch
func (s Selection) Types(p *Patch) ([]FeatureType, error) {
	features, err := s.Resolve(p)
	if err != nil {
		return nil, err
	}
	var types []FeatureType
	seen := map[FeatureType]bool{}
	for _, f := range features {
		if !seen[f.Type] {
			seen[f.Type] = true
			types = append(types, f.Type)
		}
	}
	return types, nil
}
