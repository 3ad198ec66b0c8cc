package patch

import (
	"strings"

	"github.com/paulmach/orb"

	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/pkg/geo"
	"github.com/c360/geopatch/pkg/ndarray"
)

// LazyValue is an unmaterialized feature value bound to stored bytes.
// Materialize loads on first call and caches; Loaded peeks at the cache
// without IO; Fork produces an independent cell with the same binding,
// deep-copying only an already cached value.
type LazyValue interface {
	Materialize() (any, error)
	Loaded() (any, bool)
	Fork() LazyValue
}

// entry is one owned cell of a container. Shallow patch copies share
// entry pointers, which is what makes a lazy cell's cache shared.
type entry struct {
	value any
	lazy  LazyValue
}

func (e *entry) materialize() (any, error) {
	if e.value != nil {
		return e.value, nil
	}
	if e.lazy == nil {
		return nil, errors.IO(errors.ErrCorruptedStore, "feature entry holds no value")
	}
	value, err := e.lazy.Materialize()
	if err != nil {
		return nil, err
	}
	e.value = value
	return value, nil
}

// Container owns the named feature values of one feature type within a
// patch. Iteration order is insertion order.
type Container struct {
	ftype   FeatureType
	owner   *Patch
	names   []string
	entries map[string]*entry
}

func newContainer(ftype FeatureType, owner *Patch) *Container {
	return &Container{ftype: ftype, owner: owner, entries: map[string]*entry{}}
}

// Type returns the feature type this container holds
func (c *Container) Type() FeatureType { return c.ftype }

// Len returns the number of features in the container
func (c *Container) Len() int { return len(c.names) }

// IsEmpty reports whether the container holds no features
func (c *Container) IsEmpty() bool { return len(c.names) == 0 }

// Names returns the feature names in insertion order
func (c *Container) Names() []string { return append([]string(nil), c.names...) }

// Has reports whether a feature of this name is present, loaded or not
func (c *Container) Has(name string) bool {
	_, ok := c.entries[name]
	return ok
}

// ValidateFeatureName rejects empty names and names that would break
// the one-file-per-feature storage layout
func ValidateFeatureName(name string) error {
	if name == "" {
		return errors.Validation(errors.ErrInvalidFeatureName, "feature name must not be empty")
	}
	if strings.ContainsAny(name, "./\\:") {
		return errors.Validation(
			errors.ErrInvalidFeatureName, "feature name %q must not contain '.', path separators or ':'", name)
	}
	return nil
}

// coerce validates a raw value against the container's type rules and
// converts acceptable loose inputs into the canonical storage form
func (c *Container) coerce(name string, value any) (any, error) {
	ftype := c.ftype
	switch {
	case ftype.IsArray():
		a, ok := value.(*ndarray.Array)
		if !ok {
			return nil, errors.Validation(
				errors.ErrInvalidFeatureData, "feature type %s requires an ndarray value, got %T", ftype, value)
		}
		if err := ftype.validateArray(a); err != nil {
			return nil, err
		}
		return a, nil

	case ftype.IsVector():
		var table *geo.Table
		switch v := value.(type) {
		case *geo.Table:
			table = v
		case []orb.Geometry:
			table = geo.TableFromGeometries(c.owner.crs(), v)
		default:
			return nil, errors.Validation(
				errors.ErrInvalidFeatureData, "feature type %s requires a geometry table, got %T", ftype, value)
		}
		if ftype.IsTemporal() && !table.HasTimestamps() {
			return nil, errors.Validation(
				errors.ErrMissingTimestampCol, "vector feature %q assigned to %s without a %s column",
				name, ftype, geo.TimestampColumn)
		}
		return table, nil

	default:
		if value == nil {
			return nil, errors.Validation(errors.ErrInvalidFeatureData, "meta entry %q must not be nil", name)
		}
		return value, nil
	}
}

// Set validates, coerces and stores a feature value
func (c *Container) Set(name string, value any) error {
	if err := ValidateFeatureName(name); err != nil {
		return err
	}
	coerced, err := c.coerce(name, value)
	if err != nil {
		return err
	}
	c.put(name, &entry{value: coerced})
	c.owner.checkTemporalFeature(c.ftype, name, coerced)
	return nil
}

// SetLazy stores an unmaterialized loader under the name. The value is
// validated when first materialized by a reader.
func (c *Container) SetLazy(name string, lazy LazyValue) error {
	if err := ValidateFeatureName(name); err != nil {
		return err
	}
	c.put(name, &entry{lazy: lazy})
	return nil
}

func (c *Container) put(name string, e *entry) {
	if _, exists := c.entries[name]; !exists {
		c.names = append(c.names, name)
	}
	c.entries[name] = e
}

// Get returns a feature value, materializing and caching a lazy entry
// on first read
func (c *Container) Get(name string) (any, error) {
	e, ok := c.entries[name]
	if !ok {
		return nil, errors.NotFound(errors.ErrFeatureNotFound, "feature %q of type %s", name, c.ftype)
	}
	return e.materialize()
}

// GetArray is Get for array-typed containers
func (c *Container) GetArray(name string) (*ndarray.Array, error) {
	value, err := c.Get(name)
	if err != nil {
		return nil, err
	}
	a, ok := value.(*ndarray.Array)
	if !ok {
		return nil, errors.Validation(errors.ErrInvalidFeatureData, "feature %q is not an array", name)
	}
	return a, nil
}

// GetTable is Get for vector-typed containers
func (c *Container) GetTable(name string) (*geo.Table, error) {
	value, err := c.Get(name)
	if err != nil {
		return nil, err
	}
	table, ok := value.(*geo.Table)
	if !ok {
		return nil, errors.Validation(errors.ErrInvalidFeatureData, "feature %q is not a geometry table", name)
	}
	return table, nil
}

// Unloaded returns the lazy cell of a not-yet-materialized entry
func (c *Container) Unloaded(name string) (LazyValue, bool) {
	e, ok := c.entries[name]
	if !ok || e.value != nil || e.lazy == nil {
		return nil, false
	}
	return e.lazy, true
}

// Delete removes a feature; deleting a missing name is a lookup error
func (c *Container) Delete(name string) error {
	if _, ok := c.entries[name]; !ok {
		return errors.NotFound(errors.ErrFeatureNotFound, "feature %q of type %s", name, c.ftype)
	}
	delete(c.entries, name)
	for i, n := range c.names {
		if n == name {
			c.names = append(c.names[:i], c.names[i+1:]...)
			break
		}
	}
	return nil
}

// Clear removes every feature from the container
func (c *Container) Clear() {
	c.names = nil
	c.entries = map[string]*entry{}
}

// shallowInto shares entry cells with the destination container
func (c *Container) shallowInto(dst *Container, names []string) {
	for _, name := range names {
		dst.put(name, c.entries[name])
	}
}

// deepInto clones entry cells into the destination container.
// Materialized values are deep-copied; unmaterialized lazy cells are
// forked so each side loads independently.
func (c *Container) deepInto(dst *Container, names []string) error {
	for _, name := range names {
		e := c.entries[name]
		if e.value != nil {
			dst.put(name, &entry{value: deepCopyValue(e.value)})
			continue
		}
		if e.lazy != nil {
			dst.put(name, &entry{lazy: e.lazy.Fork()})
			continue
		}
		return errors.IO(errors.ErrCorruptedStore, "feature %q holds no value", name)
	}
	return nil
}

// deepCopyValue clones a canonical feature value
func deepCopyValue(value any) any {
	switch v := value.(type) {
	case *ndarray.Array:
		return v.DeepCopy()
	case *geo.Table:
		return v.DeepCopy()
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = deepCopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
