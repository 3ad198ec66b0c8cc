package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/pkg/ndarray"
)

func TestShallowCopySharesValues(t *testing.T) {
	p := newTestPatch(t)
	cp, err := p.Copy(CopyOptions{})
	require.NoError(t, err)
	assert.True(t, p.Equals(cp))

	// shallow copies share array storage
	a, err := p.Data().GetArray("bands")
	require.NoError(t, err)
	a.Set(99, 0, 0, 0, 0)

	b, err := cp.Data().GetArray("bands")
	require.NoError(t, err)
	assert.Equal(t, 99.0, b.At(0, 0, 0, 0))

	// but not the feature maps: deleting on the copy leaves the source
	require.NoError(t, cp.Data().Delete("bands"))
	assert.True(t, p.Has(Data, "bands"))
}

func TestDeepCopyIsIndependent(t *testing.T) {
	p := newTestPatch(t)
	cp, err := p.Copy(CopyOptions{Deep: true})
	require.NoError(t, err)
	assert.True(t, p.Equals(cp))

	a, err := p.Data().GetArray("bands")
	require.NoError(t, err)
	a.Set(99, 0, 0, 0, 0)
	assert.False(t, p.Equals(cp))
}

func TestCopyWithSelection(t *testing.T) {
	p := newTestPatch(t)
	cp, err := p.Copy(CopyOptions{Features: Selection{Select(Data, "bands")}})
	require.NoError(t, err)

	assert.True(t, cp.Has(Data, "bands"))
	assert.False(t, cp.Has(Mask, "clm"))
	assert.False(t, cp.HasType(MetaInfo))

	// selecting a missing feature is an error naming it
	_, err = p.Copy(CopyOptions{Features: Selection{Select(Data, "nope")}})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "data/nope")
}

func TestCopyTimestampPolicy(t *testing.T) {
	p := newTestPatch(t)

	// full copy carries timestamps
	cp, err := p.Copy(CopyOptions{})
	require.NoError(t, err)
	assert.True(t, cp.HasTimestamps())

	// timeless-only selection drops them under the automatic policy
	cp, err = p.Copy(CopyOptions{Features: Selection{Select(ScalarTimeless, "mean")}})
	require.NoError(t, err)
	assert.False(t, cp.HasTimestamps())

	// temporal selection keeps them
	cp, err = p.Copy(CopyOptions{Features: Selection{Select(Data, "bands")}})
	require.NoError(t, err)
	assert.True(t, cp.HasTimestamps())

	// explicit overrides win either way
	cp, err = p.Copy(CopyOptions{Features: Selection{Select(ScalarTimeless, "mean")}, Timestamps: TimestampsAlways})
	require.NoError(t, err)
	assert.True(t, cp.HasTimestamps())

	cp, err = p.Copy(CopyOptions{Timestamps: TimestampsNever})
	require.NoError(t, err)
	assert.False(t, cp.HasTimestamps())
}

func TestCopySharesLazyCell(t *testing.T) {
	p := New(testBBox(t))
	loader := &countingLoader{value: ndarray.Zeros(ndarray.Float64, 2, 1, 1, 1)}
	require.NoError(t, p.Data().SetLazy("lazy", loader))

	cp, err := p.Copy(CopyOptions{})
	require.NoError(t, err)

	_, unloadedSrc := p.Data().Unloaded("lazy")
	_, unloadedCopy := cp.Data().Unloaded("lazy")
	assert.True(t, unloadedSrc)
	assert.True(t, unloadedCopy)

	// materializing through the copy is visible on the source
	_, err = cp.Data().Get("lazy")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)

	_, stillUnloaded := p.Data().Unloaded("lazy")
	assert.False(t, stillUnloaded)
	_, err = p.Data().Get("lazy")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)
}

func TestDeepCopyForksLazyCell(t *testing.T) {
	p := New(testBBox(t))
	loader := &countingLoader{value: ndarray.Zeros(ndarray.Float64, 2, 1, 1, 1)}
	require.NoError(t, p.Data().SetLazy("lazy", loader))

	cp, err := p.Copy(CopyOptions{Deep: true})
	require.NoError(t, err)

	// each side loads on its own
	_, err = cp.Data().Get("lazy")
	require.NoError(t, err)
	_, err = p.Data().Get("lazy")
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls)
}

func TestSelectionResolve(t *testing.T) {
	p := newTestPatch(t)

	// nil selects everything in canonical order
	features, err := Selection(nil).Resolve(p)
	require.NoError(t, err)
	assert.Equal(t, p.GetFeatures(), features)

	// a type selector expands in insertion order, duplicates collapse
	features, err = Selection{SelectType(Data), Select(Data, "bands")}.Resolve(p)
	require.NoError(t, err)
	assert.Equal(t, []Feature{{Data, "bands"}}, features)

	// a type selector over an empty container resolves to nothing
	features, err = Selection{SelectType(Label)}.Resolve(p)
	require.NoError(t, err)
	assert.Empty(t, features)
}

// countingLoader is a LazyValue returning a fixed array and counting
// materializations
type countingLoader struct {
	value *ndarray.Array
	calls int
}

func (l *countingLoader) Materialize() (any, error) {
	l.calls++
	return l.value.DeepCopy(), nil
}

func (l *countingLoader) Loaded() (any, bool) { return nil, false }

func (l *countingLoader) Fork() LazyValue { return l }
