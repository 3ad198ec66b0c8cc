package workflow

import (
	"context"
	"time"

	"github.com/spf13/afero"

	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/patch"
	"github.com/c360/geopatch/pkg/geo"
	"github.com/c360/geopatch/pkg/ndarray"
	"github.com/c360/geopatch/storage"
)

// Per-execution parameter keys understood by the built-in tasks
const (
	// ParamBBox carries a *geo.BBox for CreatePatchTask
	ParamBBox = "bbox"
	// ParamTimestamps carries a []time.Time for CreatePatchTask
	ParamTimestamps = "timestamps"
	// ParamPath carries the patch folder for SaveTask and LoadTask
	ParamPath = "path"
)

// CreatePatchTask starts a pipeline with a fresh patch. The bounding
// box and timestamps come from the per-execution parameters.
type CreatePatchTask struct{}

// Execute builds the patch
func (t *CreatePatchTask) Execute(_ context.Context, _ []any, params map[string]any) (any, error) {
	bbox, ok := params[ParamBBox].(*geo.BBox)
	if !ok {
		return nil, errors.Validation(errors.ErrInvalidBBox, "create task needs a %q parameter", ParamBBox)
	}
	p := patch.New(bbox)
	if ts, ok := params[ParamTimestamps].([]time.Time); ok {
		p.SetTimestamps(ts)
	}
	return p, nil
}

// InitializeFeatureTask sets one constant-filled array feature on the
// incoming patch
type InitializeFeatureTask struct {
	feature patch.Feature
	shape   []int
	dtype   ndarray.DType
	fill    float64
}

// NewInitializeFeatureTask configures the feature to initialize
func NewInitializeFeatureTask(f patch.Feature, shape []int, dtype ndarray.DType, fill float64) *InitializeFeatureTask {
	return &InitializeFeatureTask{feature: f, shape: append([]int(nil), shape...), dtype: dtype, fill: fill}
}

// Execute fills the feature on the input patch
func (t *InitializeFeatureTask) Execute(_ context.Context, inputs []any, _ map[string]any) (any, error) {
	p, err := patchInput(inputs, t.feature.String())
	if err != nil {
		return nil, err
	}
	if err := p.SetFeature(t.feature.Type, t.feature.Name, ndarray.Full(t.dtype, t.fill, t.shape...)); err != nil {
		return nil, err
	}
	return p, nil
}

// SaveTask persists the incoming patch; the destination folder comes
// from the per-execution parameters
type SaveTask struct {
	fs   afero.Fs
	opts storage.SaveOptions
}

// NewSaveTask binds a save task to a filesystem and save options
func NewSaveTask(fs afero.Fs, opts storage.SaveOptions) *SaveTask {
	return &SaveTask{fs: fs, opts: opts}
}

// Execute saves and passes the patch through
func (t *SaveTask) Execute(_ context.Context, inputs []any, params map[string]any) (any, error) {
	p, err := patchInput(inputs, "save")
	if err != nil {
		return nil, err
	}
	path, ok := params[ParamPath].(string)
	if !ok || path == "" {
		return nil, errors.Validation(errors.ErrPathNotFound, "save task needs a %q parameter", ParamPath)
	}
	if err := storage.Save(t.fs, p, path, t.opts); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadTask reads a patch; the source folder comes from the
// per-execution parameters
type LoadTask struct {
	fs   afero.Fs
	opts storage.LoadOptions
}

// NewLoadTask binds a load task to a filesystem and load options
func NewLoadTask(fs afero.Fs, opts storage.LoadOptions) *LoadTask {
	return &LoadTask{fs: fs, opts: opts}
}

// Execute loads the patch
func (t *LoadTask) Execute(_ context.Context, _ []any, params map[string]any) (any, error) {
	path, ok := params[ParamPath].(string)
	if !ok || path == "" {
		return nil, errors.Validation(errors.ErrPathNotFound, "load task needs a %q parameter", ParamPath)
	}
	return storage.Load(t.fs, path, t.opts)
}

// OutputTask names its input as an execution output; the value shows
// up under this name in the execution results
type OutputTask struct {
	name string
}

// NewOutputTask creates an output collector with the given name
func NewOutputTask(name string) *OutputTask {
	return &OutputTask{name: name}
}

// Name returns the output name
func (t *OutputTask) Name() string { return t.name }

// Execute passes its single input through
func (t *OutputTask) Execute(_ context.Context, inputs []any, _ map[string]any) (any, error) {
	if len(inputs) != 1 {
		return nil, errors.Validation(errors.ErrInvalidFeatureData,
			"output %q expects exactly one input, got %d", t.name, len(inputs))
	}
	return inputs[0], nil
}

// patchInput extracts the single patch input of a task
func patchInput(inputs []any, operation string) (*patch.Patch, error) {
	if len(inputs) != 1 {
		return nil, errors.Validation(errors.ErrInvalidFeatureData,
			"%s expects exactly one input, got %d", operation, len(inputs))
	}
	p, ok := inputs[0].(*patch.Patch)
	if !ok {
		return nil, errors.Validation(errors.ErrInvalidFeatureData,
			"%s expects a patch input, got %T", operation, inputs[0])
	}
	return p, nil
}
