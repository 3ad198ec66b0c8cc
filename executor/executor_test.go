package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/workflow"
)

// batchWorkflow squares its "value" param and fails on negatives.
func batchWorkflow(t *testing.T) (*workflow.Workflow, *workflow.Node, *workflow.Node) {
	t.Helper()
	compute := workflow.NewNode(workflow.TaskFunc(
		func(_ context.Context, _ []any, params map[string]any) (any, error) {
			v := params["value"].(int)
			if v < 0 {
				return nil, errors.Validation(errors.ErrInvalidFeatureData, "value %d is negative", v)
			}
			return v * v, nil
		}), "compute")
	out := workflow.NewNode(workflow.NewOutputTask("squared"), "out", compute)
	wf, err := workflow.New(out)
	require.NoError(t, err)
	return wf, compute, out
}

func batchParams(compute *workflow.Node, values ...int) []ExecutionParams {
	params := make([]ExecutionParams, len(values))
	for i, v := range values {
		params[i] = ExecutionParams{compute: {"value": v}}
	}
	return params
}

func checkBatch(t *testing.T, results []*workflow.Results, exec *Executor) {
	t.Helper()
	require.Len(t, results, 4)
	assert.Equal(t, 4, results[0].Outputs["squared"])
	assert.Equal(t, 9, results[1].Outputs["squared"])
	assert.Equal(t, 49, results[3].Outputs["squared"])

	assert.False(t, results[2].Succeeded())
	assert.True(t, errors.Is(results[2].Error(), errors.ErrInvalidFeatureData))

	assert.Equal(t, []int{0, 1, 3}, exec.Successful())
	assert.Equal(t, []int{2}, exec.Failed())
}

func TestRunSequential(t *testing.T) {
	wf, compute, _ := batchWorkflow(t)
	exec, err := New(wf, batchParams(compute, 2, 3, -1, 7))
	require.NoError(t, err)

	results, err := exec.Run(context.Background(), 1, false)
	require.NoError(t, err)
	checkBatch(t, results, exec)
}

func TestRunPooled(t *testing.T) {
	wf, compute, _ := batchWorkflow(t)
	exec, err := New(wf, batchParams(compute, 2, 3, -1, 7))
	require.NoError(t, err)

	results, err := exec.Run(context.Background(), 2, false)
	require.NoError(t, err)
	checkBatch(t, results, exec)
}

func TestRunIsolated(t *testing.T) {
	wf, compute, _ := batchWorkflow(t)
	exec, err := New(wf, batchParams(compute, 2, 3, -1, 7))
	require.NoError(t, err)

	results, err := exec.Run(context.Background(), 2, true)
	require.NoError(t, err)
	checkBatch(t, results, exec)
}

func TestExecutionNamesMismatch(t *testing.T) {
	wf, compute, _ := batchWorkflow(t)
	_, err := New(wf, batchParams(compute, 1, 2), WithNames("only-one"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrExecutionNames))
}

func TestPanicIsolation(t *testing.T) {
	boom := workflow.NewNode(workflow.TaskFunc(
		func(_ context.Context, _ []any, params map[string]any) (any, error) {
			if params["crash"].(bool) {
				panic("kaboom")
			}
			return "ok", nil
		}), "boom")
	wf, err := workflow.New(boom)
	require.NoError(t, err)

	exec, err := New(wf, []ExecutionParams{
		{boom: {"crash": false}},
		{boom: {"crash": true}},
		{boom: {"crash": false}},
	})
	require.NoError(t, err)

	results, err := exec.Run(context.Background(), 3, true)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, exec.Successful())
	assert.Equal(t, []int{1}, exec.Failed())
	assert.False(t, results[1].Succeeded())
}

func TestLogCapture(t *testing.T) {
	fs := afero.NewMemMapFs()
	wf, compute, _ := batchWorkflow(t)
	exec, err := New(wf, batchParams(compute, 2, -5),
		WithNames("good", "bad"),
		WithLogs(fs, "logs"))
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), 1, false)
	require.NoError(t, err)

	paths := exec.LogPaths()
	require.Equal(t, []string{"logs/eoexecution-good.log", "logs/eoexecution-bad.log"}, paths)

	good, err := afero.ReadFile(fs, paths[0])
	require.NoError(t, err)
	assert.Contains(t, string(good), "node finished")
	assert.Contains(t, string(good), "compute")

	bad, err := afero.ReadFile(fs, paths[1])
	require.NoError(t, err)
	assert.Contains(t, string(bad), "node failed")
	assert.Contains(t, string(bad), "negative")
}

func TestLogLevelAndFilter(t *testing.T) {
	fs := afero.NewMemMapFs()
	wf, compute, _ := batchWorkflow(t)
	exec, err := New(wf, batchParams(compute, 2),
		WithLogs(fs, "logs"),
		WithLogLevel(slog.LevelWarn),
		WithLogFilter(func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == "node" {
				return slog.Attr{}
			}
			return a
		}))
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), 1, false)
	require.NoError(t, err)

	content, err := afero.ReadFile(fs, exec.LogPaths()[0])
	require.NoError(t, err)
	// info-level lifecycle records are below the threshold
	assert.NotContains(t, string(content), "node started")
	assert.NotContains(t, string(content), "node=")
}

func TestDefaultNames(t *testing.T) {
	wf, compute, _ := batchWorkflow(t)
	exec, err := New(wf, batchParams(compute, 1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2"}, exec.Names())
}

func TestInterruptAbortsBatch(t *testing.T) {
	var started atomic.Int32
	task := workflow.NewNode(workflow.TaskFunc(
		func(_ context.Context, _ []any, params map[string]any) (any, error) {
			started.Add(1)
			if params["interrupt"].(bool) {
				return nil, errors.ErrInterrupted
			}
			return nil, nil
		}), "task")
	wf, err := workflow.New(task)
	require.NoError(t, err)

	params := []ExecutionParams{
		{task: {"interrupt": false}},
		{task: {"interrupt": true}},
		{task: {"interrupt": false}},
		{task: {"interrupt": false}},
	}
	exec, err := New(wf, params)
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), 1, false)
	require.Error(t, err)
	assert.True(t, errors.IsInterrupt(err))
	// sequential mode stops as soon as the interrupt lands
	assert.Equal(t, int32(2), started.Load())
}

func TestInterruptAbortsPooledBatch(t *testing.T) {
	var started atomic.Int32
	task := workflow.NewNode(workflow.TaskFunc(
		func(ctx context.Context, _ []any, params map[string]any) (any, error) {
			started.Add(1)
			if params["interrupt"].(bool) {
				return nil, errors.ErrInterrupted
			}
			select {
			case <-time.After(20 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return nil, nil
		}), "task")
	wf, err := workflow.New(task)
	require.NoError(t, err)

	params := []ExecutionParams{
		{task: {"interrupt": true}},
		{task: {"interrupt": false}},
		{task: {"interrupt": false}},
		{task: {"interrupt": false}},
	}
	exec, err := New(wf, params)
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), 2, false)
	require.Error(t, err)
	assert.True(t, errors.IsInterrupt(err))

	// the queued executions abort instead of running to completion
	assert.Less(t, started.Load(), int32(4))
	assert.Subset(t, exec.Failed(), []int{2, 3})
}

func TestStrictTemporalPassthrough(t *testing.T) {
	wf, compute, _ := batchWorkflow(t)
	exec, err := New(wf, batchParams(compute, 2), WithStrictTemporal())
	require.NoError(t, err)

	results, err := exec.Run(context.Background(), 1, false)
	require.NoError(t, err)
	// non-patch outputs are untouched by the strict check
	assert.True(t, results[0].Succeeded())
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	wf, compute, _ := batchWorkflow(t)
	exec, err := New(wf, batchParams(compute, 2, 3, -1, 7),
		WithPrometheus(reg, "geopatch"))
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), 2, false)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
		switch mf.GetName() {
		case "geopatch_executor_executions_total":
			assert.Equal(t, 4.0, mf.GetMetric()[0].GetCounter().GetValue())
		case "geopatch_executor_executions_failed_total":
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
		case "geopatch_executor_batch_size":
			assert.Equal(t, 4.0, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found["geopatch_executor_executions_total"])
	assert.True(t, found["geopatch_executor_execution_duration_seconds"])
	assert.True(t, found["geopatch_executor_nodes_total"])
}

func TestModesAgree(t *testing.T) {
	values := []int{5, -2, 8, 0, 3}
	outcomes := make([][]int, 0, 3)
	for _, mode := range []struct {
		workers      int
		multiprocess bool
	}{{1, false}, {3, false}, {3, true}} {
		wf, compute, _ := batchWorkflow(t)
		exec, err := New(wf, batchParams(compute, values...))
		require.NoError(t, err)
		_, err = exec.Run(context.Background(), mode.workers, mode.multiprocess)
		require.NoError(t, err)
		outcomes = append(outcomes, exec.Failed())
	}
	assert.Equal(t, outcomes[0], outcomes[1])
	assert.Equal(t, outcomes[0], outcomes[2])
}

func TestSlowBatchUnderContention(t *testing.T) {
	task := workflow.NewNode(workflow.TaskFunc(
		func(ctx context.Context, _ []any, params map[string]any) (any, error) {
			select {
			case <-time.After(5 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return params["value"], nil
		}), "slow")
	wf, err := workflow.New(task)
	require.NoError(t, err)

	params := make([]ExecutionParams, 16)
	names := make([]string, 16)
	for i := range params {
		params[i] = ExecutionParams{task: {"value": i}}
		names[i] = fmt.Sprintf("run-%02d", i)
	}
	exec, err := New(wf, params, WithNames(names...))
	require.NoError(t, err)

	results, err := exec.Run(context.Background(), 4, false)
	require.NoError(t, err)
	require.Len(t, results, 16)
	assert.Len(t, exec.Successful(), 16)
	assert.Empty(t, exec.Failed())
}

func TestLockingWriterFallback(t *testing.T) {
	var sb strings.Builder
	lw := newLockingWriter(afero.NewMemMapFs(), "x.log", &sb)
	_, err := lw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, lw.Close())
	assert.Equal(t, "hello", sb.String())
}
