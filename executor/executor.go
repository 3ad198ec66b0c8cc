// Package executor runs batches of workflow executions concurrently,
// with per-execution log capture, failure isolation and optional
// Prometheus metrics.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/c360/geopatch/errors"
	"github.com/c360/geopatch/pkg/worker"
	"github.com/c360/geopatch/workflow"
)

// ExecutionParams is one parameter set: per-node arguments for one run
// of the workflow
type ExecutionParams map[*workflow.Node]map[string]any

// Executor runs one workflow over a batch of parameter sets. Each
// execution is independent; a failure inside one never affects the
// others, and only an interrupt aborts the whole batch.
type Executor struct {
	workflow *workflow.Workflow
	params   []ExecutionParams
	names    []string

	logFs     afero.Fs
	logFolder string
	logLevel  slog.Level
	filter    func(groups []string, a slog.Attr) slog.Attr

	strict  bool
	metrics *metrics

	mu      sync.Mutex
	results []*workflow.Results
	runErrs []error
}

// Option configures an executor
type Option func(*Executor) error

// WithNames labels the executions; the count must match the batch
func WithNames(names ...string) Option {
	return func(e *Executor) error {
		e.names = append([]string(nil), names...)
		return nil
	}
}

// WithLogs captures each execution's log into
// <folder>/eoexecution-<name>.log on the given filesystem
func WithLogs(fs afero.Fs, folder string) Option {
	return func(e *Executor) error {
		e.logFs = fs
		e.logFolder = folder
		return nil
	}
}

// WithLogLevel drops log records below the given level
func WithLogLevel(level slog.Level) Option {
	return func(e *Executor) error {
		e.logLevel = level
		return nil
	}
}

// WithLogFilter rewrites or drops individual log attributes
func WithLogFilter(filter func(groups []string, a slog.Attr) slog.Attr) Option {
	return func(e *Executor) error {
		e.filter = filter
		return nil
	}
}

// WithStrictTemporal records temporal-dimension inconsistencies on
// node outputs as node failures
func WithStrictTemporal() Option {
	return func(e *Executor) error {
		e.strict = true
		return nil
	}
}

// New builds an executor for a workflow and a batch of parameter sets
func New(wf *workflow.Workflow, params []ExecutionParams, opts ...Option) (*Executor, error) {
	e := &Executor{
		workflow: wf,
		params:   params,
		logLevel: slog.LevelDebug,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.names == nil {
		e.names = make([]string, len(params))
		for i := range e.names {
			e.names[i] = fmt.Sprint(i)
		}
	}
	if len(e.names) != len(params) {
		return nil, errors.Validation(errors.ErrExecutionNames,
			"%d names for %d executions", len(e.names), len(params))
	}
	return e, nil
}

// Names returns the execution labels
func (e *Executor) Names() []string { return append([]string(nil), e.names...) }

// LogPaths lists the per-execution log files, empty without WithLogs
func (e *Executor) LogPaths() []string {
	if e.logFs == nil {
		return nil
	}
	out := make([]string, len(e.names))
	for i, name := range e.names {
		out[i] = e.logPath(name)
	}
	return out
}

func (e *Executor) logPath(name string) string {
	return fmt.Sprintf("%s/eoexecution-%s.log", e.logFolder, name)
}

// Run executes the whole batch and returns per-execution results in
// batch order. workers<=1 runs strictly sequentially. With
// multiprocess=false the executions share a bounded worker pool; with
// multiprocess=true each execution gets its own goroutine (bounded by
// workers) with panic isolation and a cross-process file lock around
// its log sink. Only an interrupt makes Run itself return an error.
func (e *Executor) Run(ctx context.Context, workers int, multiprocess bool) ([]*workflow.Results, error) {
	e.mu.Lock()
	e.results = make([]*workflow.Results, len(e.params))
	e.runErrs = make([]error, len(e.params))
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.batchStarted(len(e.params))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var err error
	switch {
	case workers <= 1:
		err = e.runSequential(ctx)
	case multiprocess:
		err = e.runIsolated(ctx, workers)
	default:
		err = e.runPooled(ctx, cancel, workers)
	}
	if err != nil {
		return e.Results(), err
	}
	if interrupt := e.firstInterrupt(); interrupt != nil {
		return e.Results(), interrupt
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return e.Results(), errors.Join(errors.ErrInterrupted, ctxErr)
	}
	return e.Results(), nil
}

func (e *Executor) runSequential(ctx context.Context) error {
	for i := range e.params {
		e.runOne(ctx, i, false)
		if interrupt := e.firstInterrupt(); interrupt != nil {
			return interrupt
		}
	}
	return nil
}

// runPooled fans executions out over a shared bounded pool. An
// interrupt inside any execution cancels the pool context, so queued
// executions abort instead of running to completion.
func (e *Executor) runPooled(ctx context.Context, cancel context.CancelFunc, workers int) error {
	var wg sync.WaitGroup
	pool := worker.NewPool(workers, len(e.params), func(ctx context.Context, idx int) error {
		defer wg.Done()
		e.runOne(ctx, idx, false)
		err := e.errAt(idx)
		if errors.IsInterrupt(err) {
			cancel()
		}
		return err
	})
	if err := pool.Start(ctx); err != nil {
		return err
	}
	for i := range e.params {
		wg.Add(1)
		if err := pool.Submit(i); err != nil {
			wg.Done()
			e.setErr(i, err)
		}
	}

	// a cancelled context stops the workers with items still queued, so
	// never wait on the group alone
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return pool.Stop(10 * time.Second)
}

// runIsolated runs each execution on its own goroutine, bounded by an
// errgroup limit, so a crash in one cannot corrupt the others
func (e *Executor) runIsolated(ctx context.Context, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range e.params {
		idx := i
		g.Go(func() error {
			e.runOne(ctx, idx, true)
			if err := e.errAt(idx); errors.IsInterrupt(err) {
				return err // cancels the remaining executions
			}
			return nil
		})
	}
	return g.Wait()
}

// runOne executes a single parameter set with panic isolation
func (e *Executor) runOne(ctx context.Context, idx int, locked bool) {
	defer func() {
		if r := recover(); r != nil {
			if rErr, ok := r.(error); ok && errors.IsInterrupt(rErr) {
				e.setErr(idx, rErr)
				return
			}
			e.setErr(idx, errors.Validation(errors.ErrInvalidFeatureData,
				"execution %q crashed: %v", e.names[idx], r))
		}
	}()

	logger, closeLog, err := e.executionLogger(e.names[idx], locked)
	if err != nil {
		e.setErr(idx, err)
		return
	}
	defer closeLog()

	start := time.Now()
	results, err := e.workflow.Execute(ctx, workflow.ExecuteOptions{
		Params:         e.params[idx],
		Logger:         logger,
		StrictTemporal: e.strict,
	})
	e.setResults(idx, results)
	if err != nil {
		e.setErr(idx, err)
	}
	if e.metrics != nil {
		e.metrics.executionFinished(results, time.Since(start))
	}
}

func (e *Executor) setResults(idx int, r *workflow.Results) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[idx] = r
}

func (e *Executor) setErr(idx int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runErrs[idx] = err
}

func (e *Executor) errAt(idx int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runErrs[idx]
}

func (e *Executor) firstInterrupt() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, err := range e.runErrs {
		if errors.IsInterrupt(err) {
			return err
		}
	}
	return nil
}

// Results returns the per-execution results in batch order. Entries
// are nil for executions that never ran (after an interrupt).
func (e *Executor) Results() []*workflow.Results {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*workflow.Results(nil), e.results...)
}

// Successful returns the indices of executions whose every node
// finished
func (e *Executor) Successful() []int {
	return e.filterIndices(func(r *workflow.Results) bool { return r != nil && r.Succeeded() })
}

// Failed returns the indices of executions that failed or never ran
func (e *Executor) Failed() []int {
	return e.filterIndices(func(r *workflow.Results) bool { return r == nil || !r.Succeeded() })
}

func (e *Executor) filterIndices(keep func(*workflow.Results) bool) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []int
	for i, r := range e.results {
		if keep(r) {
			out = append(out, i)
		}
	}
	return out
}
