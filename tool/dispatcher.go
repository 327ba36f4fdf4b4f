package tool

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/GCYYfun/MengLong-sub001/internal/schema"
	"github.com/GCYYfun/MengLong-sub001/logging"
)

// DispatcherOptions configure a Dispatcher.
type DispatcherOptions struct {
	// Workers bounds how many synchronous tool bodies run at once. Defaults to 8.
	Workers int64
	// MaxParallel bounds concurrent calls within one InvokeAll batch.
	// Zero or negative means no limit.
	MaxParallel int
	Logger      logging.Logger
}

// Dispatcher resolves tool calls against a Registry and executes them.
type Dispatcher struct {
	registry *Registry
	workers  *semaphore.Weighted
	opts     DispatcherOptions
	logger   logging.Logger
}

// NewDispatcher creates a Dispatcher over reg.
func NewDispatcher(reg *Registry, optFns ...func(o *DispatcherOptions)) *Dispatcher {
	opts := DispatcherOptions{
		Workers: 8,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	return &Dispatcher{
		registry: reg,
		workers:  semaphore.NewWeighted(opts.Workers),
		opts:     opts,
		logger:   logging.ForComponent(logging.OrNoOp(opts.Logger), "dispatcher"),
	}
}

var defaultWorkers = semaphore.NewWeighted(8)

// Invoke dispatches a single call against reg using a shared worker pool.
func Invoke(ctx context.Context, reg *Registry, call Call) Result {
	d := &Dispatcher{registry: reg, workers: defaultWorkers, logger: logging.NoOpLogger{}}
	return d.Invoke(ctx, call)
}

// Registry returns the registry the dispatcher resolves tools from.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Invoke resolves, validates and executes one call. It never panics; every
// failure is reported through the returned Result.
func (d *Dispatcher) Invoke(ctx context.Context, call Call) Result {
	start := time.Now()
	res := Result{CallID: call.ID, ToolName: call.Name}

	fail := func(code, msg string) Result {
		res.Success = false
		res.Code = code
		res.Error = msg
		res.Duration = time.Since(start)
		return res
	}

	desc, ok := d.registry.Get(call.Name)
	if !ok {
		d.logger.Warn("tool.call.validation_failed", "tool", call.Name, "call_id", call.ID, "error", "unknown tool")
		return fail(CodeUnknownTool, fmt.Sprintf("unknown tool: %s", call.Name))
	}

	d.logger.Debug("tool.call.start", "tool", call.Name, "call_id", call.ID, "async", desc.Async)

	args, err := d.bind(desc, call)
	if err != nil {
		d.logger.Warn("tool.call.validation_failed", "tool", call.Name, "call_id", call.ID, "error", err.Error())
		return fail(CodeValidationError, err.Error())
	}

	var value any
	if desc.Async {
		value, err = d.execute(ctx, desc, args)
	} else {
		value, err = d.offload(ctx, desc, args)
	}

	if err != nil {
		var pe *panicErr
		if errors.As(err, &pe) {
			d.logger.Error("tool.call.panic", "tool", call.Name, "call_id", call.ID, "recover", fmt.Sprint(pe.val))
		}
		logging.LogToolCall(d.logger, call.Name, time.Since(start), err, "call_id", call.ID)

		var te *ToolError
		if errors.As(err, &te) && te.Code != "" {
			return fail(te.Code, te.Message)
		}
		return fail(CodeExecutionError, err.Error())
	}

	res.Success = true
	res.Value = value
	res.Duration = time.Since(start)
	logging.LogToolCall(d.logger, call.Name, res.Duration, nil, "call_id", call.ID)
	return res
}

// InvokeAll dispatches the calls of one model turn. Calls run concurrently
// except those to Sequential tools, which wait for everything before them
// and block everything after them. Results are index-aligned with calls.
func (d *Dispatcher) InvokeAll(ctx context.Context, calls []Call) []Result {
	n := len(calls)
	results := make([]Result, n)
	if n == 0 {
		return results
	}

	batchStart := time.Now()

	maxPar := d.opts.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}
	sem := make(chan struct{}, maxPar)

	var wg sync.WaitGroup
	for i, call := range calls {
		if d.isSequential(call.Name) {
			wg.Wait()
			results[i] = d.Invoke(ctx, call)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, c Call) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = d.Invoke(ctx, c)
		}(i, call)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	d.logger.Debug(
		"tool.batch.complete",
		"count", n,
		"failed", failed,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return results
}

func (d *Dispatcher) isSequential(name string) bool {
	desc, ok := d.registry.Get(name)
	return ok && desc.Sequential
}

func (d *Dispatcher) bind(desc *Descriptor, call Call) (reflect.Value, error) {
	if call.Arguments == nil && call.RawArguments != "" {
		return reflect.Value{}, &ValidationError{
			Value:   call.RawArguments,
			Message: "arguments are not a valid JSON object",
		}
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}

	if desc.argsType == nil {
		if len(args) > 0 {
			return reflect.Value{}, schema.Validate(nil, args, false)
		}
		return reflect.Value{}, nil
	}

	if desc.freeForm {
		return reflect.ValueOf(args), nil
	}

	if err := schema.Validate(desc.Parameters, args, false); err != nil {
		return reflect.Value{}, err
	}
	return schema.Bind(desc.argsType, desc.Parameters, args)
}

// offload runs a blocking tool body on the worker pool. Once started, the
// body is waited for even if ctx is cancelled.
func (d *Dispatcher) offload(ctx context.Context, desc *Descriptor, args reflect.Value) (any, error) {
	if err := d.workers.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a worker: %w", err)
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer d.workers.Release(1)
		v, err := d.execute(ctx, desc, args)
		done <- outcome{value: v, err: err}
	}()

	out := <-done
	return out.value, out.err
}

func (d *Dispatcher) execute(ctx context.Context, desc *Descriptor, args reflect.Value) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, panicError(r)
		}
	}()
	return desc.call(ctx, args)
}

func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic: %v", p.val) }
