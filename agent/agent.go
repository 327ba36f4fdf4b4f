package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GCYYfun/MengLong-sub001/conversation"
	"github.com/GCYYfun/MengLong-sub001/core"
	"github.com/GCYYfun/MengLong-sub001/logging"
	"github.com/GCYYfun/MengLong-sub001/model"
	"github.com/GCYYfun/MengLong-sub001/tool"
)

// Options configures an Agent.
//
// Use functional options with New to override defaults.
type Options struct {
	// Name identifies the agent in logs.
	Name string
	// Instruction becomes the system message of every conversation.
	Instruction Instruction
	// MaxIterations caps model round trips per run when the caller passes 0.
	MaxIterations int
	// MaxConcurrency bounds RunParallel and Batch fan-out.
	MaxConcurrency int
	// ToolWorkers bounds concurrently executing synchronous tools.
	ToolWorkers int64
	// MaxParallelTools bounds concurrent tool calls of one model turn (0 = unbounded).
	MaxParallelTools int
	// Stream requests streamed generations from the model.
	Stream bool
	Logger logging.Logger
}

// Agent runs tool-using conversations against a model.
//
// An Agent is safe for concurrent use: every run owns its conversation. The
// agent's own conversation, used by Chat and Sequential, is serialized.
type Agent struct {
	name        string
	llm         model.Model
	registry    *tool.Registry
	dispatcher  *tool.Dispatcher
	instruction Instruction
	maxIter     int
	maxConc     int
	stream      bool
	logger      logging.Logger

	chatMu sync.Mutex
	conv   *conversation.Manager
}

// DefaultMaxIterations caps runs when neither the options nor the caller set
// a positive limit.
const DefaultMaxIterations = 10

// New creates an Agent over m. A nil registry is replaced by an empty one.
func New(m model.Model, reg *tool.Registry, optFns ...func(o *Options)) *Agent {
	opts := Options{
		Name:           "assistant",
		MaxIterations:  DefaultMaxIterations,
		MaxConcurrency: 4,
		ToolWorkers:    8,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}

	logger := logging.OrNoOp(opts.Logger)
	if reg == nil {
		reg = tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = logger })
	}

	return &Agent{
		name:     opts.Name,
		llm:      m,
		registry: reg,
		dispatcher: tool.NewDispatcher(reg, func(o *tool.DispatcherOptions) {
			o.Workers = opts.ToolWorkers
			o.MaxParallel = opts.MaxParallelTools
			o.Logger = logger
		}),
		instruction: opts.Instruction,
		maxIter:     opts.MaxIterations,
		maxConc:     opts.MaxConcurrency,
		stream:      opts.Stream,
		logger:      logger,
		conv:        conversation.NewManager(""),
	}
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Model returns the underlying model.
func (a *Agent) Model() model.Model { return a.llm }

// Registry returns the agent's tool registry.
func (a *Agent) Registry() *tool.Registry { return a.registry }

// Dispatcher returns the dispatcher executing the agent's tool calls.
func (a *Agent) Dispatcher() *tool.Dispatcher { return a.dispatcher }

// Conversation returns the conversation used by Chat and Sequential.
func (a *Agent) Conversation() *conversation.Manager { return a.conv }

// Run executes task to completion on a fresh conversation and blocks until
// the run ends. maxIterations <= 0 uses the agent default. The returned error
// is ErrReentrancy when ctx is already driven by the agent scheduler, or an
// instruction resolution failure; run outcomes are reported in the Result.
func (a *Agent) Run(ctx context.Context, task string, maxIterations int) (*Result, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	return a.runTask(ctx, Task{Prompt: task, MaxIterations: maxIterations}, nil)
}

// ARun is the scheduler-aware form of Run. It may be called from code that
// already runs inside the agent scheduler, such as a tool. Exactly one value
// is delivered on one of the channels, then both are closed.
func (a *Agent) ARun(ctx context.Context, task string, maxIterations int) (<-chan *Result, <-chan error) {
	resCh := make(chan *Result, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(resCh)
		defer close(errCh)

		res, err := a.runTask(WithScheduler(ctx), Task{Prompt: task, MaxIterations: maxIterations}, nil)
		if err != nil {
			errCh <- err
			return
		}
		resCh <- res
	}()

	return resCh, errCh
}

// Chat sends message through the loop on the agent's own conversation and
// returns the final answer. A failed turn is rolled back so the conversation
// stays well formed.
func (a *Agent) Chat(ctx context.Context, message string) (string, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return "", err
	}

	a.chatMu.Lock()
	defer a.chatMu.Unlock()

	res, err := a.chatOn(ctx, a.conv, message)
	if err != nil {
		return "", err
	}
	return res.FinalAnswer, nil
}

// ChatWith is Chat on a caller-owned conversation.
func (a *Agent) ChatWith(ctx context.Context, conv *conversation.Manager, message string) (string, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return "", err
	}
	res, err := a.chatOn(ctx, conv, message)
	if err != nil {
		return "", err
	}
	return res.FinalAnswer, nil
}

// ChatResult is ChatWith returning the full run result. It is scheduler-aware.
func (a *Agent) ChatResult(ctx context.Context, conv *conversation.Manager, message string) (*Result, error) {
	return a.chatOn(WithScheduler(ctx), conv, message)
}

// Respond answers the user turn that ends conv without modifying conv: the
// loop runs on a fork, so tool traffic stays out of the caller's history. It
// is scheduler-aware.
func (a *Agent) Respond(ctx context.Context, conv *conversation.Manager) (*Result, error) {
	last, ok := conv.Last()
	if !ok || last.Role != core.RoleUser {
		return nil, &conversation.TurnOrderError{Role: core.RoleAssistant, After: last.Role, Reason: "respond needs a pending user turn"}
	}

	fork := conv.Fork()
	if err := a.ensureSystem(ctx, fork); err != nil {
		return nil, err
	}
	res := a.loop(WithScheduler(ctx), fork, last.Content, a.maxIter)
	if res.Status != StateComplete {
		if res.Err != nil {
			return res, res.Err
		}
		return res, fmt.Errorf("run ended with status %s", res.Status)
	}
	return res, nil
}

func (a *Agent) chatOn(ctx context.Context, conv *conversation.Manager, message string) (*Result, error) {
	if err := a.ensureSystem(ctx, conv); err != nil {
		return nil, err
	}

	mark := conv.Len()
	if err := conv.AppendUser(message); err != nil {
		return nil, err
	}

	res := a.loop(ctx, conv, message, a.maxIter)
	if res.Status != StateComplete {
		for conv.Len() > mark {
			conv.Pop()
		}
		if res.Err != nil {
			return res, res.Err
		}
		return res, fmt.Errorf("run ended with status %s", res.Status)
	}
	return res, nil
}

func (a *Agent) ensureSystem(ctx context.Context, conv *conversation.Manager) error {
	if _, ok := conv.System(); ok {
		return nil
	}
	text, err := a.instruction.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve instruction: %w", err)
	}
	if text != "" {
		conv.SetSystem(text)
	}
	return nil
}

// runTask runs t on a conversation seeded from prior (or the instructions).
func (a *Agent) runTask(ctx context.Context, t Task, prior []core.Message) (*Result, error) {
	var conv *conversation.Manager
	if len(prior) > 0 {
		c, err := conversation.FromMessages(prior)
		if err != nil {
			return nil, err
		}
		conv = c
	} else {
		conv = conversation.NewManager("")
		if err := a.ensureSystem(ctx, conv); err != nil {
			return nil, err
		}
	}

	if err := conv.AppendUser(t.Prompt); err != nil {
		return nil, err
	}

	maxIter := t.MaxIterations
	if maxIter <= 0 {
		maxIter = a.maxIter
	}
	return a.loop(ctx, conv, t.Prompt, maxIter), nil
}

func (a *Agent) toolDefinitions() []model.ToolDefinition {
	list := a.registry.List()
	if len(list) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, len(list))
	for i, d := range list {
		defs[i] = model.NewToolDefinition(d.Name, d.Description, d.ParametersMap())
	}
	return defs
}

// loop drives conv until the model answers without tool calls, the
// iteration cap is hit or ctx is cancelled.
func (a *Agent) loop(ctx context.Context, conv *conversation.Manager, task string, maxIter int) *Result {
	start := time.Now()
	res := &Result{RunID: core.NewID(), Task: task, Status: StatePlanning}
	logger := logging.WithAttrs(logging.ForRun(a.logger, res.RunID), "agent", a.name)

	logger.Info("agent.run.start", "max_iterations", maxIter)

	transition := func(to State) {
		logger.Debug("agent.state.transition", "from", res.Status, "to", to)
		res.Status = to
	}
	finish := func(to State, err error) {
		transition(to)
		if err != nil {
			res.Err = err
			res.Error = err.Error()
		}
	}

	limiter := core.NewIterationLimiter(maxIter)
	defs := a.toolDefinitions()
	modelName := a.llm.Info().Name

	for !res.Status.Terminal() {
		// PLANNING
		if err := ctx.Err(); err != nil {
			finish(StateCancelled, err)
			break
		}
		iter, err := limiter.Next()
		if err != nil {
			finish(StateFailed, fmt.Errorf("%w (%d)", ErrIterationLimit, maxIter))
			break
		}

		entry := LogEntry{Iteration: iter, Timestamp: time.Now()}
		record := func(state State) {
			entry.State = state
			entry.Duration = time.Since(entry.Timestamp)
			res.ExecutionLog = append(res.ExecutionLog, entry)
		}

		transition(StateAwaitingModel)
		callStart := time.Now()
		resp, err := model.Chat(ctx, a.llm, model.Request{
			Messages: conv.Snapshot(),
			Tools:    defs,
			Stream:   a.stream,
		})
		if err != nil {
			logging.LogModelCall(logger, modelName, 0, time.Since(callStart), err, "iteration", iter)
			state := StateFailed
			if ctx.Err() != nil {
				state = StateCancelled
			}
			entry.Error = err.Error()
			record(state)
			finish(state, fmt.Errorf("model call: %w", err))
			break
		}
		tokens := 0
		if resp.Usage != nil {
			tokens = resp.Usage.TotalTokens
		}
		logging.LogModelCall(logger, modelName, tokens, time.Since(callStart), nil,
			"iteration", iter, "tool_calls", len(resp.Message.ToolCalls))

		reply := resp.Message
		entry.Reply = reply.Content

		if !reply.HasToolCalls() {
			if err := conv.AppendAssistant(reply.Content); err != nil {
				entry.Error = err.Error()
				record(StateFailed)
				finish(StateFailed, err)
				break
			}
			res.FinalAnswer = reply.Content
			record(StateComplete)
			finish(StateComplete, nil)
			break
		}

		calls := make([]core.ToolCall, len(reply.ToolCalls))
		for i, tc := range reply.ToolCalls {
			if tc.ID == "" {
				tc.ID = core.NewID()
			}
			calls[i] = tc
		}
		if err := conv.AppendToolCalls(reply.Content, calls); err != nil {
			entry.Error = err.Error()
			record(StateFailed)
			finish(StateFailed, err)
			break
		}

		transition(StateDispatchingTools)
		results := a.dispatcher.InvokeAll(ctx, calls)
		for _, r := range results {
			if err := conv.Append(r.Message()); err != nil {
				entry.Error = err.Error()
			}
		}
		entry.ToolCalls = calls
		entry.ToolResults = results

		transition(StatePlanning)
		record(StatePlanning)
	}

	res.IterationsUsed = limiter.Count()
	res.ExecutionTime = time.Since(start)
	res.Messages = conv.Snapshot()

	logging.LogRun(logger, string(res.Status), res.IterationsUsed, res.ExecutionTime)

	return res
}
