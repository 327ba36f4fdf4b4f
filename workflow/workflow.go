// Package workflow runs ordered, optionally conditional steps over a shared
// conversation and tracks their completion.
//
// Steps are either Go functions (AddStep) or prompts sent to a chat executor
// (PromptAction), and a whole workflow can be described in YAML (see Load).
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GCYYfun/MengLong-sub001/conversation"
	"github.com/GCYYfun/MengLong-sub001/logging"
)

// ErrNoSteps is returned by Execute on a workflow without steps.
var ErrNoSteps = errors.New("no workflow steps defined")

// Input is what a step action receives.
type Input struct {
	// Text is the input the workflow was executed with.
	Text string
	// Conversation is shared by all steps of one execution.
	Conversation *conversation.Manager
	// Results holds the results of the steps completed so far, by name.
	Results map[string]string
}

// Action performs a step and returns its result.
type Action func(ctx context.Context, in Input) (string, error)

// Condition gates a step; a step whose condition is false is skipped.
type Condition func(ctx context.Context, in Input) bool

// Step is one unit of a workflow.
type Step struct {
	Name      string
	Action    Action
	Condition Condition
	// Timeout bounds the action; zero means no per-step deadline.
	Timeout time.Duration

	completed bool
	result    string
}

// Completed reports whether the step has run successfully.
func (s *Step) Completed() bool { return s.completed }

// Result returns the step result, empty until the step completed.
func (s *Step) Result() string { return s.result }

// StepError reports the step that stopped an execution.
type StepError struct {
	Index int // 1-based
	Name  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("error in step %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Outcome is what happened to one step during an execution.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeSkipped          Outcome = "condition_not_met"
	OutcomeFailed           Outcome = "failed"
)

// StepReport describes one step of an execution.
type StepReport struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Outcome  Outcome       `json:"outcome"`
	Result   string        `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (r StepReport) String() string {
	switch r.Outcome {
	case OutcomeCompleted:
		return fmt.Sprintf("Step %d (%s): %s", r.Index, r.Name, r.Result)
	case OutcomeAlreadyCompleted:
		return fmt.Sprintf("Step %d: %s - Already completed", r.Index, r.Name)
	case OutcomeSkipped:
		return fmt.Sprintf("Step %d: %s - Condition not met", r.Index, r.Name)
	default:
		return fmt.Sprintf("Error in step %d (%s): %s", r.Index, r.Name, r.Error)
	}
}

// Report is the outcome of Execute.
type Report struct {
	Workflow string       `json:"workflow"`
	Steps    []StepReport `json:"steps"`
	Progress float64      `json:"progress"`
}

// String renders one line per step.
func (r *Report) String() string {
	lines := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		lines[i] = s.String()
	}
	return strings.Join(lines, "\n")
}

// Last returns the result of the last step that completed in this execution.
func (r *Report) Last() string {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Outcome == OutcomeCompleted {
			return r.Steps[i].Result
		}
	}
	return ""
}

// Options configures a Workflow.
type Options struct {
	Logger logging.Logger
}

// Workflow is an ordered list of steps. It is safe for concurrent use;
// executions are serialized.
type Workflow struct {
	name   string
	logger logging.Logger

	mu    sync.Mutex
	steps []*Step
}

// New creates an empty workflow.
func New(name string, optFns ...func(o *Options)) *Workflow {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Workflow{name: name, logger: logging.OrNoOp(opts.Logger)}
}

// Name returns the workflow name.
func (w *Workflow) Name() string { return w.name }

// AddStep appends a step. cond may be nil.
func (w *Workflow) AddStep(name string, action Action, cond Condition) *Step {
	return w.Add(&Step{Name: name, Action: action, Condition: cond})
}

// Add appends a prepared step.
func (w *Workflow) Add(s *Step) *Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.steps = append(w.steps, s)
	return s
}

// Steps returns the steps in order.
func (w *Workflow) Steps() []*Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Step(nil), w.steps...)
}

// Len returns the number of steps.
func (w *Workflow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.steps)
}

// Execute runs every pending step in order. Completed steps are not run
// again and steps whose condition is false are skipped. Execution stops at
// the first failing step; the returned error is a *StepError and the report
// covers the steps up to and including the failing one. conv may be nil.
func (w *Workflow) Execute(ctx context.Context, input string, conv *conversation.Manager) (*Report, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.steps) == 0 {
		return nil, ErrNoSteps
	}
	if conv == nil {
		conv = conversation.NewManager("")
	}

	in := Input{Text: input, Conversation: conv, Results: make(map[string]string)}
	for _, s := range w.steps {
		if s.completed {
			in.Results[s.Name] = s.result
		}
	}

	report := &Report{Workflow: w.name}
	w.logger.Info("workflow.execute.start", "workflow", w.name, "steps", len(w.steps))

	for i, s := range w.steps {
		sr := StepReport{Index: i + 1, Name: s.Name}

		if s.completed {
			sr.Outcome = OutcomeAlreadyCompleted
			sr.Result = s.result
			report.Steps = append(report.Steps, sr)
			continue
		}
		if s.Condition != nil && !s.Condition(ctx, in) {
			sr.Outcome = OutcomeSkipped
			report.Steps = append(report.Steps, sr)
			w.logger.Debug("workflow.step.skipped", "workflow", w.name, "step", s.Name)
			continue
		}

		start := time.Now()
		result, err := w.run(ctx, s, in)
		sr.Duration = time.Since(start)
		if err != nil {
			sr.Outcome = OutcomeFailed
			sr.Error = err.Error()
			report.Steps = append(report.Steps, sr)
			report.Progress = w.progressLocked()
			w.logger.Error("workflow.step.failed", "workflow", w.name, "step", s.Name, "error", err.Error())
			return report, &StepError{Index: i + 1, Name: s.Name, Err: err}
		}

		s.completed = true
		s.result = result
		in.Results[s.Name] = result
		sr.Outcome = OutcomeCompleted
		sr.Result = result
		report.Steps = append(report.Steps, sr)
		w.logger.Info("workflow.step.completed", "workflow", w.name, "step", s.Name, "duration_ms", sr.Duration.Milliseconds())
	}

	report.Progress = w.progressLocked()
	return report, nil
}

func (w *Workflow) run(ctx context.Context, s *Step, in Input) (result string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Action == nil {
		return "", errors.New("step has no action")
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return s.Action(ctx, in)
}

// Reset marks every step pending again and clears the results.
func (w *Workflow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.steps {
		s.completed = false
		s.result = ""
	}
}

// Clear removes all steps.
func (w *Workflow) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.steps = nil
}

// Status renders one line per step with its completion state.
func (w *Workflow) Status() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.steps) == 0 {
		return ErrNoSteps.Error()
	}
	lines := make([]string, len(w.steps))
	for i, s := range w.steps {
		state := "Pending"
		if s.completed {
			state = "Completed"
		}
		lines[i] = fmt.Sprintf("Step %d: %s - %s", i+1, s.Name, state)
	}
	return strings.Join(lines, "\n")
}

// CompletedSteps returns the number of completed steps.
func (w *Workflow) CompletedSteps() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.completedLocked()
}

func (w *Workflow) completedLocked() int {
	n := 0
	for _, s := range w.steps {
		if s.completed {
			n++
		}
	}
	return n
}

// Progress returns the completed fraction in [0, 1]; 0 without steps.
func (w *Workflow) Progress() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.progressLocked()
}

func (w *Workflow) progressLocked() float64 {
	if len(w.steps) == 0 {
		return 0
	}
	return float64(w.completedLocked()) / float64(len(w.steps))
}

// IsComplete reports whether the workflow has steps and all of them completed.
func (w *Workflow) IsComplete() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.steps) > 0 && w.completedLocked() == len(w.steps)
}

// NextStep returns the first pending step, or nil.
func (w *Workflow) NextStep() *Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.steps {
		if !s.completed {
			return s
		}
	}
	return nil
}
