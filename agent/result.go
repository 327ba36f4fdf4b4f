package agent

import (
	"errors"
	"strings"
	"time"

	"github.com/GCYYfun/MengLong-sub001/core"
	"github.com/GCYYfun/MengLong-sub001/tool"
)

// ErrIterationLimit is the Err of runs that hit their iteration cap.
var ErrIterationLimit = errors.New("maximum iterations reached")

// State is a phase of the agent loop.
type State string

const (
	StatePlanning         State = "PLANNING"
	StateAwaitingModel    State = "AWAITING_MODEL"
	StateDispatchingTools State = "DISPATCHING_TOOLS"
	StateComplete         State = "COMPLETE"
	StateFailed           State = "FAILED"
	StateCancelled        State = "CANCELLED"
)

// Terminal reports whether the loop stops in s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateCancelled
}

// LogEntry records one iteration of the loop.
type LogEntry struct {
	Iteration   int             `json:"iteration"`
	Timestamp   time.Time       `json:"timestamp"`
	State       State           `json:"state"` // state the iteration ended in
	Reply       string          `json:"reply,omitempty"`
	ToolCalls   []core.ToolCall `json:"tool_calls,omitempty"`
	ToolResults []tool.Result   `json:"tool_results,omitempty"`
	Duration    time.Duration   `json:"duration"`
	Error       string          `json:"error,omitempty"`
}

// Task is one unit of work for RunParallel and RunSequential.
type Task struct {
	Prompt string `json:"prompt"`
	// MaxIterations overrides the agent default when positive.
	MaxIterations int `json:"max_iterations,omitempty"`
}

// Result is the outcome of a run. The execution log is kept even when the
// run fails or is cancelled.
type Result struct {
	RunID          string         `json:"run_id"`
	Task           string         `json:"task"`
	Status         State          `json:"status"`
	IterationsUsed int            `json:"iterations_used"`
	ExecutionTime  time.Duration  `json:"execution_time"`
	ExecutionLog   []LogEntry     `json:"execution_log"`
	FinalAnswer    string         `json:"final_answer"`
	Error          string         `json:"error,omitempty"`
	Messages       []core.Message `json:"messages,omitempty"` // conversation at the end of the run

	Err error `json:"-"`
}

// Succeeded reports whether the run completed.
func (r *Result) Succeeded() bool { return r != nil && r.Status == StateComplete }

// ToolCallCount returns the number of tool calls dispatched during the run.
func (r *Result) ToolCallCount() int {
	n := 0
	for _, e := range r.ExecutionLog {
		n += len(e.ToolResults)
	}
	return n
}

// SuccessRate returns the fraction of tool calls that succeeded, or 1 when
// no tools were called.
func (r *Result) SuccessRate() float64 {
	total, ok := 0, 0
	for _, e := range r.ExecutionLog {
		for _, tr := range e.ToolResults {
			total++
			if tr.Success {
				ok++
			}
		}
	}
	if total == 0 {
		return 1
	}
	return float64(ok) / float64(total)
}

// Transcript renders the final conversation one message per line.
func (r *Result) Transcript() string {
	var b strings.Builder
	for _, m := range r.Messages {
		b.WriteString(m.String())
		b.WriteByte('\n')
	}
	return b.String()
}
