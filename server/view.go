package server

import (
	"fmt"

	"github.com/GCYYfun/MengLong-sub001/agent"
)

// taskView is the execution report returned for a run.
type taskView struct {
	RunID          string           `json:"run_id"`
	Task           string           `json:"task"`
	Status         agent.State      `json:"status"`
	IterationsUsed int              `json:"iterations_used"`
	ExecutionTime  float64          `json:"execution_time"` // seconds
	FinalAnswer    string           `json:"final_answer"`
	Error          string           `json:"error,omitempty"`
	ToolCalls      int              `json:"tool_calls"`
	SuccessRate    float64          `json:"success_rate"`
	ExecutionLog   []agent.LogEntry `json:"execution_log"`
}

func newTaskView(r *agent.Result) taskView {
	return taskView{
		RunID:          r.RunID,
		Task:           r.Task,
		Status:         r.Status,
		IterationsUsed: r.IterationsUsed,
		ExecutionTime:  r.ExecutionTime.Seconds(),
		FinalAnswer:    r.FinalAnswer,
		Error:          r.Error,
		ToolCalls:      r.ToolCallCount(),
		SuccessRate:    r.SuccessRate(),
		ExecutionLog:   r.ExecutionLog,
	}
}

func errTooMany(n, max int) error {
	return fmt.Errorf("batch of %d exceeds the limit of %d", n, max)
}
