// Package agent drives a model through the iterative observe, plan and act
// loop of a tool-using assistant.
//
// An Agent owns a model, a tool registry and a dispatcher. A run sends the
// conversation and tool definitions to the model, executes any tool calls the
// reply requests, appends the results and asks again, until the model answers
// in plain text (COMPLETE), the iteration cap is reached (FAILED) or the
// context is cancelled (CANCELLED). Every iteration is recorded in the run's
// execution log.
//
// Execution model:
//   - Run, Chat, Batch and Sequential are blocking entry points. They refuse
//     contexts already driven by the agent scheduler (InScheduler) with
//     ErrReentrancy instead of nesting.
//   - ARun, RunParallel and RunSequential are scheduler-aware and may be
//     called from tools or other code running inside a run.
//   - Cancellation is observed between iterations, never mid tool call.
//
// Tool failures do not abort a run; they are fed back to the model as tool
// messages so it can correct itself.
package agent
