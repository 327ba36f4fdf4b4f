package agent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GCYYfun/MengLong-sub001/conversation"
	"github.com/GCYYfun/MengLong-sub001/core"
)

// RunParallel runs independent tasks concurrently, at most MaxConcurrency at
// a time. Results are index-aligned with tasks. A failing or panicking task
// yields a FAILED result without affecting its siblings.
func (a *Agent) RunParallel(ctx context.Context, tasks []Task) []*Result {
	ctx = WithScheduler(ctx)
	results := make([]*Result, len(tasks))

	var g errgroup.Group
	g.SetLimit(a.maxConc)

	for i, t := range tasks {
		g.Go(func() error {
			results[i] = a.safeRun(ctx, t, nil)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// RunSequential runs tasks one after another. Each task continues the
// conversation of the most recent task that completed, so later tasks see
// earlier answers; failed tasks do not affect the carried conversation.
func (a *Agent) RunSequential(ctx context.Context, tasks []Task) []*Result {
	ctx = WithScheduler(ctx)
	results := make([]*Result, len(tasks))

	var carried []core.Message
	for i, t := range tasks {
		res := a.safeRun(ctx, t, carried)
		results[i] = res
		if res.Succeeded() {
			carried = res.Messages
		}
	}

	return results
}

// safeRun converts setup errors and panics into FAILED results.
func (a *Agent) safeRun(ctx context.Context, t Task, prior []core.Message) (res *Result) {
	start := time.Now()
	fail := func(err error) *Result {
		return &Result{
			RunID:         core.NewID(),
			Task:          t.Prompt,
			Status:        StateFailed,
			ExecutionTime: time.Since(start),
			Error:         err.Error(),
			Err:           err,
		}
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("agent.run.panic", "agent", a.name, "task", t.Prompt, "recover", fmt.Sprint(r))
			res = fail(fmt.Errorf("panic: %v", r))
		}
	}()

	res, err := a.runTask(ctx, t, prior)
	if err != nil {
		return fail(err)
	}
	return res
}

// Reply is the outcome of one message of Batch or Sequential.
type Reply struct {
	Index   int     `json:"index"`
	Message string  `json:"message"`
	Content string  `json:"content"` // final answer, or "Error in message N: ..." on failure
	Result  *Result `json:"result,omitempty"`
	Err     error   `json:"-"`
}

func newReply(i int, message string, res *Result, err error) Reply {
	r := Reply{Index: i, Message: message, Result: res, Err: err}
	if err != nil {
		r.Content = fmt.Sprintf("Error in message %d: %v", i+1, err)
		return r
	}
	r.Content = res.FinalAnswer
	return r
}

// Batch answers messages concurrently, each on its own fork of the agent's
// conversation; the agent's conversation itself is not modified.
func (a *Agent) Batch(ctx context.Context, messages []string) ([]Reply, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}

	base := a.conv.Fork()
	replies := make([]Reply, len(messages))

	var g errgroup.Group
	g.SetLimit(a.maxConc)
	for i, msg := range messages {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					replies[i] = newReply(i, msg, nil, fmt.Errorf("panic: %v", r))
				}
			}()
			res, err := a.chatOn(ctx, base.Fork(), msg)
			replies[i] = newReply(i, msg, res, err)
			return nil
		})
	}
	_ = g.Wait()

	return replies, nil
}

// Sequential answers messages in order on the agent's own conversation, so
// each message sees the previous answers. It stops at the first failure,
// whose Reply is the last one returned.
func (a *Agent) Sequential(ctx context.Context, messages []string) ([]Reply, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}

	a.chatMu.Lock()
	defer a.chatMu.Unlock()

	return chatSequential(ctx, a, a.conv, messages), nil
}

// SequentialWith is Sequential on a caller-owned conversation.
func (a *Agent) SequentialWith(ctx context.Context, conv *conversation.Manager, messages []string) ([]Reply, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	return chatSequential(ctx, a, conv, messages), nil
}

func chatSequential(ctx context.Context, a *Agent, conv *conversation.Manager, messages []string) []Reply {
	replies := make([]Reply, 0, len(messages))
	for i, msg := range messages {
		res, err := a.chatOn(ctx, conv, msg)
		replies = append(replies, newReply(i, msg, res, err))
		if err != nil {
			break
		}
	}
	return replies
}

// Contents returns the Content of each reply.
func Contents(replies []Reply) []string {
	out := make([]string, len(replies))
	for i, r := range replies {
		out[i] = r.Content
	}
	return out
}
