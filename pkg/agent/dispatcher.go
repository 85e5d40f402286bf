package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/closer/pkg/errorsx"
	"github.com/harunnryd/closer/pkg/llm"
	"github.com/harunnryd/closer/pkg/metrics"
	"github.com/harunnryd/closer/pkg/resilience"
)

const (
	ToolStatusOK      = "ok"
	ToolStatusError   = "error"
	ToolStatusTimeout = "timeout"
)

var ErrToolTimeout = errors.New("tool timeout")

type ToolDispatcherOptions struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}

func toolOptionsFromConfig(cfg ToolsConfig) ToolDispatcherOptions {
	return ToolDispatcherOptions{
		Timeout:      time.Duration(cfg.TimeoutMS) * time.Millisecond,
		Retries:      cfg.Retries,
		RetryBackoff: time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
	}
}

// ToolResult is the outcome of one tool call as reported back to the model.
type ToolResult struct {
	CallID   string
	Name     string
	Output   string
	Status   string
	Err      error
	Duration time.Duration
}

// ToolDispatcher executes the tool calls of one session. Calls never overlap:
// a call that times out keeps the registry locked until its handler returns.
type ToolDispatcher struct {
	registry llm.ToolRegistry
	opts     ToolDispatcherOptions
	obs      metrics.Observer
	log      *slog.Logger
	tags     map[string]string

	mu sync.Mutex
}

func NewToolDispatcher(registry llm.ToolRegistry, opts ToolDispatcherOptions, obs metrics.Observer, log *slog.Logger) *ToolDispatcher {
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 150 * time.Millisecond
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &ToolDispatcher{registry: registry, opts: opts, obs: obs, log: log}
}

// SetTags adds tags to every tool_call metrics event. Call before use.
func (d *ToolDispatcher) SetTags(tags map[string]string) {
	d.tags = tags
}

func (d *ToolDispatcher) Call(ctx context.Context, call llm.ToolCall) ToolResult {
	start := time.Now()
	res := ToolResult{CallID: call.ID, Name: call.Name, Status: ToolStatusOK}
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}

	policy := resilience.NewRetryPolicy(d.opts.Retries, d.opts.RetryBackoff)
	err := policy.Do(ctx, retryableToolError, func(ctx context.Context) error {
		out, err := d.callWithTimeout(ctx, call.Name, args)
		if err != nil {
			return err
		}
		res.Output = out
		return nil
	})
	res.Duration = time.Since(start)
	if err != nil {
		res.Status = ToolStatusError
		reason := errorsx.ReasonToolFailed
		if errors.Is(err, ErrToolTimeout) {
			res.Status = ToolStatusTimeout
			reason = errorsx.ReasonToolTimeout
		}
		res.Err = errorsx.Wrap(fmt.Errorf("tool %s: %w", call.Name, err), reason)
		res.Output = "error: " + err.Error()
	}

	d.log.Info("tool_dispatch_done",
		"tool_name", call.Name,
		"tool_call_id", call.ID,
		"status", res.Status,
		"duration_ms", res.Duration.Milliseconds(),
	)
	tags := map[string]string{"tool_name": call.Name, "status": res.Status}
	for k, v := range d.tags {
		tags[k] = v
	}
	d.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventToolCall,
		Time:  time.Now(),
		Value: float64(res.Duration.Milliseconds()),
		Tags:  tags,
	})
	return res
}

func (d *ToolDispatcher) callWithTimeout(ctx context.Context, name string, args map[string]any) (string, error) {
	if d.registry == nil {
		return "", errors.New("missing registry")
	}
	if d.opts.Timeout <= 0 {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.registry.HandleTool(ctx, name, args)
	}
	type result struct {
		text string
		err  error
	}
	callCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	ch := make(chan result, 1)
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		res, err := d.registry.HandleTool(callCtx, name, args)
		ch <- result{text: res, err: err}
	}()
	select {
	case out := <-ch:
		return out.text, out.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", ErrToolTimeout
	}
}

func retryableToolError(err error) bool {
	switch {
	case errors.Is(err, llm.ErrInvalidArguments), errors.Is(err, llm.ErrUnknownTool):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
