package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/harunnryd/closer/pkg/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Vendors:    VendorsConfig{LLM: VendorConfig{Provider: "mock"}},
		Transports: TransportsConfig{Provider: "mock"},
		LLM:        LLMConfig{RetryAttempts: 1, RetryBaseDelayMS: 1},
		Session: SessionConfig{
			FallbackText:      "fallback",
			QueueSize:         8,
			ShutdownTimeoutMS: 2000,
			DrainTimeoutMS:    2000,
		},
		Tools:   ToolsConfig{TimeoutMS: 500, Retries: 0, RetryBackoffMS: 1, MaxRounds: 3},
		Context: ContextConfig{MaxHistory: 40},
	}
}

// funcLLM answers every request through fn.
type funcLLM struct {
	mu    sync.Mutex
	fn    func(n int, input llm.Context) (llm.Response, error)
	calls []llm.Context
}

func (f *funcLLM) Name() string { return "func_llm" }

func (f *funcLLM) Generate(_ context.Context, input llm.Context) (llm.Response, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, input)
	f.mu.Unlock()
	return f.fn(n, input)
}

func (f *funcLLM) Calls() []llm.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Context(nil), f.calls...)
}

var errBoom = errors.New("boom")

// stubTools serves one tool per handler entry.
type stubTools struct {
	mu       sync.Mutex
	handlers map[string]func(ctx context.Context, args map[string]any) (string, error)
	calls    []string
}

func (s *stubTools) Tools() []llm.Tool {
	var out []llm.Tool
	for name := range s.handlers {
		out = append(out, llm.Tool{Name: name, Schema: map[string]any{"type": "object"}})
	}
	return out
}

func (s *stubTools) HandleTool(ctx context.Context, name string, args map[string]any) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	fn := s.handlers[name]
	s.mu.Unlock()
	if fn == nil {
		return "", llm.ErrUnknownTool
	}
	return fn(ctx, args)
}

func (s *stubTools) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}
