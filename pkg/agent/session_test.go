package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/closer/pkg/errorsx"
	"github.com/harunnryd/closer/pkg/history"
	"github.com/harunnryd/closer/pkg/llm"
	"github.com/harunnryd/closer/pkg/metrics"
	mockllm "github.com/harunnryd/closer/pkg/providers/mock"
)

func newTestSession(t *testing.T, cfg Config, adapter llm.LLMAdapter) *Session {
	t.Helper()
	sess := NewSession(SessionInfo{ID: "s1", Room: "room-1", TraceID: "trace-1"}, SessionOptions{
		Config:   cfg,
		LLM:      adapter,
		Observer: &metrics.MemoryObserver{},
		Logger:   testLogger(),
	})
	t.Cleanup(func() { _ = sess.Close(context.Background()) })
	return sess
}

func TestSessionRunsToolLoop(t *testing.T) {
	adapter, err := mockllm.NewLLMAdapter(mockllm.LLMConfig{Script: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "record_name", Arguments: map[string]any{"name": "Alice"}}}},
		{Text: "Thanks Alice, what's your phone number?"},
	}})
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	tools := &stubTools{handlers: map[string]func(context.Context, map[string]any) (string, error){
		"record_name": func(context.Context, map[string]any) (string, error) { return "ask for phone", nil },
	}}
	sess := newTestSession(t, testConfig(), adapter)
	sess.SetInstructions("sell the speaker")
	sess.SetTools(tools)

	reply, err := sess.HandleUserText(context.Background(), "I'm Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Thanks Alice, what's your phone number?" {
		t.Fatalf("unexpected reply %q", reply)
	}

	items := sess.History().Items()
	wantTypes := []history.ItemType{history.ItemMessage, history.ItemFunctionCall, history.ItemFunctionCallOutput, history.ItemMessage}
	if len(items) != len(wantTypes) {
		t.Fatalf("expected %d history items, got %d", len(wantTypes), len(items))
	}
	for i, it := range items {
		if it.Type != wantTypes[i] {
			t.Fatalf("item %d: expected %s, got %s", i, wantTypes[i], it.Type)
		}
	}
	if items[2].Output != "ask for phone" || items[2].CallID != "call_1" {
		t.Fatalf("unexpected tool output item %+v", items[2])
	}

	calls := adapter.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected two model calls, got %d", len(calls))
	}
	if calls[0].Messages[0].Role != llm.RoleSystem || calls[0].Messages[0].Content != "sell the speaker" {
		t.Fatalf("expected instructions first, got %+v", calls[0].Messages[0])
	}
	last := calls[1].Messages[len(calls[1].Messages)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "call_1" {
		t.Fatalf("expected tool result in second round, got %+v", last)
	}
}

func TestSessionFallbackOnLLMError(t *testing.T) {
	adapter := &funcLLM{fn: func(int, llm.Context) (llm.Response, error) {
		return llm.Response{}, errBoom
	}}
	sess := newTestSession(t, testConfig(), adapter)

	reply, err := sess.HandleUserText(context.Background(), "hello")
	if reply != "fallback" {
		t.Fatalf("expected fallback reply, got %q", reply)
	}
	if !errors.Is(err, errBoom) || !errorsx.HasReason(err, errorsx.ReasonLLMGenerate) {
		t.Fatalf("expected llm_generate error, got %v", err)
	}
	items := sess.History().Items()
	if len(items) != 2 || items[1].Content[0] != "fallback" {
		t.Fatalf("expected fallback stored in history, got %+v", items)
	}
}

func TestSessionStopsOfferingToolsAfterMaxRounds(t *testing.T) {
	adapter := &funcLLM{fn: func(n int, input llm.Context) (llm.Response, error) {
		if len(input.Tools) == 0 {
			return llm.Response{Text: "final answer"}, nil
		}
		return llm.Response{ToolCalls: []llm.ToolCall{{ID: "c", Name: "noop"}}}, nil
	}}
	tools := &stubTools{handlers: map[string]func(context.Context, map[string]any) (string, error){
		"noop": func(context.Context, map[string]any) (string, error) { return "ok", nil },
	}}
	cfg := testConfig()
	cfg.Tools.MaxRounds = 2
	sess := newTestSession(t, cfg, adapter)
	sess.SetTools(tools)

	reply, err := sess.HandleUserText(context.Background(), "loop")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "final answer" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if got := len(tools.Calls()); got != 2 {
		t.Fatalf("expected 2 tool calls, got %d", got)
	}
	if got := len(adapter.Calls()); got != 3 {
		t.Fatalf("expected 3 model calls, got %d", got)
	}
}

func TestSessionKeepsPreambleText(t *testing.T) {
	adapter := &funcLLM{fn: func(n int, input llm.Context) (llm.Response, error) {
		if n == 0 {
			return llm.Response{Text: "One moment.", ToolCalls: []llm.ToolCall{{ID: "c", Name: "noop"}}}, nil
		}
		return llm.Response{Text: "Done."}, nil
	}}
	tools := &stubTools{handlers: map[string]func(context.Context, map[string]any) (string, error){
		"noop": func(context.Context, map[string]any) (string, error) { return "ok", nil },
	}}
	sess := newTestSession(t, testConfig(), adapter)
	sess.SetTools(tools)

	reply, err := sess.HandleUserText(context.Background(), "go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "One moment. Done." {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestSessionEmptyReplyUsesFallback(t *testing.T) {
	adapter := &funcLLM{fn: func(int, llm.Context) (llm.Response, error) {
		return llm.Response{Text: "  "}, nil
	}}
	sess := newTestSession(t, testConfig(), adapter)
	reply, err := sess.HandleUserText(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "fallback" {
		t.Fatalf("expected fallback, got %q", reply)
	}
}

func TestSessionWorkerDeliversGreetingAndFinalReply(t *testing.T) {
	ended := false
	adapter := &funcLLM{fn: func(n int, input llm.Context) (llm.Response, error) {
		if n == 0 {
			return llm.Response{Text: "Hello!"}, nil
		}
		ended = true
		return llm.Response{Text: "Goodbye."}, nil
	}}
	sess := newTestSession(t, testConfig(), adapter)
	sess.SetEndCondition(func() bool { return ended })

	type delivery struct {
		text  string
		final bool
	}
	var (
		mu  sync.Mutex
		got []delivery
	)
	done := make(chan struct{}, 4)
	sess.Start(context.Background(), func(text string, final bool) {
		mu.Lock()
		got = append(got, delivery{text, final})
		mu.Unlock()
		done <- struct{}{}
	}, "greet the user")

	waitDelivery(t, done)
	if err := sess.Submit("no thanks"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitDelivery(t, done)
	if err := sess.Submit("are you there?"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := sess.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []delivery{{"Hello!", false}, {"Goodbye.", true}}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if n := len(adapter.Calls()); n != 2 {
		t.Fatalf("expected input after end to be dropped, got %d model calls", n)
	}
	greeting := adapter.Calls()[0].Messages
	if greeting[len(greeting)-1].Content != "greet the user" {
		t.Fatalf("expected greeting instructions, got %+v", greeting)
	}
	if err := sess.Submit("late"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func waitDelivery(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reply")
	}
}

func TestSessionCloseRunsHooksOnceInOrder(t *testing.T) {
	sess := newTestSession(t, testConfig(), &funcLLM{fn: func(int, llm.Context) (llm.Response, error) {
		return llm.Response{Text: "hi"}, nil
	}})
	sess.History().AddMessage(llm.RoleUser, "hello")

	var order []string
	var exported any
	sess.OnShutdown(func(context.Context) error {
		order = append(order, "first")
		doc, err := sess.History().Export()
		exported = doc
		return err
	})
	sess.OnShutdown(func(context.Context) error {
		order = append(order, "second")
		return errBoom
	})
	sess.OnShutdown(func(ctx context.Context) error {
		order = append(order, "third")
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("expected hook deadline")
		}
		return nil
	})

	err := sess.Close(context.Background())
	if !errors.Is(err, errBoom) || !errorsx.HasReason(err, errorsx.ReasonShutdownHook) {
		t.Fatalf("expected joined shutdown_hook error, got %v", err)
	}
	if strings.Join(order, ",") != "first,second,third" {
		t.Fatalf("unexpected hook order %v", order)
	}
	if doc, ok := exported.(history.Document); !ok || len(doc.Items) != 1 {
		t.Fatalf("expected history available to hooks, got %#v", exported)
	}
	if _, err := sess.History().Export(); !errors.Is(err, history.ErrClosed) {
		t.Fatalf("expected history closed after shutdown, got %v", err)
	}

	_ = sess.Close(context.Background())
	if len(order) != 3 {
		t.Fatalf("expected hooks to run once, got %v", order)
	}
}

func TestSessionSubmitQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.Session.QueueSize = 1
	sess := newTestSession(t, cfg, &funcLLM{fn: func(int, llm.Context) (llm.Response, error) {
		return llm.Response{Text: "hi"}, nil
	}})
	if err := sess.Submit("one"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := sess.Submit("two"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestSessionWithoutLLM(t *testing.T) {
	sess := newTestSession(t, testConfig(), nil)
	reply, err := sess.HandleUserText(context.Background(), "hi")
	if !errors.Is(err, ErrNoLLM) {
		t.Fatalf("expected ErrNoLLM, got %v", err)
	}
	if reply != "fallback" {
		t.Fatalf("expected fallback, got %q", reply)
	}
}

func TestSessionLimitsSpokenReply(t *testing.T) {
	cfg := testConfig()
	cfg.Session.MaxReplySentences = 1
	sess := newTestSession(t, cfg, &funcLLM{fn: func(int, llm.Context) (llm.Response, error) {
		return llm.Response{Text: "It is waterproof. It also floats. Want one?"}, nil
	}})
	reply, err := sess.HandleUserText(context.Background(), "tell me more")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "It is waterproof." {
		t.Fatalf("unexpected reply %q", reply)
	}
	items := sess.History().Items()
	if got := items[len(items)-1].Content[0]; got != "It is waterproof." {
		t.Fatalf("expected stored reply to match spoken reply, got %q", got)
	}
}
