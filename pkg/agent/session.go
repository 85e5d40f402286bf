package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/closer/pkg/errorsx"
	"github.com/harunnryd/closer/pkg/history"
	"github.com/harunnryd/closer/pkg/llm"
	"github.com/harunnryd/closer/pkg/metrics"
	"github.com/harunnryd/closer/pkg/resilience"
)

type SessionInfo struct {
	ID      string
	Room    string
	TraceID string
}

// SessionSetup configures a new session before its first turn: instructions,
// tools, userdata, end condition and shutdown hooks.
type SessionSetup func(ctx context.Context, s *Session) error

// ReplyFunc delivers an agent utterance. final is true once the session's end
// condition holds.
type ReplyFunc func(text string, final bool)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrQueueFull     = errors.New("session queue full")
	ErrNoLLM         = errors.New("no llm adapter configured")
)

type SessionOptions struct {
	Config   Config
	LLM      llm.LLMAdapter
	Observer metrics.Observer
	Logger   *slog.Logger
}

// Session is one conversation. User turns are processed one at a time by the
// session worker; tool calls within a turn run sequentially.
type Session struct {
	info    SessionInfo
	cfg     Config
	llm     llm.LLMAdapter
	obs     metrics.Observer
	log     *slog.Logger
	history *history.History
	created time.Time

	instructions string
	tools        llm.ToolRegistry
	dispatcher   *ToolDispatcher
	limiter      ReplyLimiter
	userdata     any
	endCond      func() bool

	turnMu sync.Mutex

	hooksMu  sync.Mutex
	shutdown []func(context.Context) error

	inMu    sync.Mutex
	inbox   chan string
	closed  bool
	started bool
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func NewSession(info SessionInfo, opts SessionOptions) *Session {
	obs := opts.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	queue := opts.Config.Session.QueueSize
	if queue <= 0 {
		queue = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		info:    info,
		cfg:     opts.Config,
		llm:     opts.LLM,
		obs:     obs,
		log:     log.With("session_id", info.ID, "room", info.Room, "trace_id", info.TraceID),
		history: history.New(),
		created: time.Now(),
		limiter: ReplyLimiter{MaxChars: opts.Config.Session.MaxReplyChars, MaxSentences: opts.Config.Session.MaxReplySentences},
		inbox:   make(chan string, queue),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Session) ID() string                 { return s.info.ID }
func (s *Session) Room() string               { return s.info.Room }
func (s *Session) TraceID() string            { return s.info.TraceID }
func (s *Session) Info() SessionInfo          { return s.info }
func (s *Session) History() *history.History  { return s.history }
func (s *Session) Logger() *slog.Logger       { return s.log }
func (s *Session) Observer() metrics.Observer { return s.obs }

func (s *Session) SetInstructions(text string) { s.instructions = text }

func (s *Session) Instructions() string { return s.instructions }

// SetTools binds the session's tool registry.
func (s *Session) SetTools(reg llm.ToolRegistry) {
	s.tools = reg
	s.dispatcher = NewToolDispatcher(reg, toolOptionsFromConfig(s.cfg.Tools), s.obs, s.log)
	s.dispatcher.SetTags(map[string]string{"session_id": s.info.ID})
}

func (s *Session) SetUserdata(v any) { s.userdata = v }

func (s *Session) Userdata() any { return s.userdata }

// OnShutdown registers fn to run when the session closes. Callbacks run once,
// in registration order, after the worker has exited.
func (s *Session) OnShutdown(fn func(context.Context) error) {
	if fn == nil {
		return
	}
	s.hooksMu.Lock()
	s.shutdown = append(s.shutdown, fn)
	s.hooksMu.Unlock()
}

func (s *Session) SetEndCondition(fn func() bool) { s.endCond = fn }

// Ended reports whether the end condition holds.
func (s *Session) Ended() bool {
	return s.endCond != nil && s.endCond()
}

// Start launches the session worker. The greeting, when set, is generated
// before any user input is processed.
func (s *Session) Start(ctx context.Context, out ReplyFunc, greeting string) {
	s.inMu.Lock()
	if s.started || s.closed {
		s.inMu.Unlock()
		return
	}
	s.started = true
	s.inMu.Unlock()

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.cancel()
			case <-s.done:
			}
		}()
	}
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventSessionStart,
		Time: time.Now(),
		Tags: map[string]string{"session_id": s.info.ID, "room": s.info.Room},
	})
	s.log.Info("session_started")
	go s.run(out, greeting)
}

// Submit queues a user utterance for the worker.
func (s *Session) Submit(text string) error {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.inbox <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Session) run(out ReplyFunc, greeting string) {
	defer close(s.done)
	if strings.TrimSpace(greeting) != "" {
		reply, err := s.GenerateReply(s.ctx, greeting)
		s.deliver(out, reply, err)
	}
	for text := range s.inbox {
		if s.Ended() {
			s.log.Debug("session_input_after_end_dropped")
			continue
		}
		reply, err := s.HandleUserText(s.ctx, text)
		s.deliver(out, reply, err)
	}
}

func (s *Session) deliver(out ReplyFunc, reply string, err error) {
	if err != nil {
		s.log.Error("session_turn_failed", "error", err, "reason_code", string(errorsx.Reason(err)))
	}
	ended := s.Ended()
	if out == nil || (reply == "" && !ended) {
		return
	}
	out(reply, ended)
}

// GenerateReply produces an agent turn without user input, steered by
// instructions that are not stored in the history.
func (s *Session) GenerateReply(ctx context.Context, instructions string) (string, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	return s.runTurn(ctx, instructions)
}

// HandleUserText appends a user turn and returns the agent's answer. Tool
// calls requested by the model are executed in order until it answers with
// text or tools.max_rounds is reached. On model failure the configured
// fallback text is returned together with the error.
func (s *Session) HandleUserText(ctx context.Context, text string) (string, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	s.history.AddMessage(llm.RoleUser, text)
	return s.runTurn(ctx, "")
}

func (s *Session) runTurn(ctx context.Context, extra string) (string, error) {
	maxRounds := s.cfg.Tools.MaxRounds
	if maxRounds < 1 {
		maxRounds = 1
	}
	var spoken []string
	for round := 0; ; round++ {
		input := llm.Context{Messages: s.messages(extra)}
		if s.tools != nil && round < maxRounds {
			input.Tools = s.tools.Tools()
		}
		resp, err := s.generate(ctx, input)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return s.fallback(spoken), err
		}
		text := strings.TrimSpace(resp.Text)
		if len(resp.ToolCalls) == 0 || len(input.Tools) == 0 {
			if text == "" {
				s.log.Warn("llm_empty_reply", "round", round)
				return s.fallback(spoken), nil
			}
			if limited, cut := s.limiter.Apply(text); cut {
				s.log.Debug("reply_truncated", "original_chars", len([]rune(text)))
				text = limited
			}
			s.history.AddMessage(llm.RoleAssistant, text)
			return strings.Join(append(spoken, text), " "), nil
		}
		if text != "" {
			s.history.AddMessage(llm.RoleAssistant, text)
			spoken = append(spoken, text)
		}
		for _, call := range resp.ToolCalls {
			s.history.AddFunctionCall(call)
			res := s.dispatcher.Call(ctx, call)
			if res.Err != nil {
				s.log.Warn("tool_call_failed", "tool_name", call.Name, "error", res.Err, "reason_code", string(errorsx.Reason(res.Err)))
			}
			s.history.AddFunctionOutput(call.ID, call.Name, res.Output, res.Err != nil)
		}
	}
}

func (s *Session) fallback(spoken []string) string {
	text := strings.TrimSpace(s.cfg.Session.FallbackText)
	if text == "" {
		return strings.Join(spoken, " ")
	}
	s.history.AddMessage(llm.RoleAssistant, text)
	return strings.Join(append(spoken, text), " ")
}

func (s *Session) messages(extra string) []llm.Message {
	var msgs []llm.Message
	if s.instructions != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: s.instructions})
	}
	msgs = append(msgs, s.history.Messages(s.cfg.Context.MaxHistory)...)
	if extra != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: extra})
	}
	return msgs
}

func (s *Session) generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	if s.llm == nil {
		return llm.Response{}, errorsx.Wrap(ErrNoLLM, errorsx.ReasonLLMGenerate)
	}
	start := time.Now()
	resp, err := llm.Retry(ctx, llm.RetryConfig{
		MaxAttempts: s.cfg.LLM.RetryAttempts,
		BaseDelay:   time.Duration(s.cfg.LLM.RetryBaseDelayMS) * time.Millisecond,
		Jitter:      0.2,
	}, func(ctx context.Context) (llm.Response, error) {
		return s.llm.Generate(ctx, input)
	})
	status := "ok"
	if err != nil {
		status = "error"
		reason := errorsx.ReasonLLMGenerate
		if resilience.IsRateLimit(err) {
			reason = errorsx.ReasonLLMRateLimit
		}
		err = errorsx.Wrap(fmt.Errorf("llm generate: %w", err), reason)
	}
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventLLMGenerate,
		Time:  time.Now(),
		Value: float64(time.Since(start).Milliseconds()),
		Tags: map[string]string{
			"session_id": s.info.ID,
			"provider":   s.llm.Name(),
			"status":     status,
		},
		Fields: map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"tool_calls":        len(resp.ToolCalls),
		},
	})
	return resp, err
}

// Close stops the worker, waits for the turn in progress, then runs the
// shutdown callbacks under session.shutdown_timeout_ms. Errors from callbacks
// are logged and joined. Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close(ctx)
	})
	return s.closeErr
}

func (s *Session) close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := s.cfg.Session.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s.inMu.Lock()
	s.closed = true
	close(s.inbox)
	started := s.started
	s.inMu.Unlock()

	if started {
		wait := time.NewTimer(timeout)
		select {
		case <-s.done:
		case <-ctx.Done():
			s.cancel()
			<-s.done
		case <-wait.C:
			s.log.Warn("session_worker_stop_timeout")
			s.cancel()
			<-s.done
		}
		wait.Stop()
	}
	s.cancel()

	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	s.hooksMu.Lock()
	hooks := append([]func(context.Context) error(nil), s.shutdown...)
	s.hooksMu.Unlock()
	var errs error
	for i, fn := range hooks {
		if err := fn(hookCtx); err != nil {
			err = errorsx.Wrap(err, errorsx.ReasonShutdownHook)
			s.log.Error("session_shutdown_hook_failed", "hook", i, "error", err, "reason_code", string(errorsx.Reason(err)))
			errs = errors.Join(errs, err)
		}
	}
	s.history.Close()

	s.log.Info("session_closed", "duration_ms", time.Since(s.created).Milliseconds())
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventSessionEnd,
		Time:  time.Now(),
		Value: float64(time.Since(s.created).Milliseconds()),
		Tags:  map[string]string{"session_id": s.info.ID, "room": s.info.Room},
	})
	return errs
}
