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
	"github.com/harunnryd/closer/pkg/llm"
	"github.com/harunnryd/closer/pkg/logging"
	"github.com/harunnryd/closer/pkg/metrics"
	"github.com/harunnryd/closer/pkg/observers"
	"github.com/harunnryd/closer/pkg/redact"
	"github.com/harunnryd/closer/pkg/resilience"
	"github.com/harunnryd/closer/pkg/runner"
	"github.com/harunnryd/closer/pkg/transcript"
	"github.com/harunnryd/closer/pkg/transports"
)

// EngineOptions configures an Engine. Setup configures every new session;
// Observer receives metrics events in addition to the log observer; LLM, when
// set, replaces the adapter built from Providers.
type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Transport transports.Transport
	Setup     SessionSetup
	Observer  metrics.Observer
	LLM       llm.LLMAdapter
	Logger    *slog.Logger
}

// Engine routes transport events to sessions.
type Engine struct {
	cfg       Config
	registry  *SessionRegistry
	transport transports.Transport
	providers *ProviderRegistry
	llm       llm.LLMAdapter
	setup     SessionSetup
	asyncObs  *metrics.AsyncObserver
	base      *slog.Logger
	log       *slog.Logger
	runner    *runner.LifecycleRunner

	cancel     context.CancelFunc
	sessCtx    context.Context
	sessCancel context.CancelFunc
	routed     sync.WaitGroup
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	redact.SetEnabled(cfg.Privacy.RedactPII)
	log := logging.NewComponentLogger(opts.Logger, "engine")

	if opts.Transport == nil {
		return nil, errors.New("engine: missing transport")
	}
	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
	}

	obsList := []metrics.Observer{observers.NewLoggerObserver(log)}
	if opts.Observer != nil {
		obsList = append(obsList, opts.Observer)
	}
	asyncObs := metrics.NewAsyncObserver(observers.NewMultiObserver(obsList...), 2048)

	adapter := opts.LLM
	if adapter == nil {
		built, err := providers.BuildLLM(cfg.Vendors.LLM.Provider, cfg)
		if err != nil {
			asyncObs.Close()
			return nil, fmt.Errorf("engine: %w", err)
		}
		adapter = built
	}
	if cfg.LLM.UseCircuitBreaker {
		breaker := resilience.NewCircuitBreaker(cfg.LLM.CircuitThreshold, time.Duration(cfg.LLM.CircuitCooldownMS)*time.Millisecond)
		cb := llm.NewCircuitBreakerAdapter(adapter, breaker)
		cb.SetObserver(asyncObs)
		adapter = cb
	}

	log.Info("closer_init",
		"environment", cfg.Environment,
		"llm_provider", adapter.Name(),
		"transport", opts.Transport.Name(),
	)

	e := &Engine{
		cfg:       cfg,
		transport: opts.Transport,
		providers: providers,
		llm:       adapter,
		setup:     opts.Setup,
		asyncObs:  asyncObs,
		base:      opts.Logger,
		log:       log,
	}
	e.sessCtx, e.sessCancel = context.WithCancel(context.Background())
	e.registry = NewSessionRegistry(e.newSession)
	e.runner = runner.NewLifecycleRunner(runner.DrainerFunc(e.drain), runner.Hooks{
		OnStart: func() { log.Info("engine_running") },
		OnStop:  func() { log.Info("engine_stopped") },
	}, cfg.Session.DrainTimeout())
	return e, nil
}

func (e *Engine) newSession(ctx context.Context, info SessionInfo) (*Session, error) {
	sess := NewSession(info, SessionOptions{
		Config:   e.cfg,
		LLM:      e.llm,
		Observer: e.asyncObs,
		Logger:   logging.NewComponentLogger(e.base, "session"),
	})
	if e.setup != nil {
		if err := e.setup(ctx, sess); err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("session setup: %w", err), errorsx.ReasonSessionCreate)
		}
	}
	return sess, nil
}

// Start purges expired transcripts, starts the transport and begins routing.
// It returns once the engine is running. Cancelling ctx or calling Stop
// drains it: open sessions are closed and their transcripts written.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	if days := e.cfg.Transcripts.RetentionDays; days > 0 {
		removed, err := observers.PurgeArtifacts(e.cfg.Transcripts.Dir, transcript.FilePattern, time.Duration(days)*24*time.Hour)
		if err != nil {
			e.log.Warn("transcript_purge_failed", "error", err)
		}
		if removed > 0 {
			e.log.Info("transcript_purged", "removed", removed, "dir", e.cfg.Transcripts.Dir)
		}
	}
	if err := e.transport.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start transport: %w", err)
	}
	if rr, ok := e.transport.(transports.ReadyReporter); ok {
		var attrs []any
		for k, v := range rr.ReadyFields() {
			attrs = append(attrs, k, v)
		}
		e.log.Info("transport_ready", attrs...)
	}
	e.routed.Add(1)
	go e.route(runCtx)
	go func() {
		if err := e.runner.Run(runCtx); err != nil {
			e.log.Error("engine_stop_failed", "error", err)
		}
	}()
	return nil
}

// Stop drains sessions, writing their transcripts, and stops the transport.
func (e *Engine) Stop() error {
	err := e.runner.Stop()
	if e.cancel != nil {
		e.cancel()
	}
	return err
}

func (e *Engine) drain() error {
	e.registry.SetDraining(true)
	timeout := e.cfg.Session.DrainTimeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := e.registry.CloseAll(ctx)
	if err != nil {
		e.log.Error("engine_drain_errors", "error", err, "reason_codes", errorsx.Reasons(err))
	}
	if !e.registry.WaitForEmpty(ctx, 50*time.Millisecond) {
		e.log.Warn("engine_drain_incomplete", "sessions", e.registry.Count())
	}
	_ = e.transport.Stop()
	e.routed.Wait()
	e.sessCancel()
	e.asyncObs.Close()
	return err
}

func (e *Engine) route(ctx context.Context) {
	defer e.routed.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.transport.Recv():
			if !ok {
				return
			}
			e.handle(ctx, ev)
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev transports.Event) {
	if ev.SessionID == "" {
		return
	}
	switch ev.Kind {
	case transports.EventSessionStart:
		info := SessionInfo{ID: ev.SessionID, Room: ev.Room, TraceID: ev.TraceID}
		sess, created, err := e.registry.GetOrCreate(ctx, info)
		if err != nil {
			e.log.Error("session_create_failed", "session_id", ev.SessionID, "error", err, "reason_code", string(errorsx.Reason(err)))
			return
		}
		if created {
			sess.Start(e.sessCtx, e.replyFunc(sess.ID()), e.cfg.Session.Greeting)
		}
	case transports.EventUserText:
		sess, ok := e.registry.Get(ev.SessionID)
		if !ok {
			e.log.Warn("session_not_found", "session_id", ev.SessionID)
			return
		}
		if err := sess.Submit(strings.TrimSpace(ev.Text)); err != nil {
			e.log.Warn("session_submit_failed", "session_id", ev.SessionID, "error", err)
		}
	case transports.EventSessionEnd:
		go e.closeSession(ev.SessionID, ev.Reason)
	}
}

func (e *Engine) replyFunc(id string) ReplyFunc {
	return func(text string, final bool) {
		if err := e.transport.Send(transports.Reply{SessionID: id, Text: text, Final: final}); err != nil {
			e.log.Warn("reply_send_failed", "session_id", id, "error", err, "reason_code", string(errorsx.Reason(err)))
		}
		if final {
			go e.closeSession(id, "end_condition")
		}
	}
}

func (e *Engine) closeSession(id, reason string) {
	if err := e.registry.Remove(context.Background(), id); err != nil {
		e.log.Error("session_close_failed", "session_id", id, "reason", reason, "error", err, "reason_code", string(errorsx.Reason(err)))
		return
	}
	e.log.Debug("session_removed", "session_id", id, "reason", reason)
}

func (e *Engine) Registry() *SessionRegistry          { return e.registry }
func (e *Engine) Transport() transports.Transport     { return e.transport }
func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }
func (e *Engine) Config() Config                      { return e.cfg }
func (e *Engine) State() runner.State                 { return e.runner.State() }

func (e *Engine) Health() error {
	if e.registry.Draining() {
		return errors.New("engine draining")
	}
	return nil
}
