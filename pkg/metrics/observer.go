package metrics

import "time"

// Event names emitted by the agent runtime.
const (
	EventBreakerOpen   = "llm_breaker_open"
	EventBreakerClose  = "llm_breaker_close"
	EventBreakerDenied = "llm_breaker_denied"
	EventRateLimit     = "llm_rate_limit"

	EventLLMGenerate       = "llm_generate"
	EventToolCall          = "tool_call"
	EventOutcomeTransition = "outcome_transition"
	EventSessionStart      = "session_start"
	EventSessionEnd        = "session_end"
	EventTranscriptWritten = "transcript_written"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
