package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonLLMGenerate  ReasonCode = "llm_generate"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	ReasonToolTimeout ReasonCode = "tool_timeout"
	ReasonToolFailed  ReasonCode = "tool_failed"

	ReasonHistoryRead     ReasonCode = "history_read"
	ReasonTranscriptWrite ReasonCode = "transcript_write"

	ReasonSessionCreate   ReasonCode = "session_create"
	ReasonShutdownHook    ReasonCode = "shutdown_hook"
	ReasonTransportSend   ReasonCode = "transport_send"
	ReasonTransportDecode ReasonCode = "transport_decode"
)
