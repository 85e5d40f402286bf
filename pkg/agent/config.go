package agent

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/closer/pkg/outcome"
)

type Config struct {
	Vendors     VendorsConfig      `mapstructure:"vendors"`
	Transports  TransportsConfig   `mapstructure:"transports"`
	LLM         LLMConfig          `mapstructure:"llm"`
	Session     SessionConfig      `mapstructure:"session"`
	Tools       ToolsConfig        `mapstructure:"tools"`
	Context     ContextConfig      `mapstructure:"context"`
	Transcripts TranscriptsConfig  `mapstructure:"transcripts"`
	Sales       SalesConfig        `mapstructure:"sales"`
	Agent       AgentProfileConfig `mapstructure:"agent"`
	Privacy     PrivacyConfig      `mapstructure:"privacy"`
	Environment string             `mapstructure:"environment"`
	LogLevel    string             `mapstructure:"log_level"`
	LogFormat   string             `mapstructure:"log_format"`
	BasePrompt  string             `mapstructure:"base_prompt"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	LLM VendorConfig `mapstructure:"llm"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

// LLMConfig tunes the retry and circuit breaking wrapped around the provider.
type LLMConfig struct {
	RetryAttempts     int  `mapstructure:"retry_attempts"`
	RetryBaseDelayMS  int  `mapstructure:"retry_base_delay_ms"`
	UseCircuitBreaker bool `mapstructure:"use_circuit_breaker"`
	CircuitThreshold  int  `mapstructure:"circuit_threshold"`
	CircuitCooldownMS int  `mapstructure:"circuit_cooldown_ms"`
}

type SessionConfig struct {
	Greeting          string `mapstructure:"greeting"`
	FallbackText      string `mapstructure:"fallback_text"`
	QueueSize         int    `mapstructure:"queue_size"`
	ShutdownTimeoutMS int    `mapstructure:"shutdown_timeout_ms"`
	DrainTimeoutMS    int    `mapstructure:"drain_timeout_ms"`

	// Spoken reply limits. Zero disables a limit.
	MaxReplyChars     int `mapstructure:"max_reply_chars"`
	MaxReplySentences int `mapstructure:"max_reply_sentences"`
}

type ToolsConfig struct {
	TimeoutMS      int `mapstructure:"timeout_ms"`
	Retries        int `mapstructure:"retries"`
	RetryBackoffMS int `mapstructure:"retry_backoff_ms"`
	MaxRounds      int `mapstructure:"max_rounds"`
}

type ContextConfig struct {
	MaxHistory int `mapstructure:"max_history"`
}

type TranscriptsConfig struct {
	Dir           string `mapstructure:"dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type ProductConfig struct {
	ID          int     `mapstructure:"id"`
	Name        string  `mapstructure:"name"`
	Description string  `mapstructure:"description"`
	Price       float64 `mapstructure:"price"`
	Discount    float64 `mapstructure:"discount"`
}

type SalesConfig struct {
	Product ProductConfig   `mapstructure:"product"`
	Prompts outcome.Prompts `mapstructure:"prompts"`
}

type AgentProfileConfig struct {
	Persona string `mapstructure:"persona"`
	Style   string `mapstructure:"style"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func (c SessionConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

func (c SessionConfig) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutMS) * time.Millisecond
}

// LoadConfig reads a YAML config file. Values may reference environment
// variables as ${NAME}; keys can be overridden with CLOSER_<KEY> variables,
// e.g. CLOSER_LOG_LEVEL or CLOSER_SESSION_SHUTDOWN_TIMEOUT_MS.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("closer")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("vendors.llm.provider", "openai")
	v.SetDefault("transports.provider", "websocket")
	v.SetDefault("llm.retry_attempts", 2)
	v.SetDefault("llm.retry_base_delay_ms", 250)
	v.SetDefault("llm.use_circuit_breaker", true)
	v.SetDefault("llm.circuit_threshold", 3)
	v.SetDefault("llm.circuit_cooldown_ms", 30000)
	v.SetDefault("session.greeting", "Greet the user and offer your assistance.")
	v.SetDefault("session.fallback_text", "Sorry, I'm having trouble right now. Could you say that again?")
	v.SetDefault("session.queue_size", 16)
	v.SetDefault("session.shutdown_timeout_ms", 10000)
	v.SetDefault("session.drain_timeout_ms", 15000)
	v.SetDefault("session.max_reply_chars", 0)
	v.SetDefault("session.max_reply_sentences", 0)
	v.SetDefault("tools.timeout_ms", 6000)
	v.SetDefault("tools.retries", 1)
	v.SetDefault("tools.retry_backoff_ms", 200)
	v.SetDefault("tools.max_rounds", 4)
	v.SetDefault("context.max_history", 40)
	v.SetDefault("transcripts.dir", "logs")
	v.SetDefault("transcripts.retention_days", 0)
	v.SetDefault("sales.product.id", 9)
	v.SetDefault("sales.product.name", "Bluetooth Speaker")
	v.SetDefault("sales.product.description", "Portable Bluetooth speaker with 360-degree sound and waterproof design")
	v.SetDefault("sales.product.price", 89.99)
	v.SetDefault("sales.product.discount", 30)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if c.Tools.MaxRounds < 1 {
		return fmt.Errorf("tools.max_rounds must be at least 1, got %d", c.Tools.MaxRounds)
	}
	if c.Session.ShutdownTimeoutMS <= 0 {
		return fmt.Errorf("session.shutdown_timeout_ms must be positive, got %d", c.Session.ShutdownTimeoutMS)
	}
	if c.Session.MaxReplyChars < 0 || c.Session.MaxReplySentences < 0 {
		return fmt.Errorf("session reply limits must not be negative")
	}
	if c.Transcripts.RetentionDays < 0 {
		return fmt.Errorf("transcripts.retention_days must not be negative")
	}
	if c.Sales.Product.Discount < 0 || c.Sales.Product.Discount > 100 {
		return fmt.Errorf("sales.product.discount must be between 0 and 100, got %v", c.Sales.Product.Discount)
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
