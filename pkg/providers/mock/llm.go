// Package mock provides a deterministic LLM adapter for tests and offline
// demos.
package mock

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/harunnryd/closer/pkg/configutil"
	"github.com/harunnryd/closer/pkg/llm"
)

// Rule turns a matching user utterance into a tool call. Named capture
// groups of Pattern become string arguments; Args are merged on top.
type Rule struct {
	Pattern string         `mapstructure:"pattern"`
	Tool    string         `mapstructure:"tool"`
	Args    map[string]any `mapstructure:"args"`
}

type LLMConfig struct {
	// Script is replayed in order before rules apply.
	Script       []llm.Response `mapstructure:"-"`
	ResponseText string         `mapstructure:"response_text"`
	Rules        []Rule         `mapstructure:"rules"`

	// EchoToolResults answers a tool round with the last tool output.
	EchoToolResults bool `mapstructure:"echo_tool_results"`
}

var SettingsSchema = configutil.Schema{
	Optional: []string{"response_text", "rules", "echo_tool_results"},
}

// ParseSettings validates and decodes a raw settings map.
func ParseSettings(raw map[string]any) (LLMConfig, error) {
	var cfg LLMConfig
	if err := configutil.ValidateAndDecode("vendors.llm.settings", raw, SettingsSchema, &cfg); err != nil {
		return LLMConfig{}, err
	}
	return cfg, nil
}

type compiledRule struct {
	re   *regexp.Regexp
	rule Rule
}

type LLMAdapter struct {
	cfg   LLMConfig
	rules []compiledRule

	mu    sync.Mutex
	pos   int
	calls []llm.Context
}

func NewLLMAdapter(cfg LLMConfig) (*LLMAdapter, error) {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "mock response"
	}
	a := &LLMAdapter{cfg: cfg}
	for _, r := range cfg.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, err
		}
		a.rules = append(a.rules, compiledRule{re: re, rule: r})
	}
	return a, nil
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	a.mu.Lock()
	a.calls = append(a.calls, input)
	if a.pos < len(a.cfg.Script) {
		resp := a.cfg.Script[a.pos]
		a.pos++
		a.mu.Unlock()
		return withCallIDs(resp), nil
	}
	a.mu.Unlock()

	last := lastMessage(input.Messages)
	if last.Role == llm.RoleTool && a.cfg.EchoToolResults {
		return llm.Response{Text: last.Content, FinishReason: "stop"}, nil
	}
	if last.Role == llm.RoleUser {
		if calls := a.match(last.Content); len(calls) > 0 {
			return llm.Response{ToolCalls: calls, FinishReason: "tool_calls"}, nil
		}
	}
	return llm.Response{Text: a.cfg.ResponseText, FinishReason: "stop"}, nil
}

// Calls returns the contexts the adapter has been asked to complete.
func (a *LLMAdapter) Calls() []llm.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Context(nil), a.calls...)
}

func (a *LLMAdapter) match(text string) []llm.ToolCall {
	var out []llm.ToolCall
	for _, cr := range a.rules {
		m := cr.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		args := map[string]any{}
		for i, name := range cr.re.SubexpNames() {
			if i == 0 || name == "" {
				continue
			}
			args[name] = strings.TrimSpace(m[i])
		}
		for k, v := range cr.rule.Args {
			args[k] = v
		}
		out = append(out, llm.ToolCall{ID: "call_" + uuid.NewString(), Name: cr.rule.Tool, Arguments: args})
	}
	return out
}

func withCallIDs(resp llm.Response) llm.Response {
	if len(resp.ToolCalls) == 0 {
		return resp
	}
	calls := make([]llm.ToolCall, len(resp.ToolCalls))
	for i, c := range resp.ToolCalls {
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()
		}
		calls[i] = c
	}
	resp.ToolCalls = calls
	return resp
}

func lastMessage(msgs []llm.Message) llm.Message {
	if len(msgs) == 0 {
		return llm.Message{}
	}
	return msgs[len(msgs)-1]
}

var _ llm.LLMAdapter = (*LLMAdapter)(nil)
