// Package openai provides an LLM adapter backed by the OpenAI chat
// completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/harunnryd/closer/pkg/configutil"
	"github.com/harunnryd/closer/pkg/llm"
	"github.com/harunnryd/closer/pkg/resilience"
)

const DefaultModel = "gpt-4o-mini"

// Settings is the vendors.llm.settings block for the openai provider.
type Settings struct {
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	BaseURL      string        `mapstructure:"base_url"`
	Organization string        `mapstructure:"organization"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   *int          `mapstructure:"max_retries"`
	Temperature  float64       `mapstructure:"temperature"`
}

var SettingsSchema = configutil.Schema{
	Required: []string{"api_key"},
	Optional: []string{"model", "base_url", "organization", "timeout", "max_retries", "temperature"},
}

// ParseSettings validates and decodes a raw settings map.
func ParseSettings(raw map[string]any) (Settings, error) {
	var s Settings
	if err := configutil.ValidateAndDecode("vendors.llm.settings", raw, SettingsSchema, &s); err != nil {
		return Settings{}, err
	}
	if s.Model == "" {
		s.Model = DefaultModel
	}
	return s, nil
}

type Adapter struct {
	client      oai.Client
	model       string
	temperature float64
}

func NewAdapter(s Settings) (*Adapter, error) {
	if s.APIKey == "" {
		return nil, errors.New("openai: api_key must not be empty")
	}
	if s.Model == "" {
		s.Model = DefaultModel
	}
	opts := []option.RequestOption{option.WithAPIKey(s.APIKey)}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}
	if s.Organization != "" {
		opts = append(opts, option.WithOrganization(s.Organization))
	}
	if s.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: s.Timeout}))
	}
	if s.MaxRetries != nil {
		opts = append(opts, option.WithMaxRetries(*s.MaxRetries))
	}
	return &Adapter{
		client:      oai.NewClient(opts...),
		model:       s.Model,
		temperature: s.Temperature,
	}, nil
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	params, err := a.buildParams(input)
	if err != nil {
		return llm.Response{}, fmt.Errorf("openai: build params: %w", err)
	}
	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return llm.Response{}, resilience.RateLimitError{Provider: "openai", Message: apiErr.Error()}
		}
		return llm.Response{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, errors.New("openai: empty choices in response")
	}
	choice := resp.Choices[0]
	out := llm.Response{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return llm.Response{}, fmt.Errorf("openai: tool %s arguments: %w", tc.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func (a *Adapter) buildParams(input llm.Context) (oai.ChatCompletionNewParams, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(input.Messages))
	for _, m := range input.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(a.model),
		Messages: messages,
	}
	if a.temperature != 0 {
		params.Temperature = param.NewOpt(a.temperature)
	}
	for _, t := range input.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.Schema),
			},
		})
	}
	return params, nil
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: tool %s arguments: %w", tc.Name, err)
			}
			if tc.Arguments == nil {
				args = []byte("{}")
			}
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	case llm.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

var _ llm.LLMAdapter = (*Adapter)(nil)
