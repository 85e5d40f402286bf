// Package bootstrap registers the built-in providers and transports used by
// the example agents.
package bootstrap

import (
	"fmt"
	"strings"

	"github.com/harunnryd/closer/pkg/agent"
	"github.com/harunnryd/closer/pkg/llm"
	"github.com/harunnryd/closer/pkg/providers/mock"
	"github.com/harunnryd/closer/pkg/providers/openai"
	"github.com/harunnryd/closer/pkg/transports"
	mocktransport "github.com/harunnryd/closer/pkg/transports/mock"
	"github.com/harunnryd/closer/pkg/transports/ws"
)

// RegisterProviders adds the openai and mock LLM factories to reg.
func RegisterProviders(reg *agent.ProviderRegistry) {
	reg.RegisterLLM("openai", func(cfg agent.Config) (llm.LLMAdapter, error) {
		settings, err := openai.ParseSettings(cfg.Vendors.LLM.Settings)
		if err != nil {
			return nil, err
		}
		return openai.NewAdapter(settings)
	})
	reg.RegisterLLM("mock", func(cfg agent.Config) (llm.LLMAdapter, error) {
		settings, err := mock.ParseSettings(cfg.Vendors.LLM.Settings)
		if err != nil {
			return nil, err
		}
		return mock.NewLLMAdapter(settings)
	})
}

// NewProviderRegistry returns a registry with the built-in providers.
func NewProviderRegistry() *agent.ProviderRegistry {
	reg := agent.NewProviderRegistry()
	RegisterProviders(reg)
	return reg
}

func BuildTransport(cfg agent.Config) (transports.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transports.Provider)) {
	case "websocket", "ws":
		settings, err := ws.ParseSettings(cfg.Transports.Settings)
		if err != nil {
			return nil, err
		}
		return ws.New(settings), nil
	case "mock":
		return mocktransport.New(), nil
	default:
		return nil, fmt.Errorf("unsupported transport provider: %s", cfg.Transports.Provider)
	}
}
