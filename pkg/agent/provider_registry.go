package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harunnryd/closer/pkg/llm"
)

type LLMFactory func(cfg Config) (llm.LLMAdapter, error)

// ProviderRegistry maps vendor names to LLM adapter factories.
type ProviderRegistry struct {
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{llm: make(map[string]LLMFactory)}
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[normalizeProvider(name)] = factory
}

func (r *ProviderRegistry) BuildLLM(provider string, cfg Config) (llm.LLMAdapter, error) {
	fn := r.llm[normalizeProvider(provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(cfg)
}

// LLMProviders lists the registered provider names.
func (r *ProviderRegistry) LLMProviders() []string {
	out := make([]string, 0, len(r.llm))
	for name := range r.llm {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
