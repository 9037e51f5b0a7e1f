package providers

import (
	"fmt"
	"strings"

	"researchmcp/internal/config"
)

type NamedLLMProvider struct {
	Ref      ProviderRef
	Provider LLMProvider
}

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

type Manager struct {
	llmProviders   []NamedLLMProvider
	embedProviders []NamedEmbedProvider
	anthropic      *AnthropicProvider
}

// NewManager builds the providers named in RESEARCHMCP_LLM_PROVIDERS and
// RESEARCHMCP_EMBED_PROVIDERS, plus any provider a model role points at.
func NewManager(cfg config.Config) (*Manager, error) {
	llmRefs := ParseProviderList(cfg.LLMProviders)
	for _, role := range []string{cfg.AnswerProvider, cfg.WebAnswerProvider, cfg.RewriteProvider, cfg.DiagramProvider} {
		role = strings.TrimSpace(role)
		if role != "" && !containsRef(llmRefs, role) {
			llmRefs = append(llmRefs, ProviderRef{Raw: role, Name: role})
		}
	}
	embedRefs := ParseProviderList(cfg.EmbedProviders)

	m := &Manager{}
	for _, ref := range llmRefs {
		p, err := buildProvider(ref, cfg)
		if err != nil {
			return nil, err
		}
		llm, ok := p.(LLMProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support llm", ref.Raw)
		}
		if a, ok := p.(*AnthropicProvider); ok && m.anthropic == nil {
			m.anthropic = a
		}
		m.llmProviders = append(m.llmProviders, NamedLLMProvider{Ref: ref, Provider: llm})
	}
	for _, ref := range embedRefs {
		p, err := buildProvider(ref, cfg)
		if err != nil {
			return nil, err
		}
		embed, ok := p.(EmbeddingProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support embeddings", ref.Raw)
		}
		m.embedProviders = append(m.embedProviders, NamedEmbedProvider{Ref: ref, Provider: embed})
	}
	if m.anthropic == nil {
		m.anthropic = NewAnthropicProvider("").WithTimeout(cfg.RouterTimeout)
	}
	return m, nil
}

func containsRef(refs []ProviderRef, name string) bool {
	for _, r := range refs {
		if strings.EqualFold(r.Name, name) || strings.EqualFold(r.Raw, name) {
			return true
		}
	}
	return false
}

func (m *Manager) FirstEmbedProvider() EmbeddingProvider {
	return m.embedProviders[0].Provider
}

func (m *Manager) FirstLLMProvider() LLMProvider {
	return m.llmProviders[0].Provider
}

// Anthropic returns the Messages API client used for tool routing.
func (m *Manager) Anthropic() *AnthropicProvider {
	return m.anthropic
}

func (m *Manager) LLMCount() int {
	return len(m.llmProviders)
}

func (m *Manager) PreferredLLMOrder() []int {
	return preferredOrder(len(m.llmProviders), func(i int) string { return strings.ToLower(m.llmProviders[i].Ref.Name) })
}

func preferredOrder(n int, nameAt func(i int) string) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if nameAt(i) != "mock" {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if nameAt(i) == "mock" {
			out = append(out, i)
		}
	}
	return out
}

func (m *Manager) FindLLMProviderByName(name string) (LLMProvider, ProviderRef, bool) {
	target := strings.ToLower(strings.TrimSpace(name))
	if target == "" {
		return nil, ProviderRef{}, false
	}
	for i := range m.llmProviders {
		ref := m.llmProviders[i].Ref
		if strings.ToLower(ref.Name) == target || strings.ToLower(ref.Raw) == target {
			return m.llmProviders[i].Provider, ref, true
		}
	}
	return nil, ProviderRef{}, false
}

// LLMFor returns the named provider first, then every other configured provider in
// preferred order, wrapped so that quota, rate and transient failures fall through.
func (m *Manager) LLMFor(name string) LLMProvider {
	chain := make([]NamedLLMProvider, 0, len(m.llmProviders))
	if p, ref, ok := m.FindLLMProviderByName(name); ok {
		chain = append(chain, NamedLLMProvider{Ref: ref, Provider: p})
	}
	for _, i := range m.PreferredLLMOrder() {
		if len(chain) > 0 && m.llmProviders[i].Ref == chain[0].Ref {
			continue
		}
		chain = append(chain, m.llmProviders[i])
	}
	return &FallbackLLM{chain: chain}
}

func buildProvider(ref ProviderRef, cfg config.Config) (any, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockProvider(cfg.EmbedDim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaEmbeddingProvider(ref.KeyAlias), nil
	case "groq":
		return NewGroqProvider(ref.KeyAlias), nil
	case "anthropic", "claude":
		return NewAnthropicProvider(ref.KeyAlias).WithTimeout(cfg.RouterTimeout), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
