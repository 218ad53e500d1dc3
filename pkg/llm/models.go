package llm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownModel is returned when a model id does not name a configured
// provider and model.
var ErrUnknownModel = errors.New("unknown model")

// ProviderConfig describes one OpenAI-compatible API.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Models  []string
	Headers map[string]string
}

// ModelInfo is one selectable model. ID has the form provider.model.
type ModelInfo struct {
	ID       string
	Provider string
	APIModel string
}

// Providers holds one endpoint per configured provider. Endpoints are
// created once and shared; they hold no per-conversation state.
type Providers struct {
	endpoints map[string]Endpoint
	models    []ModelInfo
}

// NewProviders builds an endpoint for every provider. opts are applied to
// each endpoint after the provider's own settings.
func NewProviders(configs map[string]ProviderConfig, opts ...OpenAIOption) (*Providers, error) {
	p := &Providers{endpoints: make(map[string]Endpoint, len(configs))}

	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == "" || strings.Contains(name, ".") {
			return nil, fmt.Errorf("invalid provider name %q", name)
		}
		cfg := configs[name]

		providerOpts := []OpenAIOption{WithBaseURL(cfg.BaseURL)}
		for k, v := range cfg.Headers {
			providerOpts = append(providerOpts, WithHeader(k, v))
		}
		providerOpts = append(providerOpts, opts...)
		p.endpoints[name] = NewOpenAI(cfg.APIKey, providerOpts...)

		for _, model := range cfg.Models {
			p.models = append(p.models, ModelInfo{
				ID:       name + "." + model,
				Provider: name,
				APIModel: model,
			})
		}
	}
	return p, nil
}

// Register adds or replaces the endpoint for a provider.
func (p *Providers) Register(name string, endpoint Endpoint, models ...string) {
	if _, exists := p.endpoints[name]; !exists {
		for _, model := range models {
			p.models = append(p.models, ModelInfo{ID: name + "." + model, Provider: name, APIModel: model})
		}
	}
	p.endpoints[name] = endpoint
}

// Models lists every configured model in provider order.
func (p *Providers) Models() []ModelInfo {
	return p.models
}

// Resolve splits a model id on the first dot and returns the provider's
// endpoint and the model name to send to it. Model names not listed in the
// config are allowed as long as the provider exists.
func (p *Providers) Resolve(modelID string) (Endpoint, string, error) {
	provider, model, ok := strings.Cut(modelID, ".")
	if !ok || provider == "" || model == "" {
		return nil, "", fmt.Errorf("%w: %q (expected provider.model)", ErrUnknownModel, modelID)
	}
	endpoint, ok := p.endpoints[provider]
	if !ok {
		return nil, "", fmt.Errorf("%w: no provider %q", ErrUnknownModel, provider)
	}
	return endpoint, model, nil
}

// Default returns the first configured model id, or "" if none.
func (p *Providers) Default() string {
	if len(p.models) == 0 {
		return ""
	}
	return p.models[0].ID
}
