package backend

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"ChainThink/internal/config"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrMissingAPIKey is returned when a client is built without credentials
	ErrMissingAPIKey = errors.New("api key is required")
	// ErrUnknownProvider is returned for provider names outside the table
	ErrUnknownProvider = errors.New("unknown provider")
)

// Provider describes an OpenAI-compatible chat-completion endpoint
type Provider struct {
	Name         string
	BaseURL      string
	DefaultModel string
}

var providers = map[string]Provider{
	config.ProviderGroq: {
		Name:         config.ProviderGroq,
		BaseURL:      "https://api.groq.com/openai/v1",
		DefaultModel: "llama-3.1-70b-versatile",
	},
	config.ProviderOpenAI: {
		Name:         config.ProviderOpenAI,
		BaseURL:      "https://api.openai.com/v1",
		DefaultModel: "gpt-4o-mini",
	},
	config.ProviderGrok: {
		Name:         config.ProviderGrok,
		BaseURL:      "https://api.x.ai/v1",
		DefaultModel: "grok-2-latest",
	},
}

// LookupProvider resolves a provider by name and applies URL and model overrides
func LookupProvider(name, baseURL, model string) (Provider, error) {
	p, ok := providers[name]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	if baseURL != "" {
		p.BaseURL = baseURL
	}
	if model != "" {
		p.DefaultModel = model
	}
	return p, nil
}

// NewClient builds the service client for a provider.
// The key is passed in explicitly; an empty key fails construction.
func NewClient(p Provider, apiKey string, timeout time.Duration) (*openai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w for provider %s", ErrMissingAPIKey, p.Name)
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = p.BaseURL
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return openai.NewClientWithConfig(cfg), nil
}
