package config

import (
	"fmt"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/llm/anthropic"
	"github.com/aschepis/backscratcher/llmbridge/llm/cohere"
	"github.com/aschepis/backscratcher/llmbridge/llm/google"
	"github.com/aschepis/backscratcher/llmbridge/llm/mistral"
	"github.com/aschepis/backscratcher/llmbridge/llm/ollama"
	"github.com/aschepis/backscratcher/llmbridge/llm/openai"
	"github.com/aschepis/backscratcher/llmbridge/retry"
	"github.com/rs/zerolog"
)

// ClientConfig resolves the construction settings for provider. It fails when
// the provider is unknown, disabled or missing its credentials.
func (c *Config) ClientConfig(provider string, logger zerolog.Logger) (llm.ClientConfig, error) {
	key, err := c.Registry().Resolve(provider)
	if err != nil {
		return llm.ClientConfig{}, err
	}
	pc, _ := c.Provider(provider)
	defaults, err := c.EffectiveDefaults(provider)
	if err != nil {
		return llm.ClientConfig{}, err
	}

	gen := llm.GenerationConfig{
		Temperature:     llm.DefaultGenerationConfig().Temperature,
		MaxOutputTokens: defaults.MaxOutputTokens,
		MaxInputTokens:  defaults.MaxInputTokens,
		System:          defaults.System,
	}
	if defaults.Temperature != nil {
		gen.Temperature = *defaults.Temperature
	}

	return llm.ClientConfig{
		APIKey:             key.APIKey,
		BaseURL:            key.BaseURL,
		Organization:       key.Organization,
		ModelName:          pc.ModelName,
		ModelVersion:       pc.ModelVersion,
		EmbeddingModel:     pc.EmbeddingModel,
		Defaults:           gen,
		StreamChunkTimeout: defaults.StreamChunkTimeout,
		Logger:             logger,
	}, nil
}

// NewProviderClient creates the vendor client for provider without any
// decoration. Callers that need vendor extras, such as the Gemini chat
// session, type-assert the result.
func NewProviderClient(cfg *Config, provider string, logger zerolog.Logger) (llm.Client, error) {
	clientCfg, err := cfg.ClientConfig(provider, logger)
	if err != nil {
		return nil, err
	}

	var client llm.Client
	switch provider {
	case llm.ProviderOpenAI:
		client, err = asClient(openai.NewClient(clientCfg))
	case llm.ProviderAnthropic:
		client, err = asClient(anthropic.NewClient(clientCfg))
	case llm.ProviderMistral:
		client, err = asClient(mistral.NewClient(clientCfg))
	case llm.ProviderGoogle:
		client, err = asClient(google.NewClient(clientCfg))
	case llm.ProviderCohere:
		client, err = asClient(cohere.NewClient(clientCfg))
	case llm.ProviderOllama:
		client, err = asClient(ollama.NewClient(clientCfg))
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NewClient creates a client for provider with request logging and, unless
// disabled, retries around it.
func NewClient(cfg *Config, provider string, logger zerolog.Logger) (llm.Client, error) {
	client, err := NewProviderClient(cfg, provider, logger)
	if err != nil {
		return nil, err
	}
	return Decorate(cfg, client, logger), nil
}

// NewPreferredClient creates a client for the first enabled and configured
// provider in cfg.Providers.
func NewPreferredClient(cfg *Config, logger zerolog.Logger) (llm.Client, error) {
	key, err := cfg.Registry().ResolvePreferred(cfg.Providers)
	if err != nil {
		return nil, err
	}
	return NewClient(cfg, key.Provider, logger)
}

// Decorate wraps client with the logging middleware and the configured retry
// policy.
func Decorate(cfg *Config, client llm.Client, logger zerolog.Logger) llm.Client {
	client = llm.WrapWithMiddleware(client, llm.NewLoggingMiddleware(logger))
	if policy := cfg.Retry.Policy(); policy.MaxRetries > 0 {
		client = retry.Wrap(client, policy, logger)
	}
	return client
}

// asClient keeps a typed nil pointer from turning into a non-nil interface.
func asClient[T llm.Client](c T, err error) (llm.Client, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}
