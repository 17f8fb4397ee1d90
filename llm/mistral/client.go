// Package mistral adapts Mistral's chat and embeddings API to llm.Client.
//
// Mistral speaks the OpenAI wire protocol, so the client is the OpenAI-compatible
// client pointed at the Mistral endpoint with Mistral's model tables. Streaming is
// first class: StreamText yields content deltas as Mistral produces them.
package mistral

import (
	"github.com/aschepis/backscratcher/llmbridge/llm"
	oai "github.com/aschepis/backscratcher/llmbridge/llm/openai"
)

const (
	// DefaultBaseURL is the public Mistral API root.
	DefaultBaseURL = "https://api.mistral.ai/v1"

	DefaultModelName      = "mistral"
	DefaultModelVersion   = "small-latest"
	DefaultEmbeddingModel = "mistral-embed"

	temperatureLimit = 1.5
	// Mistral accepts far fewer inputs per embeddings call than OpenAI.
	maxEmbeddingBatch = 512
)

// Models lists the chat models accepted by SetGenerationModel.
var Models = llm.NewCatalog(llm.ProviderMistral, map[string]llm.ModelCapability{
	"mistral-tiny":          {ContextWindow: 32768, DefaultOutputTokens: 4096},
	"mistral-small":         {ContextWindow: 32768, DefaultOutputTokens: 4096},
	"mistral-medium":        {ContextWindow: 32768, DefaultOutputTokens: 4096},
	"mistral-large":         {ContextWindow: 32768, DefaultOutputTokens: 4096},
	"mistral-small-latest":  {ContextWindow: 131072, DefaultOutputTokens: 4096},
	"mistral-medium-latest": {ContextWindow: 131072, DefaultOutputTokens: 4096},
	"mistral-large-latest":  {ContextWindow: 131072, DefaultOutputTokens: 4096},
})

// EmbeddingModels lists the embedding models accepted by SetEmbeddingModel. Unlike
// OpenAI, Mistral embedding models are selected by their full name.
var EmbeddingModels = llm.NewCatalog(llm.ProviderMistral, map[string]llm.ModelCapability{
	"mistral-embed": {ContextWindow: 8192, SupportsEmbedding: true, Dimensions: 1024},
})

// Profile describes the Mistral endpoint for the OpenAI-compatible client.
func Profile() oai.Profile {
	return oai.Profile{
		Provider:              llm.ProviderMistral,
		BaseURL:               DefaultBaseURL,
		DefaultModelName:      DefaultModelName,
		DefaultModelVersion:   DefaultModelVersion,
		Models:                Models,
		EmbeddingModels:       EmbeddingModels,
		DefaultEmbeddingModel: DefaultEmbeddingModel,
		TemperatureLimit:      temperatureLimit,
		MaxEmbeddingBatch:     maxEmbeddingBatch,
	}
}

// Client implements llm.Client for Mistral.
type Client struct {
	*oai.Client
}

// NewClient creates a Mistral client. cfg.BaseURL overrides DefaultBaseURL.
func NewClient(cfg llm.ClientConfig) (*Client, error) {
	client, err := oai.NewCompatibleClient(cfg, Profile())
	if err != nil {
		return nil, err
	}
	return &Client{Client: client}, nil
}

// Ensure Client implements llm.Client
var _ llm.Client = (*Client)(nil)
