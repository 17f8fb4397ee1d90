package openai

import "github.com/aschepis/backscratcher/llmbridge/llm"

const (
	// DefaultModelName and DefaultModelVersion compose the default model gpt-4-turbo.
	// The family is "gpt" so every catalog entry is reachable by version.
	DefaultModelName    = "gpt"
	DefaultModelVersion = "4-turbo"

	// DefaultEmbeddingModel is used until SetEmbeddingModel selects another one.
	DefaultEmbeddingModel = "text-embedding-ada-002"

	// embeddingPrefix is joined with the version passed to SetEmbeddingModel.
	embeddingPrefix = "text-embedding-"

	temperatureLimit  = 2.0
	maxEmbeddingBatch = 2048
)

// Models lists the chat models accepted by SetGenerationModel. Keys are the
// composite family-version names sent to the API.
var Models = llm.NewCatalog(llm.ProviderOpenAI, map[string]llm.ModelCapability{
	"gpt-4":               {ContextWindow: 8192, DefaultOutputTokens: 4096},
	"gpt-4-turbo":         {ContextWindow: 128000, DefaultOutputTokens: 4096},
	"gpt-4-turbo-preview": {ContextWindow: 128000, DefaultOutputTokens: 4096},
	"gpt-4-32k":           {ContextWindow: 32768, DefaultOutputTokens: 4096},
	"gpt-4o":              {ContextWindow: 128000, DefaultOutputTokens: 16384},
	"gpt-4o-mini":         {ContextWindow: 128000, DefaultOutputTokens: 16384},
	"gpt-4.1":             {ContextWindow: 1047576, DefaultOutputTokens: 32768},
	"gpt-4.1-mini":        {ContextWindow: 1047576, DefaultOutputTokens: 32768},
	"gpt-3.5-turbo":       {ContextWindow: 16385, DefaultOutputTokens: 4096},
})

// EmbeddingModels lists the embedding models accepted by SetEmbeddingModel.
var EmbeddingModels = llm.NewCatalog(llm.ProviderOpenAI, map[string]llm.ModelCapability{
	"text-embedding-ada-002": {ContextWindow: 8191, SupportsEmbedding: true, Dimensions: 1536},
	"text-embedding-3-small": {ContextWindow: 8191, SupportsEmbedding: true, Dimensions: 1536},
	"text-embedding-3-large": {ContextWindow: 8191, SupportsEmbedding: true, Dimensions: 3072},
})

// OpenAIProfile describes the OpenAI endpoint.
func OpenAIProfile() Profile {
	return Profile{
		Provider:              llm.ProviderOpenAI,
		DefaultModelName:      DefaultModelName,
		DefaultModelVersion:   DefaultModelVersion,
		Models:                Models,
		EmbeddingModels:       EmbeddingModels,
		DefaultEmbeddingModel: DefaultEmbeddingModel,
		EmbeddingKey:          func(version string) string { return embeddingPrefix + version },
		TemperatureLimit:      temperatureLimit,
		MaxEmbeddingBatch:     maxEmbeddingBatch,
		IncludeStreamUsage:    true,
	}
}
