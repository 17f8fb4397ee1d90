package cohere

import "github.com/aschepis/backscratcher/llmbridge/llm"

const (
	DefaultBaseURL        = "https://api.cohere.com"
	DefaultModelName      = "command"
	DefaultModelVersion   = "r"
	DefaultEmbeddingModel = "embed-english-v3.0"

	temperatureLimit  = 1.0
	maxEmbeddingBatch = 96
)

// Models is the fixed registry of Command models accepted by SetGenerationModel.
var Models = llm.NewCatalog(llm.ProviderCohere, map[string]llm.ModelCapability{
	"command":                {ContextWindow: 4096, DefaultOutputTokens: 4000},
	"command-light":          {ContextWindow: 4096, DefaultOutputTokens: 4000},
	"command-nightly":        {ContextWindow: 131072, DefaultOutputTokens: 4000},
	"command-r":              {ContextWindow: 128000, DefaultOutputTokens: 4000},
	"command-r-08-2024":      {ContextWindow: 128000, DefaultOutputTokens: 4000},
	"command-r-plus":         {ContextWindow: 128000, DefaultOutputTokens: 4000},
	"command-r-plus-08-2024": {ContextWindow: 128000, DefaultOutputTokens: 4000},
	"command-r7b-12-2024":    {ContextWindow: 128000, DefaultOutputTokens: 4000},
	"command-a-03-2025":      {ContextWindow: 256000, DefaultOutputTokens: 8000},
})

// EmbeddingModels lists the embedding models accepted by SetEmbeddingModel, by full name.
var EmbeddingModels = llm.NewCatalog(llm.ProviderCohere, map[string]llm.ModelCapability{
	"embed-english-v3.0":            {ContextWindow: 512, SupportsEmbedding: true, Dimensions: 1024},
	"embed-multilingual-v3.0":       {ContextWindow: 512, SupportsEmbedding: true, Dimensions: 1024},
	"embed-english-light-v3.0":      {ContextWindow: 512, SupportsEmbedding: true, Dimensions: 384},
	"embed-multilingual-light-v3.0": {ContextWindow: 512, SupportsEmbedding: true, Dimensions: 384},
	"embed-v4.0":                    {ContextWindow: 128000, SupportsEmbedding: true, Dimensions: 1536},
})
