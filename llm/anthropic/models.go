package anthropic

import "github.com/aschepis/backscratcher/llmbridge/llm"

const (
	DefaultModelName    = "claude"
	DefaultModelVersion = "haiku-4-5"

	temperatureLimit = 1.0
)

// Models is the fixed registry of Claude models accepted by SetGenerationModel.
var Models = llm.NewCatalog(llm.ProviderAnthropic, map[string]llm.ModelCapability{
	"claude-haiku-4-5":         {ContextWindow: 200000, DefaultOutputTokens: 8192},
	"claude-sonnet-4-5":        {ContextWindow: 200000, DefaultOutputTokens: 8192},
	"claude-sonnet-4-0":        {ContextWindow: 200000, DefaultOutputTokens: 8192},
	"claude-opus-4-1":          {ContextWindow: 200000, DefaultOutputTokens: 8192},
	"claude-opus-4-0":          {ContextWindow: 200000, DefaultOutputTokens: 8192},
	"claude-3-7-sonnet-latest": {ContextWindow: 200000, DefaultOutputTokens: 8192},
	"claude-3-5-haiku-latest":  {ContextWindow: 200000, DefaultOutputTokens: 4096},
	"claude-3-opus-latest":     {ContextWindow: 200000, DefaultOutputTokens: 4096},
})
