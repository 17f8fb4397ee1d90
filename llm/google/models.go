package google

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/samber/lo"
)

const (
	DefaultBaseURL        = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModelName      = "gemini"
	DefaultModelVersion   = "2.0-flash"
	DefaultEmbeddingModel = "text-embedding-004"

	temperatureLimit  = 2.0
	maxEmbeddingBatch = 100
	modelPrefix       = "models/"
)

// Generation methods advertised in the model list.
const (
	MethodGenerateContent = "generateContent"
	MethodEmbedContent    = "embedContent"
)

// KnownModels seeds the capability of the configured default model before any
// discovery has run. Model switches are validated against the live model list.
var KnownModels = llm.NewCatalog(llm.ProviderGoogle, map[string]llm.ModelCapability{
	"gemini-2.0-flash":      {ContextWindow: 1048576, DefaultOutputTokens: 8192},
	"gemini-2.0-flash-lite": {ContextWindow: 1048576, DefaultOutputTokens: 8192},
	"gemini-2.5-flash":      {ContextWindow: 1048576, DefaultOutputTokens: 65536},
	"gemini-2.5-pro":        {ContextWindow: 1048576, DefaultOutputTokens: 65536},
	"gemini-1.5-flash":      {ContextWindow: 1048576, DefaultOutputTokens: 8192},
	"gemini-1.5-pro":        {ContextWindow: 2097152, DefaultOutputTokens: 8192},
	"text-embedding-004":    {ContextWindow: 2048, SupportsEmbedding: true, Dimensions: 768},
})

// ListModels returns the models visible to the client's credential, keyed by
// name without the "models/" prefix. All pages are fetched.
func (c *Client) ListModels(ctx context.Context) (map[string]ModelInfo, error) {
	models := make(map[string]ModelInfo)
	pageToken := ""
	for {
		query := url.Values{"pageSize": {"1000"}}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		var page listModelsResponse
		if err := c.transport.GetJSON(ctx, "/models?"+query.Encode(), &page); err != nil {
			return nil, err
		}
		for _, m := range page.Models {
			models[strings.TrimPrefix(m.Name, modelPrefix)] = m
		}
		if page.NextPageToken == "" {
			return models, nil
		}
		pageToken = page.NextPageToken
	}
}

// AvailableModels returns the sorted names of discovered models that support method.
func (c *Client) AvailableModels(ctx context.Context, method string) ([]string, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := lo.Keys(lo.PickBy(models, func(_ string, m ModelInfo) bool {
		return lo.Contains(m.SupportedGenerationMethods, method)
	}))
	sort.Strings(names)
	return names, nil
}

// discoveryValidator checks a model against the live model list. A discovery
// failure is returned as is, so the switch fails closed.
func (c *Client) discoveryValidator(method string) llm.Validator {
	return func(ctx context.Context, key string) (llm.ModelCapability, bool, error) {
		models, err := c.ListModels(ctx)
		if err != nil {
			return llm.ModelCapability{}, false, err
		}
		info, ok := models[key]
		if !ok || !lo.Contains(info.SupportedGenerationMethods, method) {
			return llm.ModelCapability{}, false, llm.NewUnsupportedModelError(llm.ProviderGoogle, key, nil)
		}
		if info.InputTokenLimit == 0 {
			capability, known := KnownModels.Lookup(key)
			return capability, known, nil
		}
		return llm.ModelCapability{
			ContextWindow:       info.InputTokenLimit,
			DefaultOutputTokens: info.OutputTokenLimit,
			SupportsEmbedding:   method == MethodEmbedContent,
		}, true, nil
	}
}
