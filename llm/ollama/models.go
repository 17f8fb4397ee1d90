package ollama

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/ollama/ollama/api"
	"github.com/samber/lo"
)

// ListModels returns the sorted names of the models pulled on the server.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return nil, convertError(err)
	}
	names := lo.Map(resp.Models, func(m api.ListModelResponse, _ int) string {
		return lo.Ternary(m.Name != "", m.Name, m.Model)
	})
	sort.Strings(names)
	return names, nil
}

// discoveryValidator accepts models present on the server. A name without a tag
// matches the ":latest" tag. A listing failure fails the switch.
func (c *Client) discoveryValidator() llm.Validator {
	return func(ctx context.Context, key string) (llm.ModelCapability, bool, error) {
		names, err := c.ListModels(ctx)
		if err != nil {
			return llm.ModelCapability{}, false, err
		}
		if !lo.Contains(names, normalizeTag(key)) {
			return llm.ModelCapability{}, false, llm.NewUnsupportedModelError(llm.ProviderOllama, key, nil)
		}
		return llm.ModelCapability{}, false, nil
	}
}

func normalizeTag(name string) string {
	if strings.Contains(name, tagSeparator) {
		return name
	}
	return name + tagSeparator + DefaultModelVersion
}

// convertError converts Ollama client errors to llm.Error types.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llm.ClassifyStatus(llm.ProviderOllama, statusErr.StatusCode, statusErr.ErrorMessage, nil, err)
	}
	return llm.Normalize(llm.ProviderOllama, err)
}
