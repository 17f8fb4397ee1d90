package main

import (
	"context"
	"fmt"
	"io"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/llm/anthropic"
	"github.com/aschepis/backscratcher/llmbridge/llm/cohere"
	"github.com/aschepis/backscratcher/llmbridge/llm/google"
	"github.com/aschepis/backscratcher/llmbridge/llm/mistral"
	"github.com/aschepis/backscratcher/llmbridge/llm/ollama"
	"github.com/aschepis/backscratcher/llmbridge/llm/openai"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show the active models and the models a provider offers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		describeClient(out, s.raw)

		generation, embedding, err := availableModels(cmd.Context(), s.raw)
		if err != nil {
			return err
		}
		printList(out, "generation models", generation)
		printList(out, "embedding models", embedding)
		return nil
	},
}

func describeClient(w io.Writer, client llm.Client) {
	id := client.Identity()
	fmt.Fprintf(w, "provider:        %s\n", id.Provider)
	fmt.Fprintf(w, "model:           %s\n", id.Model)
	if capability, ok := client.Capability(); ok {
		fmt.Fprintf(w, "context window:  %d\n", capability.ContextWindow)
		fmt.Fprintf(w, "default output:  %d\n", capability.DefaultOutputTokens)
	}
	embedding := client.EmbeddingModel()
	if embedding == "" {
		embedding = "(not supported)"
	}
	fmt.Fprintf(w, "embedding model: %s\n", embedding)
}

// availableModels lists models from the provider's catalog, or from the
// server for providers whose models are discovered. Catalog models are limited
// to those SetGenerationModel can reach from the active family.
func availableModels(ctx context.Context, client llm.Client) (generation, embedding []string, err error) {
	switch c := client.(type) {
	case *google.Client:
		if generation, err = c.AvailableModels(ctx, google.MethodGenerateContent); err != nil {
			return nil, nil, err
		}
		if embedding, err = c.AvailableModels(ctx, google.MethodEmbedContent); err != nil {
			return nil, nil, err
		}
		return generation, embedding, nil
	case *ollama.Client:
		names, err := c.ListModels(ctx)
		return names, names, err
	case *openai.Client:
		return selectable(c, openai.Models), openai.EmbeddingModels.Keys(), nil
	case *mistral.Client:
		return selectable(c, mistral.Models), mistral.EmbeddingModels.Keys(), nil
	case *anthropic.Client:
		return selectable(c, anthropic.Models), nil, nil
	case *cohere.Client:
		return selectable(c, cohere.Models), cohere.EmbeddingModels.Keys(), nil
	default:
		return nil, nil, fmt.Errorf("listing models is not supported for %T", client)
	}
}

func printList(w io.Writer, title string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", name)
	}
}

func selectable(client llm.Client, catalog llm.Catalog) []string {
	family := client.Identity().Family
	return lo.Filter(catalog.Keys(), func(key string, _ int) bool {
		_, ok := llm.VersionOf(family, "-", key)
		return ok
	})
}
