package retry

import (
	"context"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/rs/zerolog"
)

// Wrap returns a Client whose GenerateText and EmbedText calls are retried under
// policy. Streams and model selection are passed through: a stream that failed
// part way cannot be replayed transparently.
func Wrap(client llm.Client, policy Policy, logger zerolog.Logger) llm.Client {
	return &retryingClient{
		Client: client,
		policy: policy,
		logger: logger.With().Str("component", "retry").Str("provider", client.Identity().Provider).Logger(),
	}
}

type retryingClient struct {
	llm.Client
	policy Policy
	logger zerolog.Logger
}

// GenerateText retries the wrapped call. A History is rolled back by each failed
// attempt, so every attempt sends the same conversation.
func (c *retryingClient) GenerateText(ctx context.Context, userMessage string, opts *llm.GenerateOptions) (*llm.GenerationResult, error) {
	return Do(ctx, c.policy, c.logger, llm.OperationGenerate, func(ctx context.Context) (*llm.GenerationResult, error) {
		return c.Client.GenerateText(ctx, userMessage, opts)
	})
}

// EmbedText retries the wrapped call.
func (c *retryingClient) EmbedText(ctx context.Context, texts []string, docType llm.DocumentType) (*llm.EmbeddingResult, error) {
	return Do(ctx, c.policy, c.logger, llm.OperationEmbed, func(ctx context.Context) (*llm.EmbeddingResult, error) {
		return c.Client.EmbedText(ctx, texts, docType)
	})
}

var _ llm.Client = (*retryingClient)(nil)
