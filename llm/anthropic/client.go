// Package anthropic adapts the Anthropic Messages API to llm.Client.
// Anthropic offers no embeddings; the embedding operations fail with
// llm.ErrCapabilityNotSupported.
package anthropic

import (
	"context"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Client implements the llm.Client interface for Anthropic's API.
type Client struct {
	client       *anthropic.Client
	models       *llm.ModelSelector
	defaults     llm.GenerationConfig
	chunkTimeout time.Duration
	logger       zerolog.Logger
}

// NewClient creates a new Client. The SDK's own retries are disabled; retry
// decisions belong to the caller.
func NewClient(cfg llm.ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, llm.NewAuthenticationError(llm.ProviderAnthropic, "api key is required", nil)
	}

	family := lo.Ternary(cfg.ModelName != "", cfg.ModelName, DefaultModelName)
	version := lo.Ternary(cfg.ModelVersion != "", cfg.ModelVersion, DefaultModelVersion)
	key := llm.ModelKey(family, "-", version)
	capability, ok := Models.Lookup(key)
	if !ok {
		return nil, llm.NewUnsupportedModelError(llm.ProviderAnthropic, key, nil)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := anthropic.NewClient(opts...)

	logger := cfg.Logger.With().Str("provider", llm.ProviderAnthropic).Logger()
	logger.Debug().Str("model", key).Msg("client created")

	return &Client{
		client: &client,
		models: llm.NewModelSelector(llm.ProviderAnthropic, "-", llm.ModelState{
			Identity:      llm.ProviderIdentity{Family: family, Version: version, Model: key},
			Capability:    capability,
			HasCapability: true,
		}),
		defaults:     cfg.EffectiveDefaults(),
		chunkTimeout: cfg.ChunkTimeout(),
		logger:       logger,
	}, nil
}

// Identity implements llm.Client.Identity.
func (c *Client) Identity() llm.ProviderIdentity {
	return c.models.Current().Identity
}

// EmbeddingModel implements llm.Client.EmbeddingModel. Always "".
func (c *Client) EmbeddingModel() string {
	return ""
}

// Capability implements llm.Client.Capability.
func (c *Client) Capability() (llm.ModelCapability, bool) {
	state := c.models.Current()
	return state.Capability, state.HasCapability
}

// Defaults implements llm.Client.Defaults.
func (c *Client) Defaults() llm.GenerationConfig {
	return c.defaults
}

// SetGenerationModel implements llm.Client.SetGenerationModel.
func (c *Client) SetGenerationModel(ctx context.Context, version string) error {
	changed, err := c.models.SetGeneration(ctx, version, llm.CatalogValidator(Models))
	if err != nil {
		return err
	}
	if changed {
		c.logger.Debug().Str("model", c.models.Current().Identity.Model).Msg("generation model changed")
	}
	return nil
}

// SetEmbeddingModel implements llm.Client.SetEmbeddingModel.
func (c *Client) SetEmbeddingModel(context.Context, string) error {
	return llm.NewCapabilityNotSupportedError(llm.ProviderAnthropic, "embedding")
}

// EmbedText implements llm.Client.EmbedText.
func (c *Client) EmbedText(context.Context, []string, llm.DocumentType) (*llm.EmbeddingResult, error) {
	return nil, llm.NewCapabilityNotSupportedError(llm.ProviderAnthropic, "embedding")
}

// PrepareMessage implements llm.Client.PrepareMessage.
func (c *Client) PrepareMessage(role llm.Role, content string) llm.Message {
	return llm.NewMessage(role, content)
}

// GenerateText implements llm.Client.GenerateText.
func (c *Client) GenerateText(ctx context.Context, userMessage string, opts *llm.GenerateOptions) (*llm.GenerationResult, error) {
	state := c.models.Current()
	turn := llm.StartTurn(userMessage, opts)
	params := c.messageParams(state, c.defaults.Merge(opts), turn.Messages)

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		err = convertError(err)
		turn.Complete(nil, err)
		c.logger.Warn().Err(err).Str("model", string(params.Model)).Msg("message request failed")
		return nil, err
	}

	var text strings.Builder
	for _, blockUnion := range message.Content {
		if block, ok := blockUnion.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(block.Text)
		}
	}

	result := &llm.GenerationResult{
		Provider:     llm.ProviderAnthropic,
		Text:         text.String(),
		Model:        lo.Ternary(message.Model != "", string(message.Model), string(params.Model)),
		FinishReason: string(message.StopReason),
		Usage:        llm.NewUsage(llm.Tokens(message.Usage.InputTokens), llm.Tokens(message.Usage.OutputTokens)),
	}
	turn.Complete(result, nil)

	c.logger.Debug().
		Str("model", result.Model).
		Int64("input_tokens", message.Usage.InputTokens).
		Int64("output_tokens", message.Usage.OutputTokens).
		Msg("message request finished")
	return result, nil
}

// StreamText implements llm.Client.StreamText. The first event is read before
// returning so that request failures surface here rather than from the stream.
func (c *Client) StreamText(ctx context.Context, userMessage string, opts *llm.GenerateOptions) (llm.TextStream, error) {
	state := c.models.Current()
	turn := llm.StartTurn(userMessage, opts)
	params := c.messageParams(state, c.defaults.Merge(opts), turn.Messages)

	stream := c.client.Messages.NewStreaming(ctx, params)
	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err == nil {
			err = llm.NewTransientError(llm.ProviderAnthropic, "stream ended before any event", nil)
		}
		err = convertError(err)
		turn.Complete(nil, err)
		c.logger.Warn().Err(err).Str("model", string(params.Model)).Msg("message stream failed to start")
		return nil, err
	}

	return llm.NewTextStream(ctx, llm.StreamOptions{
		Provider:     llm.ProviderAnthropic,
		ChunkTimeout: c.chunkTimeout,
		Release:      stream.Close,
		OnComplete:   turn.CompleteStream(llm.ProviderAnthropic, string(params.Model)),
	}, c.streamProducer(stream)), nil
}

// messageParams builds the vendor request from one consistent model snapshot.
func (c *Client) messageParams(state llm.ModelState, gen llm.GenerationConfig, messages []llm.Message) anthropic.MessageNewParams {
	maxTokens := gen.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = state.Capability.DefaultOutputTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(state.Identity.Model),
		MaxTokens:   int64(maxTokens),
		Messages:    toMessageParams(messages),
		Temperature: anthropic.Float(llm.ClampTemperature(gen.Temperature, temperatureLimit)),
	}
	if gen.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: gen.System}}
	}
	return params
}

// toMessageParams converts chat turns. System turns never reach here; the system
// prompt travels in MessageNewParams.System.
func toMessageParams(messages []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == llm.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}

// Ensure Client implements llm.Client
var _ llm.Client = (*Client)(nil)
