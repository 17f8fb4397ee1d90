// Package google adapts the Gemini REST API (v1beta) to llm.Client.
//
// Generation models are validated against the live model list, so a model switch
// costs one discovery call and fails closed when discovery fails. Besides the
// stateless GenerateText path the client offers Chat, which accumulates the
// conversation in a ChatSession owned by the client. Callers using Chat must not
// also pass a History; doing so submits the earlier turns twice.
package google

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/llm/transport"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Client implements the llm.Client interface for Google's Gemini API.
type Client struct {
	transport    *transport.Client
	models       *llm.ModelSelector
	defaults     llm.GenerationConfig
	chunkTimeout time.Duration
	logger       zerolog.Logger

	sessionMu sync.Mutex
	session   *ChatSession
}

// NewClient creates a new Client. No network call is made; the configured models
// are checked on first use by the vendor.
func NewClient(cfg llm.ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, llm.NewAuthenticationError(llm.ProviderGoogle, "api key is required", nil)
	}

	family := lo.Ternary(cfg.ModelName != "", cfg.ModelName, DefaultModelName)
	version := lo.Ternary(cfg.ModelVersion != "", cfg.ModelVersion, DefaultModelVersion)
	key := llm.ModelKey(family, "-", version)
	capability, known := KnownModels.Lookup(key)
	embeddingModel := lo.Ternary(cfg.EmbeddingModel != "", cfg.EmbeddingModel, DefaultEmbeddingModel)

	logger := cfg.Logger.With().Str("provider", llm.ProviderGoogle).Logger()
	header := http.Header{}
	header.Set("x-goog-api-key", cfg.APIKey)
	baseURL := lo.Ternary(cfg.BaseURL != "", cfg.BaseURL, DefaultBaseURL)

	logger.Debug().Str("model", key).Str("embedding_model", embeddingModel).Msg("client created")

	return &Client{
		transport: transport.New(llm.ProviderGoogle, baseURL, cfg.HTTPClient, header, logger),
		models: llm.NewModelSelector(llm.ProviderGoogle, "-", llm.ModelState{
			Identity:       llm.ProviderIdentity{Family: family, Version: version, Model: key},
			Capability:     capability,
			HasCapability:  known,
			EmbeddingModel: embeddingModel,
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

// EmbeddingModel implements llm.Client.EmbeddingModel.
func (c *Client) EmbeddingModel() string {
	return c.models.Current().EmbeddingModel
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

// SetGenerationModel implements llm.Client.SetGenerationModel. The model must be
// listed by the vendor with generateContent support.
func (c *Client) SetGenerationModel(ctx context.Context, version string) error {
	changed, err := c.models.SetGeneration(ctx, version, c.discoveryValidator(MethodGenerateContent))
	if err != nil {
		return err
	}
	if changed {
		c.ResetSession()
		c.logger.Debug().Str("model", c.models.Current().Identity.Model).Msg("generation model changed")
	}
	return nil
}

// SetEmbeddingModel implements llm.Client.SetEmbeddingModel. The model must be
// listed by the vendor with embedContent support.
func (c *Client) SetEmbeddingModel(ctx context.Context, version string) error {
	changed, err := c.models.SetEmbedding(ctx, version, c.discoveryValidator(MethodEmbedContent))
	if err != nil {
		return err
	}
	if changed {
		c.ResetSession()
		c.logger.Debug().Str("embedding_model", version).Msg("embedding model changed")
	}
	return nil
}

// PrepareMessage implements llm.Client.PrepareMessage.
func (c *Client) PrepareMessage(role llm.Role, content string) llm.Message {
	return llm.NewMessage(role, content)
}

// GenerateText implements llm.Client.GenerateText. It is stateless: only the
// caller's History, if any, is sent along.
func (c *Client) GenerateText(ctx context.Context, userMessage string, opts *llm.GenerateOptions) (*llm.GenerationResult, error) {
	state := c.models.Current()
	turn := llm.StartTurn(userMessage, opts)
	result, err := c.generate(ctx, state, c.defaults.Merge(opts), turn.Messages)
	turn.Complete(result, err)
	return result, err
}

// StreamText implements llm.Client.StreamText.
func (c *Client) StreamText(ctx context.Context, userMessage string, opts *llm.GenerateOptions) (llm.TextStream, error) {
	state := c.models.Current()
	turn := llm.StartTurn(userMessage, opts)
	req := c.generateRequest(state, c.defaults.Merge(opts), turn.Messages)

	body, err := c.transport.PostStream(ctx, modelPath(state.Identity.Model, "streamGenerateContent")+"?alt=sse", req)
	if err != nil {
		turn.Complete(nil, err)
		c.logger.Warn().Err(err).Str("model", state.Identity.Model).Msg("content stream failed to start")
		return nil, err
	}

	return llm.NewTextStream(ctx, llm.StreamOptions{
		Provider:     llm.ProviderGoogle,
		ChunkTimeout: c.chunkTimeout,
		Release:      body.Close,
		OnComplete:   turn.CompleteStream(llm.ProviderGoogle, state.Identity.Model),
	}, c.streamProducer(body)), nil
}

// EmbedText implements llm.Client.EmbedText. Query texts are embedded with the
// RETRIEVAL_QUERY task type, everything else as RETRIEVAL_DOCUMENT.
func (c *Client) EmbedText(ctx context.Context, texts []string, docType llm.DocumentType) (*llm.EmbeddingResult, error) {
	docType, err := docType.Validate(llm.ProviderGoogle)
	if err != nil {
		return nil, err
	}
	model := c.models.Current().EmbeddingModel
	result := &llm.EmbeddingResult{Provider: llm.ProviderGoogle, Model: model, Vectors: [][]float32{}}
	if len(texts) == 0 {
		return result, nil
	}

	taskType := lo.Ternary(docType.IsQuery(), "RETRIEVAL_QUERY", "RETRIEVAL_DOCUMENT")
	for _, batch := range lo.Chunk(texts, maxEmbeddingBatch) {
		req := batchEmbedRequest{Requests: make([]embedRequest, len(batch))}
		for i, text := range batch {
			req.Requests[i] = embedRequest{
				Model:    modelPrefix + model,
				Content:  content{Parts: []part{{Text: text}}},
				TaskType: taskType,
			}
		}

		var resp batchEmbedResponse
		if err := c.transport.PostJSON(ctx, modelPath(model, "batchEmbedContents"), req, &resp); err != nil {
			c.logger.Warn().Err(err).Str("model", model).Int("texts", len(texts)).Msg("embedding failed")
			return nil, err
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, llm.NewPermanentError(llm.ProviderGoogle,
				fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(resp.Embeddings)), nil)
		}
		for _, e := range resp.Embeddings {
			result.Vectors = append(result.Vectors, e.Values)
		}
	}

	c.logger.Debug().Str("model", model).Int("vectors", len(result.Vectors)).Msg("embedding finished")
	return result, nil
}

// generate performs one generateContent call for messages.
func (c *Client) generate(ctx context.Context, state llm.ModelState, gen llm.GenerationConfig, messages []llm.Message) (*llm.GenerationResult, error) {
	model := state.Identity.Model
	var resp generateResponse
	if err := c.transport.PostJSON(ctx, modelPath(model, "generateContent"), c.generateRequest(state, gen, messages), &resp); err != nil {
		c.logger.Warn().Err(err).Str("model", model).Msg("generate content failed")
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		reason := "no candidates in response"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason = "prompt blocked: " + resp.PromptFeedback.BlockReason
		}
		return nil, llm.NewPermanentError(llm.ProviderGoogle, reason, nil)
	}

	result := &llm.GenerationResult{
		Provider:     llm.ProviderGoogle,
		Text:         resp.text(),
		Model:        lo.Ternary(resp.ModelVersion != "", resp.ModelVersion, model),
		FinishReason: resp.finishReason(),
		Usage:        toUsage(resp.UsageMetadata),
	}
	c.logger.Debug().Str("model", result.Model).Str("finish_reason", result.FinishReason).Msg("generate content finished")
	return result, nil
}

// generateRequest builds the vendor request from one consistent model snapshot.
func (c *Client) generateRequest(state llm.ModelState, gen llm.GenerationConfig, messages []llm.Message) generateRequest {
	maxTokens := gen.MaxOutputTokens
	if maxTokens <= 0 && state.HasCapability {
		maxTokens = state.Capability.DefaultOutputTokens
	}
	temperature := llm.ClampTemperature(gen.Temperature, temperatureLimit)

	req := generateRequest{
		Contents:         toContents(messages),
		GenerationConfig: &generationConfig{Temperature: &temperature},
	}
	if maxTokens > 0 {
		req.GenerationConfig.MaxOutputTokens = &maxTokens
	}
	if gen.System != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: gen.System}}}
	}
	return req
}

func toContents(messages []llm.Message) []content {
	return lo.Map(messages, func(m llm.Message, _ int) content {
		return content{
			Role:  lo.Ternary(m.Role == llm.RoleAssistant, "model", "user"),
			Parts: []part{{Text: m.Content}},
		}
	})
}

// toUsage keeps only the counts Gemini reported.
func toUsage(u *usageMetadata) llm.Usage {
	if u == nil {
		return llm.Usage{}
	}
	usage := llm.NewUsage(u.PromptTokenCount, u.CandidatesTokenCount)
	if u.TotalTokenCount != nil {
		usage.TotalTokens = u.TotalTokenCount
	}
	return usage
}

func modelPath(model, method string) string {
	return "/models/" + url.PathEscape(model) + ":" + method
}

// Ensure Client implements llm.Client
var _ llm.Client = (*Client)(nil)
