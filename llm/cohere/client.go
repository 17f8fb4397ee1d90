// Package cohere adapts the Cohere v2 chat and embed REST API to llm.Client.
package cohere

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/llm/transport"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Client implements the llm.Client interface for Cohere's API.
type Client struct {
	transport    *transport.Client
	models       *llm.ModelSelector
	defaults     llm.GenerationConfig
	chunkTimeout time.Duration
	logger       zerolog.Logger
}

// NewClient creates a new Client. Generation and embedding models are checked
// against the fixed registries.
func NewClient(cfg llm.ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, llm.NewAuthenticationError(llm.ProviderCohere, "api key is required", nil)
	}

	family := lo.Ternary(cfg.ModelName != "", cfg.ModelName, DefaultModelName)
	version := lo.Ternary(cfg.ModelVersion != "", cfg.ModelVersion, DefaultModelVersion)
	key := llm.ModelKey(family, "-", version)
	capability, ok := Models.Lookup(key)
	if !ok {
		return nil, llm.NewUnsupportedModelError(llm.ProviderCohere, key, nil)
	}
	embeddingModel := lo.Ternary(cfg.EmbeddingModel != "", cfg.EmbeddingModel, DefaultEmbeddingModel)
	if err := EmbeddingModels.Validate(embeddingModel); err != nil {
		return nil, err
	}

	logger := cfg.Logger.With().Str("provider", llm.ProviderCohere).Logger()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	header.Set("X-Client-Name", "llmbridge")
	baseURL := lo.Ternary(cfg.BaseURL != "", cfg.BaseURL, DefaultBaseURL)

	logger.Debug().Str("model", key).Str("embedding_model", embeddingModel).Msg("client created")

	return &Client{
		transport: transport.New(llm.ProviderCohere, baseURL, cfg.HTTPClient, header, logger),
		models: llm.NewModelSelector(llm.ProviderCohere, "-", llm.ModelState{
			Identity:       llm.ProviderIdentity{Family: family, Version: version, Model: key},
			Capability:     capability,
			HasCapability:  true,
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

// SetEmbeddingModel implements llm.Client.SetEmbeddingModel. version is the full
// embedding model name, e.g. "embed-multilingual-v3.0".
func (c *Client) SetEmbeddingModel(ctx context.Context, version string) error {
	changed, err := c.models.SetEmbedding(ctx, version, llm.CatalogValidator(EmbeddingModels))
	if err != nil {
		return err
	}
	if changed {
		c.logger.Debug().Str("embedding_model", version).Msg("embedding model changed")
	}
	return nil
}

// PrepareMessage implements llm.Client.PrepareMessage.
func (c *Client) PrepareMessage(role llm.Role, content string) llm.Message {
	return llm.NewMessage(role, content)
}

// GenerateText implements llm.Client.GenerateText.
func (c *Client) GenerateText(ctx context.Context, userMessage string, opts *llm.GenerateOptions) (*llm.GenerationResult, error) {
	state := c.models.Current()
	turn := llm.StartTurn(userMessage, opts)
	req := c.chatRequest(state, c.defaults.Merge(opts), turn.Messages)

	var resp chatResponse
	if err := c.transport.PostJSON(ctx, "/v2/chat", req, &resp); err != nil {
		turn.Complete(nil, err)
		c.logger.Warn().Err(err).Str("model", req.Model).Msg("chat failed")
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Message.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	result := &llm.GenerationResult{
		Provider:     llm.ProviderCohere,
		Text:         text.String(),
		Model:        req.Model,
		FinishReason: resp.FinishReason,
		Usage:        toUsage(resp.Usage),
	}
	turn.Complete(result, nil)

	c.logger.Debug().Str("model", req.Model).Str("finish_reason", resp.FinishReason).Msg("chat finished")
	return result, nil
}

// StreamText implements llm.Client.StreamText.
func (c *Client) StreamText(ctx context.Context, userMessage string, opts *llm.GenerateOptions) (llm.TextStream, error) {
	state := c.models.Current()
	turn := llm.StartTurn(userMessage, opts)
	req := c.chatRequest(state, c.defaults.Merge(opts), turn.Messages)
	req.Stream = true

	body, err := c.transport.PostStream(ctx, "/v2/chat", req)
	if err != nil {
		turn.Complete(nil, err)
		c.logger.Warn().Err(err).Str("model", req.Model).Msg("chat stream failed to start")
		return nil, err
	}

	return llm.NewTextStream(ctx, llm.StreamOptions{
		Provider:     llm.ProviderCohere,
		ChunkTimeout: c.chunkTimeout,
		Release:      body.Close,
		OnComplete:   turn.CompleteStream(llm.ProviderCohere, req.Model),
	}, c.streamProducer(body)), nil
}

// EmbedText implements llm.Client.EmbedText. Query texts are embedded with
// input_type search_query, everything else as search_document.
func (c *Client) EmbedText(ctx context.Context, texts []string, docType llm.DocumentType) (*llm.EmbeddingResult, error) {
	docType, err := docType.Validate(llm.ProviderCohere)
	if err != nil {
		return nil, err
	}
	model := c.models.Current().EmbeddingModel
	result := &llm.EmbeddingResult{Provider: llm.ProviderCohere, Model: model, Vectors: [][]float32{}}
	if len(texts) == 0 {
		return result, nil
	}

	var billed float64
	reported := false
	for _, batch := range lo.Chunk(texts, maxEmbeddingBatch) {
		var resp embedResponse
		err := c.transport.PostJSON(ctx, "/v2/embed", embedRequest{
			Model:          model,
			Texts:          batch,
			InputType:      InputType(docType),
			EmbeddingTypes: []string{"float"},
		}, &resp)
		if err != nil {
			c.logger.Warn().Err(err).Str("model", model).Int("texts", len(texts)).Msg("embedding failed")
			return nil, err
		}
		if len(resp.Embeddings.Float) != len(batch) {
			return nil, llm.NewPermanentError(llm.ProviderCohere,
				fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(resp.Embeddings.Float)), nil)
		}
		result.Vectors = append(result.Vectors, resp.Embeddings.Float...)
		if bu := resp.Meta.BilledUnits; bu != nil && bu.InputTokens != nil {
			reported = true
			billed += *bu.InputTokens
		}
	}

	if reported {
		result.Usage = llm.Usage{PromptTokens: llm.Tokens(int64(billed)), TotalTokens: llm.Tokens(int64(billed))}
	}
	c.logger.Debug().Str("model", model).Int("vectors", len(result.Vectors)).Msg("embedding finished")
	return result, nil
}

// InputType maps a document type to Cohere's embed input_type.
func InputType(docType llm.DocumentType) string {
	if docType.IsQuery() {
		return "search_query"
	}
	return "search_document"
}

// chatRequest builds the vendor request from one consistent model snapshot.
func (c *Client) chatRequest(state llm.ModelState, gen llm.GenerationConfig, messages []llm.Message) chatRequest {
	maxTokens := gen.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = state.Capability.DefaultOutputTokens
	}
	temperature := llm.ClampTemperature(gen.Temperature, temperatureLimit)

	msgs := make([]chatMessage, 0, len(messages)+1)
	if gen.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: gen.System})
	}
	for _, m := range messages {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	return chatRequest{
		Model:       state.Identity.Model,
		Messages:    msgs,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
}

// toUsage prefers the actual token counts over billed units.
func toUsage(u *usage) llm.Usage {
	if u == nil {
		return llm.Usage{}
	}
	counts := u.Tokens
	if counts == nil {
		counts = u.BilledUnits
	}
	if counts == nil {
		return llm.Usage{}
	}
	return llm.NewUsage(floatTokens(counts.InputTokens), floatTokens(counts.OutputTokens))
}

func floatTokens(f *float64) *int64 {
	if f == nil {
		return nil
	}
	return llm.Tokens(int64(*f))
}

// Ensure Client implements llm.Client
var _ llm.Client = (*Client)(nil)
