package openai

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"
)

// Profile describes an endpoint that speaks the OpenAI chat and embeddings
// protocol. OpenAIProfile covers OpenAI itself; other vendors with a compatible
// API (Mistral) supply their own.
type Profile struct {
	Provider string
	BaseURL  string // "" keeps the go-openai default

	DefaultModelName    string
	DefaultModelVersion string
	Models              llm.Catalog

	EmbeddingModels       llm.Catalog
	DefaultEmbeddingModel string
	// EmbeddingKey maps the version passed to SetEmbeddingModel to a model name.
	EmbeddingKey func(version string) string

	TemperatureLimit   float64
	MaxEmbeddingBatch  int
	IncludeStreamUsage bool
}

// Client implements the llm.Client interface for OpenAI-compatible APIs.
type Client struct {
	profile      Profile
	client       *openai.Client
	models       *llm.ModelSelector
	defaults     llm.GenerationConfig
	chunkTimeout time.Duration
	logger       zerolog.Logger
}

// NewClient creates a Client for OpenAI.
func NewClient(cfg llm.ClientConfig) (*Client, error) {
	return NewCompatibleClient(cfg, OpenAIProfile())
}

// NewCompatibleClient creates a Client for any endpoint described by profile.
// It fails with an AuthenticationError when cfg.APIKey is empty and with an
// UnsupportedModelError when the configured models are not in the profile's catalogs.
func NewCompatibleClient(cfg llm.ClientConfig, profile Profile) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, llm.NewAuthenticationError(profile.Provider, "api key is required", nil)
	}

	family := lo.Ternary(cfg.ModelName != "", cfg.ModelName, profile.DefaultModelName)
	version := lo.Ternary(cfg.ModelVersion != "", cfg.ModelVersion, profile.DefaultModelVersion)
	key := llm.ModelKey(family, "-", version)
	capability, ok := profile.Models.Lookup(key)
	if !ok {
		return nil, llm.NewUnsupportedModelError(profile.Provider, key, nil)
	}

	embeddingModel := lo.Ternary(cfg.EmbeddingModel != "", cfg.EmbeddingModel, profile.DefaultEmbeddingModel)
	if err := profile.EmbeddingModels.Validate(embeddingModel); err != nil {
		return nil, err
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if baseURL := lo.Ternary(cfg.BaseURL != "", cfg.BaseURL, profile.BaseURL); baseURL != "" {
		config.BaseURL = baseURL
	}
	if cfg.Organization != "" {
		config.OrgID = cfg.Organization
	}
	var base openai.HTTPDoer = &http.Client{}
	if cfg.HTTPClient != nil {
		base = cfg.HTTPClient
	}
	config.HTTPClient = capturingDoer{base: base}

	logger := cfg.Logger.With().Str("provider", profile.Provider).Logger()
	logger.Debug().Str("model", key).Str("embedding_model", embeddingModel).Msg("client created")

	return &Client{
		profile: profile,
		client:  openai.NewClientWithConfig(config),
		models: llm.NewModelSelector(profile.Provider, "-", llm.ModelState{
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
	changed, err := c.models.SetGeneration(ctx, version, llm.CatalogValidator(c.profile.Models))
	if err != nil {
		return err
	}
	if changed {
		c.logger.Debug().Str("model", c.models.Current().Identity.Model).Msg("generation model changed")
	}
	return nil
}

// SetEmbeddingModel implements llm.Client.SetEmbeddingModel.
func (c *Client) SetEmbeddingModel(ctx context.Context, version string) error {
	model := version
	if version != "" && c.profile.EmbeddingKey != nil {
		model = c.profile.EmbeddingKey(version)
	}
	changed, err := c.models.SetEmbedding(ctx, model, llm.CatalogValidator(c.profile.EmbeddingModels))
	if err != nil {
		return err
	}
	if changed {
		c.logger.Debug().Str("embedding_model", model).Msg("embedding model changed")
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

	ctx, capture := withHeaderCapture(ctx)
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		err = convertError(c.profile.Provider, err, capture.Header())
		turn.Complete(nil, err)
		c.logger.Warn().Err(err).Str("model", req.Model).Msg("chat completion failed")
		return nil, err
	}
	if len(resp.Choices) == 0 {
		err = llm.NewPermanentError(c.profile.Provider, "no choices in response", nil)
		turn.Complete(nil, err)
		return nil, err
	}

	choice := resp.Choices[0]
	result := &llm.GenerationResult{
		Provider:     c.profile.Provider,
		Text:         choice.Message.Content,
		Model:        lo.Ternary(resp.Model != "", resp.Model, req.Model),
		FinishReason: string(choice.FinishReason),
		Usage:        toUsage(resp.Usage),
	}
	turn.Complete(result, nil)

	c.logger.Debug().
		Str("model", result.Model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("chat completion finished")
	return result, nil
}

// StreamText implements llm.Client.StreamText.
func (c *Client) StreamText(ctx context.Context, userMessage string, opts *llm.GenerateOptions) (llm.TextStream, error) {
	state := c.models.Current()
	turn := llm.StartTurn(userMessage, opts)
	req := c.chatRequest(state, c.defaults.Merge(opts), turn.Messages)
	req.Stream = true
	if c.profile.IncludeStreamUsage {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	streamCtx, capture := withHeaderCapture(ctx)
	stream, err := c.client.CreateChatCompletionStream(streamCtx, req)
	if err != nil {
		err = convertError(c.profile.Provider, err, capture.Header())
		turn.Complete(nil, err)
		c.logger.Warn().Err(err).Str("model", req.Model).Msg("chat completion stream failed to start")
		return nil, err
	}

	return llm.NewTextStream(ctx, llm.StreamOptions{
		Provider:     c.profile.Provider,
		ChunkTimeout: c.chunkTimeout,
		Release:      stream.Close,
		OnComplete:   turn.CompleteStream(c.profile.Provider, req.Model),
	}, c.streamProducer(stream)), nil
}

// EmbedText implements llm.Client.EmbedText. Inputs are sent in batches of at most
// MaxEmbeddingBatch texts; vectors are returned in input order.
func (c *Client) EmbedText(ctx context.Context, texts []string, docType llm.DocumentType) (*llm.EmbeddingResult, error) {
	if _, err := docType.Validate(c.profile.Provider); err != nil {
		return nil, err
	}
	model := c.models.Current().EmbeddingModel
	result := &llm.EmbeddingResult{Provider: c.profile.Provider, Model: model, Vectors: [][]float32{}}
	if len(texts) == 0 {
		return result, nil
	}

	var prompt int64
	reported := false
	for _, batch := range lo.Chunk(texts, c.batchSize()) {
		callCtx, capture := withHeaderCapture(ctx)
		resp, err := c.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(model),
		})
		if err != nil {
			err = convertError(c.profile.Provider, err, capture.Header())
			c.logger.Warn().Err(err).Str("model", model).Int("texts", len(texts)).Msg("embedding failed")
			return nil, err
		}
		if len(resp.Data) != len(batch) {
			return nil, llm.NewPermanentError(c.profile.Provider,
				fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(resp.Data)), nil)
		}

		data := append([]openai.Embedding(nil), resp.Data...)
		sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
		for _, d := range data {
			result.Vectors = append(result.Vectors, d.Embedding)
		}
		if resp.Usage.PromptTokens > 0 || resp.Usage.TotalTokens > 0 {
			reported = true
			prompt += int64(resp.Usage.PromptTokens)
		}
	}

	if reported {
		result.Usage = llm.Usage{PromptTokens: llm.Tokens(prompt), TotalTokens: llm.Tokens(prompt)}
	}
	c.logger.Debug().Str("model", model).Int("vectors", len(result.Vectors)).Msg("embedding finished")
	return result, nil
}

func (c *Client) batchSize() int {
	if c.profile.MaxEmbeddingBatch > 0 {
		return c.profile.MaxEmbeddingBatch
	}
	return maxEmbeddingBatch
}

// chatRequest builds the vendor request from one consistent model snapshot.
func (c *Client) chatRequest(state llm.ModelState, gen llm.GenerationConfig, messages []llm.Message) openai.ChatCompletionRequest {
	maxTokens := gen.MaxOutputTokens
	if maxTokens <= 0 && state.HasCapability {
		maxTokens = state.Capability.DefaultOutputTokens
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if gen.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: gen.System})
	}
	for _, m := range messages {
		msgs = append(msgs, toOpenAIMessage(m))
	}

	return openai.ChatCompletionRequest{
		Model:       state.Identity.Model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: float32(llm.ClampTemperature(gen.Temperature, c.profile.TemperatureLimit)),
	}
}

// toOpenAIMessage converts a single llm.Message to OpenAI format.
func toOpenAIMessage(msg llm.Message) openai.ChatCompletionMessage {
	var role string
	switch msg.Role {
	case llm.RoleAssistant:
		role = openai.ChatMessageRoleAssistant
	case llm.RoleSystem:
		role = openai.ChatMessageRoleSystem
	default:
		role = openai.ChatMessageRoleUser
	}
	return openai.ChatCompletionMessage{Role: role, Content: msg.Content}
}

// toUsage converts vendor usage. All-zero counts mean the vendor reported nothing.
func toUsage(u openai.Usage) llm.Usage {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return llm.Usage{}
	}
	return llm.Usage{
		PromptTokens:     llm.Tokens(int64(u.PromptTokens)),
		CompletionTokens: llm.Tokens(int64(u.CompletionTokens)),
		TotalTokens:      llm.Tokens(int64(u.TotalTokens)),
	}
}

// Ensure Client implements llm.Client
var _ llm.Client = (*Client)(nil)
