// Package ollama adapts a local Ollama server to llm.Client.
//
// Models are addressed as family:tag ("llama3.2:3b"). Model switches are
// validated against the models pulled on the server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	DefaultModelName      = "llama3.2"
	DefaultModelVersion   = "latest"
	DefaultEmbeddingModel = "nomic-embed-text"

	temperatureLimit = 2.0
	tagSeparator     = ":"
)

// Client implements the llm.Client interface for Ollama's API.
type Client struct {
	client       *api.Client
	models       *llm.ModelSelector
	defaults     llm.GenerationConfig
	chunkTimeout time.Duration
	logger       zerolog.Logger
}

// NewClient creates a new Client. cfg.BaseURL is the Ollama host; when empty the
// host comes from the environment (OLLAMA_HOST or http://localhost:11434). No
// credential is required and no network call is made.
func NewClient(cfg llm.ClientConfig) (*Client, error) {
	var client *api.Client
	if cfg.BaseURL != "" {
		baseURL, err := parseHost(cfg.BaseURL)
		if err != nil {
			return nil, llm.NewPermanentError(llm.ProviderOllama, fmt.Sprintf("invalid host %q", cfg.BaseURL), err)
		}
		httpClient := cfg.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{}
		}
		client = api.NewClient(baseURL, httpClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, llm.NewPermanentError(llm.ProviderOllama, "failed to create ollama client", err)
		}
	}

	family := lo.Ternary(cfg.ModelName != "", cfg.ModelName, DefaultModelName)
	version := lo.Ternary(cfg.ModelVersion != "", cfg.ModelVersion, DefaultModelVersion)
	key := llm.ModelKey(family, tagSeparator, version)
	embeddingModel := lo.Ternary(cfg.EmbeddingModel != "", cfg.EmbeddingModel, DefaultEmbeddingModel)

	logger := cfg.Logger.With().Str("provider", llm.ProviderOllama).Logger()
	logger.Debug().Str("model", key).Str("embedding_model", embeddingModel).Msg("client created")

	return &Client{
		client: client,
		models: llm.NewModelSelector(llm.ProviderOllama, tagSeparator, llm.ModelState{
			Identity:       llm.ProviderIdentity{Family: family, Version: version, Model: key},
			EmbeddingModel: embeddingModel,
		}),
		defaults:     cfg.EffectiveDefaults(),
		chunkTimeout: cfg.ChunkTimeout(),
		logger:       logger,
	}, nil
}

// parseHost parses a host string into a URL.
func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// Identity implements llm.Client.Identity.
func (c *Client) Identity() llm.ProviderIdentity {
	return c.models.Current().Identity
}

// EmbeddingModel implements llm.Client.EmbeddingModel.
func (c *Client) EmbeddingModel() string {
	return c.models.Current().EmbeddingModel
}

// Capability implements llm.Client.Capability. Ollama reports no limits through
// the model list, so it is unknown.
func (c *Client) Capability() (llm.ModelCapability, bool) {
	state := c.models.Current()
	return state.Capability, state.HasCapability
}

// Defaults implements llm.Client.Defaults.
func (c *Client) Defaults() llm.GenerationConfig {
	return c.defaults
}

// SetGenerationModel implements llm.Client.SetGenerationModel. version is the tag,
// e.g. "3b" for llama3.2:3b.
func (c *Client) SetGenerationModel(ctx context.Context, version string) error {
	changed, err := c.models.SetGeneration(ctx, version, c.discoveryValidator())
	if err != nil {
		return err
	}
	if changed {
		c.logger.Debug().Str("model", c.models.Current().Identity.Model).Msg("generation model changed")
	}
	return nil
}

// SetEmbeddingModel implements llm.Client.SetEmbeddingModel. version is the full
// model name, with or without a tag.
func (c *Client) SetEmbeddingModel(ctx context.Context, version string) error {
	changed, err := c.models.SetEmbedding(ctx, version, c.discoveryValidator())
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
	req := c.chatRequest(state, c.defaults.Merge(opts), turn.Messages, false)

	var resp api.ChatResponse
	err := c.client.Chat(ctx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		err = convertError(err)
		turn.Complete(nil, err)
		c.logger.Warn().Err(err).Str("model", req.Model).Msg("chat request failed")
		return nil, err
	}
	if !resp.Done {
		err = llm.NewTransientError(llm.ProviderOllama, "incomplete chat response", nil)
		turn.Complete(nil, err)
		return nil, err
	}

	result := &llm.GenerationResult{
		Provider:     llm.ProviderOllama,
		Text:         resp.Message.Content,
		Model:        lo.Ternary(resp.Model != "", resp.Model, req.Model),
		FinishReason: resp.DoneReason,
		Usage:        toUsage(resp.PromptEvalCount, resp.EvalCount),
	}
	turn.Complete(result, nil)

	c.logger.Debug().
		Str("model", result.Model).
		Int("prompt_tokens", resp.PromptEvalCount).
		Int("completion_tokens", resp.EvalCount).
		Msg("chat request finished")
	return result, nil
}

// StreamText implements llm.Client.StreamText. The request starts when the
// stream is first read, so connection and model errors surface through Err.
func (c *Client) StreamText(ctx context.Context, userMessage string, opts *llm.GenerateOptions) (llm.TextStream, error) {
	state := c.models.Current()
	turn := llm.StartTurn(userMessage, opts)
	req := c.chatRequest(state, c.defaults.Merge(opts), turn.Messages, true)

	return llm.NewTextStream(ctx, llm.StreamOptions{
		Provider:     llm.ProviderOllama,
		ChunkTimeout: c.chunkTimeout,
		OnComplete:   turn.CompleteStream(llm.ProviderOllama, req.Model),
	}, c.streamProducer(req)), nil
}

// EmbedText implements llm.Client.EmbedText. All texts go in one request.
func (c *Client) EmbedText(ctx context.Context, texts []string, docType llm.DocumentType) (*llm.EmbeddingResult, error) {
	if _, err := docType.Validate(llm.ProviderOllama); err != nil {
		return nil, err
	}
	model := c.models.Current().EmbeddingModel
	result := &llm.EmbeddingResult{Provider: llm.ProviderOllama, Model: model, Vectors: [][]float32{}}
	if len(texts) == 0 {
		return result, nil
	}

	resp, err := c.client.Embed(ctx, &api.EmbedRequest{Model: model, Input: texts})
	if err != nil {
		err = convertError(err)
		c.logger.Warn().Err(err).Str("model", model).Int("texts", len(texts)).Msg("embedding failed")
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, llm.NewPermanentError(llm.ProviderOllama,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)), nil)
	}

	result.Vectors = resp.Embeddings
	if resp.PromptEvalCount > 0 {
		result.Usage = llm.Usage{
			PromptTokens: llm.Tokens(int64(resp.PromptEvalCount)),
			TotalTokens:  llm.Tokens(int64(resp.PromptEvalCount)),
		}
	}
	c.logger.Debug().Str("model", model).Int("vectors", len(result.Vectors)).Msg("embedding finished")
	return result, nil
}

// chatRequest builds the vendor request from one consistent model snapshot.
func (c *Client) chatRequest(state llm.ModelState, gen llm.GenerationConfig, messages []llm.Message, stream bool) *api.ChatRequest {
	msgs := make([]api.Message, 0, len(messages)+1)
	if gen.System != "" {
		msgs = append(msgs, api.Message{Role: string(llm.RoleSystem), Content: gen.System})
	}
	for _, m := range messages {
		msgs = append(msgs, api.Message{Role: string(m.Role), Content: m.Content})
	}

	options := map[string]any{
		"temperature": llm.ClampTemperature(gen.Temperature, temperatureLimit),
	}
	if gen.MaxOutputTokens > 0 {
		options["num_predict"] = gen.MaxOutputTokens
	}
	if gen.MaxInputTokens > 0 {
		options["num_ctx"] = gen.MaxInputTokens
	}

	return &api.ChatRequest{
		Model:    state.Identity.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  options,
	}
}

func toUsage(prompt, completion int) llm.Usage {
	if prompt == 0 && completion == 0 {
		return llm.Usage{}
	}
	return llm.NewUsage(llm.Tokens(int64(prompt)), llm.Tokens(int64(completion)))
}

// Ensure Client implements llm.Client
var _ llm.Client = (*Client)(nil)
