package llm

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Role represents the role of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single chat turn.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// NewMessage creates a message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// DocumentType describes the source of text handed to EmbedText.
type DocumentType string

const (
	DocumentTypeText  DocumentType = "text"
	DocumentTypeHTML  DocumentType = "html"
	DocumentTypePDF   DocumentType = "pdf"
	DocumentTypeDOCX  DocumentType = "docx"
	DocumentTypeQuery DocumentType = "query"
)

// Validate returns the effective document type, defaulting empty to text.
func (d DocumentType) Validate(provider string) (DocumentType, error) {
	switch d {
	case "":
		return DocumentTypeText, nil
	case DocumentTypeText, DocumentTypeHTML, DocumentTypePDF, DocumentTypeDOCX, DocumentTypeQuery:
		return d, nil
	default:
		return "", NewPermanentError(provider, fmt.Sprintf("unsupported document type %q", string(d)), nil)
	}
}

// IsQuery reports whether the text is a retrieval query rather than a stored document.
func (d DocumentType) IsQuery() bool {
	return d == DocumentTypeQuery
}

// ProviderIdentity names the vendor and the active generation model of a client.
type ProviderIdentity struct {
	Provider string
	Family   string
	Version  string
	Model    string // composite family+version key used for vendor calls and catalog lookups
}

// GenerationConfig holds sampling and budget settings for generation calls.
type GenerationConfig struct {
	Temperature     float64 `yaml:"temperature,omitempty"`
	MaxOutputTokens int     `yaml:"max_output_tokens,omitempty"`
	MaxInputTokens  int     `yaml:"max_input_tokens,omitempty"`
	System          string  `yaml:"system,omitempty"`
}

// DefaultGenerationConfig mirrors the defaults every client starts from.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     0.7,
		MaxOutputTokens: 512,
		MaxInputTokens:  2048,
	}
}

// GenerateOptions are per-call overrides. Nil fields fall back to the client defaults.
type GenerateOptions struct {
	Temperature     *float64
	MaxOutputTokens *int

	// History, when set, receives the user message before dispatch and the
	// assistant reply after a successful call.
	History *History
}

// Merge returns a copy of c with the overrides in opts applied. c is not modified.
func (c GenerationConfig) Merge(opts *GenerateOptions) GenerationConfig {
	out := c
	if opts == nil {
		return out
	}
	if opts.Temperature != nil {
		out.Temperature = *opts.Temperature
	}
	if opts.MaxOutputTokens != nil {
		out.MaxOutputTokens = *opts.MaxOutputTokens
	}
	return out
}

// ClampTemperature bounds t to [0, limit].
func ClampTemperature(t, limit float64) float64 {
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	return math.Min(t, limit)
}

// Usage is vendor-reported token accounting. A nil field means the vendor did not report it.
type Usage struct {
	PromptTokens     *int64 `json:"prompt_tokens,omitempty"`
	CompletionTokens *int64 `json:"completion_tokens,omitempty"`
	TotalTokens      *int64 `json:"total_tokens,omitempty"`
}

// Tokens returns a pointer to n for populating Usage fields.
func Tokens(n int64) *int64 {
	return &n
}

// NewUsage builds Usage from reported prompt/completion counts, deriving the total
// only when both parts are reported.
func NewUsage(prompt, completion *int64) Usage {
	u := Usage{PromptTokens: prompt, CompletionTokens: completion}
	if prompt != nil && completion != nil {
		u.TotalTokens = Tokens(*prompt + *completion)
	}
	return u
}

// GenerationResult is the canonical result of a generation call.
type GenerationResult struct {
	Provider     string `json:"provider"`
	Text         string `json:"text"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// EmbeddingResult is the canonical result of an embedding call. Vectors[i] belongs to input i.
type EmbeddingResult struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Vectors  [][]float32 `json:"vectors"`
	Usage    Usage       `json:"usage"`
}

// DefaultStreamChunkTimeout bounds how long a stream waits for the next fragment.
const DefaultStreamChunkTimeout = 60 * time.Second

// ClientConfig is the construction-time configuration surface shared by all providers.
type ClientConfig struct {
	APIKey       string
	BaseURL      string
	Organization string

	// ModelName is the model family ("gpt", "claude", "gemini"); ModelVersion the
	// version appended to it. Empty values select the provider default.
	ModelName      string
	ModelVersion   string
	EmbeddingModel string

	Defaults           GenerationConfig
	StreamChunkTimeout time.Duration

	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// ChunkTimeout returns the configured per-chunk stream timeout or the default.
func (c ClientConfig) ChunkTimeout() time.Duration {
	if c.StreamChunkTimeout > 0 {
		return c.StreamChunkTimeout
	}
	return DefaultStreamChunkTimeout
}

// EffectiveDefaults fills unset fields of c.Defaults from DefaultGenerationConfig.
func (c ClientConfig) EffectiveDefaults() GenerationConfig {
	base := DefaultGenerationConfig()
	if c.Defaults == (GenerationConfig{}) {
		return base
	}
	// A zero temperature is a legitimate setting once anything else was configured.
	d := c.Defaults
	if d.MaxOutputTokens <= 0 {
		d.MaxOutputTokens = base.MaxOutputTokens
	}
	if d.MaxInputTokens <= 0 {
		d.MaxInputTokens = base.MaxInputTokens
	}
	return d
}
