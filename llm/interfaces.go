package llm

import (
	"context"
	"time"
)

// Client is the provider-neutral contract every vendor adapter implements.
// Callers hold a Client and never a concrete provider type.
//
// A Client is safe for concurrent use. The only mutable state is the active model
// selection, changed solely by SetGenerationModel and SetEmbeddingModel.
type Client interface {
	// Identity returns the provider name and the active generation model.
	Identity() ProviderIdentity

	// EmbeddingModel returns the active embedding model, or "" when the provider
	// has no embedding capability.
	EmbeddingModel() string

	// Capability returns metadata for the active generation model when known.
	Capability() (ModelCapability, bool)

	// Defaults returns the client-level generation defaults.
	Defaults() GenerationConfig

	// SetGenerationModel validates family+version and makes it the active generation
	// model. An unknown model fails with an UnsupportedModelError and leaves the
	// previous selection in place.
	SetGenerationModel(ctx context.Context, version string) error

	// SetEmbeddingModel validates and activates an embedding model. Providers without
	// embeddings fail with a CapabilityNotSupportedError.
	SetEmbeddingModel(ctx context.Context, version string) error

	// GenerateText sends userMessage and waits for the complete reply.
	GenerateText(ctx context.Context, userMessage string, opts *GenerateOptions) (*GenerationResult, error)

	// StreamText sends userMessage and returns the reply as it is produced.
	StreamText(ctx context.Context, userMessage string, opts *GenerateOptions) (TextStream, error)

	// EmbedText returns one vector per input text, in input order.
	EmbedText(ctx context.Context, texts []string, docType DocumentType) (*EmbeddingResult, error)

	// PrepareMessage builds a chat message. It has no side effects.
	PrepareMessage(role Role, content string) Message
}

// Operation names a Client call for middleware and logging.
type Operation string

const (
	OperationGenerate Operation = "generate"
	OperationStream   Operation = "stream"
	OperationEmbed    Operation = "embed"
)

// Request describes one Client call as seen by middleware.
type Request struct {
	ID           string // set by middleware that tags calls, e.g. the logging middleware
	StartedAt    time.Time
	Operation    Operation
	Provider     string
	Model        string
	UserMessage  string
	Options      *GenerateOptions
	Texts        []string
	DocumentType DocumentType
}

// Response carries the result of a Request. Exactly one field is set.
type Response struct {
	Generation *GenerationResult
	Embedding  *EmbeddingResult
	Stream     TextStream
}

// Middleware provides hooks for decorating Client calls.
// This allows adding cross-cutting concerns like logging or metrics.
type Middleware interface {
	// BeforeRequest is called before the call is made.
	// It can modify the request or return an error to abort it.
	BeforeRequest(ctx context.Context, req *Request) (*Request, error)

	// AfterResponse is called after a successful call.
	AfterResponse(ctx context.Context, req *Request, resp *Response) (*Response, error)

	// OnError is called when the call fails.
	// It can return a modified error or nil to use the original error.
	OnError(ctx context.Context, req *Request, err error) error
}

// MiddlewareFunc is a function type that implements Middleware.
type MiddlewareFunc struct {
	BeforeRequestFunc func(ctx context.Context, req *Request) (*Request, error)
	AfterResponseFunc func(ctx context.Context, req *Request, resp *Response) (*Response, error)
	OnErrorFunc       func(ctx context.Context, req *Request, err error) error
}

// BeforeRequest calls the BeforeRequestFunc if set.
func (f MiddlewareFunc) BeforeRequest(ctx context.Context, req *Request) (*Request, error) {
	if f.BeforeRequestFunc != nil {
		return f.BeforeRequestFunc(ctx, req)
	}
	return req, nil
}

// AfterResponse calls the AfterResponseFunc if set.
func (f MiddlewareFunc) AfterResponse(ctx context.Context, req *Request, resp *Response) (*Response, error) {
	if f.AfterResponseFunc != nil {
		return f.AfterResponseFunc(ctx, req, resp)
	}
	return resp, nil
}

// OnError calls the OnErrorFunc if set.
func (f MiddlewareFunc) OnError(ctx context.Context, req *Request, err error) error {
	if f.OnErrorFunc != nil {
		return f.OnErrorFunc(ctx, req, err)
	}
	return err
}

// WrapWithMiddleware wraps a Client with middleware and returns a new Client.
// Model selection and message preparation pass straight through.
func WrapWithMiddleware(client Client, middleware ...Middleware) Client {
	if len(middleware) == 0 {
		return client
	}
	return &clientWithMiddleware{
		Client:     client,
		middleware: middleware,
	}
}

// clientWithMiddleware wraps a Client with middleware.
type clientWithMiddleware struct {
	Client
	middleware []Middleware
}

func (c *clientWithMiddleware) newRequest(op Operation) *Request {
	id := c.Identity()
	model := id.Model
	if op == OperationEmbed {
		model = c.EmbeddingModel()
	}
	return &Request{Operation: op, Provider: id.Provider, Model: model, StartedAt: time.Now()}
}

func (c *clientWithMiddleware) before(ctx context.Context, req *Request) (*Request, error) {
	for _, mw := range c.middleware {
		var err error
		req, err = mw.BeforeRequest(ctx, req)
		if err != nil {
			return nil, err
		}
	}
	return req, nil
}

func (c *clientWithMiddleware) onError(ctx context.Context, req *Request, err error) error {
	for _, mw := range c.middleware {
		if handled := mw.OnError(ctx, req, err); handled != nil {
			err = handled
		}
	}
	return err
}

func (c *clientWithMiddleware) after(ctx context.Context, req *Request, resp *Response) (*Response, error) {
	for i := len(c.middleware) - 1; i >= 0; i-- {
		var err error
		resp, err = c.middleware[i].AfterResponse(ctx, req, resp)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// GenerateText implements Client.GenerateText with middleware support.
func (c *clientWithMiddleware) GenerateText(ctx context.Context, userMessage string, opts *GenerateOptions) (*GenerationResult, error) {
	req := c.newRequest(OperationGenerate)
	req.UserMessage = userMessage
	req.Options = opts

	req, err := c.before(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := c.Client.GenerateText(ctx, req.UserMessage, req.Options)
	if err != nil {
		return nil, c.onError(ctx, req, err)
	}
	resp, err := c.after(ctx, req, &Response{Generation: result})
	if err != nil {
		return nil, err
	}
	return resp.Generation, nil
}

// StreamText implements Client.StreamText with middleware support.
// Only stream creation is observed; fragments flow through untouched.
func (c *clientWithMiddleware) StreamText(ctx context.Context, userMessage string, opts *GenerateOptions) (TextStream, error) {
	req := c.newRequest(OperationStream)
	req.UserMessage = userMessage
	req.Options = opts

	req, err := c.before(ctx, req)
	if err != nil {
		return nil, err
	}
	stream, err := c.Client.StreamText(ctx, req.UserMessage, req.Options)
	if err != nil {
		return nil, c.onError(ctx, req, err)
	}
	resp, err := c.after(ctx, req, &Response{Stream: stream})
	if err != nil {
		_ = stream.Close()
		return nil, err
	}
	return resp.Stream, nil
}

// EmbedText implements Client.EmbedText with middleware support.
func (c *clientWithMiddleware) EmbedText(ctx context.Context, texts []string, docType DocumentType) (*EmbeddingResult, error) {
	req := c.newRequest(OperationEmbed)
	req.Texts = texts
	req.DocumentType = docType

	req, err := c.before(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := c.Client.EmbedText(ctx, req.Texts, req.DocumentType)
	if err != nil {
		return nil, c.onError(ctx, req, err)
	}
	resp, err := c.after(ctx, req, &Response{Embedding: result})
	if err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

// Ensure clientWithMiddleware implements Client
var _ Client = (*clientWithMiddleware)(nil)
