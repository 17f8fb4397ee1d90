// Package llm provides a provider-neutral abstraction layer for Large Language Model (LLM) APIs.
//
// Calling code holds an llm.Client and can switch vendors (OpenAI, Anthropic, Mistral,
// Google Gemini, Cohere, Ollama) or models without changing call sites. Each vendor
// lives in its own sub-package and translates between its wire format and the types
// defined here.
//
// # Core Concepts
//
//  1. Client: the common contract. GenerateText for blocking calls, StreamText for
//     incremental output, EmbedText for vectors, and SetGenerationModel /
//     SetEmbeddingModel for validated model switches.
//
//  2. Catalog and ModelSelector: static per-provider model tables and the
//     atomically swapped active-model state every client keeps.
//
//  3. History and BuildHistory: caller-owned transcripts. A generation call appends
//     the user turn before dispatch and the assistant reply on success.
//
//  4. TextStream: a lazy, single-consumer fragment sequence with a per-chunk read
//     timeout. Vendor failures mid-stream end it with a typed error.
//
//  5. Errors: every vendor failure surfaces as an *Error of exactly one kind
//     (authentication, unsupported model, capability not supported, rate limit,
//     transient, permanent). Use errors.Is with the Err* sentinels.
//
//  6. Middleware: WrapWithMiddleware decorates a Client with cross-cutting concerns
//     such as NewLoggingMiddleware.
//
// Usage Example
//
//	client, err := openai.NewClient(llm.ClientConfig{APIKey: key, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	history := llm.NewHistory()
//	res, err := client.GenerateText(ctx, "Hello!", &llm.GenerateOptions{History: history})
//	if errors.Is(err, llm.ErrRateLimit) {
//	    // back off using llm.ExtractRetryAfter(err)
//	}
//
// # Extension Points
//
// To add a new LLM provider:
//  1. Implement the Client interface
//  2. Declare a Catalog, or a discovery-backed Validator, for model selection
//  3. Translate vendor errors with ClassifyStatus and Normalize
//  4. Build streams with NewTextStream so the chunk timeout applies
//
// Retries are not performed by clients; see the retry package for a caller-side policy.
package llm
