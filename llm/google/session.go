package google

import (
	"context"
	"sync"

	"github.com/aschepis/backscratcher/llmbridge/llm"
)

// ChatSession is a rolling Gemini conversation bound to one generation model.
// Turns are sent one at a time; the transcript only grows on success.
type ChatSession struct {
	client *Client
	model  string

	mu         sync.Mutex
	transcript []llm.Message
}

// Model returns the generation model the session was opened for.
func (s *ChatSession) Model() string {
	return s.model
}

// Messages returns a copy of the accumulated transcript.
func (s *ChatSession) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.transcript...)
}

// send submits userMessage after the session transcript. opts.History, when set,
// is sent as well and updated like in GenerateText.
func (s *ChatSession) send(ctx context.Context, state llm.ModelState, userMessage string, opts *llm.GenerateOptions) (*llm.GenerationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := llm.StartTurn(userMessage, opts)
	messages := append(append([]llm.Message(nil), s.transcript...), turn.Messages...)

	result, err := s.client.generate(ctx, state, s.client.defaults.Merge(opts), messages)
	turn.Complete(result, err)
	if err != nil {
		return nil, err
	}
	s.transcript = append(s.transcript,
		llm.NewMessage(llm.RoleUser, userMessage),
		llm.NewMessage(llm.RoleAssistant, result.Text))
	return result, nil
}

// Session returns the active chat session, opening one for the current
// generation model when none exists.
func (c *Client) Session() *ChatSession {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	model := c.models.Current().Identity.Model
	if c.session == nil || c.session.model != model {
		c.session = &ChatSession{client: c, model: model}
		c.logger.Debug().Str("model", model).Msg("chat session opened")
	}
	return c.session
}

// ResetSession drops the active chat session. The next Chat call starts a new
// conversation.
func (c *Client) ResetSession() {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.session != nil {
		c.logger.Debug().Str("model", c.session.model).Msg("chat session dropped")
	}
	c.session = nil
}

// Chat sends userMessage within the client's chat session. The session keeps
// the conversation, so the caller should not pass a History.
func (c *Client) Chat(ctx context.Context, userMessage string, opts *llm.GenerateOptions) (*llm.GenerationResult, error) {
	session := c.Session()
	state := c.models.Current()
	if state.Identity.Model != session.model {
		// The model changed between opening and sending; start over on the new one.
		c.ResetSession()
		session = c.Session()
		state = c.models.Current()
	}
	return session.send(ctx, state, userMessage, opts)
}
