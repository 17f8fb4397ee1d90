package llm

import (
	"sync"

	"github.com/samber/lo"
)

// BuildHistory returns the conversation to dispatch: the user and assistant turns of
// prior, in order, followed by newMessage. System messages are dropped; the system
// prompt travels through GenerationConfig instead. prior is not modified.
func BuildHistory(newMessage Message, prior []Message) []Message {
	out := lo.Filter(prior, func(m Message, _ int) bool {
		return m.Role == RoleUser || m.Role == RoleAssistant
	})
	return append(out, newMessage)
}

// History is a caller-owned chat transcript that generation calls append to.
// It is safe for concurrent use, but interleaving two in-flight calls on the same
// History produces an interleaved transcript.
type History struct {
	mu       sync.Mutex
	messages []Message
}

// NewHistory creates a History seeded with messages.
func NewHistory(messages ...Message) *History {
	return &History{messages: append([]Message(nil), messages...)}
}

// Messages returns a copy of the transcript.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.messages...)
}

// Len returns the number of messages in the transcript.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Append adds messages to the end of the transcript.
func (h *History) Append(messages ...Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, messages...)
}

// begin records the user turn and returns the prior transcript plus a rollback
// function that removes the user turn again.
func (h *History) begin(user Message) ([]Message, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prior := append([]Message(nil), h.messages...)
	h.messages = append(h.messages, user)
	idx := len(h.messages) - 1
	return prior, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if idx < len(h.messages) && h.messages[idx] == user {
			h.messages = append(h.messages[:idx], h.messages[idx+1:]...)
		}
	}
}

// Turn is an in-progress generation call against an optional History.
type Turn struct {
	// Messages is the conversation to send to the vendor, ending with the user message.
	Messages []Message

	history  *History
	rollback func()
}

// StartTurn prepares the conversation for userMessage. When opts carries a History,
// the user message is appended to it before dispatch.
func StartTurn(userMessage string, opts *GenerateOptions) *Turn {
	user := NewMessage(RoleUser, userMessage)
	if opts == nil || opts.History == nil {
		return &Turn{Messages: []Message{user}}
	}
	prior, rollback := opts.History.begin(user)
	return &Turn{
		Messages: BuildHistory(user, prior),
		history:  opts.History,
		rollback: rollback,
	}
}

// Complete appends the assistant reply to the History on success, or rolls back the
// user message on failure. It is a no-op without a History.
func (t *Turn) Complete(result *GenerationResult, err error) {
	if t.history == nil {
		return
	}
	if err != nil || result == nil {
		t.rollback()
		return
	}
	t.history.Append(NewMessage(RoleAssistant, result.Text))
}

// CompleteStream returns a callback for StreamOptions.OnComplete that finishes the
// turn with the streamed text. It returns nil when there is no History to update.
func (t *Turn) CompleteStream(provider, model string) func(string, error) {
	if t.history == nil {
		return nil
	}
	return func(text string, err error) {
		if err != nil {
			t.Complete(nil, err)
			return
		}
		t.Complete(&GenerationResult{Provider: provider, Model: model, Text: text}, nil)
	}
}
