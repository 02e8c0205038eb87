// Package llm talks to the completion provider. A Client performs one
// request/response exchange; [Complete] wraps that exchange with the
// history bookkeeping every caller needs.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/nugget/veronica/internal/history"
)

// ErrNoChoices is returned when the provider answers without a message.
var ErrNoChoices = errors.New("provider returned no choices")

// Client is the interface that completion providers implement.
type Client interface {
	// Chat sends one completion request and returns the provider's
	// message. It has no side effects beyond the outbound call.
	Chat(ctx context.Context, req *Request) (*Response, error)
}

// FunctionDef describes one callable action offered to the provider.
// Parameters is a JSON schema document.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters"`
}

// Request is a provider-neutral completion request.
type Request struct {
	System    string
	Turns     []history.Turn
	Functions []FunctionDef
}

// Response is a provider-neutral completion response. Message is
// always an assistant turn; Message.Action is set when the provider
// chose to call a function instead of replying.
type Response struct {
	Model        string
	Message      history.Turn
	InputTokens  int
	OutputTokens int
}

// Completion is the result of [Complete].
type Completion struct {
	Turn         history.Turn
	Model        string
	InputTokens  int
	OutputTokens int
}

// Action returns the requested action, or nil for a plain reply.
func (c *Completion) Action() *history.ActionRequest {
	return c.Turn.Action
}

// Complete sends the buffer's current contents to client and, on
// success, pushes the provider's assistant turn onto buf. Every
// successful call grows the history by exactly one turn; a failed call
// leaves it untouched and returns the provider error.
func Complete(ctx context.Context, client Client, system string, buf *history.Buffer, catalog []FunctionDef) (*Completion, error) {
	resp, err := client.Chat(ctx, &Request{
		System:    system,
		Turns:     buf.Slice(),
		Functions: catalog,
	})
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	turn := resp.Message
	turn.Role = history.RoleAssistant
	buf.Push(turn)

	return &Completion{
		Turn:         turn,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}
