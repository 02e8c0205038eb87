package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/nugget/veronica/internal/history"
)

// errScriptExhausted is returned when a ScriptedClient runs out of steps.
var errScriptExhausted = errors.New("scripted client: no more steps")

// Step is one canned provider answer: either a message or an error.
type Step struct {
	Message history.Turn
	Err     error
	// Block makes Chat wait for ctx cancellation before answering.
	Block bool
}

// Text is a step answering with a plain reply.
func Text(content string) Step {
	return Step{Message: history.Assistant(content)}
}

// Call is a step answering with a function call.
func Call(name, arguments string) Step {
	return Step{Message: history.Turn{
		Role:   history.RoleAssistant,
		Action: &history.ActionRequest{Name: name, Arguments: arguments},
	}}
}

// Fail is a step answering with a provider error.
func Fail(err error) Step {
	return Step{Err: err}
}

// ScriptedClient is a [Client] that replays a fixed list of steps and
// records every request it receives. Tests use it in place of a real
// provider.
type ScriptedClient struct {
	mu       sync.Mutex
	steps    []Step
	requests []*Request
}

// NewScriptedClient returns a client that answers with steps in order.
func NewScriptedClient(steps ...Step) *ScriptedClient {
	return &ScriptedClient{steps: steps}
}

// Chat implements [Client].
func (s *ScriptedClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		s.mu.Unlock()
		return nil, errScriptExhausted
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	if step.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &Response{Model: "scripted", Message: step.Message}, nil
}

// Calls returns the number of Chat calls made so far.
func (s *ScriptedClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of the recorded requests.
func (s *ScriptedClient) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Request(nil), s.requests...)
}
