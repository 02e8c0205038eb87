// Package history holds the bounded conversation memory that is sent to
// the completion provider on every request. A Buffer keeps the most
// recent turns of one conversation and silently evicts the oldest turn
// once it is full.
package history

import (
	"errors"
	"iter"
)

// ErrZeroCapacity is returned by [New] when asked for a buffer that
// could never hold a turn.
var ErrZeroCapacity = errors.New("history capacity must be at least 1")

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleFunction  Role = "function"
)

// ActionRequest is a named action chosen by the completion provider in
// place of a direct reply. Arguments is the provider's raw JSON text;
// it is parsed by the handler that owns the action, never here.
type ActionRequest struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Turn is one entry of conversation history.
type Turn struct {
	Role    Role           `json:"role"`
	Content string         `json:"content"`
	Name    string         `json:"name,omitempty"`
	Action  *ActionRequest `json:"function_call,omitempty"`
}

// User returns a user turn.
func User(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// Assistant returns a plain assistant turn.
func Assistant(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// System returns a system turn.
func System(content string) Turn {
	return Turn{Role: RoleSystem, Content: content}
}

// FunctionResult returns the turn that carries an action's outcome
// back to the provider.
func FunctionResult(name, content string) Turn {
	return Turn{Role: RoleFunction, Name: name, Content: content}
}

// clone detaches the action request so callers cannot mutate a stored
// turn through a shared pointer.
func (t Turn) clone() Turn {
	if t.Action != nil {
		a := *t.Action
		t.Action = &a
	}
	return t
}

// Reply is the terminal result of one conversational exchange, the
// thing the inbound caller actually receives.
type Reply struct {
	Role         Role           `json:"role"`
	Content      string         `json:"content"`
	Animation    string         `json:"animation,omitempty"`
	FunctionCall *ActionRequest `json:"function_call,omitempty"`
}

// Buffer is a fixed-capacity ring of turns. It is not safe for
// concurrent use; callers serialize access per conversation.
type Buffer struct {
	turns []Turn
	head  int // index of the oldest turn
	count int
}

// New creates an empty buffer holding at most capacity turns.
func New(capacity int) (*Buffer, error) {
	if capacity < 1 {
		return nil, ErrZeroCapacity
	}
	return &Buffer{turns: make([]Turn, capacity)}, nil
}

// Push appends t. When the buffer is full the oldest turn is evicted.
func (b *Buffer) Push(t Turn) {
	t = t.clone()
	if b.count == len(b.turns) {
		b.turns[b.head] = t
		b.head = (b.head + 1) % len(b.turns)
		return
	}
	b.turns[(b.head+b.count)%len(b.turns)] = t
	b.count++
}

// All yields the stored turns oldest to newest. The sequence reflects
// the buffer at the moment each step runs and can be ranged over any
// number of times.
func (b *Buffer) All() iter.Seq[Turn] {
	return func(yield func(Turn) bool) {
		for i := 0; i < b.count; i++ {
			if !yield(b.turns[(b.head+i)%len(b.turns)].clone()) {
				return
			}
		}
	}
}

// Slice returns a copy of the stored turns, oldest first.
func (b *Buffer) Slice() []Turn {
	out := make([]Turn, 0, b.count)
	for t := range b.All() {
		out = append(out, t)
	}
	return out
}

// Len reports how many turns are stored.
func (b *Buffer) Len() int { return b.count }

// Cap reports the fixed capacity.
func (b *Buffer) Cap() int { return len(b.turns) }

// Clear drops every stored turn.
func (b *Buffer) Clear() {
	clear(b.turns)
	b.head = 0
	b.count = 0
}
