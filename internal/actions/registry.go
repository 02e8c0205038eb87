// Package actions is the function registry: the fixed set of actions
// the completion provider may request, their argument schemas, and the
// dispatcher that runs them against the external collaborators.
//
// Dispatch has one uniform contract. Whatever happens (unknown name,
// bad arguments, downstream error, panic, timeout) exactly one turn is
// pushed onto the conversation history, and the caller learns from the
// returned [Outcome] whether the exchange is over.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/veronica/internal/config"
	"github.com/nugget/veronica/internal/devices"
	"github.com/nugget/veronica/internal/history"
	"github.com/nugget/veronica/internal/store"
	"github.com/nugget/veronica/internal/trainstatus"
)

// Fixed texts used on failure paths.
const (
	// FailureNotice is the system turn pushed when an action fails and
	// the provider is asked to recover.
	FailureNotice = "tell the user something went wrong"
	// TerminalFailure is the function turn pushed when a failing action
	// ends the exchange.
	TerminalFailure = "Something went wrong."
	// TerminalApology is the final reply when a failing action ends the
	// exchange.
	TerminalApology = "My apologies, Something seems to have gone wrong. Please try again later"
)

// DefaultTimeout bounds a single handler call.
const DefaultTimeout = 30 * time.Second

var (
	// ErrNotConfigured is returned when an action's collaborator is absent.
	ErrNotConfigured = errors.New("action not configured")
	// ErrTimeout is returned when a handler outlives the dispatch timeout.
	ErrTimeout = errors.New("action timed out")
)

// MemoryStore persists and searches memories.
type MemoryStore interface {
	SaveMemory(ctx context.Context, m store.Memory) (store.Memory, error)
	FindMemories(ctx context.Context, category, tag string) ([]store.Memory, error)
}

// TodoStore manages the todo list.
type TodoStore interface {
	ListTodos(ctx context.Context) ([]store.Todo, error)
	CreateTodo(ctx context.Context, task, dueDate string) (store.Todo, error)
	DeleteTodoAt(ctx context.Context, index int) (store.Todo, error)
}

// WeatherService returns current conditions.
type WeatherService interface {
	Current(ctx context.Context) (json.RawMessage, error)
}

// MusicService drives the music session.
type MusicService interface {
	Control(ctx context.Context, action string) (json.RawMessage, error)
	RandomSong(ctx context.Context, genre string) (json.RawMessage, error)
	SearchSong(ctx context.Context, query string) (json.RawMessage, error)
}

// DeviceBroadcaster fans device actions out to observers.
type DeviceBroadcaster interface {
	Broadcast(ctx context.Context, action string) (devices.Ack, error)
}

// TrainStatusService looks up live train status.
type TrainStatusService interface {
	Lookup(ctx context.Context, train int, date string) (*trainstatus.Status, error)
}

// Deps are the collaborators handlers call. A nil field makes the
// actions that need it fail with [ErrNotConfigured].
type Deps struct {
	Memories MemoryStore
	Todos    TodoStore
	Weather  WeatherService
	Music    MusicService
	Devices  DeviceBroadcaster
	Trains   TrainStatusService
}

// Outcome reports what one dispatch did.
type Outcome struct {
	// Kind is zero when the requested name was unknown.
	Kind Kind
	// Turn is the single turn pushed onto history.
	Turn history.Turn
	// Final, when set, ends the exchange with this reply.
	Final *history.Reply
	// Err is the failure that produced a recovery turn, if any.
	Err error
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout bounds each handler call. Non-positive values keep
// [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithPolicies overrides per-action policies, keyed by wire name.
func WithPolicies(p map[string]config.PolicyConfig) Option {
	return func(r *Registry) { r.overrides = p }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock sets the time source used for "today".
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry dispatches actions. It holds no per-conversation state and
// is safe for concurrent use.
type Registry struct {
	deps      Deps
	schemas   map[Kind]*schema
	policies  map[Kind]Policy
	overrides map[string]config.PolicyConfig
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewRegistry builds the registry and compiles every argument schema.
func NewRegistry(deps Deps, opts ...Option) (*Registry, error) {
	r := &Registry{
		deps:    deps,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("component", "actions")

	schemas, err := buildSchemas()
	if err != nil {
		return nil, err
	}
	r.schemas = schemas

	policies, err := resolvePolicies(r.overrides)
	if err != nil {
		return nil, err
	}
	r.policies = policies
	return r, nil
}

// Policy returns the effective policy for k.
func (r *Registry) Policy(k Kind) Policy {
	return r.policies[k]
}

// result is what a handler produces on success.
type result struct {
	content string
	final   *history.Reply
}

// Dispatch runs the action named by req and pushes exactly one turn
// onto buf. It never returns an error; failures are reported through
// Outcome.Err and the recovery turn.
func (r *Registry) Dispatch(ctx context.Context, buf *history.Buffer, req history.ActionRequest) Outcome {
	kind, err := ParseKind(req.Name)
	if err != nil {
		r.logger.Warn("unknown action requested", "action", req.Name)
		return r.pushFailure(buf, Outcome{Err: err})
	}

	start := time.Now()
	res, err := r.invoke(ctx, kind, req.Arguments)
	policy := r.policies[kind]
	if err != nil {
		r.logger.Warn("action failed",
			"action", kind,
			"elapsed", time.Since(start),
			"error", err,
		)
		out := Outcome{Kind: kind, Err: err}
		if policy.TerminalOnFailure {
			out.Turn = history.FunctionResult(kind.String(), TerminalFailure)
			out.Final = &history.Reply{Role: history.RoleAssistant, Content: TerminalApology}
			buf.Push(out.Turn)
			return out
		}
		return r.pushFailure(buf, out)
	}

	r.logger.Debug("action completed", "action", kind, "elapsed", time.Since(start))
	r.logger.Log(ctx, config.LevelTrace, "action outcome", "action", kind, "content", res.content)

	out := Outcome{Kind: kind, Turn: history.FunctionResult(kind.String(), res.content)}
	buf.Push(out.Turn)

	if !policy.FollowUp {
		out.Final = res.final
		if out.Final == nil {
			echo := req
			out.Final = &history.Reply{
				Role:         history.RoleAssistant,
				Content:      res.content,
				FunctionCall: &echo,
			}
		}
	}
	return out
}

func (r *Registry) pushFailure(buf *history.Buffer, out Outcome) Outcome {
	out.Turn = history.System(FailureNotice)
	buf.Push(out.Turn)
	return out
}

// invoke runs the handler for kind under the dispatch timeout. Panics
// are converted into errors. A handler that ignores its context is
// abandoned when the timeout fires; its eventual result is discarded.
func (r *Registry) invoke(ctx context.Context, kind Kind, raw string) (result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type reply struct {
		res result
		err error
	}
	done := make(chan reply, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("action panicked", "action", kind, "panic", p)
				done <- reply{err: fmt.Errorf("%s panicked: %v", kind, p)}
			}
		}()
		res, err := r.handle(ctx, kind, raw)
		done <- reply{res: res, err: err}
	}()

	select {
	case rep := <-done:
		return rep.res, rep.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result{}, fmt.Errorf("%s: %w after %s", kind, ErrTimeout, r.timeout)
		}
		return result{}, ctx.Err()
	}
}
