// Package agent implements the conversation loop. One inbound message
// drives the loop from idle through any number of completion and
// action round-trips until a final reply is produced.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/veronica/internal/actions"
	"github.com/nugget/veronica/internal/history"
	"github.com/nugget/veronica/internal/llm"
)

// ExhaustedApology is the reply when the iteration cap is reached
// without a final reply.
const ExhaustedApology = "Sorry, I couldn't finish that. Please try again."

// DefaultMaxIterations caps completion round-trips per message.
const DefaultMaxIterations = 8

var (
	// ErrEmptyMessage is returned for a blank inbound message.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSuperseded cancels a run when a newer message arrives for the
	// same session.
	ErrSuperseded = errors.New("superseded by a newer message")
	// ErrProvider is returned when the completion provider fails twice
	// in a row.
	ErrProvider = errors.New("completion provider unavailable")
)

// Dispatcher runs actions requested by the provider.
type Dispatcher interface {
	Catalog() []llm.FunctionDef
	Dispatch(ctx context.Context, buf *history.Buffer, req history.ActionRequest) actions.Outcome
}

// Result is the outcome of one [Loop.Run].
type Result struct {
	RequestID string         `json:"request_id"`
	Reply     *history.Reply `json:"reply"`
	// Actions lists the action names dispatched, in order.
	Actions    []string `json:"actions,omitempty"`
	Iterations int      `json:"iterations"`
	// States records every state the run passed through.
	States []State `json:"-"`
}

// Loop is the conversation orchestrator. It is safe for concurrent use;
// runs for the same session are serialized.
type Loop struct {
	logger   *slog.Logger
	client   llm.Client
	registry Dispatcher
	sessions *Sessions
	system   string
	maxIter  int
}

// NewLoop creates a loop. A non-positive maxIter selects
// [DefaultMaxIterations].
func NewLoop(logger *slog.Logger, client llm.Client, registry Dispatcher, sessions *Sessions, system string, maxIter int) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	return &Loop{
		logger:   logger.With("component", "agent"),
		client:   client,
		registry: registry,
		sessions: sessions,
		system:   system,
		maxIter:  maxIter,
	}
}

// Sessions returns the session set the loop runs against.
func (l *Loop) Sessions() *Sessions { return l.sessions }

func generateRequestID() string {
	return "r_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// run is the mutable state of one Run call.
type run struct {
	l      *Loop
	log    *slog.Logger
	buf    *history.Buffer
	result *Result
	state  State
}

func (r *run) enter(s State) {
	r.log.Debug("state transition", "from", r.state, "to", s)
	r.state = s
	r.result.States = append(r.result.States, s)
}

// Run processes one inbound message for sessionID and returns the final
// reply. Handler and unknown-action failures never surface here; the
// provider is asked to recover instead. Errors are returned for a blank
// message, a cancelled or superseded run, and a provider that fails
// twice in a row.
func (l *Loop) Run(ctx context.Context, sessionID, message string) (*Result, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	sess := l.sessions.Get(sessionID)
	ctx, release, err := sess.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	r := &run{
		l:      l,
		buf:    sess.buf,
		result: &Result{RequestID: generateRequestID(), States: []State{StateIdle}},
		state:  StateIdle,
	}
	r.log = l.logger.With("session", sess.ID(), "request_id", r.result.RequestID)
	r.log.Info("conversation started", "history", r.buf.Len())

	res, err := r.loop(ctx, message)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil && ctx.Err() != nil {
			err = cause
		}
		r.log.Warn("conversation failed",
			"iterations", r.result.Iterations,
			"elapsed", time.Since(start),
			"error", err,
		)
		return nil, err
	}

	r.log.Info("conversation completed",
		"iterations", res.Iterations,
		"actions", len(res.Actions),
		"elapsed", time.Since(start),
	)
	return res, nil
}

func (r *run) loop(ctx context.Context, message string) (*Result, error) {
	r.buf.Push(history.User(message))
	r.enter(StateAwaitingCompletion)

	catalog := r.l.registry.Catalog()
	providerFailed := false

	for r.result.Iterations < r.l.maxIter {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.result.Iterations++

		comp, err := llm.Complete(ctx, r.l.client, r.l.system, r.buf, catalog)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.enter(StateFailed)
			if providerFailed {
				return nil, fmt.Errorf("%w: %w", ErrProvider, err)
			}
			providerFailed = true
			r.log.Warn("completion failed, asking provider to recover", "error", err)
			r.buf.Push(history.System(actions.FailureNotice))
			r.enter(StateAwaitingCompletion)
			continue
		}
		providerFailed = false

		req := comp.Action()
		if req == nil {
			r.enter(StateDone)
			r.result.Reply = &history.Reply{Role: history.RoleAssistant, Content: comp.Turn.Content}
			return r.result, nil
		}

		r.enter(StateDispatchingAction)
		r.result.Actions = append(r.result.Actions, req.Name)
		out := r.l.registry.Dispatch(ctx, r.buf, *req)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if out.Err != nil && out.Final == nil {
			r.enter(StateFailed)
		}
		if out.Final != nil {
			r.enter(StateDone)
			r.result.Reply = out.Final
			return r.result, nil
		}
		r.enter(StateAwaitingCompletion)
	}

	r.log.Warn("iteration limit reached", "max", r.l.maxIter)
	r.enter(StateDone)
	r.result.Reply = &history.Reply{Role: history.RoleAssistant, Content: ExhaustedApology}
	return r.result, nil
}

// Reset clears the history of sessionID, cancelling any in-flight run.
func (l *Loop) Reset(ctx context.Context, sessionID string) error {
	return l.sessions.Reset(ctx, sessionID)
}

// History returns the stored turns of sessionID.
func (l *Loop) History(ctx context.Context, sessionID string) ([]history.Turn, error) {
	return l.sessions.History(ctx, sessionID)
}
