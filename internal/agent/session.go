package agent

import (
	"context"
	"sync"

	"github.com/nugget/veronica/internal/history"
)

// DefaultSessionID is used when the caller does not name a conversation.
const DefaultSessionID = "default"

// Session is one conversation: its history and the serialization point
// that keeps two runs from touching that history at once.
type Session struct {
	id  string
	buf *history.Buffer

	// sem is held by the run that owns buf.
	sem chan struct{}

	mu     sync.Mutex // guards seq and cancel
	seq    uint64
	cancel context.CancelCauseFunc
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// acquire cancels any in-flight run, then waits for exclusive use of
// the session. The returned context is canceled with [ErrSuperseded]
// when a newer run arrives. release must be called exactly once.
func (s *Session) acquire(ctx context.Context) (context.Context, func(), error) {
	runCtx, cancel := context.WithCancelCause(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel(ErrSuperseded)
	}
	s.seq++
	seq := s.seq
	s.cancel = cancel
	s.mu.Unlock()

	done := func() {
		s.mu.Lock()
		if s.seq == seq {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel(context.Canceled)
	}

	if runCtx.Err() != nil {
		done()
		return nil, nil, context.Cause(runCtx)
	}
	select {
	case s.sem <- struct{}{}:
	case <-runCtx.Done():
		done()
		return nil, nil, context.Cause(runCtx)
	}

	return runCtx, func() {
		<-s.sem
		done()
	}, nil
}

// Sessions holds every live conversation, keyed by identifier.
type Sessions struct {
	capacity int

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates an empty set whose sessions each keep capacity
// turns of history.
func NewSessions(capacity int) (*Sessions, error) {
	if _, err := history.New(capacity); err != nil {
		return nil, err
	}
	return &Sessions{capacity: capacity, sessions: make(map[string]*Session)}, nil
}

// Get returns the session for id, creating it on first use. An empty
// id selects [DefaultSessionID].
func (ss *Sessions) Get(id string) *Session {
	if id == "" {
		id = DefaultSessionID
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if s, ok := ss.sessions[id]; ok {
		return s
	}
	buf, _ := history.New(ss.capacity)
	s := &Session{id: id, buf: buf, sem: make(chan struct{}, 1)}
	ss.sessions[id] = s
	return s
}

// Reset cancels any in-flight run for id and clears its history.
func (ss *Sessions) Reset(ctx context.Context, id string) error {
	s := ss.Get(id)
	_, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	s.buf.Clear()
	return nil
}

// History returns a copy of the turns stored for id, oldest first.
func (ss *Sessions) History(ctx context.Context, id string) ([]history.Turn, error) {
	s := ss.Get(id)
	// Reading waits for the in-flight run rather than superseding it.
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()
	return s.buf.Slice(), nil
}

// Count reports how many sessions exist.
func (ss *Sessions) Count() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.sessions)
}
