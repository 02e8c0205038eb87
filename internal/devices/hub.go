// Package devices fans device actions out to connected observers. The
// websocket endpoint served by [Hub] is how devices (a laptop agent, a
// desk display) subscribe; other observers such as the MQTT mirror
// register directly with [Hub.Add].
package devices

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Device actions understood by observers.
const (
	ActionShutdown = "shutdown"
	ActionTurnOn   = "turnon"
)

// Actions lists every device action.
var Actions = []string{ActionShutdown, ActionTurnOn}

// ErrEmptyAction is returned by [Hub.Broadcast] for an empty action.
var ErrEmptyAction = errors.New("device action is empty")

// Observer receives broadcast actions.
type Observer interface {
	// ID uniquely identifies the observer within a hub.
	ID() string
	// Send delivers one action string.
	Send(ctx context.Context, action string) error
}

// Ack acknowledges a broadcast. Delivery is best-effort: observers that
// fail are counted, never retried.
type Ack struct {
	Message   string `json:"message"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed,omitempty"`
}

// Hub holds the set of connected observers.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]Observer

	greeting string
	logger   *slog.Logger
}

// NewHub creates an empty hub. greeting is sent to each websocket
// observer when it connects.
func NewHub(greeting string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		observers: make(map[string]Observer),
		greeting:  greeting,
		logger:    logger.With("component", "devices"),
	}
}

// Add registers o, replacing any observer with the same ID.
func (h *Hub) Add(o Observer) {
	h.mu.Lock()
	h.observers[o.ID()] = o
	n := len(h.observers)
	h.mu.Unlock()
	h.logger.Info("observer connected", "observer", o.ID(), "observers", n)
}

// Remove unregisters the observer with id. Unknown ids are ignored.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	_, ok := h.observers[id]
	delete(h.observers, id)
	n := len(h.observers)
	h.mu.Unlock()
	if ok {
		h.logger.Info("observer disconnected", "observer", id, "observers", n)
	}
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

func (h *Hub) snapshot() []Observer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Observer, 0, len(h.observers))
	for _, o := range h.observers {
		out = append(out, o)
	}
	return out
}

// Broadcast sends action to every observer connected at the time of the
// call. Observers may connect or disconnect while it runs.
func (h *Hub) Broadcast(ctx context.Context, action string) (Ack, error) {
	if action == "" {
		return Ack{}, ErrEmptyAction
	}

	ack := Ack{Message: "success"}
	for _, o := range h.snapshot() {
		if err := o.Send(ctx, action); err != nil {
			ack.Failed++
			h.logger.Warn("broadcast delivery failed", "observer", o.ID(), "action", action, "error", err)
			continue
		}
		ack.Delivered++
	}

	h.logger.Info("device action broadcast",
		"action", action,
		"delivered", ack.Delivered,
		"failed", ack.Failed,
	)
	return ack, nil
}
