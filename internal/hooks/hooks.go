// Package hooks dispatches evaluation lifecycle events to registered handlers.
package hooks

import (
	"context"
	"sort"
	"sync"

	"github.com/soyeahso/daogate/internal/domain"
	"github.com/soyeahso/daogate/internal/logging"
)

// Event names for the hook system.
const (
	EventSessionCreated  = "session.created"
	EventEvidenceFetched = "evidence.fetched"
	EventEvidenceFailed  = "evidence.failed"
	EventTurnCompleted   = "turn.completed"
	EventSessionAccepted = "session.accepted"
	EventSessionRejected = "session.rejected"
	EventGatewayStart    = "gateway.start"
	EventGatewayStop     = "gateway.stop"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventSessionCreated,
	EventEvidenceFetched,
	EventEvidenceFailed,
	EventTurnCompleted,
	EventSessionAccepted,
	EventSessionRejected,
	EventGatewayStart,
	EventGatewayStop,
}

// TerminalEvent returns the event fired when a session enters status, or ""
// when status is not terminal.
func TerminalEvent(status domain.Status) string {
	switch status {
	case domain.StatusAccepted:
		return EventSessionAccepted
	case domain.StatusRejected:
		return EventSessionRejected
	}
	return ""
}

// Payload carries event data to hook handlers.
//
// Session, when set, is a snapshot owned by the payload. Handlers may read it
// freely but must not expect later turns to be reflected in it.
type Payload struct {
	Event     string          `json:"event"`
	SessionID string          `json:"sessionId,omitempty"`
	Status    domain.Status   `json:"status,omitempty"`
	Session   *domain.Session `json:"-"`
	Data      map[string]any  `json:"data,omitempty"`
}

// Handler is a function that handles a hook event.
// Returning an error logs the failure but does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Manager manages hook registrations and dispatches events.
// A nil *Manager is valid and drops every event.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
	wg       sync.WaitGroup
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for the given event.
func (m *Manager) On(event, name string, handler Handler) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes all handlers with the given name from the event.
func (m *Manager) Off(event, name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.handlers[event][:0:0]
	for _, h := range m.handlers[event] {
		if h.name != name {
			kept = append(kept, h)
		}
	}
	m.handlers[event] = kept
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]namedHandler(nil), m.handlers[event]...)
}

// Emit dispatches p to its event's handlers synchronously, in registration order.
func (m *Manager) Emit(ctx context.Context, p Payload) {
	if m == nil {
		return
	}
	for _, h := range m.snapshot(p.Event) {
		m.run(ctx, h, p)
	}
}

// EmitAsync dispatches p to each handler on its own goroutine and returns
// immediately. Wait blocks until those goroutines finish.
func (m *Manager) EmitAsync(ctx context.Context, p Payload) {
	if m == nil {
		return
	}
	for _, h := range m.snapshot(p.Event) {
		m.wg.Add(1)
		go func(h namedHandler) {
			defer m.wg.Done()
			m.run(ctx, h, p)
		}(h)
	}
}

// Wait blocks until every handler started by EmitAsync has returned.
func (m *Manager) Wait() {
	if m == nil {
		return
	}
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, h namedHandler, p Payload) {
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", h.name).
			Str("sessionId", p.SessionID).
			Msg("hook handler error")
	}
}

// Count returns the number of handlers registered for an event.
func (m *Manager) Count(event string) int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the sorted events that have at least one handler.
func (m *Manager) Events() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	sort.Strings(events)
	return events
}
