// Package sink manages the consumers that receive evaluation decisions.
package sink

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/soyeahso/daogate/internal/hooks"
	"github.com/soyeahso/daogate/internal/logging"
)

// Sink subscribes to decision events on a hook manager.
// Sinks that also implement io.Closer are closed on Shutdown.
type Sink interface {
	// Name identifies the sink. Hook handlers are registered under it.
	Name() string

	// Register attaches the sink's handlers.
	Register(hm *hooks.Manager)
}

// Registry manages sink lifecycle.
type Registry struct {
	mu       sync.RWMutex
	sinks    map[string]Sink
	order    []string // insertion order for deterministic lifecycle
	attached map[string]bool
	hooks    *hooks.Manager
	log      *logging.Logger
}

// NewRegistry creates a sink registry on top of hm.
func NewRegistry(hm *hooks.Manager, log *logging.Logger) *Registry {
	return &Registry{
		sinks:    make(map[string]Sink),
		attached: make(map[string]bool),
		hooks:    hm,
		log:      log.Sub("sinks"),
	}
}

// Hooks returns the manager sinks are attached to.
func (r *Registry) Hooks() *hooks.Manager {
	return r.hooks
}

// Add registers a sink without attaching it.
func (r *Registry) Add(s Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sinks[s.Name()]; exists {
		return fmt.Errorf("sink already registered: %s", s.Name())
	}
	r.sinks[s.Name()] = s
	r.order = append(r.order, s.Name())
	r.log.Info().Str("sink", s.Name()).Msg("sink registered")
	return nil
}

// AttachAll registers every pending sink's handlers in insertion order.
func (r *Registry) AttachAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		if r.attached[name] {
			continue
		}
		r.sinks[name].Register(r.hooks)
		r.attached[name] = true
		r.log.Debug().Str("sink", name).Msg("sink attached")
	}
}

// Shutdown waits for in-flight deliveries, then closes sinks in reverse order.
func (r *Registry) Shutdown() error {
	r.hooks.Wait()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		c, ok := r.sinks[name].(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			r.log.Error().Err(err).Str("sink", name).Msg("sink close error")
			errs = append(errs, fmt.Errorf("close sink %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// List returns sink names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
