package hooks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/daogate/internal/domain"
	"github.com/soyeahso/daogate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func TestManager_OnAndEmit(t *testing.T) {
	m := testManager()

	var got Payload
	m.On(EventTurnCompleted, "test", func(_ context.Context, p Payload) error {
		got = p
		return nil
	})

	m.Emit(context.Background(), Payload{
		Event:     EventTurnCompleted,
		SessionID: "s-1",
		Status:    domain.StatusInProgress,
		Data:      map[string]any{"model": "gpt-4o"},
	})

	assert.Equal(t, EventTurnCompleted, got.Event)
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, domain.StatusInProgress, got.Status)
	assert.Equal(t, "gpt-4o", got.Data["model"])
}

func TestManager_EmitOrderAndErrors(t *testing.T) {
	m := testManager()

	var order []string
	m.On(EventSessionAccepted, "failing", func(_ context.Context, _ Payload) error {
		order = append(order, "failing")
		return errors.New("webhook down")
	})
	m.On(EventSessionAccepted, "second", func(_ context.Context, _ Payload) error {
		order = append(order, "second")
		return nil
	})

	m.Emit(context.Background(), Payload{Event: EventSessionAccepted})
	assert.Equal(t, []string{"failing", "second"}, order)
}

func TestManager_NilIsNoop(t *testing.T) {
	var m *Manager
	m.On(EventSessionCreated, "h", func(_ context.Context, _ Payload) error { return nil })
	m.Off(EventSessionCreated, "h")
	m.Emit(context.Background(), Payload{Event: EventSessionCreated})
	m.EmitAsync(context.Background(), Payload{Event: EventSessionCreated})
	m.Wait()
	assert.Zero(t, m.Count(EventSessionCreated))
	assert.Empty(t, m.Events())
}

func TestManager_Off(t *testing.T) {
	m := testManager()

	var removed, kept int
	m.On(EventSessionCreated, "remove-me", func(_ context.Context, _ Payload) error {
		removed++
		return nil
	})
	m.On(EventSessionCreated, "keep-me", func(_ context.Context, _ Payload) error {
		kept++
		return nil
	})

	m.Emit(context.Background(), Payload{Event: EventSessionCreated})
	m.Off(EventSessionCreated, "remove-me")
	m.Emit(context.Background(), Payload{Event: EventSessionCreated})

	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, kept)
	assert.Equal(t, 1, m.Count(EventSessionCreated))
}

func TestManager_EmitAsyncAndWait(t *testing.T) {
	m := testManager()

	var count atomic.Int32
	for _, name := range []string{"archive", "webhook"} {
		m.On(EventSessionRejected, name, func(_ context.Context, _ Payload) error {
			time.Sleep(10 * time.Millisecond)
			count.Add(1)
			return nil
		})
	}

	m.EmitAsync(context.Background(), Payload{Event: EventSessionRejected})

	done := make(chan struct{})
	go func() { m.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handlers did not complete in time")
	}
	assert.Equal(t, int32(2), count.Load())
}

func TestManager_Events(t *testing.T) {
	m := testManager()

	m.On(EventTurnCompleted, "h1", func(_ context.Context, _ Payload) error { return nil })
	m.On(EventEvidenceFailed, "h2", func(_ context.Context, _ Payload) error { return nil })

	assert.Equal(t, []string{EventEvidenceFailed, EventTurnCompleted}, m.Events())
}

func TestTerminalEvent(t *testing.T) {
	assert.Equal(t, EventSessionAccepted, TerminalEvent(domain.StatusAccepted))
	assert.Equal(t, EventSessionRejected, TerminalEvent(domain.StatusRejected))
	assert.Empty(t, TerminalEvent(domain.StatusInProgress))
}

func TestAllEvents(t *testing.T) {
	require.NotEmpty(t, AllEvents)
	assert.Contains(t, AllEvents, EventSessionCreated)
	assert.Contains(t, AllEvents, EventGatewayStart)
}
