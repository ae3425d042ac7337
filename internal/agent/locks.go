package agent

import (
	"context"
	"sync"
)

// Locker serialises turns for one session id. Unlock must be called exactly
// once after a successful Lock.
type Locker interface {
	Lock(ctx context.Context, id string) (unlock func(), err error)
}

// KeyedMutex is an in-process Locker. Entries are reference counted and
// removed once no turn holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{} // buffered(1); a token in the channel means held
	refs int
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until id is free or ctx is done.
func (k *KeyedMutex) Lock(ctx context.Context, id string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[id]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(id, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(id, e)
		})
	}, nil
}

func (k *KeyedMutex) release(id string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, id)
	}
}

// held reports how many ids currently have an entry. Used by tests.
func (k *KeyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
