package ledger

import (
	"context"
	"slices"
	"sync"
)

// keyedMutex serializes work per account id. Entries are reference counted and
// removed once no goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

// refMutex is a one-slot channel so waiters can give up when their context ends.
type refMutex struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// lock acquires the locks for ids in sorted order, so two callers locking the
// same pair can never deadlock. Duplicate ids are locked once.
// If ctx ends while waiting, every lock taken so far is released and ctx.Err()
// is returned. On success the returned func releases the locks.
func (k *keyedMutex) lock(ctx context.Context, ids ...string) (func(), error) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	held := make([]*refMutex, 0, len(ids))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].ch
			k.release(ids[i], held[i])
		}
	}

	for _, id := range ids {
		m := k.acquire(id)
		select {
		case m.ch <- struct{}{}:
			held = append(held, m)
		case <-ctx.Done():
			k.release(id, m)
			unlock()
			return nil, ctx.Err()
		}
	}
	return unlock, nil
}

func (k *keyedMutex) acquire(id string) *refMutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{ch: make(chan struct{}, 1)}
		k.locks[id] = m
	}
	m.refs++
	return m
}

func (k *keyedMutex) release(id string, m *refMutex) {
	k.mu.Lock()
	defer k.mu.Unlock()
	m.refs--
	if m.refs == 0 {
		delete(k.locks, id)
	}
}

// size reports the number of tracked ids.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
