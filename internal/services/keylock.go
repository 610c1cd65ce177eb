package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// keyedMutex hands out one lock per key and forgets it once nobody holds or
// waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*refMutex
}

// refMutex is a one-slot semaphore, so a waiter can give up on its context.
type refMutex struct {
	slot chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*refMutex)}
}

// Lock blocks until key is free or ctx ends, and returns the matching unlock.
func (k *keyedMutex) Lock(ctx context.Context, key uuid.UUID) (unlock func(), err error) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{slot: make(chan struct{}, 1)}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		k.release(key, m)
		return nil, ctx.Err()
	}
	return func() {
		<-m.slot
		k.release(key, m)
	}, nil
}

func (k *keyedMutex) release(key uuid.UUID, m *refMutex) {
	k.mu.Lock()
	defer k.mu.Unlock()
	m.refs--
	if m.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
