package chat

import (
	"context"
	"sync"
)

// keyedMutex serializes work per conversation id: a chat call holds the
// conversation's lock from memory read through assistant-turn commit, so
// turn N always observes turn N-1's completed append. Distinct ids proceed
// fully in parallel.
type keyedMutex struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{keys: make(map[string]*keyLock)}
}

// Lock acquires the lock for key, waiting until it is free or ctx is done.
// The returned func releases the lock and must be called exactly once.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	kl := k.keys[key]
	if kl == nil {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		k.keys[key] = kl
	}
	kl.refs++
	k.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			<-kl.ch
			k.release(key, kl)
		})
	}
	return unlock, nil
}

func (k *keyedMutex) release(key string, kl *keyLock) {
	k.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(k.keys, key)
	}
	k.mu.Unlock()
}
