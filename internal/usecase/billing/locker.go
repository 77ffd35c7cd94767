package billing

import (
	"context"
	"fmt"
	"sync"
)

// KeyLocker serializes work per caller key. Entries are refcounted and
// removed once no holder or waiter remains.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem      chan struct{}
	refCount int
}

// NewKeyLocker creates an empty locker.
func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until the lock for key is held or ctx is done. The returned
// unlock function must be called exactly once.
func (kl *KeyLocker) Lock(ctx context.Context, key string) (unlock func(), err error) {
	kl.mu.Lock()
	entry, ok := kl.locks[key]
	if !ok {
		entry = &keyLock{sem: make(chan struct{}, 1)}
		kl.locks[key] = entry
	}
	entry.refCount++
	kl.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.sem
				kl.release(key, entry)
			})
		}, nil
	case <-ctx.Done():
		kl.release(key, entry)
		return nil, fmt.Errorf("caller lock: %w", ctx.Err())
	}
}

func (kl *KeyLocker) release(key string, l *keyLock) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	l.refCount--
	if l.refCount == 0 {
		delete(kl.locks, key)
	}
}

// ActiveCount returns the number of keys with held or pending locks.
func (kl *KeyLocker) ActiveCount() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}
