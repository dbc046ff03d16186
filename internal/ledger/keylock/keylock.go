// Package keylock provides in-process exclusive locks scoped to a key with a
// bounded wait. Holders of different keys never contend.
package keylock

import (
	"context"
	"sync"
	"time"

	"reliefhub/pkg/platform/sentinel"
)

// Locks is a set of per-key mutexes. The zero value is not usable; use New.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

func New() *Locks {
	return &Locks{entries: make(map[string]*entry)}
}

// Acquire blocks until key is free, wait elapses, or ctx is done.
// On timeout it returns sentinel.ErrLockTimeout; on cancellation, ctx.Err().
// The returned release func is safe to call more than once.
func (l *Locks) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	e := l.ref(key)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
	case <-timer.C:
		l.unref(key, e)
		return nil, sentinel.ErrLockTimeout
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}, nil
}

// Len reports how many keys are held or awaited.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Locks) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locks) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
