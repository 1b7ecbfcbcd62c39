package service

import (
	"slices"
	"sync"
)

// Emitter is a typed observer list. The zero value is ready to use.
// Emitter 是类型化的观察者列表，零值即可使用。
type Emitter[T any] struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]func(T)
}

// Subscribe registers fn and returns a function that removes it. Calling the returned
// function more than once is harmless.
func (e *Emitter[T]) Subscribe(fn func(T)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.subs == nil {
		e.subs = make(map[uint64]func(T))
	}
	id := e.next
	e.next++
	e.subs[id] = fn

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Emit calls every subscriber synchronously, outside the lock, in subscription order.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	ids := make([]uint64, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	fns := make(map[uint64]func(T), len(e.subs))
	for id, fn := range e.subs {
		fns[id] = fn
	}
	e.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		fns[id](v)
	}
}

// Len returns the number of subscribers.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}
