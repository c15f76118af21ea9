package messaging

import (
	"slices"
	"sync"
)

type emitter[T any] struct {
	mu       sync.Mutex
	nextId   int
	handlers map[int]func(T)
}

func (e *emitter[T]) on(fn func(T)) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handlers == nil {
		e.handlers = make(map[int]func(T))
	}
	e.nextId++
	id := e.nextId
	e.handlers[id] = fn

	return &subscription{release: func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, id)
	}}
}

// emit calls every registered handler in registration order. Handlers run
// on the caller's goroutine, outside the lock.
func (e *emitter[T]) emit(v T) {
	e.mu.Lock()
	ids := make([]int, 0, len(e.handlers))
	for id := range e.handlers {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		e.mu.Lock()
		fn, ok := e.handlers[id]
		e.mu.Unlock()
		if ok {
			fn(v)
		}
	}
}

func (e *emitter[T]) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}

type subscription struct {
	once    sync.Once
	release func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.release)
}
