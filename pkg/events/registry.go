// Package events provides a typed subscription registry.
package events

import "sync"

// Listener receives published values
type Listener[T any] func(T)

// Registry holds listeners for values of type T. The zero value is ready to use.
type Registry[T any] struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]Listener[T]
	order     []uint64
}

// Subscribe registers fn and returns a function that removes it.
// Calling the returned function more than once is a no-op.
func (r *Registry[T]) Subscribe(fn Listener[T]) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listeners == nil {
		r.listeners = make(map[uint64]Listener[T])
	}
	r.nextID++
	id := r.nextID
	r.listeners[id] = fn
	r.order = append(r.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.listeners, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Publish calls every listener in subscription order. Listeners run on the
// caller's goroutine and may unsubscribe themselves.
func (r *Registry[T]) Publish(v T) {
	r.mu.RLock()
	fns := make([]Listener[T], 0, len(r.order))
	for _, id := range r.order {
		fns = append(fns, r.listeners[id])
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of active listeners
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}
