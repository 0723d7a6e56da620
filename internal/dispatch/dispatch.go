// Package dispatch provides thread-safe broadcast primitives with
// caller-owned subscriptions.
//
// Callbacks run synchronously while the dispatcher lock is held. A callback
// must not create listeners on, dispatch on, or close subscriptions of the
// dispatcher that invoked it: sync.Mutex is not re-entrant and the call
// deadlocks. Keep callbacks short and hand slow work off to another goroutine.
package dispatch

import (
	"runtime"
	"sync"
	"weak"
)

// registry is a listener list guarded by a mutex that may be shared with
// sibling registries (see KeyedDispatcher).
type registry[T any] struct {
	mu        *sync.Mutex
	listeners []*entry[T]
}

type entry[T any] struct {
	fn    func(T)
	owner weak.Pointer[registry[T]]
	once  sync.Once
}

// remove unregisters e if its registry is still alive. Safe to call many times.
func (e *entry[T]) remove() {
	e.once.Do(func() {
		r := e.owner.Value()
		if r == nil {
			return
		}
		r.mu.Lock()
		r.drop(e)
		r.mu.Unlock()
	})
}

// registered reports whether e is still in a live registry.
func (e *entry[T]) registered() bool {
	r := e.owner.Value()
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.listeners {
		if l == e {
			return true
		}
	}
	return false
}

// add registers fn; caller holds mu. The returned Subscription references the
// registry only weakly.
func (r *registry[T]) add(fn func(T)) *Subscription {
	e := &entry[T]{fn: fn, owner: weak.Make(r)}
	r.listeners = append(r.listeners, e)
	s := &Subscription{h: e}
	// Subscriptions dropped without Close are unregistered once collected.
	runtime.AddCleanup(s, func(h handle) { h.remove() }, handle(e))
	return s
}

func (r *registry[T]) drop(e *entry[T]) {
	for i, l := range r.listeners {
		if l == e {
			copy(r.listeners[i:], r.listeners[i+1:])
			r.listeners[len(r.listeners)-1] = nil
			r.listeners = r.listeners[:len(r.listeners)-1]
			return
		}
	}
}

// dispatchLocked invokes listeners in registration order; caller holds mu.
func (r *registry[T]) dispatchLocked(ev T) {
	for _, l := range r.listeners {
		l.fn(ev)
	}
}

// Subscription is the caller-owned handle of a registered callback. Delivery
// continues until Close is called (or the Subscription becomes unreachable).
// Closing after the dispatcher is gone is a no-op.
type Subscription struct {
	h handle
}

type handle interface {
	remove()
	registered() bool
}

// Close unregisters the callback. It is idempotent and may race with Dispatch;
// once Close returns no further invocations start.
func (s *Subscription) Close() {
	if s == nil || s.h == nil {
		return
	}
	s.h.remove()
}

// Active reports whether the callback is still registered. Advisory only.
func (s *Subscription) Active() bool {
	if s == nil || s.h == nil {
		return false
	}
	return s.h.registered()
}

// Dispatcher broadcasts events of type T to every registered callback.
type Dispatcher[T any] struct {
	mu  sync.Mutex
	reg *registry[T]
}

// New creates an empty Dispatcher.
func New[T any]() *Dispatcher[T] {
	d := &Dispatcher[T]{}
	d.reg = &registry[T]{mu: &d.mu}
	return d
}

// CreateListener registers fn. Keep the returned Subscription for as long as
// delivery is wanted.
func (d *Dispatcher[T]) CreateListener(fn func(T)) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reg.add(fn)
}

// Dispatch invokes every registered callback in registration order. The
// method value d.Dispatch can itself be registered on another dispatcher.
func (d *Dispatcher[T]) Dispatch(ev T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reg.dispatchLocked(ev)
}

// NumListeners returns the current listener count (may be stale on return).
func (d *Dispatcher[T]) NumListeners() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reg.listeners)
}
