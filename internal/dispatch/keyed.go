package dispatch

import "sync"

// Source is the operation set shared by Dispatcher and KeyedDispatcher for
// global registration.
type Source[T any] interface {
	CreateListener(fn func(T)) *Subscription
	NumListeners() int
}

var (
	_ Source[int] = (*Dispatcher[int])(nil)
	_ Source[int] = (*KeyedDispatcher[string, int])(nil)
)

// KeyedDispatcher is a Dispatcher that also keeps one listener registry per
// key. Per-key registries share the dispatcher lock and live as long as the
// dispatcher does; only their listener lists shrink.
//
// There is deliberately no unkeyed Dispatch: every event carries a key.
type KeyedDispatcher[K comparable, T any] struct {
	mu     sync.Mutex
	global *registry[T]
	keyed  map[K]*registry[T]
}

// NewKeyed creates an empty KeyedDispatcher.
func NewKeyed[K comparable, T any]() *KeyedDispatcher[K, T] {
	d := &KeyedDispatcher[K, T]{keyed: make(map[K]*registry[T])}
	d.global = &registry[T]{mu: &d.mu}
	return d
}

// CreateListener registers fn for events of every key.
func (d *KeyedDispatcher[K, T]) CreateListener(fn func(T)) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.global.add(fn)
}

// CreateKeyListener registers fn for events dispatched with key only.
func (d *KeyedDispatcher[K, T]) CreateKeyListener(key K, fn func(T)) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.keyed[key]
	if !ok {
		r = &registry[T]{mu: &d.mu}
		d.keyed[key] = r
	}
	return r.add(fn)
}

// Dispatch notifies the listeners of key, then all global listeners, under a
// single critical section.
func (d *KeyedDispatcher[K, T]) Dispatch(key K, ev T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.keyed[key]; ok {
		r.dispatchLocked(ev)
	}
	d.global.dispatchLocked(ev)
}

// NumListeners returns the number of global listeners.
func (d *KeyedDispatcher[K, T]) NumListeners() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.global.listeners)
}

// NumKeyListeners returns the number of listeners registered for key.
func (d *KeyedDispatcher[K, T]) NumKeyListeners(key K) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.keyed[key]; ok {
		return len(r.listeners)
	}
	return 0
}
