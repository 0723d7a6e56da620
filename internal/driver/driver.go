// Package driver defines the frame-source contract consumed by the dispatch
// core and the plumbing shared by drivers implementing it.
package driver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kstaniek/go-can-dispatch/internal/can"
	"github.com/kstaniek/go-can-dispatch/internal/dispatch"
	"github.com/kstaniek/go-can-dispatch/internal/metrics"
)

var (
	ErrNotReady     = errors.New("driver not ready")
	ErrInvalidFrame = errors.New("invalid frame")
	ErrTxOverflow   = errors.New("driver tx overflow")
)

// DriverState is the link state reported by a driver.
type DriverState int

const (
	Closed DriverState = iota
	Open
	Ready
)

func (s DriverState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// State is a driver state snapshot. Err carries the last link error, if any;
// InternalError is a driver specific code.
type State struct {
	Driver        DriverState
	Err           error
	InternalError uint32
}

// sameAs compares without touching Err values, which need not be comparable.
func (s State) sameAs(o State) bool {
	return s.Driver == o.Driver && s.InternalError == o.InternalError && s.Err == nil && o.Err == nil
}

// IsReady reports a ready link without a pending error.
func (s State) IsReady() bool { return s.Driver == Ready && s.Err == nil }

// Interface is the collaborator shape the core depends on.
type Interface interface {
	Send(can.Frame) error
	CreateMsgListener(fn func(can.Frame)) *dispatch.Subscription
	CreateMsgListenerFor(h can.Header, fn func(can.Frame)) *dispatch.Subscription
	CreateStateListener(fn func(State)) *dispatch.Subscription
	State() State
}

// Base carries the listener registries of a driver. Received frames are
// dispatched keyed by can.Frame.Key, so header listeners only see frames of
// their own key.
type Base struct {
	frames *dispatch.KeyedDispatcher[uint32, can.Frame]
	states *dispatch.Dispatcher[State]

	mu    sync.RWMutex
	state State
}

func NewBase() *Base {
	return &Base{
		frames: dispatch.NewKeyed[uint32, can.Frame](),
		states: dispatch.New[State](),
	}
}

// CreateMsgListener registers fn for every received frame.
func (b *Base) CreateMsgListener(fn func(can.Frame)) *dispatch.Subscription {
	return b.frames.CreateListener(fn)
}

// CreateMsgListenerFor registers fn for frames whose key equals h.Key().
func (b *Base) CreateMsgListenerFor(h can.Header, fn func(can.Frame)) *dispatch.Subscription {
	return b.frames.CreateKeyListener(h.Key(), fn)
}

// CreateStateListener registers fn for state changes.
func (b *Base) CreateStateListener(fn func(State)) *dispatch.Subscription {
	return b.states.CreateListener(fn)
}

func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Deliver dispatches a received frame to the listeners.
func (b *Base) Deliver(f can.Frame) {
	metrics.IncDriverRx()
	b.frames.Dispatch(f.Key(), f)
}

// SetState stores s and notifies state listeners when it differs from the
// previous state. A state carrying an error is always reported.
func (b *Base) SetState(s State) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	b.mu.Unlock()
	if prev.sameAs(s) {
		return
	}
	metrics.IncStateChange()
	b.states.Dispatch(s)
}
