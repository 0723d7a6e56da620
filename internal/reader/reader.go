// Package reader buffers frames from a source for blocking, timed reads.
package reader

import (
	"sync"
	"time"
	"weak"

	"github.com/kstaniek/go-can-dispatch/internal/can"
	"github.com/kstaniek/go-can-dispatch/internal/dispatch"
	"github.com/kstaniek/go-can-dispatch/internal/logging"
	"github.com/kstaniek/go-can-dispatch/internal/metrics"
)

// Logger receives the non-fatal drop diagnostics. *slog.Logger satisfies it.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Source is the upstream a BufferedReader subscribes to.
type Source interface {
	CreateMsgListener(fn func(can.Frame)) *dispatch.Subscription
	CreateMsgListenerFor(h can.Header, fn func(can.Frame)) *dispatch.Subscription
}

// BufferedReader is a FIFO of frames with an optional capacity. When full,
// the oldest frame is evicted to admit the newest; while disabled, incoming
// frames are discarded.
type BufferedReader struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []can.Frame
	maxLen  int
	enabled bool
	closed  bool
	sub     *dispatch.Subscription
	log     Logger
}

// Option configures a BufferedReader.
type Option func(*BufferedReader)

// WithLogger sets the diagnostics sink (default logging.L()).
func WithLogger(l Logger) Option {
	return func(r *BufferedReader) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a reader. maxLen 0 means unbounded.
func New(enabled bool, maxLen int, opts ...Option) *BufferedReader {
	if maxLen < 0 {
		maxLen = 0
	}
	r := &BufferedReader{enabled: enabled, maxLen: maxLen, log: logging.L()}
	r.cond = sync.NewCond(&r.mu)
	for _, o := range opts {
		o(r)
	}
	return r
}

// Listen subscribes to every frame of src, replacing any previous
// subscription and clearing the queue. A reader dropped without Close is
// unsubscribed once collected.
func (r *BufferedReader) Listen(src Source) {
	r.reset()
	r.install(src.CreateMsgListener(r.weakHandle()))
}

// ListenFor subscribes to the frames of src matching h only.
func (r *BufferedReader) ListenFor(src Source, h can.Header) {
	r.reset()
	r.install(src.CreateMsgListenerFor(h, r.weakHandle()))
}

// weakHandle returns a callback that does not keep r alive, so the
// subscription it backs is reachable only through r.
func (r *BufferedReader) weakHandle() func(can.Frame) {
	wp := weak.Make(r)
	return func(f can.Frame) {
		if r := wp.Value(); r != nil {
			r.Handle(f)
		}
	}
}

// reset clears the queue ahead of a new subscription so nothing delivered
// through it is discarded.
func (r *BufferedReader) reset() {
	r.mu.Lock()
	r.buf = r.buf[:0]
	r.closed = false
	r.mu.Unlock()
}

// install stores sub and closes the previous one. Subscriptions are created
// and closed outside r.mu: dispatch already holds the source lock when it
// calls Handle.
func (r *BufferedReader) install(sub *dispatch.Subscription) {
	r.mu.Lock()
	old := r.sub
	r.sub = sub
	r.mu.Unlock()
	old.Close()
}

// Handle queues f. It is the callback installed by Listen and can be passed
// to any frame source directly.
func (r *BufferedReader) Handle(f can.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		metrics.IncReaderDrop()
		r.log.Warn("reader_disabled_drop", "can_id", f.FullID())
		return
	}
	r.buf = append(r.buf, f)
	r.trimLocked()
	r.cond.Signal()
}

func (r *BufferedReader) trimLocked() {
	if r.maxLen <= 0 {
		return
	}
	for len(r.buf) > r.maxLen {
		metrics.IncReaderEvict()
		r.log.Error("reader_overflow", "capacity", r.maxLen, "discarded_can_id", r.buf[0].FullID())
		r.buf[0] = can.Frame{}
		r.buf = r.buf[1:]
	}
}

// Read waits up to d for a frame. See ReadUntil.
func (r *BufferedReader) Read(d time.Duration) (can.Frame, bool) {
	return r.ReadUntil(time.Now().Add(d))
}

// ReadUntil pops the oldest frame, blocking until one arrives, the deadline
// passes or the reader is closed. ok is false when nothing was consumed.
func (r *BufferedReader) ReadUntil(deadline time.Time) (f can.Frame, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 && !r.closed {
		// Broadcast under the lock so a waiter that checked the clock
		// before the deadline is already parked when the timer fires.
		t := time.AfterFunc(time.Until(deadline), func() {
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
		})
		defer t.Stop()
		for len(r.buf) == 0 && !r.closed && time.Now().Before(deadline) {
			r.cond.Wait()
		}
	}
	if len(r.buf) == 0 {
		return can.Frame{}, false
	}
	f = r.buf[0]
	r.buf[0] = can.Frame{}
	r.buf = r.buf[1:]
	return f, true
}

// Flush drops all queued frames.
func (r *BufferedReader) Flush() {
	r.mu.Lock()
	r.buf = r.buf[:0]
	r.mu.Unlock()
}

// Len returns the number of queued frames.
func (r *BufferedReader) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Frames returns a copy of the queue, oldest first.
func (r *BufferedReader) Frames() []can.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]can.Frame(nil), r.buf...)
}

// SetMaxLen changes the capacity (0 = unbounded) and trims at once.
func (r *BufferedReader) SetMaxLen(n int) {
	if n < 0 {
		n = 0
	}
	r.mu.Lock()
	r.maxLen = n
	r.trimLocked()
	r.mu.Unlock()
}

func (r *BufferedReader) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// SetEnabled sets the enabled flag and returns its previous value.
func (r *BufferedReader) SetEnabled(enabled bool) (before bool) {
	r.mu.Lock()
	before = r.enabled
	r.enabled = enabled
	r.mu.Unlock()
	return before
}

func (r *BufferedReader) Enable()  { r.SetEnabled(true) }
func (r *BufferedReader) Disable() { r.SetEnabled(false) }

// EnableScoped enables the reader and returns a func restoring the previous
// state. Use with defer:
//
//	defer r.EnableScoped()()
func (r *BufferedReader) EnableScoped() (restore func()) {
	before := r.SetEnabled(true)
	var once sync.Once
	return func() { once.Do(func() { r.SetEnabled(before) }) }
}

// Close unsubscribes from the source and wakes blocked readers. Frames
// still queued can be read; afterwards reads fail immediately.
func (r *BufferedReader) Close() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()
	sub.Close()
}
