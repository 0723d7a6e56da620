package reader

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-can-dispatch/internal/can"
	"github.com/kstaniek/go-can-dispatch/internal/dispatch"
	"github.com/kstaniek/go-can-dispatch/internal/logging"
)

// testSource adapts a keyed dispatcher to Source.
type testSource struct {
	d *dispatch.KeyedDispatcher[uint32, can.Frame]
}

func newTestSource() *testSource {
	return &testSource{d: dispatch.NewKeyed[uint32, can.Frame]()}
}

func (s *testSource) CreateMsgListener(fn func(can.Frame)) *dispatch.Subscription {
	return s.d.CreateListener(fn)
}

func (s *testSource) CreateMsgListenerFor(h can.Header, fn func(can.Frame)) *dispatch.Subscription {
	return s.d.CreateKeyListener(h.Key(), fn)
}

func (s *testSource) send(f can.Frame) { s.d.Dispatch(f.Key(), f) }

func frame(id uint32) can.Frame { return can.NewFrame(can.StdHeader(id), byte(id)) }

type recLogger struct {
	mu          sync.Mutex
	warns, errs int
}

func (l *recLogger) Warn(string, ...any)  { l.mu.Lock(); l.warns++; l.mu.Unlock() }
func (l *recLogger) Error(string, ...any) { l.mu.Lock(); l.errs++; l.mu.Unlock() }

func TestReader_BoundedEvictsOldest(t *testing.T) {
	log := &recLogger{}
	r := New(true, 2, WithLogger(log))
	for _, id := range []uint32{1, 2, 3} {
		r.Handle(frame(id))
	}
	got := r.Frames()
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Fatalf("buffer=%v want ids [2 3]", got)
	}
	if log.errs != 1 {
		t.Fatalf("overflow reports=%d want 1", log.errs)
	}
}

func TestReader_DisabledDrops(t *testing.T) {
	log := &recLogger{}
	r := New(false, 0, WithLogger(log))
	r.Handle(frame(1))
	if r.Len() != 0 {
		t.Fatalf("disabled reader queued a frame")
	}
	if log.warns != 1 {
		t.Fatalf("drop reports=%d want 1", log.warns)
	}
}

func TestReader_ListenAndRead(t *testing.T) {
	src := newTestSource()
	r := New(true, 0, WithLogger(logging.Discard()))
	defer r.Close()
	r.Handle(frame(9)) // cleared by Listen
	r.Listen(src)
	if r.Len() != 0 {
		t.Fatalf("Listen did not clear the queue")
	}
	src.send(frame(1))
	src.send(frame(2))
	for _, want := range []uint32{1, 2} {
		f, ok := r.Read(100 * time.Millisecond)
		if !ok || f.ID != want {
			t.Fatalf("Read=%+v,%v want id %d", f, ok, want)
		}
	}
}

func TestReader_ListenForHeader(t *testing.T) {
	src := newTestSource()
	r := New(true, 0, WithLogger(logging.Discard()))
	defer r.Close()
	r.ListenFor(src, can.StdHeader(0x10))
	src.send(frame(0x11))
	src.send(frame(0x10))
	if got := r.Frames(); len(got) != 1 || got[0].ID != 0x10 {
		t.Fatalf("buffer=%v want only 0x10", got)
	}
}

func TestReader_ListenReplacesSubscription(t *testing.T) {
	a, b := newTestSource(), newTestSource()
	r := New(true, 0, WithLogger(logging.Discard()))
	defer r.Close()
	r.Listen(a)
	r.Listen(b)
	if a.d.NumListeners() != 0 || b.d.NumListeners() != 1 {
		t.Fatalf("listeners a=%d b=%d", a.d.NumListeners(), b.d.NumListeners())
	}
	r.Close()
	if b.d.NumListeners() != 0 {
		t.Fatalf("Close did not unsubscribe")
	}
}

func TestReader_ReadUntilTimeout(t *testing.T) {
	r := New(true, 0)
	start := time.Now()
	deadline := start.Add(30 * time.Millisecond)
	if _, ok := r.ReadUntil(deadline); ok {
		t.Fatalf("read from empty buffer succeeded")
	}
	if now := time.Now(); now.Before(deadline) {
		t.Fatalf("returned %s before deadline", deadline.Sub(now))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("ReadUntil took too long: %s", elapsed)
	}
}

func TestReader_WakeOnArrival(t *testing.T) {
	src := newTestSource()
	r := New(true, 0)
	defer r.Close()
	r.Listen(src)
	go func() {
		time.Sleep(20 * time.Millisecond)
		src.send(frame(7))
	}()
	start := time.Now()
	f, ok := r.Read(2 * time.Second)
	if !ok || f.ID != 7 {
		t.Fatalf("Read=%+v,%v", f, ok)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("reader not woken on arrival: %s", elapsed)
	}
}

func TestReader_CloseWakesReaders(t *testing.T) {
	r := New(true, 0)
	done := make(chan bool, 1)
	go func() {
		_, ok := r.Read(5 * time.Second)
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	r.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("read succeeded on closed empty reader")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake blocked reader")
	}
}

func TestReader_ScopedEnableRestores(t *testing.T) {
	r := New(true, 0)
	r.Disable()
	func() {
		defer r.EnableScoped()()
		if !r.IsEnabled() {
			t.Fatalf("expected enabled inside scope")
		}
	}()
	if r.IsEnabled() {
		t.Fatalf("scope exit did not restore disabled state")
	}

	// early exit through a panic still restores
	func() {
		defer func() { _ = recover() }()
		defer r.EnableScoped()()
		panic("boom")
	}()
	if r.IsEnabled() {
		t.Fatalf("panic exit did not restore disabled state")
	}
}

func TestReader_SetMaxLenTrims(t *testing.T) {
	r := New(true, 0, WithLogger(logging.Discard()))
	for id := uint32(1); id <= 5; id++ {
		r.Handle(frame(id))
	}
	r.SetMaxLen(2)
	if got := r.Frames(); len(got) != 2 || got[0].ID != 4 {
		t.Fatalf("buffer after trim=%v", got)
	}
	r.Flush()
	if r.Len() != 0 {
		t.Fatalf("Flush left %d frames", r.Len())
	}
}

func TestReader_ConcurrentProducers(t *testing.T) {
	src := newTestSource()
	r := New(true, 0)
	defer r.Close()
	r.Listen(src)
	const producers, perProducer = 4, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				src.send(frame(uint32(p)))
			}
		}(p)
	}
	got := 0
	for got < producers*perProducer {
		if _, ok := r.Read(time.Second); !ok {
			t.Fatalf("timed out after %d frames", got)
		}
		got++
	}
	wg.Wait()
}

func listenAndDrop(src *testSource) {
	r := New(true, 0, WithLogger(logging.Discard()))
	r.Listen(src)
}

func TestReader_DroppedWithoutCloseUnsubscribes(t *testing.T) {
	src := newTestSource()
	listenAndDrop(src)
	if src.d.NumListeners() != 1 {
		t.Fatalf("listeners=%d want 1", src.d.NumListeners())
	}
	deadline := time.Now().Add(2 * time.Second)
	for src.d.NumListeners() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("dropped reader still subscribed")
		}
		runtime.GC()
		time.Sleep(time.Millisecond)
	}
}

// eagerSource delivers a frame as soon as a listener is registered.
type eagerSource struct {
	*testSource
	f can.Frame
}

func (s eagerSource) CreateMsgListener(fn func(can.Frame)) *dispatch.Subscription {
	sub := s.testSource.CreateMsgListener(fn)
	s.send(s.f)
	return sub
}

func TestReader_ListenKeepsFrameDeliveredWhileSubscribing(t *testing.T) {
	src := eagerSource{testSource: newTestSource(), f: frame(7)}
	r := New(true, 0, WithLogger(logging.Discard()))
	defer r.Close()
	r.Handle(frame(1))
	r.Listen(src)
	got := r.Frames()
	if len(got) != 1 || got[0].ID != 7 {
		t.Fatalf("buffer=%v want [7]", got)
	}
}
