package filter

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kstaniek/go-can-dispatch/internal/can"
	"github.com/kstaniek/go-can-dispatch/internal/dispatch"
)

type testSource struct {
	d *dispatch.Dispatcher[can.Frame]
}

func (s testSource) CreateMsgListener(fn func(can.Frame)) *dispatch.Subscription {
	return s.d.CreateListener(fn)
}

// countingFilter records how often it is evaluated.
type countingFilter struct {
	pass  bool
	calls atomic.Int64
}

func (c *countingFilter) Pass(can.Frame) bool { c.calls.Add(1); return c.pass }

func TestMaskFilter(t *testing.T) {
	std := can.NewFrame(can.StdHeader(0x123))
	ext := can.NewFrame(can.ExtHeader(0x123))
	if !NewID(0x123).Pass(std) || !NewID(0x123).Pass(ext) {
		t.Fatalf("relaxed mask should match both classes")
	}
	strict := NewMask(0x123, MaskAll, false)
	if !strict.Pass(std) || strict.Pass(ext) {
		t.Fatalf("MaskAll should distinguish classes")
	}
	if NewMask(0x123, MaskAll, true).Pass(std) {
		t.Fatalf("inverted mask passed a match")
	}
	if !NewMask(0x100, 0x700, false).Pass(std) {
		t.Fatalf("partial mask should match 0x123 against 0x100/0x700")
	}
}

func TestRangeFilter(t *testing.T) {
	r := NewRange(0x100, 0x1FF, false)
	for id, want := range map[uint32]bool{0xFF: false, 0x100: true, 0x150: true, 0x1FF: true, 0x200: false} {
		if got := r.Pass(can.NewFrame(can.StdHeader(id))); got != want {
			t.Fatalf("range pass(0x%X)=%v want %v", id, got, want)
		}
	}
	if NewRange(0x100, 0x1FF, true).Pass(can.NewFrame(can.StdHeader(0x150))) {
		t.Fatalf("inverted range passed an in-range id")
	}
}

func TestErrorFramesShareKey(t *testing.T) {
	e1 := can.Frame{Header: can.Header{ID: 0x4, Error: true, Extended: true}}
	if !NewMask(can.CAN_ERR_FLAG, MaskAll, false).Pass(e1) {
		t.Fatalf("error frame key should be the error flag")
	}
}

func TestListener_FirstMatchWins(t *testing.T) {
	src := testSource{d: dispatch.New[can.Frame]()}
	a := &countingFilter{pass: true}
	b := &countingFilter{pass: true}
	var delivered atomic.Int64
	l := NewListener(src, func(can.Frame) { delivered.Add(1) }, []FrameFilter{a, b})
	defer l.Close()

	src.d.Dispatch(can.NewFrame(can.StdHeader(1)))
	if delivered.Load() != 1 {
		t.Fatalf("delivered=%d want 1", delivered.Load())
	}
	if a.calls.Load() != 1 || b.calls.Load() != 0 {
		t.Fatalf("evaluations a=%d b=%d, want 1 and 0", a.calls.Load(), b.calls.Load())
	}
}

func TestListener_FallsThroughAndDrops(t *testing.T) {
	src := testSource{d: dispatch.New[can.Frame]()}
	var got []uint32
	l := NewListener(src, func(f can.Frame) { got = append(got, f.ID) }, []FrameFilter{
		NewID(0x10),
		NewRange(0x20, 0x2F, false),
	})
	for _, id := range []uint32{0x10, 0x15, 0x25, 0x30} {
		src.d.Dispatch(can.NewFrame(can.StdHeader(id)))
	}
	if len(got) != 2 || got[0] != 0x10 || got[1] != 0x25 {
		t.Fatalf("delivered %v want [0x10 0x25]", got)
	}
	l.Close()
	if src.d.NumListeners() != 0 {
		t.Fatalf("Close did not unsubscribe")
	}
	src.d.Dispatch(can.NewFrame(can.StdHeader(0x10)))
	if len(got) != 2 {
		t.Fatalf("delivery after Close")
	}
}

func TestListener_EmptyFiltersDropAll(t *testing.T) {
	src := testSource{d: dispatch.New[can.Frame]()}
	var delivered atomic.Int64
	l := NewListener(src, func(can.Frame) { delivered.Add(1) }, nil)
	defer l.Close()
	src.d.Dispatch(can.NewFrame(can.StdHeader(1)))
	if delivered.Load() != 0 {
		t.Fatalf("listener without filters delivered a frame")
	}
}

func TestListener_DroppedWithoutCloseUnsubscribes(t *testing.T) {
	src := testSource{d: dispatch.New[can.Frame]()}
	func() {
		NewListener(src, func(can.Frame) {}, []FrameFilter{NewID(1)})
	}()
	deadline := time.Now().Add(2 * time.Second)
	for src.d.NumListeners() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("dropped listener still subscribed")
		}
		runtime.GC()
		time.Sleep(time.Millisecond)
	}
}

func TestMaskFilter_Fields(t *testing.T) {
	m := MaskFilter{ID: 0x7E8, Mask: 0x7F0}
	if !m.Pass(can.NewFrame(can.StdHeader(0x7EF))) || m.Pass(can.NewFrame(can.StdHeader(0x7D8))) {
		t.Fatalf("literal MaskFilter mismatched")
	}
	if got := NewMask(0x7E8, 0x7F0, true); got != (MaskFilter{ID: 0x7E8, Mask: 0x7F0, Invert: true}) {
		t.Fatalf("NewMask=%+v", got)
	}
}
