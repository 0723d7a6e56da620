// Package filter routes frames to a callback when one of an ordered list of
// identifier predicates matches.
package filter

import (
	"weak"

	"github.com/kstaniek/go-can-dispatch/internal/can"
	"github.com/kstaniek/go-can-dispatch/internal/dispatch"
	"github.com/kstaniek/go-can-dispatch/internal/metrics"
)

// Mask presets for MaskFilter.
const (
	MaskAll     uint32 = 0xFFFFFFFF
	MaskRelaxed uint32 = ^uint32(can.CAN_EFF_FLAG) // ignore standard/extended class
)

// FrameFilter is a pure predicate over a frame's key.
type FrameFilter interface {
	Pass(f can.Frame) bool
}

// MaskFilter passes frames whose key equals ID under Mask.
type MaskFilter struct {
	ID     uint32
	Mask   uint32
	Invert bool
}

// NewMask returns a MaskFilter for id under mask, negated when invert is set.
func NewMask(id, mask uint32, invert bool) MaskFilter {
	return MaskFilter{ID: id, Mask: mask, Invert: invert}
}

// NewID returns an exact-id MaskFilter using MaskRelaxed, so standard and
// extended frames with the same numeric id both pass.
func NewID(id uint32) MaskFilter { return NewMask(id, MaskRelaxed, false) }

// Pass compares the masked key with the masked ID.
func (m MaskFilter) Pass(f can.Frame) bool {
	return (m.Mask&f.Key() == m.Mask&m.ID) != m.Invert
}

// RangeFilter passes frames whose key lies in [Min, Max].
type RangeFilter struct {
	Min    uint32
	Max    uint32
	Invert bool
}

// NewRange returns an inclusive RangeFilter.
func NewRange(min, max uint32, invert bool) RangeFilter {
	return RangeFilter{Min: min, Max: max, Invert: invert}
}

// Pass reports whether the key lies within the bounds, negated by Invert.
func (r RangeFilter) Pass(f can.Frame) bool {
	k := f.Key()
	return (r.Min <= k && k <= r.Max) != r.Invert
}

// Source is the upstream frame source a Listener subscribes to.
type Source interface {
	CreateMsgListener(fn func(can.Frame)) *dispatch.Subscription
}

// Listener forwards frames from a Source to its callback when the first
// matching filter is found. Frames matching nothing are dropped silently.
type Listener struct {
	filters []FrameFilter
	fn      func(can.Frame)
	sub     *dispatch.Subscription
}

// NewListener subscribes once to src. The filter order is significant:
// evaluation stops at the first filter that passes. A Listener dropped
// without Close is unsubscribed once collected.
func NewListener(src Source, fn func(can.Frame), filters []FrameFilter) *Listener {
	l := &Listener{filters: append([]FrameFilter(nil), filters...), fn: fn}
	wp := weak.Make(l)
	l.sub = src.CreateMsgListener(func(f can.Frame) {
		if l := wp.Value(); l != nil {
			l.handle(f)
		}
	})
	return l
}

func (l *Listener) handle(f can.Frame) {
	if l.Match(f) {
		l.fn(f)
		return
	}
	metrics.IncFilterReject()
}

// Match reports whether any filter passes f.
func (l *Listener) Match(f can.Frame) bool {
	for _, flt := range l.filters {
		if flt.Pass(f) {
			return true
		}
	}
	return false
}

// Close unsubscribes from the source.
func (l *Listener) Close() { l.sub.Close() }
