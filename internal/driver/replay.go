package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-dispatch/internal/can"
	"github.com/kstaniek/go-can-dispatch/internal/logging"
	"github.com/kstaniek/go-can-dispatch/internal/metrics"
	"github.com/kstaniek/go-can-dispatch/internal/transport"
)

const defaultTxBuffer = 256

// Replay is a driver fed by canonical text frames, one per line. It plays
// fixtures and captured dumps back to the dispatch core. Frames passed to
// Send are written as text to the echo writer (if any) and, with loopback
// enabled, delivered to listeners like received frames.
type Replay struct {
	*Base

	src      io.Reader
	echo     transport.FrameSink
	interval time.Duration
	loopback bool
	txBuf    int
	logger   *slog.Logger

	mu sync.RWMutex
	tx *transport.AsyncTx[can.Frame]
}

var _ Interface = (*Replay)(nil)

type ReplayOption func(*Replay)

func WithLogger(l *slog.Logger) ReplayOption {
	return func(d *Replay) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithInterval paces delivery with a pause between frames.
func WithInterval(iv time.Duration) ReplayOption {
	return func(d *Replay) {
		if iv > 0 {
			d.interval = iv
		}
	}
}

// WithEcho writes sent frames as text to w.
func WithEcho(w io.Writer, lower bool) ReplayOption {
	return func(d *Replay) {
		if w != nil {
			d.echo = transport.NewTextWriter(w, lower)
		}
	}
}

func WithLoopback(on bool) ReplayOption { return func(d *Replay) { d.loopback = on } }

func WithTxBuffer(n int) ReplayOption {
	return func(d *Replay) {
		if n > 0 {
			d.txBuf = n
		}
	}
}

func NewReplay(src io.Reader, opts ...ReplayOption) *Replay {
	d := &Replay{
		Base:   NewBase(),
		src:    src,
		txBuf:  defaultTxBuffer,
		logger: logging.L(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run delivers every frame of the source and returns at end of input (nil),
// on a read error, or when ctx is cancelled. Malformed lines are logged,
// counted and skipped.
func (d *Replay) Run(ctx context.Context) error {
	d.SetState(State{Driver: Open})
	d.startTx(ctx)
	defer d.stopTx()
	d.SetState(State{Driver: Ready})

	sc := transport.NewTextScanner(d.src)
	var delivered, skipped int
	defer func() {
		d.logger.Info("replay_end", "delivered", delivered, "skipped", skipped)
	}()
	for {
		if err := ctx.Err(); err != nil {
			d.SetState(State{Driver: Closed})
			return nil
		}
		f, err := sc.Next()
		if err != nil {
			var le *transport.LineError
			switch {
			case errors.Is(err, io.EOF):
				d.SetState(State{Driver: Closed})
				return nil
			case errors.As(err, &le):
				skipped++
				metrics.IncError(metrics.ErrReplayParse)
				d.logger.Warn("replay_parse_error", "line", le.Line, "text", le.Text, "error", le.Err)
				continue
			default:
				metrics.IncError(metrics.ErrReplayRead)
				wrap := fmt.Errorf("replay read: %w", err)
				d.SetState(State{Driver: Closed, Err: wrap})
				return wrap
			}
		}
		d.Deliver(f)
		delivered++
		if d.interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d.interval):
			}
		}
	}
}

func (d *Replay) startTx(ctx context.Context) {
	if d.echo == nil {
		return
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrDriverWrite)
			d.logger.Error("replay_echo_error", "error", err)
		},
		OnAfter: metrics.IncDriverTx,
		OnDrop: func() error {
			metrics.IncError(metrics.ErrDriverOver)
			return ErrTxOverflow
		},
	}
	tx := transport.NewAsyncTx(ctx, d.txBuf, d.echo.SendFrame, hooks)
	d.mu.Lock()
	d.tx = tx
	d.mu.Unlock()
}

func (d *Replay) stopTx() {
	d.mu.Lock()
	tx := d.tx
	d.tx = nil
	d.mu.Unlock()
	if tx != nil {
		tx.Close()
	}
}

// Send echoes f and, with loopback, delivers it to listeners on the calling
// goroutine. Calling Send from a frame callback of this driver deadlocks
// when loopback is on.
func (d *Replay) Send(f can.Frame) error {
	if !d.State().IsReady() {
		return ErrNotReady
	}
	if !f.Valid() {
		return ErrInvalidFrame
	}
	d.mu.RLock()
	tx := d.tx
	d.mu.RUnlock()
	if tx != nil {
		if err := tx.Send(f); err != nil {
			return err
		}
	} else if d.echo == nil {
		metrics.IncDriverTx()
	}
	if d.loopback {
		d.Deliver(f)
	}
	return nil
}
