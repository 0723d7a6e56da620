package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kstaniek/go-can-dispatch/internal/can"
	"github.com/kstaniek/go-can-dispatch/internal/cantext"
	"github.com/kstaniek/go-can-dispatch/internal/driver"
	"github.com/kstaniek/go-can-dispatch/internal/filter"
	"github.com/kstaniek/go-can-dispatch/internal/metrics"
	"github.com/kstaniek/go-can-dispatch/internal/reader"
)

// openInput returns the frame text source named by path ("-" = stdin).
func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// frameFormatter renders one output line for a frame.
func frameFormatter(cfg *appConfig) func(can.Frame) string {
	if cfg.format == "text" {
		lower := cfg.lowercase
		return func(f can.Frame) string { return cantext.FormatFrame(f, lower) }
	}
	return cantext.FormatDump
}

func formatState(s driver.State) string {
	return fmt.Sprintf("ERROR: state=%s internal_error=%d ('%v')", s.Driver, s.InternalError, s.Err)
}

// runDump replays in through the dispatch core and prints every frame that
// passes the configured filters. Frames are handed from the dispatch
// goroutine to the printer through a bounded BufferedReader.
func runDump(ctx context.Context, cfg *appConfig, in io.Reader, out io.Writer, l *slog.Logger) error {
	filters, err := cantext.ToFilters(cfg.filters)
	if err != nil {
		return err
	}
	drv := driver.NewReplay(in, driver.WithLogger(l), driver.WithInterval(cfg.replayInterval))
	metrics.SetReadinessFunc(func() bool { return drv.State().IsReady() })

	rd := reader.New(true, cfg.buffer, reader.WithLogger(l))
	defer rd.Close()
	if len(filters) == 0 {
		rd.Listen(drv)
	} else {
		fl := filter.NewListener(drv, rd.Handle, filters)
		defer fl.Close()
	}

	states := make(chan driver.State, 8)
	ssub := drv.CreateStateListener(func(s driver.State) {
		if s.Err == nil {
			return
		}
		select {
		case states <- s:
		default:
		}
	})
	defer ssub.Close()

	done := make(chan error, 1)
	go func() { done <- drv.Run(ctx) }()
	l.Info("dump_start", "input", cfg.input, "filters", len(filters), "format", cfg.format, "buffer", cfg.buffer)

	format := frameFormatter(cfg)
	w := bufio.NewWriter(out)
	defer w.Flush()
	printFrame := func(f can.Frame) { _, _ = fmt.Fprintln(w, format(f)) }
	printStates := func() {
		for {
			select {
			case s := <-states:
				_, _ = fmt.Fprintln(w, formatState(s))
			default:
				return
			}
		}
	}
	for {
		if f, ok := rd.Read(cfg.readTimeout); ok {
			printFrame(f)
			continue
		}
		printStates()
		select {
		case runErr := <-done:
			// drain what arrived before the driver stopped
			for {
				f, ok := rd.Read(0)
				if !ok {
					break
				}
				printFrame(f)
			}
			printStates()
			return runErr
		default:
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
}
