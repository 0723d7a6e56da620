package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kstaniek/go-can-dispatch/internal/metrics"
)

func main() { os.Exit(run()) }

func run() int {
	cfg, showVersion, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if showVersion {
		fmt.Printf("candump %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	in, closeIn, err := openInput(cfg.input)
	if err != nil {
		l.Error("input_open_error", "error", err)
		return 1
	}
	defer closeIn()

	err = runDump(ctx, cfg, in, os.Stdout, l)
	cancel()
	wg.Wait()
	if err != nil {
		l.Error("dump_error", "error", err)
		return 1
	}
	return 0
}
