package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-can-dispatch/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	lvl, _ := logging.ParseLevel(level) // validated by appConfig.validate
	l := logging.New(format, lvl, os.Stderr).With("app", "candump")
	logging.Set(l)
	return l
}
