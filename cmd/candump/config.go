package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type appConfig struct {
	configFile      string
	input           string
	filters         []string
	format          string
	lowercase       bool
	buffer          int
	replayInterval  time.Duration
	readTimeout     time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
}

// fileConfig is the YAML layout of -config. Empty fields leave the default.
type fileConfig struct {
	Input              string   `yaml:"input"`
	Filters            []string `yaml:"filters"`
	Format             string   `yaml:"format"`
	Lowercase          *bool    `yaml:"lowercase"`
	Buffer             int      `yaml:"buffer"`
	ReplayInterval     string   `yaml:"replay-interval"`
	LogFormat          string   `yaml:"log-format"`
	LogLevel           string   `yaml:"log-level"`
	MetricsAddr        string   `yaml:"metrics-addr"`
	LogMetricsInterval string   `yaml:"log-metrics-interval"`
}

// stringList is a repeatable flag; each value may hold comma-separated items.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*s = append(*s, item)
		}
	}
	return nil
}

func parseFlags(args []string) (*appConfig, bool, error) {
	fs := flag.NewFlagSet("candump", flag.ContinueOnError)
	cfg := &appConfig{}
	var filters stringList
	fs.StringVar(&cfg.configFile, "config", "", "Optional YAML config file")
	fs.StringVar(&cfg.input, "input", "-", "Frame text input file ('-' = stdin)")
	fs.Var(&filters, "filter", "Frame filter (repeatable or comma-separated): ID, ID:MASK, ID~MASK, MIN-MAX, MIN_MAX")
	fs.StringVar(&cfg.format, "format", "dump", "Output format: dump|text")
	fs.BoolVar(&cfg.lowercase, "lowercase", false, "Lowercase hex in text output")
	fs.IntVar(&cfg.buffer, "buffer", 0, "Reader buffer capacity in frames; 0 = unbounded, a bound drops the oldest frames when output lags")
	fs.DurationVar(&cfg.replayInterval, "replay-interval", 0, "Pause between replayed frames")
	fs.DurationVar(&cfg.readTimeout, "read-timeout", 100*time.Millisecond, "Bounded wait per buffered read")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	cfg.filters = filters

	// Track which flags were explicitly set to give them precedence over env and file.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if *showVersion {
		return cfg, true, nil
	}
	if _, ok := setFlags["config"]; !ok {
		if v, ok := os.LookupEnv("CANDUMP_CONFIG"); ok && strings.TrimSpace(v) != "" {
			cfg.configFile = strings.TrimSpace(v)
		}
	}
	if cfg.configFile != "" {
		fc, err := loadFileConfig(cfg.configFile)
		if err != nil {
			return nil, false, err
		}
		if err := applyFileConfig(cfg, fc, setFlags); err != nil {
			return nil, false, err
		}
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, false, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, false, nil
}

func loadFileConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.UnmarshalStrict(b, &fc); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return &fc, nil
}

// applyFileConfig copies non-empty file values into c for flags not set explicitly.
func applyFileConfig(c *appConfig, fc *fileConfig, set map[string]struct{}) error {
	unset := func(name string) bool { _, ok := set[name]; return !ok }
	if unset("input") && fc.Input != "" {
		c.input = fc.Input
	}
	if unset("filter") && len(fc.Filters) > 0 {
		c.filters = append([]string(nil), fc.Filters...)
	}
	if unset("format") && fc.Format != "" {
		c.format = fc.Format
	}
	if unset("lowercase") && fc.Lowercase != nil {
		c.lowercase = *fc.Lowercase
	}
	if unset("buffer") && fc.Buffer != 0 {
		c.buffer = fc.Buffer
	}
	if unset("replay-interval") && fc.ReplayInterval != "" {
		d, err := time.ParseDuration(fc.ReplayInterval)
		if err != nil {
			return fmt.Errorf("config replay-interval: %w", err)
		}
		c.replayInterval = d
	}
	if unset("log-format") && fc.LogFormat != "" {
		c.logFormat = fc.LogFormat
	}
	if unset("log-level") && fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if unset("metrics-addr") && fc.MetricsAddr != "" {
		c.metricsAddr = fc.MetricsAddr
	}
	if unset("log-metrics-interval") && fc.LogMetricsInterval != "" {
		d, err := time.ParseDuration(fc.LogMetricsInterval)
		if err != nil {
			return fmt.Errorf("config log-metrics-interval: %w", err)
		}
		c.logMetricsEvery = d
	}
	return nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not open the input; filter text is checked when the pipeline is built.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.format {
	case "dump", "text":
	default:
		return fmt.Errorf("invalid format: %s", c.format)
	}
	if c.input == "" {
		return errors.New("input must not be empty")
	}
	if c.buffer < 0 {
		return fmt.Errorf("buffer must be >= 0 (got %d)", c.buffer)
	}
	if c.readTimeout <= 0 {
		return fmt.Errorf("read-timeout must be > 0")
	}
	if c.replayInterval < 0 || c.logMetricsEvery < 0 {
		return fmt.Errorf("intervals must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps CANDUMP_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["input"]; !ok {
		if v, ok := get("CANDUMP_INPUT"); ok && v != "" {
			c.input = v
		}
	}
	if _, ok := set["filter"]; !ok {
		if v, ok := get("CANDUMP_FILTERS"); ok && v != "" {
			var l stringList
			_ = l.Set(v)
			c.filters = l
		}
	}
	if _, ok := set["format"]; !ok {
		if v, ok := get("CANDUMP_FORMAT"); ok && v != "" {
			c.format = v
		}
	}
	if _, ok := set["lowercase"]; !ok {
		if v, ok := get("CANDUMP_LOWERCASE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.lowercase = true
			case "0", "false", "no", "off":
				c.lowercase = false
			}
		}
	}
	if _, ok := set["buffer"]; !ok {
		if v, ok := get("CANDUMP_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.buffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANDUMP_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["replay-interval"]; !ok {
		if v, ok := get("CANDUMP_REPLAY_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.replayInterval = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANDUMP_REPLAY_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("CANDUMP_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("CANDUMP_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("CANDUMP_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("CANDUMP_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANDUMP_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
