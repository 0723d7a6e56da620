package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-dispatch/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	DriverRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driver_rx_frames_total",
		Help: "Total CAN frames delivered by a driver to its dispatcher.",
	})
	DriverTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driver_tx_frames_total",
		Help: "Total CAN frames written by a driver.",
	})
	DriverStateChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driver_state_changes_total",
		Help: "Total driver state transitions published to state listeners.",
	})
	ReaderDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_dropped_frames_total",
		Help: "Total CAN frames discarded because a buffered reader was disabled.",
	})
	ReaderEvictedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_evicted_frames_total",
		Help: "Total queued CAN frames evicted (oldest first) by a full buffered reader.",
	})
	FilterRejectedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filter_rejected_frames_total",
		Help: "Total CAN frames matching no filter of a filtered listener.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frame texts (bad hex, bad width, oversized payload).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrReplayRead  = "replay_read"
	ErrReplayParse = "replay_parse"
	ErrDriverWrite = "driver_write"
	ErrDriverOver  = "driver_tx_overflow"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localDriverRx     uint64
	localDriverTx     uint64
	localStateChanges uint64
	localReaderDrop   uint64
	localReaderEvict  uint64
	localFilterReject uint64
	localErrors       uint64
	localMalformed    uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	DriverRx      uint64
	DriverTx      uint64
	StateChanges  uint64
	ReaderDrops   uint64
	ReaderEvicts  uint64
	FilterRejects uint64
	Errors        uint64 // sum across error labels
	Malformed     uint64
}

func Snap() Snapshot {
	return Snapshot{
		DriverRx:      atomic.LoadUint64(&localDriverRx),
		DriverTx:      atomic.LoadUint64(&localDriverTx),
		StateChanges:  atomic.LoadUint64(&localStateChanges),
		ReaderDrops:   atomic.LoadUint64(&localReaderDrop),
		ReaderEvicts:  atomic.LoadUint64(&localReaderEvict),
		FilterRejects: atomic.LoadUint64(&localFilterReject),
		Errors:        atomic.LoadUint64(&localErrors),
		Malformed:     atomic.LoadUint64(&localMalformed),
	}
}

// Wrapper helpers to keep call sites simple.
func IncDriverRx() {
	DriverRxFrames.Inc()
	atomic.AddUint64(&localDriverRx, 1)
}

func IncDriverTx() {
	DriverTxFrames.Inc()
	atomic.AddUint64(&localDriverTx, 1)
}

func IncStateChange() {
	DriverStateChanges.Inc()
	atomic.AddUint64(&localStateChanges, 1)
}

// IncReaderDrop counts a frame discarded by a disabled reader.
func IncReaderDrop() {
	ReaderDroppedFrames.Inc()
	atomic.AddUint64(&localReaderDrop, 1)
}

// IncReaderEvict counts a queued frame evicted on overflow.
func IncReaderEvict() {
	ReaderEvictedFrames.Inc()
	atomic.AddUint64(&localReaderEvict, 1)
}

func IncFilterReject() {
	FilterRejectedFrames.Inc()
	atomic.AddUint64(&localFilterReject, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{ErrReplayRead, ErrReplayParse, ErrDriverWrite, ErrDriverOver} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
