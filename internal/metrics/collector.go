// Package metrics aggregates replication-session observability state for
// consumption by the Prometheus exporter, the status HTTP API, the
// websocket hub, and the terminal dashboard.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/cdcstream/pgoutputcdc/pkg/lsn"
)

// Snapshot is the complete observability state at a point in time.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	State      string    `json:"state"`
	ElapsedSec float64   `json:"elapsed_sec"`

	ReceivedLSN string `json:"received_lsn"`
	AppliedLSN  string `json:"applied_lsn"`
	LagBytes    uint64 `json:"lag_bytes"`
	LagFormatted string `json:"lag_formatted"`

	EventsPerSec float64          `json:"events_per_sec"`
	TotalEvents  int64            `json:"total_events"`
	EventCounts  map[string]int64 `json:"event_counts"`

	SinkErrors  map[string]int64 `json:"sink_errors"`
	SinkRetries map[string]int64 `json:"sink_retries"`

	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`
}

// LogEntry represents a log line captured for the status API / TUI.
type LogEntry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Collector aggregates session metrics and exposes them three ways: a
// push-based Snapshot feed (websocket hub, TUI), a pull-based JSON snapshot
// (status API), and Prometheus counters/gauges via its own Registry.
type Collector struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	state     string
	startedAt time.Time

	receivedLSN pglogrepl.LSN
	appliedLSN  pglogrepl.LSN
	latestLSN   pglogrepl.LSN

	eventCounts map[string]int64
	sinkErrors  map[string]int64
	sinkRetries map[string]int64

	totalEvents atomic.Int64
	errorCount  atomic.Int64
	lastError   atomic.Value // string

	eventWindow *slidingWindow

	subMu       sync.Mutex
	subscribers map[chan Snapshot]struct{}

	logMu  sync.Mutex
	logs   []LogEntry
	logCap int

	done chan struct{}

	registry        *prometheus.Registry
	receivedLSNGauge prometheus.Gauge
	appliedLSNGauge  prometheus.Gauge
	lagGauge         prometheus.Gauge
	eventsTotal      *prometheus.CounterVec
	sinkErrorsTotal  *prometheus.CounterVec
	sinkRetryTotal   *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its Prometheus metrics
// against a private registry (never the global default, so multiple
// sessions in one process don't collide).
func NewCollector(logger zerolog.Logger) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		logger:      logger.With().Str("component", "metrics").Logger(),
		eventCounts: make(map[string]int64),
		sinkErrors:  make(map[string]int64),
		sinkRetries: make(map[string]int64),
		subscribers: make(map[chan Snapshot]struct{}),
		eventWindow: newSlidingWindow(60 * time.Second),
		logs:        make([]LogEntry, 0, 500),
		logCap:      500,
		done:        make(chan struct{}),
		registry:    registry,

		receivedLSNGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgoutputcdc_received_lsn",
			Help: "Highest WAL position observed from the server.",
		}),
		appliedLSNGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgoutputcdc_applied_lsn",
			Help: "Highest WAL position whose event was successfully delivered to the sink.",
		}),
		lagGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgoutputcdc_lag_bytes",
			Help: "Bytes of WAL between the server's latest position and applied_lsn.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pgoutputcdc_events_total",
			Help: "Total decoded pgoutput messages, by message kind.",
		}, []string{"type"}),
		sinkErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pgoutputcdc_sink_errors_total",
			Help: "Total terminal sink delivery failures, by sink kind.",
		}, []string{"kind"}),
		sinkRetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pgoutputcdc_sink_retry_total",
			Help: "Total sink delivery retry attempts, by sink kind.",
		}, []string{"kind"}),
	}

	registry.MustRegister(c.receivedLSNGauge, c.appliedLSNGauge, c.lagGauge, c.eventsTotal, c.sinkErrorsTotal, c.sinkRetryTotal)

	go c.broadcastLoop()
	return c
}

// Registry returns the private Prometheus registry backing this collector,
// for mounting behind promhttp.HandlerFor in internal/server.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// SetState records the session's current lifecycle state (session.State).
func (c *Collector) SetState(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
	}
}

// RecordReceivedLSN updates the received-LSN gauge.
func (c *Collector) RecordReceivedLSN(l pglogrepl.LSN) {
	c.mu.Lock()
	c.receivedLSN = l
	c.mu.Unlock()
	c.receivedLSNGauge.Set(float64(l))
}

// RecordAppliedLSN updates the applied-LSN gauge.
func (c *Collector) RecordAppliedLSN(l pglogrepl.LSN) {
	c.mu.Lock()
	c.appliedLSN = l
	lag := lsn.Lag(l, c.latestLSN)
	c.mu.Unlock()
	c.appliedLSNGauge.Set(float64(l))
	c.lagGauge.Set(float64(lag))
}

// RecordLatestLSN updates the server-reported latest LSN used for lag
// calculation.
func (c *Collector) RecordLatestLSN(l pglogrepl.LSN) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latestLSN = l
	c.lagGauge.Set(float64(lsn.Lag(c.appliedLSN, l)))
}

// RecordEvent increments the per-kind event counter and the throughput
// window.
func (c *Collector) RecordEvent(kind string) {
	c.mu.Lock()
	c.eventCounts[kind]++
	c.mu.Unlock()
	c.totalEvents.Add(1)
	c.eventsTotal.WithLabelValues(kind).Inc()
	c.eventWindow.Add(time.Now(), 1)
}

// RecordSinkError increments the terminal sink-error counter for kind.
func (c *Collector) RecordSinkError(kind string) {
	c.mu.Lock()
	c.sinkErrors[kind]++
	c.mu.Unlock()
	c.sinkErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordSinkRetry increments the sink-retry counter for kind.
func (c *Collector) RecordSinkRetry(kind string) {
	c.mu.Lock()
	c.sinkRetries[kind]++
	c.mu.Unlock()
	c.sinkRetryTotal.WithLabelValues(kind).Inc()
}

// RecordError increments the overall error count and stores the last error
// message.
func (c *Collector) RecordError(err error) {
	c.errorCount.Add(1)
	if err != nil {
		c.lastError.Store(err.Error())
	}
}

// AddLog appends a log entry to the ring buffer, dropping the oldest
// quarter once logCap is reached.
func (c *Collector) AddLog(entry LogEntry) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if len(c.logs) >= c.logCap {
		n := c.logCap / 4
		copy(c.logs, c.logs[n:])
		c.logs = c.logs[:len(c.logs)-n]
	}
	c.logs = append(c.logs, entry)
}

// Logs returns a copy of recent log entries.
func (c *Collector) Logs() []LogEntry {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	out := make([]LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

// Snapshot returns the current observability state (thread-safe).
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	var elapsed float64
	if !c.startedAt.IsZero() {
		elapsed = now.Sub(c.startedAt).Seconds()
	}

	lagBytes := lsn.Lag(c.appliedLSN, c.latestLSN)

	eventCounts := make(map[string]int64, len(c.eventCounts))
	for k, v := range c.eventCounts {
		eventCounts[k] = v
	}
	sinkErrors := make(map[string]int64, len(c.sinkErrors))
	for k, v := range c.sinkErrors {
		sinkErrors[k] = v
	}
	sinkRetries := make(map[string]int64, len(c.sinkRetries))
	for k, v := range c.sinkRetries {
		sinkRetries[k] = v
	}

	var lastErr string
	if v := c.lastError.Load(); v != nil {
		lastErr = v.(string)
	}

	return Snapshot{
		Timestamp:    now,
		State:        c.state,
		ElapsedSec:   elapsed,
		ReceivedLSN:  c.receivedLSN.String(),
		AppliedLSN:   c.appliedLSN.String(),
		LagBytes:     lagBytes,
		LagFormatted: lsn.FormatLag(lagBytes, 0),
		EventsPerSec: c.eventWindow.Rate(),
		TotalEvents:  c.totalEvents.Load(),
		EventCounts:  eventCounts,
		SinkErrors:   sinkErrors,
		SinkRetries:  sinkRetries,
		ErrorCount:   int(c.errorCount.Load()),
		LastError:    lastErr,
	}
}

// Subscribe returns a channel that receives periodic Snapshot updates.
func (c *Collector) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 4)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscription channel.
func (c *Collector) Unsubscribe(ch chan Snapshot) {
	c.subMu.Lock()
	delete(c.subscribers, ch)
	c.subMu.Unlock()
}

// Close stops the broadcast loop.
func (c *Collector) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Collector) broadcastLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			snap := c.Snapshot()
			c.subMu.Lock()
			for ch := range c.subscribers {
				select {
				case ch <- snap:
				default:
				}
			}
			c.subMu.Unlock()
		}
	}
}

// --- Sliding window for throughput calculation ---

type windowEntry struct {
	time  time.Time
	value float64
}

type slidingWindow struct {
	mu      sync.Mutex
	entries []windowEntry
	window  time.Duration
}

func newSlidingWindow(d time.Duration) *slidingWindow {
	return &slidingWindow{
		entries: make([]windowEntry, 0, 128),
		window:  d,
	}
}

func (w *slidingWindow) Add(t time.Time, val float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, windowEntry{time: t, value: val})
	w.evict(t)
}

func (w *slidingWindow) Rate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.evict(now)
	if len(w.entries) == 0 {
		return 0
	}
	var total float64
	for _, e := range w.entries {
		total += e.value
	}
	elapsed := now.Sub(w.entries[0].time).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return total / elapsed
}

func (w *slidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].time.Before(cutoff) {
		i++
	}
	if i > 0 {
		copy(w.entries, w.entries[i:])
		w.entries = w.entries[:len(w.entries)-i]
	}
}
