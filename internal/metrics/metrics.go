package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter and timer names used across the service.
const (
	EventsSaved          = "events_saved"
	VersionConflicts     = "version_conflicts"
	LedgerErrors         = "ledger_errors"
	AcceleratorErrors    = "accelerator_errors"
	PublishErrors        = "publish_errors"
	AcceleratorHits      = "accelerator_hits"
	LedgerFallbacks      = "ledger_fallbacks"
	EventsRelayed        = "events_relayed"
	RelayErrors          = "relay_errors"
	SubscribersConnected = "subscribers_connected"
)

// TimerMetric captures timing information
type TimerMetric struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MinTimeMs     int64   `json:"min_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

type timer struct {
	count       int64
	totalTimeMs int64
	minTimeMs   int64
	maxTimeMs   int64
}

// Metrics is the main metrics collector
type Metrics struct {
	mu        sync.RWMutex
	counters  map[string]*int64
	gauges    map[string]*int64
	timers    map[string]*timer
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:  make(map[string]*int64),
		gauges:    make(map[string]*int64),
		timers:    make(map[string]*timer),
		startTime: time.Now(),
	}
}

// IncrementCounter increments a counter by one
func (m *Metrics) IncrementCounter(name string) {
	atomic.AddInt64(m.counter(name), 1)
}

// SetGauge sets a gauge to a point-in-time value
func (m *Metrics) SetGauge(name string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.gauges[name]
	if !ok {
		g = new(int64)
		m.gauges[name] = g
	}
	atomic.StoreInt64(g, value)
}

// RecordTime records a duration against a named timer
func (m *Metrics) RecordTime(name string, d time.Duration) {
	ms := d.Milliseconds()

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timers[name]
	if !ok {
		t = &timer{minTimeMs: ms, maxTimeMs: ms}
		m.timers[name] = t
	}
	t.count++
	t.totalTimeMs += ms
	if ms < t.minTimeMs {
		t.minTimeMs = ms
	}
	if ms > t.maxTimeMs {
		t.maxTimeMs = ms
	}
}

// Snapshot returns a point-in-time view of all collected metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, c := range m.counters {
		counters[name] = atomic.LoadInt64(c)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, g := range m.gauges {
		gauges[name] = atomic.LoadInt64(g)
	}

	timers := make(map[string]TimerMetric, len(m.timers))
	for name, t := range m.timers {
		metric := TimerMetric{
			Count:       t.count,
			TotalTimeMs: t.totalTimeMs,
			MinTimeMs:   t.minTimeMs,
			MaxTimeMs:   t.maxTimeMs,
		}
		if t.count > 0 {
			metric.AverageTimeMs = float64(t.totalTimeMs) / float64(t.count)
		}
		timers[name] = metric
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"counters":       counters,
		"gauges":         gauges,
		"timers":         timers,
	}
}

// CounterValue returns the current value of a counter
func (m *Metrics) CounterValue(name string) int64 {
	return atomic.LoadInt64(m.counter(name))
}

func (m *Metrics) counter(name string) *int64 {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[name]; ok {
		return c
	}
	c = new(int64)
	m.counters[name] = c
	return c
}
