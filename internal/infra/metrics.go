package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	envelopesBuilt  atomic.Uint64
	diffsApplied    atomic.Uint64
	gapsDetected    atomic.Uint64
	tradesIngested  atomic.Uint64
	messagesDropped atomic.Uint64
	oiPollErrors    atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeSubscribers atomic.Int32
	streamsConnected  atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordEnvelope records one assembled envelope.
func (m *Metrics) RecordEnvelope() {
	m.envelopesBuilt.Add(1)
}

// RecordDiffApplied records a depth diff accepted by the book.
func (m *Metrics) RecordDiffApplied() {
	m.diffsApplied.Add(1)
}

// RecordGap records a depth sequence gap.
func (m *Metrics) RecordGap() {
	m.gapsDetected.Add(1)
}

// RecordTrade records a trade ingestion with its arrival latency.
func (m *Metrics) RecordTrade(latencyNs int64) {
	m.tradesIngested.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordDrop records a subscriber message dropped by backpressure.
func (m *Metrics) RecordDrop() {
	m.messagesDropped.Add(1)
}

// RecordOiPollError records a failed open-interest poll.
func (m *Metrics) RecordOiPollError() {
	m.oiPollErrors.Add(1)
}

// IncrementSubscribers increments the subscriber gauge by 1.
func (m *Metrics) IncrementSubscribers() {
	m.activeSubscribers.Add(1)
}

// DecrementSubscribers decrements the subscriber gauge by 1.
func (m *Metrics) DecrementSubscribers() {
	m.activeSubscribers.Add(-1)
}

// SetStreamsConnected sets the count of live exchange streams.
func (m *Metrics) SetStreamsConnected(count int32) {
	m.streamsConnected.Store(count)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EnvelopesBuilt    uint64
	DiffsApplied      uint64
	GapsDetected      uint64
	TradesIngested    uint64
	MessagesDropped   uint64
	OiPollErrors      uint64
	AvgLatencyNs      int64
	ActiveSubscribers int32
	StreamsConnected  int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		EnvelopesBuilt:    m.envelopesBuilt.Load(),
		DiffsApplied:      m.diffsApplied.Load(),
		GapsDetected:      m.gapsDetected.Load(),
		TradesIngested:    m.tradesIngested.Load(),
		MessagesDropped:   m.messagesDropped.Load(),
		OiPollErrors:      m.oiPollErrors.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveSubscribers: m.activeSubscribers.Load(),
		StreamsConnected:  m.streamsConnected.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.envelopesBuilt.Store(0)
	m.diffsApplied.Store(0)
	m.gapsDetected.Store(0)
	m.tradesIngested.Store(0)
	m.messagesDropped.Store(0)
	m.oiPollErrors.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeSubscribers.Store(0)
	m.streamsConnected.Store(0)
}
