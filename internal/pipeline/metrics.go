package pipeline

import (
	"sync"
	"time"
)

// Metrics counts runs and producer outcomes across the life of a Graph.
type Metrics struct {
	TotalRuns        int64
	InterruptedRuns  int64
	ProducerRuns     int64
	ProducerFailures int64
	TotalDuration    time.Duration
	AverageDuration  time.Duration
	LastRun          time.Time
	mutex            sync.RWMutex
}

// NewMetrics creates an empty metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) recordProducer(failed bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.ProducerRuns++
	if failed {
		m.ProducerFailures++
	}
}

func (m *Metrics) recordRun(r *Report) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.TotalRuns++
	if r.Interrupted != nil {
		m.InterruptedRuns++
	}
	m.TotalDuration += r.Duration()
	m.AverageDuration = m.TotalDuration / time.Duration(m.TotalRuns)
	m.LastRun = r.Finished
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	TotalRuns        int64
	InterruptedRuns  int64
	ProducerRuns     int64
	ProducerFailures int64
	TotalDuration    time.Duration
	AverageDuration  time.Duration
	LastRun          time.Time
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return MetricsSnapshot{
		TotalRuns:        m.TotalRuns,
		InterruptedRuns:  m.InterruptedRuns,
		ProducerRuns:     m.ProducerRuns,
		ProducerFailures: m.ProducerFailures,
		TotalDuration:    m.TotalDuration,
		AverageDuration:  m.AverageDuration,
		LastRun:          m.LastRun,
	}
}

// FailureRate returns the share of failed producer runs as a percentage.
func (m *Metrics) FailureRate() float64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.ProducerRuns == 0 {
		return 0
	}
	return float64(m.ProducerFailures) / float64(m.ProducerRuns) * 100
}
