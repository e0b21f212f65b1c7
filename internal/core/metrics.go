package core

import (
	"sync"
	"time"
)

// Metrics tracks check run counters for the life of the daemon.
type Metrics struct {
	runs        int64
	localErrors int64
	hostErrors  int64
	hosts       int64
	duration    time.Duration
	mu          sync.RWMutex
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRun records one finished check run.
func (m *Metrics) RecordRun(duration time.Duration, hosts, failedHosts int, localFailed bool) {
	m.mu.Lock()
	m.runs++
	m.hosts += int64(hosts)
	m.hostErrors += int64(failedHosts)
	if localFailed {
		m.localErrors++
	}
	m.duration += duration
	m.mu.Unlock()
}

// Stats is a copy of the counters.
type Stats struct {
	Runs        int64
	LocalErrors int64
	Hosts       int64
	HostErrors  int64
	Duration    time.Duration
}

// GetStats returns current metrics
func (m *Metrics) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Runs:        m.runs,
		LocalErrors: m.localErrors,
		Hosts:       m.hosts,
		HostErrors:  m.hostErrors,
		Duration:    m.duration,
	}
}
