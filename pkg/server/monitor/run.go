// Package monitor tracks the health of trend runs for the health endpoint.
package monitor

import (
	"sync"
	"time"
)

// RunMonitor tracks trend run outcomes.
type RunMonitor struct {
	mu                sync.RWMutex
	maxFailures       int
	lastSuccess       time.Time
	lastAttempt       time.Time
	lastSource        string
	lastPoints        int
	consecutiveErrors int
	lastError         string
}

// NewRunMonitor creates a monitor that reports unhealthy after more than
// maxFailures consecutive failed runs.
func NewRunMonitor(maxFailures int) *RunMonitor {
	return &RunMonitor{maxFailures: maxFailures}
}

// RecordSuccess records a run that reached Done.
func (m *RunMonitor) RecordSuccess(sourceID string, points int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.lastSuccess = now
	m.lastAttempt = now
	m.lastSource = sourceID
	m.lastPoints = points
	m.consecutiveErrors = 0
	m.lastError = ""
}

// RecordFailure records a run that ended in Error.
func (m *RunMonitor) RecordFailure(sourceID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = time.Now()
	m.lastSource = sourceID
	m.consecutiveErrors++
	if err != nil {
		m.lastError = err.Error()
	}
}

// IsHealthy reports false once failures exceed the configured limit.
// A service that has not run anything yet is healthy.
func (m *RunMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthyLocked()
}

func (m *RunMonitor) healthyLocked() bool {
	return m.consecutiveErrors <= m.maxFailures
}

// RunStatus is the monitor state as reported by the health endpoint.
type RunStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	LastSource        string `json:"last_source,omitempty"`
	LastPoints        int    `json:"last_points,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns the current run status.
func (m *RunMonitor) Status() RunStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := RunStatus{
		Healthy:    m.healthyLocked(),
		LastSource: m.lastSource,
		LastPoints: m.lastPoints,
	}

	if !m.lastSuccess.IsZero() {
		status.LastSuccess = m.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(m.lastSuccess).Round(time.Second).String()
	}
	if !m.lastAttempt.IsZero() {
		status.LastAttempt = m.lastAttempt.Format(time.RFC3339)
	}
	if m.consecutiveErrors > 0 {
		status.ConsecutiveErrors = m.consecutiveErrors
		status.LastError = m.lastError
	}
	return status
}
