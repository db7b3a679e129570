package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/nicktill/adoptboard/pkg/reconcile"
	"github.com/nicktill/adoptboard/pkg/source"
)

// maxConsecutiveErrors is how many failed refreshes in a row are tolerated
// before the service reports itself degraded.
const maxConsecutiveErrors = 3

// Failure kinds reported to clients.
const (
	KindSchema = "schema"
	KindFetch  = "fetch"
	KindOther  = "internal"
)

// Kind classifies a refresh error.
func Kind(err error) string {
	switch {
	case errors.Is(err, reconcile.ErrMissingKey):
		return KindSchema
	case errors.Is(err, source.ErrFetch):
		return KindFetch
	default:
		return KindOther
	}
}

// RefreshMonitor tracks table refresh health and failures.
type RefreshMonitor struct {
	mu                sync.RWMutex
	staleAfter        time.Duration
	now               func() time.Time
	lastSuccess       time.Time
	lastAttempt       time.Time
	lastRows          int
	consecutiveErrors int
	lastError         string
	lastErrorKind     string
}

// NewRefreshMonitor creates a monitor that reports unhealthy once no refresh
// has succeeded for staleAfter.
func NewRefreshMonitor(staleAfter time.Duration) *RefreshMonitor {
	return &RefreshMonitor{staleAfter: staleAfter, now: time.Now}
}

// RecordSuccess records a successful refresh of rows reconciled rows.
func (m *RefreshMonitor) RecordSuccess(rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.lastSuccess = now
	m.lastAttempt = now
	m.lastRows = rows
	m.consecutiveErrors = 0
	m.lastError = ""
	m.lastErrorKind = ""
}

// RecordFailure records a failed refresh.
func (m *RefreshMonitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = m.now()
	m.consecutiveErrors++
	if err != nil {
		m.lastError = err.Error()
		m.lastErrorKind = Kind(err)
	}
}

// IsHealthy returns true if refreshes are working.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within staleAfter
//   - More than 3 consecutive failures
func (m *RefreshMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy()
}

func (m *RefreshMonitor) healthy() bool {
	if m.lastSuccess.IsZero() {
		return false
	}
	if m.staleAfter > 0 && m.now().Sub(m.lastSuccess) > m.staleAfter {
		return false
	}
	return m.consecutiveErrors <= maxConsecutiveErrors
}

// RefreshStatus is the refresh section of the health response.
type RefreshStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	Rows              int    `json:"rows"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	ErrorKind         string `json:"error_kind,omitempty"`
}

// Status returns current refresh status for health checks.
func (m *RefreshMonitor) Status() RefreshStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := RefreshStatus{
		Healthy: m.healthy(),
		Rows:    m.lastRows,
	}

	if !m.lastSuccess.IsZero() {
		status.LastSuccess = m.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = m.now().Sub(m.lastSuccess).Round(time.Second).String()
	}

	if !m.lastAttempt.IsZero() {
		status.LastAttempt = m.lastAttempt.Format(time.RFC3339)
	}

	if m.consecutiveErrors > 0 {
		status.ConsecutiveErrors = m.consecutiveErrors
		status.LastError = m.lastError
		status.ErrorKind = m.lastErrorKind
	}

	return status
}
