// Package metrics provides lightweight, lock-free counters for the
// runtime statistics of an authclient process: connections held by the
// session, bytes moved over them, authentication outcomes and teardown
// failures.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics.
// A nil Collector is safe to use — all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	loginsOK          atomic.Int64
	loginsFailed      atomic.Int64
	passwordChanges   atomic.Int64
	sessionsCleared   atomic.Int64
	closeFailures     atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastLogin    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the network.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the network.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Authentication metrics ───────────────────────────────────────────

// LoginSucceeded records an accepted login.
func (c *Collector) LoginSucceeded() {
	if c == nil {
		return
	}
	c.loginsOK.Add(1)
	c.mu.Lock()
	c.lastLogin = time.Now()
	c.mu.Unlock()
}

// LoginFailed records a rejected or aborted login.
func (c *Collector) LoginFailed() {
	if c == nil {
		return
	}
	c.loginsFailed.Add(1)
}

// PasswordChanged records an accepted password change.
func (c *Collector) PasswordChanged() {
	if c == nil {
		return
	}
	c.passwordChanges.Add(1)
}

// Logins returns the accepted and failed login counts.
func (c *Collector) Logins() (ok, failed int64) {
	if c == nil {
		return 0, 0
	}
	return c.loginsOK.Load(), c.loginsFailed.Load()
}

// PasswordChanges returns the accepted password change count.
func (c *Collector) PasswordChanges() int64 {
	if c == nil {
		return 0
	}
	return c.passwordChanges.Load()
}

// ── Teardown metrics ─────────────────────────────────────────────────

// SessionCleared records one session teardown and the number of
// resources that failed to close during it.
func (c *Collector) SessionCleared(failures int) {
	if c == nil {
		return
	}
	c.sessionsCleared.Add(1)
	c.closeFailures.Add(int64(failures))
}

// SessionsCleared returns the number of teardowns performed.
func (c *Collector) SessionsCleared() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsCleared.Load()
}

// CloseFailures returns the total resources that failed to close.
func (c *Collector) CloseFailures() int64 {
	if c == nil {
		return 0
	}
	return c.closeFailures.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	LoginsOK          int64  `json:"logins_ok"`
	LoginsFailed      int64  `json:"logins_failed"`
	PasswordChanges   int64  `json:"password_changes"`
	SessionsCleared   int64  `json:"sessions_cleared"`
	CloseFailures     int64  `json:"close_failures"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastLogin         string `json:"last_login,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		LoginsOK:          c.loginsOK.Load(),
		LoginsFailed:      c.loginsFailed.Load(),
		PasswordChanges:   c.passwordChanges.Load(),
		SessionsCleared:   c.sessionsCleared.Load(),
		CloseFailures:     c.closeFailures.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastLogin.IsZero() {
		s.LastLogin = c.lastLogin.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
