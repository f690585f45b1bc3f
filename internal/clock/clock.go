// Package clock maintains the client's estimate of the server clock.
// Samples are taken by timing a request/response round trip; the offset is
// only replaced when a sample with a strictly lower round trip arrives,
// biasing the estimate toward the least asymmetric-delay error observed.
package clock

import (
	"errors"
	"sync"
	"time"
)

// ErrNotSynced is returned by ServerTime before the first sample arrives.
var ErrNotSynced = errors.New("clock: no sync sample received yet")

// Estimate is the connection-wide clock state. There is one Estimate per
// connection, not per room; it is safe for concurrent use.
type Estimate struct {
	mu      sync.Mutex
	offset  int64
	bestRTT time.Duration
	lastRTT time.Duration
	synced  bool
}

// NewEstimate returns an unsynced estimate.
func NewEstimate() *Estimate {
	return &Estimate{}
}

// Observe records one completed round trip. sentAt and receivedAt are
// local clock milliseconds; serverTime is the server's reported clock.
// It reports whether this was the first sample.
func (e *Estimate) Observe(sentAt, receivedAt, serverTime int64) bool {
	rtt := time.Duration(receivedAt-sentAt) * time.Millisecond
	if rtt < 0 {
		rtt = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastRTT = rtt
	if !e.synced || rtt < e.bestRTT {
		// Midpoint of the round trip approximates the moment the server
		// read its clock.
		localMid := (sentAt + receivedAt) / 2
		e.offset = serverTime - localMid
		e.bestRTT = rtt
	}

	first := !e.synced
	e.synced = true
	return first
}

// ServerTime translates a local clock reading (milliseconds) into server
// time. Fails with ErrNotSynced until Observe has been called once.
func (e *Estimate) ServerTime(localNow int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.synced {
		return 0, ErrNotSynced
	}
	return localNow + e.offset, nil
}

// Offset returns the current offset estimate in milliseconds.
func (e *Estimate) Offset() (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.synced {
		return 0, ErrNotSynced
	}
	return e.offset, nil
}

// Ping returns the most recent round trip, not necessarily the best one.
// Zero before the first sample.
func (e *Estimate) Ping() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRTT
}

// BestRTT returns the lowest round trip seen so far. Zero before the
// first sample.
func (e *Estimate) BestRTT() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bestRTT
}

// Synced reports whether at least one sample has arrived.
func (e *Estimate) Synced() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.synced
}
