// Package logstore persists the per-room append-only record logs. A
// record's index is its position in the room's sequence; indices are
// assigned at append time and never change. Rooms are created lazily on
// first append, and a room that has never been appended reads as empty.
package logstore

import "encoding/json"

// Record is one durable log entry. Data is the application payload and is
// stored untouched.
type Record struct {
	ServerTime int64           `json:"server_time"`
	ClientTime int64           `json:"client_time"`
	Name       string          `json:"name"`
	Data       json.RawMessage `json:"data"`
}

// Store is a durable, per-room, append-only record sequence.
//
// Append must be atomic with respect to Read: a reader never observes a
// partial trailing record, and once Append has returned the record is
// visible to every subsequent Read. Callers serialize Append per room;
// stores only need to keep concurrent appends to different rooms safe.
type Store interface {
	// Append durably adds rec to the room's log and returns its index.
	Append(room string, rec Record) (int, error)
	// Read returns every record at or after from, in index order.
	// A negative from reads from the beginning.
	Read(room string, from int) ([]Record, error)
	// Close releases held handles. The store is unusable afterwards.
	Close() error
}
