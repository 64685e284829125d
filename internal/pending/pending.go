// Package pending implements the hash-keyed table of outstanding,
// unacknowledged sends shared by the Acknowledgement and
// DynamicAcknowledgement modules. An entry is created when a module
// frames a new outbound message and destroyed when a matching
// acknowledgement arrives.
package pending

import (
	"sync"
	"time"
)

// Hash is the SHA-1 digest of an original user payload, used as the
// table's key.
type Hash = [20]byte

// Entry tracks one outstanding message. SendTimes[0] is the original
// send; SendTimes[i] for i>0 is the timestamp of the i-th
// retransmission. The fixed-timeout Acknowledgement module only ever
// touches index 0 in place; the adaptive module appends.
type Entry struct {
	mu        sync.Mutex
	Payload   []byte
	Frame     []byte // framed bytes of the original (unretransmitted) send
	Iteration uint8
	SendTimes []time.Time
}

// LastSent returns the timestamp of the most recent send attempt.
func (e *Entry) LastSent() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.SendTimes[len(e.SendTimes)-1]
}

// TimeAt returns the send timestamp of a specific attempt number, as
// recorded when that attempt was sent. Used by the adaptive module to
// disambiguate which attempt an incoming acknowledgement addresses.
func (e *Entry) TimeAt(iteration uint8) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if int(iteration) >= len(e.SendTimes) {
		return time.Time{}, false
	}
	return e.SendTimes[iteration], true
}

// Table is the thread-safe hash-keyed pending set. A coarse mutex
// guards the map itself; Snapshot returns a point-in-time copy so a
// background timer can iterate without holding the table lock.
type Table struct {
	mu      sync.Mutex
	entries map[Hash]*Entry
}

// NewTable constructs an empty pending table.
func NewTable() *Table {
	return &Table{entries: make(map[Hash]*Entry)}
}

// Put records a newly framed outbound message. At most one entry may
// exist per hash value at a time; a collision silently replaces the
// prior entry, which is the behavior spec'd for hash collisions at
// SHA-1 strength.
func (t *Table) Put(hash Hash, payload, frame []byte, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[hash] = &Entry{
		Payload:   payload,
		Frame:     frame,
		SendTimes: []time.Time{now},
	}
}

// Remove deletes and returns the entry for hash, if one exists. Used
// when a matching acknowledgement arrives; unmatched acknowledgements
// are a no-op because ok is false.
func (t *Table) Remove(hash Hash) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[hash]
	if ok {
		delete(t.entries, hash)
	}
	return e, ok
}

// Touch resets an entry's last-sent timestamp in place, without
// advancing its iteration. Used by the fixed-timeout Acknowledgement
// module, which always re-emits the identical original frame.
func (t *Table) Touch(hash Hash, now time.Time) {
	t.mu.Lock()
	e, ok := t.entries[hash]
	t.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.SendTimes[len(e.SendTimes)-1] = now
	e.mu.Unlock()
}

// Retransmit advances an entry to its next iteration and records the
// retransmission time, returning the new iteration number and the
// original payload so the caller can frame a Resend. Used by the
// adaptive module, where each retransmission is tagged with a distinct
// iteration for RTT disambiguation.
func (t *Table) Retransmit(hash Hash, now time.Time) (iteration uint8, payload []byte, ok bool) {
	t.mu.Lock()
	e, exists := t.entries[hash]
	t.mu.Unlock()
	if !exists {
		return 0, nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Iteration++
	e.SendTimes = append(e.SendTimes, now)
	return e.Iteration, e.Payload, true
}

// Snapshot returns a shallow, point-in-time copy of the table suitable
// for safe iteration by a background timer.
func (t *Table) Snapshot() map[Hash]*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Hash]*Entry, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Len reports the number of outstanding entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
