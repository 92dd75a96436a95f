// Package client implements the calling side of a channel: the correlation
// table that maps outstanding transmit ids to their envelopes, and the
// completer that resolves a caller's envelope when its response arrives.
//
//	goroutine-1 ──Call(id=1)──┐
//	goroutine-2 ──Call(id=2)──┼──→ sessions ──→ peer
//	goroutine-3 ──Call(id=3)──┘
//
//	recv loop: ←── response(id=2) → Table.Remove(2) → envelope 2 resolves → goroutine-2 wakes up
package client

import (
	"errors"
	"sync"

	"maid/message"
)

// DefaultMaxScan bounds how many occupied ids Register skips before giving up.
const DefaultMaxScan = 1 << 16

// ErrTableSaturated is returned by Register when no free id was found within
// the scan bound.
var ErrTableSaturated = errors.New("client: correlation table saturated")

// Table maps outstanding transmit ids to envelopes. One table serves every
// session of a channel, so ids come from a single counter.
type Table struct {
	mu      sync.Mutex
	pending map[uint64]*message.Controller
	last    uint64 // last id handed out
	maxScan int
}

// NewTable returns an empty table. maxScan <= 0 selects DefaultMaxScan.
func NewTable(maxScan int) *Table {
	if maxScan <= 0 {
		maxScan = DefaultMaxScan
	}
	return &Table{
		pending: make(map[uint64]*message.Controller),
		maxScan: maxScan,
	}
}

// Register assigns ctl a fresh transmit id and stores it. The counter wraps
// from message.MaxTransmitID to 0 and skips ids still in the table, so an id
// is reused only after its previous owner was removed.
func (t *Table) Register(ctl *message.Controller) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.last
	for i := 0; i < t.maxScan; i++ {
		if id >= message.MaxTransmitID {
			id = 0
		} else {
			id++
		}
		if _, busy := t.pending[id]; busy {
			continue
		}
		t.last = id
		ctl.Meta.TransmitID = id
		t.pending[id] = ctl
		return id, nil
	}
	return 0, ErrTableSaturated
}

// Resume moves the id counter so the next Register starts scanning after
// last, e.g. to continue a sequence persisted by an earlier table.
func (t *Table) Resume(last uint64) {
	t.mu.Lock()
	t.last = last
	t.mu.Unlock()
}

// Remove deletes and returns the envelope registered under id, or nil.
func (t *Table) Remove(id uint64) *message.Controller {
	t.mu.Lock()
	defer t.mu.Unlock()
	ctl, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)
	return ctl
}

// RemoveIf deletes the entry for id only if it still belongs to ctl.
func (t *Table) RemoveIf(id uint64, ctl *message.Controller) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending[id] != ctl {
		return false
	}
	delete(t.pending, id)
	return true
}

// Len returns the number of outstanding calls.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// FailSession removes every entry bound to ep and fails it with reason.
// It returns the number of calls failed.
func (t *Table) FailSession(ep message.Endpoint, reason string) int {
	return t.failWhere(reason, func(ctl *message.Controller) bool {
		return ctl.Session == ep
	})
}

// FailAll removes and fails every outstanding call.
func (t *Table) FailAll(reason string) int {
	return t.failWhere(reason, func(*message.Controller) bool { return true })
}

func (t *Table) failWhere(reason string, match func(*message.Controller) bool) int {
	t.mu.Lock()
	var victims []*message.Controller
	for id, ctl := range t.pending {
		if match(ctl) {
			victims = append(victims, ctl)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()

	// Resolve outside the lock: resolution hooks may call back into the table.
	for _, ctl := range victims {
		ctl.Fail(reason)
	}
	return len(victims)
}
