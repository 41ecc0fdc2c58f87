// Package peer implements the peer table: the set of compact-filter-capable
// peers the manager may pick a target from, with deterministic sampling and
// round-robin cycling for request distribution.
package peer

import "math/rand"

// Id is an opaque peer key, mirroring the manager's view of "some connected
// outbound peer that has negotiated COMPACT_FILTERS".
type Id string

// Record is what the manager keeps about a negotiated peer.
type Record struct {
	Height     uint32
	LastActive int64 // unix seconds
}

// Table is an ordered set of peer ids paired with their records. Ordering is
// insertion order, which keeps Cycle's round-robin stable and reproducible
// across runs for the same sequence of PeerNegotiated/PeerDisconnected calls.
type Table struct {
	order   []Id
	records map[Id]Record
	rng     *rand.Rand
	cycle   int
}

// New creates an empty peer table driven by the given deterministic source.
// The manager owns the RNG's seed so that sampling is reproducible in tests.
func New(rng *rand.Rand) *Table {
	return &Table{records: make(map[Id]Record), rng: rng}
}

// Insert adds or updates a peer record. Returns true if this is a new peer.
func (t *Table) Insert(id Id, rec Record) bool {
	_, exists := t.records[id]
	if !exists {
		t.order = append(t.order, id)
	}
	t.records[id] = rec
	return !exists
}

// Remove drops a peer from the table. Returns true if it was present.
func (t *Table) Remove(id Id) bool {
	if _, ok := t.records[id]; !ok {
		return false
	}
	delete(t.records, id)
	for i, pid := range t.order {
		if pid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	if t.cycle >= len(t.order) {
		t.cycle = 0
	}
	return true
}

// IsEmpty reports whether the table has no peers.
func (t *Table) IsEmpty() bool {
	return len(t.order) == 0
}

// Len returns the number of peers in the table.
func (t *Table) Len() int {
	return len(t.order)
}

// Get returns the record for id, if present.
func (t *Table) Get(id Id) (Record, bool) {
	rec, ok := t.records[id]
	return rec, ok
}

// Sample picks a peer uniformly at random using the table's RNG. Returns
// false if the table is empty.
func (t *Table) Sample() (Id, bool) {
	if len(t.order) == 0 {
		return "", false
	}
	return t.order[t.rng.Intn(len(t.order))], true
}

// Cycle returns the next peer in round-robin order, wrapping around. It
// advances an internal cursor on every call, so successive calls visit every
// peer before repeating. Returns false if the table is empty.
func (t *Table) Cycle() (Id, bool) {
	if len(t.order) == 0 {
		return "", false
	}
	id := t.order[t.cycle%len(t.order)]
	t.cycle++
	return id, true
}

// Ids returns a snapshot of peer ids in table order.
func (t *Table) Ids() []Id {
	out := make([]Id, len(t.order))
	copy(out, t.order)
	return out
}
