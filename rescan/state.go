// Package rescan holds the pure data container the manager mutates while
// walking the filter chain looking for watched scripts and transactions.
package rescan

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/btree"
	mapset "github.com/deckarep/golang-set"
)

// Height mirrors filter.Height without importing the filter package, keeping
// rescan free of a dependency on the store/cache layer.
type Height = uint32

// Bound is a generic inclusive/exclusive/unbounded range endpoint, mirroring
// the std::ops::Bound shape the manager's rescan command is specified
// against.
type Bound struct {
	kind  boundKind
	value Height
}

type boundKind int

const (
	unbounded boundKind = iota
	included
	excluded
)

// Unbounded returns an open-ended bound.
func Unbounded() Bound { return Bound{kind: unbounded} }

// Included returns a bound inclusive of h.
func Included(h Height) Bound { return Bound{kind: included, value: h} }

// Excluded returns a bound exclusive of h.
func Excluded(h Height) Bound { return Bound{kind: excluded, value: h} }

// Received pairs a decoded filter with the block it belongs to, pending
// in-order processing by the manager.
type Received struct {
	Filter    []byte // encoded BIP 158 filter bytes
	BlockHash chainhash.Hash
}

// heightItem adapts Height to btree.Item.
type heightItem Height

func (a heightItem) Less(b btree.Item) bool {
	return a < b.(heightItem)
}

// State is the rescan state the manager drives. It holds no logic of its
// own beyond the bookkeeping described by the watch/requested/received
// invariants; matching against filters happens in the manager.
type State struct {
	Active bool
	Start  *Height
	End    *Height
	Current Height

	Watch        mapset.Set                      // set of output scripts, as strings
	Transactions map[chainhash.Hash]mapset.Set    // txid -> set of output scripts

	requested *btree.BTree // ordered set of Height, not yet processed
	Received  map[Height]Received
}

// New returns an inactive, empty rescan state.
func New() *State {
	return &State{
		Watch:        mapset.NewSet(),
		Transactions: make(map[chainhash.Hash]mapset.Set),
		requested:    btree.New(32),
		Received:     make(map[Height]Received),
	}
}

// WatchScript adds a script to the watchlist. Returns true if it was newly added.
func (s *State) WatchScript(script string) bool {
	if s.Watch.Contains(script) {
		return false
	}
	s.Watch.Add(script)
	return true
}

// WatchTransactions records the output scripts of each transaction, keyed by
// txid, so a match requires every one of its outputs to appear in a filter.
func (s *State) WatchTransactions(txs map[chainhash.Hash][]string) {
	for txid, scripts := range txs {
		set := mapset.NewSet()
		for _, sc := range scripts {
			set.Add(sc)
		}
		s.Transactions[txid] = set
	}
}

// UnwatchTransaction removes a txid from the watched-transaction set.
// Returns true if it was present.
func (s *State) UnwatchTransaction(txid chainhash.Hash) bool {
	if _, ok := s.Transactions[txid]; !ok {
		return false
	}
	delete(s.Transactions, txid)
	return true
}

// SetRange resets the scan window per the start/end bounds and seeds
// `current`. currentDefault is used when start is unbounded (typically the
// block tree's height + 1).
func (s *State) SetRange(start, end Bound, currentDefault Height) {
	s.Start = resolveStart(start)
	s.End = resolveEnd(end)
	if s.Start != nil {
		s.Current = *s.Start
	} else {
		s.Current = currentDefault
	}
	s.Watch = mapset.NewSet()
	s.Transactions = make(map[chainhash.Hash]mapset.Set)
	s.requested = btree.New(32)
	s.Received = make(map[Height]Received)
}

func resolveStart(b Bound) *Height {
	switch b.kind {
	case included:
		v := b.value
		return &v
	case excluded:
		v := b.value + 1
		return &v
	default:
		return nil
	}
}

func resolveEnd(b Bound) *Height {
	switch b.kind {
	case included:
		v := b.value
		return &v
	case excluded:
		v := b.value - 1
		return &v
	default:
		return nil
	}
}

// Request marks heights as requested (awaiting a cfilter response).
func (s *State) Request(heights ...Height) {
	for _, h := range heights {
		s.requested.ReplaceOrInsert(heightItem(h))
	}
}

// RemoveRequested drops h from the requested set. Returns true if it was
// present, i.e. the arriving cfilter was actually solicited for a rescan.
func (s *State) RemoveRequested(h Height) bool {
	item := s.requested.Delete(heightItem(h))
	return item != nil
}

// IsRequested reports whether h is outstanding.
func (s *State) IsRequested(h Height) bool {
	return s.requested.Get(heightItem(h)) != nil
}
