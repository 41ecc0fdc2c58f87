// Package client provides a narrow, channel-based facade over a cbf.Manager
// for callers that want to drive filter sync and rescans without reaching
// into the manager's synchronous API directly.
package client

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btccbf/cbfd/blocktree"
	"github.com/btccbf/cbfd/cbf"
	"github.com/btccbf/cbfd/filter"
	"github.com/btccbf/cbfd/rescan"
)

// Errors reported by the client package. ErrTimeout is returned by
// WaitForEvent and WaitForSynced; no Handle method returns ErrDisconnected.
var (
	ErrDisconnected = errors.New("client: command channel disconnected")
	ErrTimeout      = errors.New("client: operation timed out")
)

// FilterMatch is delivered on Filters() for every block whose filter the
// manager matched against the active rescan's watchlist.
type FilterMatch struct {
	BlockHash chainhash.Hash
	Height    filter.Height
}

// Handle is the external, channel-based control surface for a running
// manager. It forwards commands and fans events out to subscribers. It adds
// no locking: its command methods call the manager directly, so they must
// not run concurrently with each other or with other calls into the
// manager.
type Handle struct {
	mgr  *cbf.Manager
	tree blocktree.Tree

	events  chan cbf.Event
	matches chan FilterMatch
}

// New wraps a manager and block tree in a Handle. events/matches are
// buffered so a slow subscriber doesn't block manager progress; once a
// buffer is full, further events or matches are dropped, not queued.
func New(mgr *cbf.Manager, tree blocktree.Tree, eventBuffer, matchBuffer int) *Handle {
	return &Handle{
		mgr:     mgr,
		tree:    tree,
		events:  make(chan cbf.Event, eventBuffer),
		matches: make(chan FilterMatch, matchBuffer),
	}
}

// Events returns the channel events are published on. The caller is
// responsible for draining it promptly, since Handle itself does not run a
// background dispatch loop; it only publishes from within the method that
// caused the event.
func (h *Handle) Events() <-chan cbf.Event {
	return h.events
}

// Filters returns the channel matched blocks are published on during an
// active rescan.
func (h *Handle) Filters() <-chan FilterMatch {
	return h.matches
}

// Publish has the shape of cbf.Events' Event method; a concrete upstream
// type delegates its Event method to it. Every event is forwarded to
// Events(), and a matched FilterProcessed additionally publishes a
// FilterMatch on Filters(); either is dropped if its channel's buffer is
// full.
func (h *Handle) Publish(ev cbf.Event) {
	select {
	case h.events <- ev:
	default:
	}

	if ev.Kind == cbf.EventFilterProcessed && ev.Matched {
		select {
		case h.matches <- FilterMatch{BlockHash: ev.BlockHash, Height: ev.Height}:
		default:
		}
	}
}

// GetFilters requests compact filters for the given inclusive height range.
func (h *Handle) GetFilters(start, end filter.Height) error {
	return h.mgr.GetCFilters(start, end, h.tree)
}

// Rescan starts a rescan between the start and end bounds (each included,
// excluded or unbounded) for the given watch scripts.
func (h *Handle) Rescan(start, end rescan.Bound, watch []string) error {
	return h.mgr.Rescan(start, end, watch, h.tree)
}

// Rollback forwards to the manager's filter-header rollback.
func (h *Handle) Rollback(n uint32) error {
	return h.mgr.Rollback(n)
}

// WaitForEvent blocks until f reports true for some received event,
// returning f's value for it, or until the timeout elapses.
func WaitForEvent[T any](h *Handle, timeout time.Duration, f func(cbf.Event) (T, bool)) (T, error) {
	deadline := time.After(timeout)
	var zero T
	for {
		select {
		case ev := <-h.events:
			if v, ok := f(ev); ok {
				return v, nil
			}
		case <-deadline:
			return zero, ErrTimeout
		}
	}
}

// WaitForSynced blocks until a Synced event at or above height arrives.
func (h *Handle) WaitForSynced(height filter.Height, timeout time.Duration) error {
	_, err := WaitForEvent(h, timeout, func(ev cbf.Event) (struct{}, bool) {
		if ev.Kind == cbf.EventSynced && ev.Height >= height {
			return struct{}{}, true
		}
		return struct{}{}, false
	})
	return err
}
