// Package cbf implements the compact block filter manager: a synchronous,
// I/O-free state machine that drives BIP 157/158 filter-header sync,
// filter-based rescans, and in-order filter matching. It consumes peer
// messages and timer ticks and produces outbound messages and events as
// plain values; it does not perform any network I/O itself.
package cbf

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btccbf/cbfd/filter"
	"github.com/btccbf/cbfd/peer"
)

// IdleTimeout is how long the manager waits between forced syncs.
const IdleTimeout = 10 * time.Minute

// MaxMessageCFHeaders is the largest filter-hash count a single cfheaders
// message may carry.
const MaxMessageCFHeaders = 2000

// MaxMessageCFilters is the largest height range a single getcfilters batch
// may span.
const MaxMessageCFilters = 1000

// RequiredServices is the service bit a peer must advertise before it is
// eligible for filter sync requests.
const RequiredServices = wire.SFNodeCF

// Link describes the direction of a peer connection.
type Link int

const (
	Inbound Link = iota
	Outbound
)

// PeerId is the manager's peer key, reusing the peer table's type.
type PeerId = peer.Id

// Event is an observable effect the manager wants recorded: a log line, a
// metric tick, or a signal for a rescan consumer waiting on completion.
type Event struct {
	Kind Kind

	Peer        PeerId
	Filter      []byte
	Height      filter.Height
	BlockHash   chainhash.Hash
	StartHeight filter.Height
	StopHash    chainhash.Hash
	Matched     bool
	Reason      string
}

// Kind enumerates the Event variants.
type Kind int

const (
	EventSyncing Kind = iota
	EventSynced
	EventFilterHeadersImported
	EventFilterReceived
	EventFilterProcessed
	EventRescanCompleted
	EventRequestCanceled
	EventTimedOut
	EventRollbackDetected
)

func (e Event) String() string {
	switch e.Kind {
	case EventSyncing:
		return "syncing filter headers with " + string(e.Peer)
	case EventSynced:
		return "filter headers synced"
	case EventFilterHeadersImported:
		return "filter headers imported"
	case EventFilterReceived:
		return "filter received from " + string(e.Peer)
	case EventFilterProcessed:
		return "filter processed"
	case EventRescanCompleted:
		return "rescan completed"
	case EventRequestCanceled:
		return "request canceled: " + e.Reason
	case EventTimedOut:
		return "peer " + string(e.Peer) + " timed out"
	case EventRollbackDetected:
		return "rollback detected"
	default:
		return "unknown event"
	}
}

// Error is returned by the message-handling operations below. Ignored and
// InvalidMessage carry a reason; Filters wraps a lower-layer store error.
type Error struct {
	Kind    ErrorKind
	From    PeerId
	Msg     string
	Reason  string
	Wrapped error
}

type ErrorKind int

const (
	ErrIgnored ErrorKind = iota
	ErrInvalidMessage
	ErrFilters
)

func (e *Error) Error() string {
	switch e.Kind {
	case ErrIgnored:
		return "ignoring `" + e.Msg + "` message from " + string(e.From)
	case ErrInvalidMessage:
		return "invalid message received from " + string(e.From) + ": " + e.Reason
	case ErrFilters:
		return "filters error: " + e.Wrapped.Error()
	default:
		return "cbf: unknown error"
	}
}

func (e *Error) Unwrap() error { return e.Wrapped }

func ignored(from PeerId, msg string) error {
	return &Error{Kind: ErrIgnored, From: from, Msg: msg}
}

func invalidMessage(from PeerId, reason string) error {
	return &Error{Kind: ErrInvalidMessage, From: from, Reason: reason}
}

func filtersError(err error) error {
	return &Error{Kind: ErrFilters, Wrapped: err}
}

// GetFiltersError is returned by GetCFilters.
type GetFiltersError struct {
	Reason string
}

func (e *GetFiltersError) Error() string { return e.Reason }

var errInvalidRange = &GetFiltersError{Reason: "the specified range is invalid"}
var errNotConnected = &GetFiltersError{Reason: "not connected to any peer with compact filters support"}

// errRescanActive is returned by Rescan when one is already in progress.
type errRescanActive struct{}

func (errRescanActive) Error() string { return "rescan already active" }

// SyncFilters is the outbound channel for compact-filter wire messages.
type SyncFilters interface {
	GetCFHeaders(addr PeerId, startHeight filter.Height, stopHash chainhash.Hash, timeout time.Duration)
	GetCFilters(addr PeerId, startHeight filter.Height, stopHash chainhash.Hash, timeout time.Duration)
	SendCFHeaders(addr PeerId, msg *wire.MsgCFHeaders)
	SendCFilter(addr PeerId, msg *wire.MsgCFilter)
}

// Events receives manager-emitted events.
type Events interface {
	Event(Event)
}

// SetTimeout lets the manager (re)arm its idle timer.
type SetTimeout interface {
	SetTimeout(time.Duration)
}

// Upstream bundles everything the manager needs from its embedder.
type Upstream interface {
	SyncFilters
	Events
	SetTimeout
}

// Config configures a Manager.
type Config struct {
	RequestTimeout time.Duration
}

// DefaultConfig returns the manager's default configuration.
func DefaultConfig() Config {
	return Config{RequestTimeout: 30 * time.Second}
}
