package cbf

import (
	"math/rand"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btccbf/cbfd/blocktree"
	"github.com/btccbf/cbfd/filter"
	"github.com/btccbf/cbfd/peer"
	"github.com/btccbf/cbfd/rescan"
)

// Filters is the subset of *filter.Cache the manager depends on. It is
// expressed as an interface, rather than importing the concrete cache
// type directly, so a test double can stand in for the real store.
type Filters interface {
	Tip() filter.StoredHeader
	Height() filter.Height
	GetHeader(h filter.Height) (filter.StoredHeader, bool)
	GetHeaders(start, end filter.Height) []filter.StoredHeader
	GetPrevHeader(h filter.Height) (chainhash.Hash, bool)
	ImportHeaders(records []filter.StoredHeader) (filter.Height, error)
	Rollback(n uint32) error
}

// Manager is the compact block filter manager. It holds no goroutines,
// channels, or locks: every method call runs to completion synchronously
// and any side effect leaves the manager through Upstream.
type Manager struct {
	config   Config
	filters  Filters
	upstream Upstream
	peers    *peer.Table
	rescan   *rescan.State

	lastIdle time.Time
	inflight map[chainhash.Hash]time.Time

	rng *rand.Rand
}

// New creates a manager over the given filter cache and upstream channel.
// seed makes peer sampling and cycling reproducible across runs.
func New(config Config, seed int64, filters Filters, upstream Upstream) *Manager {
	rng := rand.New(rand.NewSource(seed))
	return &Manager{
		config:   config,
		filters:  filters,
		upstream: upstream,
		peers:    peer.New(rng),
		rescan:   rescan.New(),
		inflight: make(map[chainhash.Hash]time.Time),
		rng:      rng,
	}
}

// Initialize arms the idle timer. It should only be called once.
func (m *Manager) Initialize(now time.Time) {
	m.upstream.SetTimeout(IdleTimeout)
}

// Tick runs periodic maintenance: if the idle timeout has elapsed, it
// re-syncs the filter-header chain and clears the inflight table, which is
// an implicit timeout of every outstanding header request.
func (m *Manager) Tick(now time.Time, tree blocktree.Tree) {
	if m.lastIdle.IsZero() || now.Sub(m.lastIdle) >= IdleTimeout {
		m.sync(tree, now)
		m.lastIdle = now
		m.upstream.SetTimeout(IdleTimeout)
		m.inflight = make(map[chainhash.Hash]time.Time)
	}
}

// PeerNegotiated records a newly negotiated peer, if it qualifies (outbound
// and advertising the required services), and kicks off a sync attempt.
func (m *Manager) PeerNegotiated(id PeerId, height filter.Height, services wire.ServiceFlag, link Link, now time.Time, tree blocktree.Tree) {
	if link != Outbound {
		return
	}
	if services&RequiredServices == 0 {
		return
	}
	m.peers.Insert(id, peer.Record{Height: height, LastActive: now.Unix()})
	m.sync(tree, now)
}

// PeerDisconnected removes a peer from the table.
func (m *Manager) PeerDisconnected(id PeerId) {
	m.peers.Remove(id)
}

// Rollback forwards to the filter cache.
func (m *Manager) Rollback(n uint32) error {
	return m.filters.Rollback(n)
}

// Watch adds a script to the rescan watchlist.
func (m *Manager) Watch(script string) bool {
	return m.rescan.WatchScript(script)
}

// WatchTransactions records outputs to watch for, by txid.
func (m *Manager) WatchTransactions(txs map[chainhash.Hash][]string) {
	m.rescan.WatchTransactions(txs)
}

// UnwatchTransaction drops a txid from the watched set.
func (m *Manager) UnwatchTransaction(txid chainhash.Hash) bool {
	return m.rescan.UnwatchTransaction(txid)
}

// Rescan starts a new rescan over the given bounds, refusing to do so if one
// is already active. The initial request may be empty if the filter-header
// chain has not caught up to the block-header chain yet; in that case
// filters are requested as headers arrive, via headersImported.
func (m *Manager) Rescan(start, end rescan.Bound, watch []string, tree blocktree.Tree) error {
	if m.rescan.Active {
		return errRescanActive{}
	}
	m.rescan.Active = true
	m.rescan.SetRange(start, end, tree.Height()+1)
	for _, s := range watch {
		m.rescan.WatchScript(s)
	}

	height := m.filters.Height()
	if m.rescan.Current > height {
		return nil
	}
	return m.GetCFilters(m.rescan.Current, height, tree)
}

// GetCFilters requests filters over the inclusive height range [start, end]
// from the peer table, splitting it into batches of at most
// MaxMessageCFilters and distributing them round-robin across peers.
func (m *Manager) GetCFilters(start, end filter.Height, tree blocktree.Tree) error {
	if start > end {
		return nil
	}
	if m.peers.IsEmpty() {
		return errNotConnected
	}

	it := heightIterator{start: start, stop: end, step: MaxMessageCFilters}
	for {
		r, ok := it.next()
		if !ok {
			break
		}
		peerId, ok := m.peers.Cycle()
		if !ok {
			break
		}
		hash, ok := tree.HashAt(r.end)
		if !ok {
			return errInvalidRange
		}
		m.upstream.GetCFilters(peerId, r.start, hash, m.config.RequestTimeout)
	}

	if m.rescan.Active {
		for h := start; h <= end; h++ {
			m.rescan.Request(h)
		}
	}
	return nil
}

// ReceivedCFHeaders validates and applies an incoming cfheaders message.
// A solicited message consumes its inflight entry before validation; apart
// from that, every rejection path leaves manager state unchanged.
func (m *Manager) ReceivedCFHeaders(from PeerId, msg *wire.MsgCFHeaders, tree blocktree.Tree, now time.Time) (filter.Height, error) {
	stopHash := msg.StopHash

	if _, ok := m.inflight[stopHash]; !ok {
		return 0, ignored(from, "cfheaders: unsolicited message")
	}
	delete(m.inflight, stopHash)

	if msg.FilterType != wire.GCSFilterRegular {
		return 0, invalidMessage(from, "cfheaders: invalid filter type")
	}

	prev := msg.PrevFilterHeader
	tip := m.filters.Tip().Header
	if tip != prev {
		// Stale message for an already-advanced chain.
		return m.filters.Height(), nil
	}

	startHeight := m.filters.Height()
	stopHeight, ok := tree.BlockHeight(stopHash)
	if !ok {
		return 0, invalidMessage(from, "cfheaders: unknown stop hash")
	}

	count := filter.Height(len(msg.FilterHashes))
	if startHeight > stopHeight {
		return 0, invalidMessage(from, "cfheaders: start height is greater than stop height")
	}
	if count > MaxMessageCFHeaders {
		return 0, invalidMessage(from, "cfheaders: header count exceeds maximum")
	}
	if count == 0 {
		return 0, invalidMessage(from, "cfheaders: empty header list")
	}
	if stopHeight-startHeight != count {
		return 0, invalidMessage(from, "cfheaders: header count does not match height range")
	}

	last := prev
	records := make([]filter.StoredHeader, 0, count)
	for _, h := range msg.FilterHashes {
		last = chainedHeader(*h, last)
		records = append(records, filter.StoredHeader{Hash: *h, Header: last})
	}

	height, err := m.filters.ImportHeaders(records)
	if err != nil {
		return 0, filtersError(err)
	}

	m.upstream.Event(Event{Kind: EventFilterHeadersImported, Height: height, BlockHash: stopHash})

	if err := m.headersImported(startHeight, height, tree); err != nil {
		return 0, filtersError(err)
	}

	if height == tree.Height() {
		m.upstream.Event(Event{Kind: EventSynced, Height: height})
	} else {
		m.sync(tree, now)
	}
	return height, nil
}

// ReceivedGetCFHeaders serves a peer's cfheaders request out of our own
// cache, if we have both the referenced block and the filter headers over
// its range.
func (m *Manager) ReceivedGetCFHeaders(from PeerId, msg *wire.MsgGetCFHeaders, tree blocktree.Tree) error {
	if msg.FilterType != wire.GCSFilterRegular {
		return invalidMessage(from, "getcfheaders: invalid filter type")
	}

	startHeight := filter.Height(msg.StartHeight)
	stopHeight, ok := tree.BlockHeight(msg.StopHash)
	if !ok {
		return ignored(from, "getcfheaders")
	}

	headers := m.filters.GetHeaders(startHeight, stopHeight+1)
	if len(headers) == 0 {
		return ignored(from, "getcfheaders")
	}

	prev, ok := m.filters.GetPrevHeader(startHeight)
	if !ok {
		return filtersError(filter.ErrIntegrity)
	}

	hashes := make([]*chainhash.Hash, len(headers))
	for i, h := range headers {
		hash := h.Hash
		hashes[i] = &hash
	}

	m.upstream.SendCFHeaders(from, &wire.MsgCFHeaders{
		FilterType:       msg.FilterType,
		StopHash:         msg.StopHash,
		PrevFilterHeader: prev,
		FilterHashes:     hashes,
	})
	return nil
}

// ReceivedCFilter validates an incoming filter against the committed
// header chain, and, if a rescan is waiting on it, feeds it to process.
func (m *Manager) ReceivedCFilter(from PeerId, msg *wire.MsgCFilter, tree blocktree.Tree) ([]chainhash.Hash, error) {
	if msg.FilterType != wire.GCSFilterRegular {
		return nil, ignored(from, "cfilter")
	}

	height, ok := tree.BlockHeight(msg.BlockHash)
	if !ok {
		return nil, ignored(from, "cfilter")
	}

	stored, ok := m.filters.GetHeader(height)
	if !ok {
		return nil, ignored(from, "cfilter")
	}

	prev, ok := m.filters.GetPrevHeader(height)
	if !ok {
		return nil, filtersError(filter.ErrIntegrity)
	}

	bf, err := filter.NewBlockFilter(msg.Data)
	if err != nil {
		return nil, filtersError(err)
	}

	header, err := bf.FilterHeader(prev)
	if err != nil {
		return nil, filtersError(err)
	}
	if header != stored.Header {
		return nil, invalidMessage(from, "cfilter: filter hash doesn't match header")
	}

	m.upstream.Event(Event{Kind: EventFilterReceived, Peer: from, Filter: msg.Data, Height: height, BlockHash: msg.BlockHash})

	if m.rescan.Active && m.rescan.RemoveRequested(height) {
		m.rescan.Received[height] = rescan.Received{Filter: msg.Data, BlockHash: msg.BlockHash}
		return m.process()
	}
	return nil, nil
}

// sync compares the filter-header chain height to the block-header chain
// height and requests the difference, if any. A filter chain taller than
// the block chain is a fatal invariant violation: callers must roll the
// filter chain back before rewinding block headers.
func (m *Manager) sync(tree blocktree.Tree, now time.Time) {
	filterHeight := m.filters.Height()
	blockHeight := tree.Height()

	if filterHeight < blockHeight {
		start := filterHeight + 1
		stop := blockHeight + 1
		if peerId, startHeight, stopHash, ok := m.sendGetCFHeaders(start, stop, tree, now); ok {
			m.upstream.Event(Event{Kind: EventSyncing, Peer: peerId, StartHeight: startHeight, StopHash: stopHash})
		}
	} else if filterHeight > blockHeight {
		panic("cbf: filter chain is longer than header chain")
	}
}

// sendGetCFHeaders requests cfheaders over the half-open range [start,
// stop). Returns false if no request was sent, whether because the range
// was empty, the request was already inflight, or no peer was available.
func (m *Manager) sendGetCFHeaders(start, stop filter.Height, tree blocktree.Tree, now time.Time) (PeerId, filter.Height, chainhash.Hash, bool) {
	if start >= stop {
		return "", 0, chainhash.Hash{}, false
	}
	count := stop - start

	var stopHash chainhash.Hash
	if count > MaxMessageCFHeaders {
		stopHeight := start + MaxMessageCFHeaders - 1
		h, ok := tree.HashAt(stopHeight)
		if !ok {
			return "", 0, chainhash.Hash{}, false
		}
		stopHash = h
	} else {
		stopHash = tree.Tip()
	}

	if _, ok := m.inflight[stopHash]; ok {
		return "", 0, chainhash.Hash{}, false
	}

	peerId, ok := m.peers.Sample()
	if !ok {
		m.upstream.Event(Event{Kind: EventRequestCanceled, Reason: "no peers with required services"})
		return "", 0, chainhash.Hash{}, false
	}

	m.upstream.GetCFHeaders(peerId, start, stopHash, m.config.RequestTimeout)
	m.inflight[stopHash] = now
	return peerId, start, stopHash, true
}

// headersImported requests compact filters for the portion of [start, stop]
// an active rescan still needs, once new filter headers have landed.
func (m *Manager) headersImported(start, stop filter.Height, tree blocktree.Tree) error {
	if !m.rescan.Active {
		return nil
	}
	from := start
	if m.rescan.Current > from {
		from = m.rescan.Current
	}
	to := stop
	if m.rescan.End != nil && *m.rescan.End < to {
		to = *m.rescan.End
	}
	if from > to {
		return nil
	}
	return m.GetCFilters(from, to, tree)
}

// process drains rescan.Received in height order for as long as the next
// expected height is available, matching each filter against the
// watchlist and watched transactions.
func (m *Manager) process() ([]chainhash.Hash, error) {
	var matches []chainhash.Hash
	current := m.rescan.Current

	for {
		rec, ok := m.rescan.Received[current]
		if !ok {
			break
		}
		delete(m.rescan.Received, current)

		bf, err := filter.NewBlockFilter(rec.Filter)
		if err != nil {
			return matches, err
		}

		matched := false
		if m.rescan.Watch.Cardinality() > 0 {
			watchlist := make([][]byte, 0, m.rescan.Watch.Cardinality())
			for _, s := range m.rescan.Watch.ToSlice() {
				watchlist = append(watchlist, []byte(s.(string)))
			}
			matched, err = bf.MatchAny(rec.BlockHash, watchlist)
			if err != nil {
				return matches, err
			}
		}
		if !matched && len(m.rescan.Transactions) > 0 {
			for _, outs := range m.rescan.Transactions {
				scripts := make([][]byte, 0, outs.Cardinality())
				for _, s := range outs.ToSlice() {
					scripts = append(scripts, []byte(s.(string)))
				}
				ok, err := bf.MatchAll(rec.BlockHash, scripts)
				if err != nil {
					continue
				}
				if ok {
					matched = true
					break
				}
			}
		}

		if matched {
			matches = append(matches, rec.BlockHash)
		}
		m.upstream.Event(Event{Kind: EventFilterProcessed, BlockHash: rec.BlockHash, Height: current, Matched: matched})
		current++
	}
	m.rescan.Current = current

	if m.rescan.End != nil && current > *m.rescan.End {
		m.rescan.Active = false
		m.upstream.Event(Event{Kind: EventRescanCompleted, Height: current})
	}
	return matches, nil
}

// chainedHeader computes H(hash || prev) without depending on the filter
// package's unexported helper, matching the same chaining formula.
func chainedHeader(hash, prev chainhash.Hash) chainhash.Hash {
	buf := make([]byte, 0, chainhash.HashSize*2)
	buf = append(buf, hash[:]...)
	buf = append(buf, prev[:]...)
	return chainhash.DoubleHashH(buf)
}

// heightIterator splits the inclusive range [start, stop] into sub-ranges of
// at most step heights each; stop itself is always the last range's end.
// For start=3, stop=19, step=5 this yields [3,7], [8,12], [13,17], [18,19].
type heightIterator struct {
	start, stop, step filter.Height
}

type heightRange struct {
	start, end filter.Height // inclusive
}

func (it *heightIterator) next() (heightRange, bool) {
	if it.start > it.stop {
		return heightRange{}, false
	}
	start := it.start
	end := it.stop
	if start+it.step-1 < end {
		end = start + it.step - 1
	}
	it.start = end + 1
	return heightRange{start: start, end: end}, true
}
