package cbf

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil/gcs"
	"github.com/btcsuite/btcutil/gcs/builder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btccbf/cbfd/blocktree"
	"github.com/btccbf/cbfd/filter"
	"github.com/btccbf/cbfd/peer"
	"github.com/btccbf/cbfd/rescan"
)

type recordingUpstream struct {
	getCFHeaders []PeerId
	getCFilters  []PeerId
	sent         []*wire.MsgCFHeaders
	events       []Event
	timeouts     []time.Duration
}

func (u *recordingUpstream) GetCFHeaders(addr PeerId, startHeight filter.Height, stopHash chainhash.Hash, timeout time.Duration) {
	u.getCFHeaders = append(u.getCFHeaders, addr)
}

func (u *recordingUpstream) GetCFilters(addr PeerId, startHeight filter.Height, stopHash chainhash.Hash, timeout time.Duration) {
	u.getCFilters = append(u.getCFilters, addr)
}

func (u *recordingUpstream) SendCFHeaders(addr PeerId, msg *wire.MsgCFHeaders) {
	u.sent = append(u.sent, msg)
}

func (u *recordingUpstream) SendCFilter(addr PeerId, msg *wire.MsgCFilter) {}

func (u *recordingUpstream) Event(ev Event) {
	u.events = append(u.events, ev)
}

func (u *recordingUpstream) SetTimeout(d time.Duration) {
	u.timeouts = append(u.timeouts, d)
}

func newTestManager(t *testing.T) (*Manager, *recordingUpstream, *filter.Cache, *blocktree.Memory) {
	t.Helper()
	store := filter.NewMemStore(filter.Regtest)
	cache, err := filter.From(store, filter.Regtest)
	require.NoError(t, err)

	tree := blocktree.NewMemory(filter.Genesis(filter.Regtest).Hash)
	up := &recordingUpstream{}
	mgr := New(DefaultConfig(), 1, cache, up)
	return mgr, up, cache, tree
}

func TestHeightIteratorMatchesWorkedExample(t *testing.T) {
	it := heightIterator{start: 3, stop: 19, step: 5}

	var got []heightRange
	for {
		r, ok := it.next()
		if !ok {
			break
		}
		got = append(got, r)
	}

	assert.Equal(t, []heightRange{
		{start: 3, end: 7},
		{start: 8, end: 12},
		{start: 13, end: 17},
		{start: 18, end: 19},
	}, got)
}

func TestSyncRequestsWhenBehind(t *testing.T) {
	mgr, up, _, tree := newTestManager(t)
	tree.Extend(chainhash.DoubleHashH([]byte("1")), chainhash.DoubleHashH([]byte("2")))
	mgr.peers.Insert("peer-1", peer.Record{Height: 2, LastActive: time.Now().Unix()})

	mgr.sync(tree, time.Now())

	require.Len(t, up.getCFHeaders, 1)
	assert.Equal(t, PeerId("peer-1"), up.getCFHeaders[0])
	require.Len(t, up.events, 1)
	assert.Equal(t, EventSyncing, up.events[0].Kind)
}

func TestSyncNoPeersEmitsRequestCanceled(t *testing.T) {
	mgr, up, _, tree := newTestManager(t)
	tree.Extend(chainhash.DoubleHashH([]byte("1")))

	mgr.sync(tree, time.Now())

	require.Len(t, up.events, 1)
	assert.Equal(t, EventRequestCanceled, up.events[0].Kind)
}

func TestSyncNoOpWhenCaughtUp(t *testing.T) {
	mgr, up, _, tree := newTestManager(t)
	mgr.sync(tree, time.Now())
	assert.Empty(t, up.events)
	assert.Empty(t, up.getCFHeaders)
}

func TestReceivedCFHeadersUnsolicited(t *testing.T) {
	mgr, _, _, tree := newTestManager(t)
	msg := &wire.MsgCFHeaders{StopHash: chainhash.DoubleHashH([]byte("nope"))}

	_, err := mgr.ReceivedCFHeaders("peer-1", msg, tree, time.Now())
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrIgnored, cerr.Kind)
}

func TestReceivedCFHeadersInvalidFilterType(t *testing.T) {
	mgr, _, _, tree := newTestManager(t)
	stopHash := chainhash.DoubleHashH([]byte("stop"))
	mgr.inflight[stopHash] = time.Now()

	msg := &wire.MsgCFHeaders{StopHash: stopHash, FilterType: 1}
	_, err := mgr.ReceivedCFHeaders("peer-1", msg, tree, time.Now())
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrInvalidMessage, cerr.Kind)
}

func TestReceivedCFHeadersStaleMessageIsNoop(t *testing.T) {
	mgr, _, cache, tree := newTestManager(t)
	stopHash := chainhash.DoubleHashH([]byte("stop"))
	mgr.inflight[stopHash] = time.Now()

	msg := &wire.MsgCFHeaders{
		FilterType:       wire.GCSFilterRegular,
		StopHash:         stopHash,
		PrevFilterHeader: chainhash.DoubleHashH([]byte("not-the-tip")),
		FilterHashes:     []*chainhash.Hash{{}},
	}

	height, err := mgr.ReceivedCFHeaders("peer-1", msg, tree, time.Now())
	require.NoError(t, err)
	assert.Equal(t, cache.Height(), height)
}

func TestReceivedCFHeadersImportsInOrder(t *testing.T) {
	mgr, up, cache, tree := newTestManager(t)

	blockHashes := []chainhash.Hash{
		chainhash.DoubleHashH([]byte("b1")),
		chainhash.DoubleHashH([]byte("b2")),
		chainhash.DoubleHashH([]byte("b3")),
	}
	tree.Extend(blockHashes...)

	stopHash := tree.Tip()
	mgr.inflight[stopHash] = time.Now()

	filterHashes := make([]*chainhash.Hash, 3)
	for i := range filterHashes {
		h := chainhash.DoubleHashH([]byte{byte(i)})
		filterHashes[i] = &h
	}

	msg := &wire.MsgCFHeaders{
		FilterType:       wire.GCSFilterRegular,
		StopHash:         stopHash,
		PrevFilterHeader: cache.Tip().Header,
		FilterHashes:     filterHashes,
	}

	height, err := mgr.ReceivedCFHeaders("peer-1", msg, tree, time.Now())
	require.NoError(t, err)
	assert.Equal(t, filter.Height(3), height)
	assert.Equal(t, filter.Height(3), cache.Height())

	var imported, synced bool
	for _, ev := range up.events {
		if ev.Kind == EventFilterHeadersImported {
			imported = true
		}
		if ev.Kind == EventSynced {
			synced = true
		}
	}
	assert.True(t, imported)
	assert.True(t, synced)
}

func TestGetCFiltersNotConnected(t *testing.T) {
	mgr, _, _, tree := newTestManager(t)
	err := mgr.GetCFilters(1, 5, tree)
	assert.Equal(t, errNotConnected, err)
}

func TestRescanRefusesWhenActive(t *testing.T) {
	mgr, _, _, tree := newTestManager(t)
	mgr.rescan.Active = true

	err := mgr.Rescan(rescan.Unbounded(), rescan.Unbounded(), nil, tree)
	require.Error(t, err)
}

func TestRescanEmptyRangeWhenFilterChainBehind(t *testing.T) {
	mgr, up, _, tree := newTestManager(t)
	tree.Extend(chainhash.DoubleHashH([]byte("1")), chainhash.DoubleHashH([]byte("2")))

	err := mgr.Rescan(rescan.Included(1), rescan.Unbounded(), []string{"script"}, tree)
	require.NoError(t, err)
	assert.True(t, mgr.rescan.Active)
	assert.Empty(t, up.getCFilters) // filter chain hasn't caught up yet, nothing to request
}

// buildFilter constructs the raw GCS bytes for a block's basic filter over
// the given entries, the same encoding ReceivedCFilter expects on the wire.
func buildFilter(t *testing.T, blockHash chainhash.Hash, entries [][]byte) []byte {
	t.Helper()
	key := builder.DeriveKey(&blockHash)
	f, err := gcs.NewFilter(builder.DefaultP, builder.DefaultM, key, entries)
	require.NoError(t, err)
	raw, err := f.NBytes()
	require.NoError(t, err)
	return raw
}

func TestReceivedCFilterDrivesRescanInOrder(t *testing.T) {
	mgr, up, cache, tree := newTestManager(t)

	const watched = "watched-script"
	blockHashes := []chainhash.Hash{
		chainhash.DoubleHashH([]byte("rescan-b1")),
		chainhash.DoubleHashH([]byte("rescan-b2")),
		chainhash.DoubleHashH([]byte("rescan-b3")),
	}
	tree.Extend(blockHashes...)

	raws := make([][]byte, 3)
	raws[0] = buildFilter(t, blockHashes[0], [][]byte{[]byte("unrelated")})
	raws[1] = buildFilter(t, blockHashes[1], [][]byte{[]byte(watched)})
	raws[2] = buildFilter(t, blockHashes[2], [][]byte{[]byte("unrelated-2")})

	prev := cache.Tip().Header
	records := make([]filter.StoredHeader, 3)
	for i, raw := range raws {
		hash := chainhash.DoubleHashH(raw)
		prev = chainedHeader(hash, prev)
		records[i] = filter.StoredHeader{Hash: hash, Header: prev}
	}
	_, err := cache.ImportHeaders(records)
	require.NoError(t, err)

	mgr.peers.Insert("peer-1", peer.Record{Height: 3, LastActive: time.Now().Unix()})
	require.NoError(t, mgr.Rescan(rescan.Included(1), rescan.Included(3), []string{watched}, tree))
	require.Len(t, up.getCFilters, 1)

	// Deliver out of order: height 3, then 1, then 2.
	matches, err := mgr.ReceivedCFilter("peer-1", &wire.MsgCFilter{FilterType: wire.GCSFilterRegular, BlockHash: blockHashes[2], Data: raws[2]}, tree)
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = mgr.ReceivedCFilter("peer-1", &wire.MsgCFilter{FilterType: wire.GCSFilterRegular, BlockHash: blockHashes[0], Data: raws[0]}, tree)
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = mgr.ReceivedCFilter("peer-1", &wire.MsgCFilter{FilterType: wire.GCSFilterRegular, BlockHash: blockHashes[1], Data: raws[1]}, tree)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, blockHashes[1], matches[0])

	var order []filter.Height
	var completed bool
	for _, ev := range up.events {
		if ev.Kind == EventFilterProcessed {
			order = append(order, ev.Height)
		}
		if ev.Kind == EventRescanCompleted {
			completed = true
		}
	}
	assert.Equal(t, []filter.Height{1, 2, 3}, order)
	assert.True(t, completed)
	assert.False(t, mgr.rescan.Active)
}

func TestReceivedCFilterRejectsTamperedFilter(t *testing.T) {
	mgr, _, cache, tree := newTestManager(t)
	blockHash := chainhash.DoubleHashH([]byte("tampered-block"))
	tree.Extend(blockHash)

	raw := buildFilter(t, blockHash, [][]byte{[]byte("script")})
	hash := chainhash.DoubleHashH(raw)
	header := chainedHeader(hash, cache.Tip().Header)
	_, err := cache.ImportHeaders([]filter.StoredHeader{{Hash: hash, Header: header}})
	require.NoError(t, err)

	tampered := buildFilter(t, blockHash, [][]byte{[]byte("different-script")})
	_, err = mgr.ReceivedCFilter("peer-1", &wire.MsgCFilter{FilterType: wire.GCSFilterRegular, BlockHash: blockHash, Data: tampered}, tree)
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrInvalidMessage, cerr.Kind)
}
