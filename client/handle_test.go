package client

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btccbf/cbfd/cbf"
	"github.com/btccbf/cbfd/filter"
)

func TestPublishForwardsEvents(t *testing.T) {
	h := New(nil, nil, 4, 4)

	h.Publish(cbf.Event{Kind: cbf.EventSynced, Height: 7})

	select {
	case ev := <-h.Events():
		assert.Equal(t, cbf.EventSynced, ev.Kind)
		assert.Equal(t, filter.Height(7), ev.Height)
	default:
		t.Fatal("expected an event to be forwarded")
	}
}

func TestPublishMatchedFilterProcessedEmitsFilterMatch(t *testing.T) {
	h := New(nil, nil, 4, 4)
	blockHash := chainhash.DoubleHashH([]byte("block"))

	h.Publish(cbf.Event{Kind: cbf.EventFilterProcessed, BlockHash: blockHash, Height: 12, Matched: true})

	select {
	case m := <-h.Filters():
		assert.Equal(t, blockHash, m.BlockHash)
		assert.Equal(t, filter.Height(12), m.Height)
	default:
		t.Fatal("expected a FilterMatch to be published")
	}
}

func TestPublishUnmatchedFilterProcessedEmitsNoFilterMatch(t *testing.T) {
	h := New(nil, nil, 4, 4)

	h.Publish(cbf.Event{Kind: cbf.EventFilterProcessed, Height: 12, Matched: false})

	select {
	case m := <-h.Filters():
		t.Fatalf("expected no FilterMatch, got %+v", m)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestPublishDropsOnFullMatchBuffer(t *testing.T) {
	h := New(nil, nil, 1, 1)
	blockHash := chainhash.DoubleHashH([]byte("block"))

	h.Publish(cbf.Event{Kind: cbf.EventFilterProcessed, BlockHash: blockHash, Height: 1, Matched: true})
	require.NotPanics(t, func() {
		h.Publish(cbf.Event{Kind: cbf.EventFilterProcessed, BlockHash: blockHash, Height: 2, Matched: true})
	})

	m := <-h.Filters()
	assert.Equal(t, filter.Height(1), m.Height)
}
