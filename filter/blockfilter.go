package filter

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcutil/gcs"
	"github.com/btcsuite/btcutil/gcs/builder"
)

// BlockFilter is a decoded BIP 158 basic filter: a Golomb-coded set over a
// block's relevant output scripts, plus the raw bytes it was built from.
type BlockFilter struct {
	raw    []byte
	filter *gcs.Filter
}

// NewBlockFilter decodes raw BIP 158 basic-filter bytes (N varint prefix
// included, per the wire format).
func NewBlockFilter(raw []byte) (*BlockFilter, error) {
	f, err := gcs.FromNBytes(builder.DefaultP, builder.DefaultM, raw)
	if err != nil {
		return nil, wrap("decode filter", err)
	}
	return &BlockFilter{raw: raw, filter: f}, nil
}

// Bytes returns the filter's wire encoding.
func (b *BlockFilter) Bytes() []byte {
	return b.raw
}

// FilterHeader computes H(filter_hash || prev), the chaining commitment
// for this filter given the previous filter header.
func (b *BlockFilter) FilterHeader(prev chainhash.Hash) (chainhash.Hash, error) {
	hash := chainhash.DoubleHashH(b.raw)
	return filterHeader(hash, prev), nil
}

// MatchAny reports whether any of the given scripts appear in the filter.
func (b *BlockFilter) MatchAny(blockHash chainhash.Hash, data [][]byte) (bool, error) {
	key := builder.DeriveKey(&blockHash)
	return b.filter.MatchAny(key, data)
}

// MatchAll reports whether every one of the given scripts appears in the
// filter, i.e. a transaction whose every output is present.
func (b *BlockFilter) MatchAll(blockHash chainhash.Hash, data [][]byte) (bool, error) {
	key := builder.DeriveKey(&blockHash)
	for _, d := range data {
		match, err := b.filter.Match(key, d)
		if err != nil {
			return false, err
		}
		if !match {
			return false, nil
		}
	}
	return len(data) > 0, nil
}
