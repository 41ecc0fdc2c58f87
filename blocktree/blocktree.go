// Package blocktree defines the read-only view of the block-header chain
// the filter manager consults, plus a minimal in-memory implementation for
// tests and standalone demos. The real header-sync machinery that keeps
// this tree up to date lives outside this module.
package blocktree

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// Height is an unsigned block height; 0 is genesis.
type Height = uint32

// Tree is the external interface the manager reads block headers through.
// It never writes to it.
type Tree interface {
	// Height returns the tip height.
	Height() Height
	// Tip returns the hash of the block at Height().
	Tip() chainhash.Hash
	// BlockHeight resolves a block hash to its height, if known.
	BlockHeight(hash chainhash.Hash) (Height, bool)
	// HashAt resolves a height to its block hash, if known.
	HashAt(height Height) (chainhash.Hash, bool)
}

// Memory is a minimal append-only Tree backed by a slice, indexed by
// height from 0. It exists for tests and small standalone runs; a real
// deployment backs Tree with the node's persistent header store.
type Memory struct {
	hashes []chainhash.Hash
	index  map[chainhash.Hash]Height
}

// NewMemory creates a tree seeded with a genesis block hash at height 0.
func NewMemory(genesis chainhash.Hash) *Memory {
	m := &Memory{
		hashes: []chainhash.Hash{genesis},
		index:  map[chainhash.Hash]Height{genesis: 0},
	}
	return m
}

// Extend appends block hashes onto the tip, in order.
func (m *Memory) Extend(hashes ...chainhash.Hash) {
	for _, h := range hashes {
		m.index[h] = Height(len(m.hashes))
		m.hashes = append(m.hashes, h)
	}
}

// Rollback truncates the tree down to height, inclusive.
func (m *Memory) Rollback(height Height) {
	for h := Height(len(m.hashes)) - 1; h > height; h-- {
		delete(m.index, m.hashes[h])
	}
	m.hashes = m.hashes[:height+1]
}

// Height implements Tree.
func (m *Memory) Height() Height {
	return Height(len(m.hashes) - 1)
}

// Tip implements Tree.
func (m *Memory) Tip() chainhash.Hash {
	return m.hashes[len(m.hashes)-1]
}

// BlockHeight implements Tree.
func (m *Memory) BlockHeight(hash chainhash.Hash) (Height, bool) {
	h, ok := m.index[hash]
	return h, ok
}

// HashAt implements Tree.
func (m *Memory) HashAt(height Height) (chainhash.Hash, bool) {
	if int(height) >= len(m.hashes) {
		return chainhash.Hash{}, false
	}
	return m.hashes[height], true
}
