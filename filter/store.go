package filter

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Height is an unsigned block height; 0 is genesis.
type Height = uint32

// StoredHeader is a single filter-header chain record: the filter hash of a
// block's compact filter, and the chained commitment it produces,
//
//	header == H(hash || previous_header)
//
// Records are persisted back to back with no framing: 32 bytes of hash
// followed by 32 bytes of header, ordered by height starting at 0.
type StoredHeader struct {
	Hash   chainhash.Hash
	Header chainhash.Hash
}

// RecordSize is the encoded size in bytes of a single StoredHeader record.
const RecordSize = chainhash.HashSize * 2

// Encode writes the 64-byte wire representation of the record.
func (s StoredHeader) Encode() []byte {
	buf := make([]byte, RecordSize)
	copy(buf[:chainhash.HashSize], s.Hash[:])
	copy(buf[chainhash.HashSize:], s.Header[:])
	return buf
}

// DecodeStoredHeader parses the 64-byte wire representation of a record.
func DecodeStoredHeader(buf []byte) (StoredHeader, error) {
	if len(buf) != RecordSize {
		return StoredHeader{}, errShortRecord
	}
	var s StoredHeader
	copy(s.Hash[:], buf[:chainhash.HashSize])
	copy(s.Header[:], buf[chainhash.HashSize:])
	return s, nil
}

// Store is the append-only, truncatable backing sequence of filter-header
// records that the Cache loads into memory and keeps in sync with.
//
// Implementations must make Put atomic: either every record in the batch is
// durably appended, or none are.
type Store interface {
	// Genesis returns the network's genesis record, always at height 0.
	Genesis() StoredHeader
	// Iter walks the stored sequence from height 0, in order. It must be
	// restartable: each call starts again from position 0.
	Iter() ([]StoredHeader, error)
	// Put appends records onto the current tip and returns the new tip
	// height.
	Put(records []StoredHeader) (Height, error)
	// Rollback truncates the store down to (and including) toHeight.
	Rollback(toHeight Height) error
	// Height returns the current tip height as seen by the store.
	Height() Height
}
