package filter

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Cache is the in-memory, non-empty ordered sequence of filter-header
// records fronting a Store. It is the sole authority the CBF manager
// consults for "what filter headers do we have"; every mutation also goes
// through to the backing Store.
type Cache struct {
	network Network
	store   Store
	headers []StoredHeader // headers[0] is always the network genesis
}

// From loads the entire stored sequence into memory, in order.
func From(store Store, network Network) (*Cache, error) {
	records, err := store.Iter()
	if err != nil {
		return nil, wrap("load", err)
	}
	if len(records) == 0 {
		records = []StoredHeader{store.Genesis()}
	}
	return &Cache{network: network, store: store, headers: records}, nil
}

// Verify reverifies every invariant in §3: correct genesis for the
// configured network, and a correctly chained header at every height after
// it. Genesis itself is the network's trust anchor, not a record derived
// from a previous one, so it is checked by equality only.
func (c *Cache) Verify() error {
	if len(c.headers) == 0 {
		return ErrIntegrity
	}
	if c.headers[0] != Genesis(c.network) {
		return ErrIntegrity
	}

	prev := c.headers[0].Header
	for _, h := range c.headers[1:] {
		expected := filterHeader(h.Hash, prev)
		if h.Header != expected {
			return ErrIntegrity
		}
		prev = h.Header
	}
	return nil
}

// filterHeader computes H(hash || previous_header), the BIP 157 chaining
// formula, using the real double-SHA256 primitive from chainhash.
func filterHeader(hash, prev chainhash.Hash) chainhash.Hash {
	buf := make([]byte, 0, chainhash.HashSize*2)
	buf = append(buf, hash[:]...)
	buf = append(buf, prev[:]...)
	return chainhash.DoubleHashH(buf)
}

// GetHeader returns the record at height h, if present.
func (c *Cache) GetHeader(h Height) (StoredHeader, bool) {
	if int(h) >= len(c.headers) {
		return StoredHeader{}, false
	}
	return c.headers[h], true
}

// GetHeaders returns the prefix of [start, end) that is present, in order.
func (c *Cache) GetHeaders(start, end Height) []StoredHeader {
	if start >= end || int(start) >= len(c.headers) {
		return nil
	}
	if int(end) > len(c.headers) {
		end = Height(len(c.headers))
	}
	out := make([]StoredHeader, end-start)
	copy(out, c.headers[start:end])
	return out
}

// GetPrevHeader returns cache[h-1].Header, or the zero hash when h == 0.
// It is only valid for h <= Height()+1 (i.e. the would-be next header).
func (c *Cache) GetPrevHeader(h Height) (chainhash.Hash, bool) {
	if h == 0 {
		return chainhash.Hash{}, true
	}
	rec, ok := c.GetHeader(h - 1)
	if !ok {
		return chainhash.Hash{}, false
	}
	return rec.Header, true
}

// ImportHeaders appends records onto the current tip. The caller
// (cbf.Manager) is responsible for having already chained the hashes into
// headers before calling this; ImportHeaders does not re-derive them.
func (c *Cache) ImportHeaders(records []StoredHeader) (Height, error) {
	height, err := c.store.Put(records)
	if err != nil {
		return 0, err
	}
	c.headers = append(c.headers, records...)
	return height, nil
}

// Tip returns the most recent record.
func (c *Cache) Tip() StoredHeader {
	return c.headers[len(c.headers)-1]
}

// Height returns length-1: the height of the most recent record.
func (c *Cache) Height() Height {
	return Height(len(c.headers) - 1)
}

// Rollback truncates the cache (and its store) by n records, i.e. down to
// height Height()-n. n must satisfy n <= Height().
func (c *Cache) Rollback(n uint32) error {
	height := c.Height() - n
	if err := c.store.Rollback(height); err != nil {
		return err
	}
	c.headers = c.headers[:height+1]
	return nil
}
