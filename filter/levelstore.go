package filter

import (
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore is a goleveldb-backed Store. Records are keyed by their
// big-endian height so that Iter can walk the keyspace in order and
// Rollback can delete a height-range in one batch.
//
// It exists so the rest of the stack has something durable to run against
// outside of tests.
type LevelStore struct {
	db      *leveldb.DB
	network Network
}

// OpenLevelStore opens (or creates) a leveldb-backed filter-header store at
// path, seeding it with the network's genesis record on first use.
func OpenLevelStore(path string, network Network) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, wrap("open", err)
	}
	s := &LevelStore{db: db, network: network}

	if _, err := db.Get(heightKey(0), nil); err == leveldb.ErrNotFound {
		genesis := Genesis(network)
		if err := db.Put(heightKey(0), genesis.Encode(), nil); err != nil {
			return nil, wrap("seed genesis", err)
		}
	} else if err != nil {
		return nil, wrap("read genesis", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *LevelStore) Close() error {
	return wrap("close", s.db.Close())
}

func heightKey(h Height) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, h)
	return buf
}

// Genesis implements Store.
func (s *LevelStore) Genesis() StoredHeader {
	return Genesis(s.network)
}

// Iter implements Store.
func (s *LevelStore) Iter() ([]StoredHeader, error) {
	iter := s.db.NewIterator(&util.Range{}, nil)
	defer iter.Release()

	var out []StoredHeader
	for iter.Next() {
		rec, err := DecodeStoredHeader(iter.Value())
		if err != nil {
			return nil, wrap("decode", err)
		}
		out = append(out, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, wrap("iterate", err)
	}
	return out, nil
}

// Height implements Store.
func (s *LevelStore) Height() Height {
	iter := s.db.NewIterator(&util.Range{}, nil)
	defer iter.Release()

	var last Height
	for iter.Next() {
		last = binary.BigEndian.Uint32(iter.Key())
	}
	return last
}

// Put implements Store. All records are written atomically via a single
// leveldb batch.
func (s *LevelStore) Put(records []StoredHeader) (Height, error) {
	start := s.Height() + 1
	batch := new(leveldb.Batch)
	for i, rec := range records {
		batch.Put(heightKey(start+Height(i)), rec.Encode())
	}
	if err := s.db.Write(batch, nil); err != nil {
		return 0, wrap("put", err)
	}
	return start + Height(len(records)) - 1, nil
}

// Rollback implements Store: it deletes every record above toHeight.
func (s *LevelStore) Rollback(toHeight Height) error {
	tip := s.Height()
	if toHeight >= tip {
		return nil
	}
	batch := new(leveldb.Batch)
	for h := toHeight + 1; h <= tip; h++ {
		batch.Delete(heightKey(h))
	}
	return wrap("rollback", s.db.Write(batch, nil))
}
