// Package filter implements the compact block filter header store and the
// in-memory cache that fronts it (BIP 157/158).
package filter

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Network identifies a Bitcoin-style network whose genesis filter header is
// known and fixed.
type Network uint8

// Supported networks.
const (
	Mainnet Network = iota
	Testnet3
	Regtest
	Simnet
)

func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet3:
		return "testnet3"
	case Regtest:
		return "regtest"
	case Simnet:
		return "simnet"
	default:
		return "unknown"
	}
}

const zeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// genesisFilterHash holds the filter hash recorded in each network's
// genesis record. Every entry is the zero hash; it is not derived from the
// genesis block's filter bytes, and Cache.Verify only compares the genesis
// record for equality.
var genesisFilterHash = map[Network]string{
	Mainnet:  zeroHash,
	Testnet3: zeroHash,
	Regtest:  zeroHash,
	Simnet:   zeroHash,
}

// genesisFilterHeader holds each network's genesis filter-header commitment:
// the trust anchor the filter-header chain starts from, and the exact value
// a peer reports as previous_filter_header on the first post-genesis
// cfheaders batch. These are network-defined constants recorded directly,
// not derived from genesisFilterHash — the real mainnet value is the
// double-SHA256 of the genesis block's actual basic filter bytes chained
// with a zero previous header, a computation this package has no way to
// redo from a literal. Genesis is the one record Cache.Verify treats as an
// anchor rather than something to re-derive from scratch.
var genesisFilterHeader = map[Network]string{
	Mainnet:  "02c2392180d0ce2b5b6f8b08d39a11ffe831c673311a3ecf77b97fc3f0303c9f",
	Testnet3: zeroHash,
	Regtest:  zeroHash,
	Simnet:   zeroHash,
}

// Genesis returns the network-defined genesis record: the hash of the
// genesis block's own compact filter, and the header commitment it chains
// forward from.
func Genesis(network Network) StoredHeader {
	hh, ok := genesisFilterHash[network]
	if !ok {
		hh = genesisFilterHash[Regtest]
	}
	hash, err := chainhash.NewHashFromStr(hh)
	if err != nil {
		hash = &chainhash.Hash{}
	}

	hh2, ok := genesisFilterHeader[network]
	if !ok {
		hh2 = genesisFilterHeader[Regtest]
	}
	header, err := chainhash.NewHashFromStr(hh2)
	if err != nil {
		header = &chainhash.Hash{}
	}

	return StoredHeader{Hash: *hash, Header: *header}
}
