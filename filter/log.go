package filter

import "github.com/btcsuite/btclog"

// log is the package-level logger, disabled until the embedding
// application calls UseLogger. This is the same pattern btcd/neutrino/lnd
// use throughout the compact-filter stack.
var log = btclog.Disabled

// UseLogger sets the package-wide logger. The cache and store
// implementations in this package do not write to it.
func UseLogger(logger btclog.Logger) {
	log = logger
}
