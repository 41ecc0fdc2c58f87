package main

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"

	"github.com/btccbf/cbfd/cbf"
	"github.com/btccbf/cbfd/filter"
)

// loggingUpstream is a minimal cbf.Upstream that logs everything instead of
// dispatching to real peer connections. It stands in for the network
// reactor a full node would wire up here.
type loggingUpstream struct {
	log btclog.Logger
}

func newLoggingUpstream(log btclog.Logger) *loggingUpstream {
	return &loggingUpstream{log: log}
}

func (u *loggingUpstream) GetCFHeaders(addr cbf.PeerId, startHeight filter.Height, stopHash chainhash.Hash, timeout time.Duration) {
	u.log.Debugf("-> getcfheaders to %s start=%d stop=%s", addr, startHeight, stopHash)
}

func (u *loggingUpstream) GetCFilters(addr cbf.PeerId, startHeight filter.Height, stopHash chainhash.Hash, timeout time.Duration) {
	u.log.Debugf("-> getcfilters to %s start=%d stop=%s", addr, startHeight, stopHash)
}

func (u *loggingUpstream) SendCFHeaders(addr cbf.PeerId, msg *wire.MsgCFHeaders) {
	u.log.Debugf("-> cfheaders to %s count=%d", addr, len(msg.FilterHashes))
}

func (u *loggingUpstream) SendCFilter(addr cbf.PeerId, msg *wire.MsgCFilter) {
	u.log.Debugf("-> cfilter to %s block=%s", addr, msg.BlockHash)
}

func (u *loggingUpstream) Event(ev cbf.Event) {
	u.log.Infof("%s", ev)
}

func (u *loggingUpstream) SetTimeout(d time.Duration) {
	u.log.Tracef("timeout armed for %s", d)
}
