package mixsession

import (
	"context"
	"time"

	"github.com/rawblock/mixcore/internal/p2p"
	"github.com/rawblock/mixcore/internal/wire"
)

// dispatcher routes the message types a mix session cares about into their
// own channels, mirroring the FIFO waiter pattern peer.go already uses for
// sporks. A session peer has no other listener, so a small buffer per
// channel is enough to never block the peer's reader loop.
type dispatcher struct {
	dssu chan *wire.MsgDSSU
	dsq  chan *wire.MsgDSQ
	dsf  chan *wire.MsgDSF
	dsc  chan *wire.MsgDSC
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		dssu: make(chan *wire.MsgDSSU, 32),
		dsq:  make(chan *wire.MsgDSQ, 4),
		dsf:  make(chan *wire.MsgDSF, 4),
		dsc:  make(chan *wire.MsgDSC, 4),
	}
}

// Dispatch satisfies p2p.Dispatcher. Messages this session does not expect
// are dropped; they have no bearing on the protocol steps below.
func (d *dispatcher) Dispatch(_ *p2p.Peer, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.MsgDSSU:
		select {
		case d.dssu <- m:
		default:
		}
	case *wire.MsgDSQ:
		select {
		case d.dsq <- m:
		default:
		}
	case *wire.MsgDSF:
		select {
		case d.dsf <- m:
		default:
		}
	case *wire.MsgDSC:
		select {
		case d.dsc <- m:
		default:
		}
	}
}

// waitFor blocks until ch delivers a value, the session-message timeout
// elapses, or ctx is cancelled. Each dssu status update seen while waiting
// resets the timeout, since it is proof the masternode is still alive and
// working the session (spec §4.7: "any dssu ... restarts the wait").
func waitFor[T any](ctx context.Context, ch <-chan T, dssu <-chan *wire.MsgDSSU, onStatus func(*wire.MsgDSSU)) (T, error) {
	timer := time.NewTimer(sessionMsgTimeout)
	defer timer.Stop()
	for {
		select {
		case v := <-ch:
			return v, nil
		case su := <-dssu:
			if onStatus != nil {
				onStatus(su)
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(sessionMsgTimeout)
		case <-timer.C:
			var zero T
			return zero, ErrSessionTimeout
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}
