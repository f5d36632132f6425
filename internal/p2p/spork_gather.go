package p2p

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/rawblock/mixcore/internal/spork"
)

// sporkGatherPeerTimeout bounds how long a single peer is given to answer
// getsporks before it's given up on; grounded on axe_net.py's per-peer
// spork-gather timeout (SPEC_FULL.md §6.1), rather than blocking the whole
// gather on one slow peer.
const sporkGatherPeerTimeout = 10 * time.Second

// SporkGatherInterval is how often the pool asks a quorum of peers for
// sporks (spec §4.3: "periodically").
const SporkGatherInterval = 5 * time.Minute

// Verifier checks a gathered spork signature against the hard-coded spork
// address, using whichever hash algorithm the live spork table selects.
type Verifier interface {
	VerifyAndMerge(v spork.Value) (bool, error)
}

// GatherSporks asks ceil(|peers|*0.51) distinct peers for their spork
// table, verifying and merging each response (spec §4.3). Peers are asked
// concurrently; each has sporkGatherPeerTimeout to respond before being
// skipped.
func (p *Pool) GatherSporks(ctx context.Context, verifier Verifier) {
	peers := p.Peers()
	if len(peers) == 0 {
		return
	}
	quorum := int(math.Ceil(float64(len(peers)) * 0.51))
	if quorum > len(peers) {
		quorum = len(peers)
	}

	type result struct {
		addr string
		v    spork.Value
		ok   bool
	}
	results := make(chan result, quorum)

	for i := 0; i < quorum; i++ {
		peer := peers[i]
		go func(peer *Peer) {
			pctx, cancel := context.WithTimeout(ctx, sporkGatherPeerTimeout)
			defer cancel()
			v, ok := askPeerForSporks(pctx, peer)
			results <- result{addr: peer.Addr, v: v, ok: ok}
		}(peer)
	}

	for i := 0; i < quorum; i++ {
		r := <-results
		if !r.ok {
			continue
		}
		verified, err := verifier.VerifyAndMerge(r.v)
		if err != nil {
			log.Printf("[Pool] spork verify error from %s: %v", r.addr, err)
			continue
		}
		if !verified {
			log.Printf("[Pool] spork signature invalid from %s, id=%d", r.addr, r.v.ID)
		}
	}
}

func askPeerForSporks(ctx context.Context, peer *Peer) (spork.Value, bool) {
	msg, err := peer.RequestSporks(ctx)
	if err != nil {
		return spork.Value{}, false
	}
	return spork.FromWire(msg), true
}
