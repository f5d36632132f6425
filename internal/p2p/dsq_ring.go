package p2p

import (
	"sync"

	"github.com/rawblock/mixcore/internal/wire"
)

// DSQRing tracks the most recently seen dsq announcements and the
// masternodes a session has recently mixed with, both bounded to a fixed
// number of slots (spec §4.7: "a 10-slot ring").
type DSQRing struct {
	mu       sync.Mutex
	size     int
	recent   []wire.MsgDSQ
	recentMN []wire.Outpoint
}

func NewDSQRing(size int) *DSQRing {
	return &DSQRing{size: size}
}

// AddRecentDSQ records a gossiped (non-session) dsq announcement, evicting
// the oldest entry once the ring is full.
func (r *DSQRing) AddRecentDSQ(dsq wire.MsgDSQ) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recent = append(r.recent, dsq)
	if len(r.recent) > r.size {
		r.recent = r.recent[len(r.recent)-r.size:]
	}
}

// PopRecentDSQ removes and returns the newest ready dsq not already in
// recentMixesMNs, or false if none qualifies.
func (r *DSQRing) PopRecentDSQ(excluded map[wire.Outpoint]struct{}) (wire.MsgDSQ, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.recent) - 1; i >= 0; i-- {
		cand := r.recent[i]
		if !cand.Ready {
			continue
		}
		if _, skip := excluded[cand.MasternodeOutpoint]; skip {
			continue
		}
		r.recent = append(r.recent[:i], r.recent[i+1:]...)
		return cand, true
	}
	return wire.MsgDSQ{}, false
}

// MarkMixed records op as recently used for a session, evicting the oldest
// entry once the ring is full.
func (r *DSQRing) MarkMixed(op wire.Outpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recentMN = append(r.recentMN, op)
	if len(r.recentMN) > r.size {
		r.recentMN = r.recentMN[len(r.recentMN)-r.size:]
	}
}

// RecentlyMixed returns the current recent-mixes-mns set.
func (r *DSQRing) RecentlyMixed() map[wire.Outpoint]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[wire.Outpoint]struct{}, len(r.recentMN))
	for _, op := range r.recentMN {
		out[op] = struct{}{}
	}
	return out
}
