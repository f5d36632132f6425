package mixsession

import (
	"context"
	"fmt"

	"github.com/rawblock/mixcore/internal/p2p"
	"github.com/rawblock/mixcore/internal/walletiface"
	"github.com/rawblock/mixcore/internal/wire"
	"github.com/rawblock/mixcore/pkg/mixtypes"
)

// pickMasternode implements spec §4.7 step 1: 67% of the time, pop a
// recently gossiped ready dsq (validated against the live masternode list
// and not recently mixed with), up to maxMasternodePickAttempts tries;
// otherwise, and as the fallback when the queue is empty or exhausted, pick
// a masternode uniformly at random. viaQueue reports which path was taken,
// since a queue pick's dsq signature is already in hand and need not be
// re-requested.
func pickMasternode(ctx context.Context, ring *p2p.DSQRing, mnList walletiface.MasternodeList) (walletiface.MasternodeEntry, wire.MsgDSQ, bool, error) {
	excluded := ring.RecentlyMixed()

	if randFraction() < dsqQueuePreference {
		for attempt := 0; attempt < maxMasternodePickAttempts; attempt++ {
			dsq, ok := ring.PopRecentDSQ(excluded)
			if !ok {
				break
			}
			op := mixtypes.Outpoint{Hash: dsq.MasternodeOutpoint.Hash, Vout: dsq.MasternodeOutpoint.Vout}
			entry, found, err := mnList.ByOutpoint(ctx, op)
			if err != nil {
				return walletiface.MasternodeEntry{}, wire.MsgDSQ{}, false, err
			}
			if found && entry.IsValid {
				return entry, dsq, true, nil
			}
		}
	}

	excludedList := make([]mixtypes.Outpoint, 0, len(excluded))
	for op := range excluded {
		excludedList = append(excludedList, mixtypes.Outpoint{Hash: op.Hash, Vout: op.Vout})
	}
	entry, err := mnList.RandomValid(ctx, excludedList)
	if err != nil {
		return walletiface.MasternodeEntry{}, wire.MsgDSQ{}, false, fmt.Errorf("%w: %v", ErrNoMasternode, err)
	}
	return entry, wire.MsgDSQ{}, false, nil
}
