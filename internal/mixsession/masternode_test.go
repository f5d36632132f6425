package mixsession

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/rawblock/mixcore/internal/p2p"
	"github.com/rawblock/mixcore/internal/walletiface"
	"github.com/rawblock/mixcore/internal/wire"
	"github.com/rawblock/mixcore/pkg/mixtypes"
)

type fakeMNList struct {
	byOutpoint map[mixtypes.Outpoint]walletiface.MasternodeEntry
	random     walletiface.MasternodeEntry
	randomErr  error
}

func (f fakeMNList) RandomValid(ctx context.Context, excluded []mixtypes.Outpoint) (walletiface.MasternodeEntry, error) {
	if f.randomErr != nil {
		return walletiface.MasternodeEntry{}, f.randomErr
	}
	return f.random, nil
}

func (f fakeMNList) ByOutpoint(ctx context.Context, op mixtypes.Outpoint) (walletiface.MasternodeEntry, bool, error) {
	e, ok := f.byOutpoint[op]
	return e, ok, nil
}

func hashWithByte(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func TestPickMasternodeFallsBackToRandomWhenQueueEmpty(t *testing.T) {
	ring := p2p.NewDSQRing(10)
	randomEntry := walletiface.MasternodeEntry{
		Outpoint: mixtypes.Outpoint{Hash: hashWithByte(7), Vout: 0},
		IsValid:  true,
	}
	mnList := fakeMNList{random: randomEntry}

	entry, _, viaQueue, err := pickMasternode(context.Background(), ring, mnList)
	if err != nil {
		t.Fatalf("pickMasternode: %v", err)
	}
	if viaQueue {
		t.Fatal("expected fallback to random selection with an empty ring")
	}
	if entry.Outpoint != randomEntry.Outpoint {
		t.Fatalf("got %+v want %+v", entry, randomEntry)
	}
}

func TestPickMasternodePrefersReadyQueueEntry(t *testing.T) {
	saved := randFraction
	randFraction = func() float64 { return 0 } // always takes the queue branch
	defer func() { randFraction = saved }()

	mnOutpoint := mixtypes.Outpoint{Hash: hashWithByte(3), Vout: 1}
	queueEntry := walletiface.MasternodeEntry{Outpoint: mnOutpoint, IsValid: true}

	ring := p2p.NewDSQRing(10)
	ring.AddRecentDSQ(wire.MsgDSQ{
		Ready:              true,
		MasternodeOutpoint: wire.Outpoint{Hash: mnOutpoint.Hash, Vout: mnOutpoint.Vout},
	})

	mnList := fakeMNList{
		byOutpoint: map[mixtypes.Outpoint]walletiface.MasternodeEntry{mnOutpoint: queueEntry},
		random:     walletiface.MasternodeEntry{Outpoint: mixtypes.Outpoint{Hash: hashWithByte(99)}, IsValid: true},
	}

	entry, dsq, viaQueue, err := pickMasternode(context.Background(), ring, mnList)
	if err != nil {
		t.Fatalf("pickMasternode: %v", err)
	}
	if !viaQueue {
		t.Fatal("expected the queue pick to be taken")
	}
	if entry.Outpoint != mnOutpoint {
		t.Fatalf("got %+v want %+v", entry, queueEntry)
	}
	if !dsq.Ready {
		t.Fatal("expected the popped dsq to be the ready one added to the ring")
	}
}

func TestPickMasternodeSkipsStaleQueueEntriesNotInMasternodeList(t *testing.T) {
	saved := randFraction
	randFraction = func() float64 { return 0 }
	defer func() { randFraction = saved }()

	staleOutpoint := mixtypes.Outpoint{Hash: hashWithByte(1), Vout: 0}
	ring := p2p.NewDSQRing(10)
	ring.AddRecentDSQ(wire.MsgDSQ{
		Ready:              true,
		MasternodeOutpoint: wire.Outpoint{Hash: staleOutpoint.Hash, Vout: staleOutpoint.Vout},
	})

	randomEntry := walletiface.MasternodeEntry{Outpoint: mixtypes.Outpoint{Hash: hashWithByte(8)}, IsValid: true}
	mnList := fakeMNList{
		byOutpoint: map[mixtypes.Outpoint]walletiface.MasternodeEntry{}, // stale entry not found
		random:     randomEntry,
	}

	entry, _, viaQueue, err := pickMasternode(context.Background(), ring, mnList)
	if err != nil {
		t.Fatalf("pickMasternode: %v", err)
	}
	if viaQueue {
		t.Fatal("expected the stale queue entry to be rejected and fall back to random")
	}
	if entry.Outpoint != randomEntry.Outpoint {
		t.Fatalf("got %+v want %+v", entry, randomEntry)
	}
}

func TestPickMasternodeNoneAvailable(t *testing.T) {
	ring := p2p.NewDSQRing(10)
	mnList := fakeMNList{randomErr: errors.New("no masternodes")}

	_, _, _, err := pickMasternode(context.Background(), ring, mnList)
	if !errors.Is(err, ErrNoMasternode) {
		t.Fatalf("got %v want ErrNoMasternode", err)
	}
}
