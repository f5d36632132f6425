package mixer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rawblock/mixcore/internal/denomstore"
	"github.com/rawblock/mixcore/internal/discovery"
	"github.com/rawblock/mixcore/internal/keypairs"
	"github.com/rawblock/mixcore/internal/mixconfig"
	"github.com/rawblock/mixcore/internal/p2p"
	"github.com/rawblock/mixcore/internal/walletiface"
	"github.com/rawblock/mixcore/internal/wire"
	"github.com/rawblock/mixcore/pkg/mixtypes"
)

func newTestManager() *Manager {
	return New(mixconfig.Default(), Deps{})
}

func TestStartRejectsFromBlockedStates(t *testing.T) {
	cases := []struct {
		state State
		want  error
	}{
		{Unsupported, ErrNotEnabled},
		{Initializing, ErrInitializing},
		{Mixing, ErrAlreadyRunning},
		{StartMixing, ErrAlreadyRunning},
		{FindingUntracked, ErrFindUntrackedRun},
		{Errored, ErrErrored},
		{StopMixing, ErrUnknownStateForOp},
		{Cleaning, ErrUnknownStateForOp},
	}
	for _, c := range cases {
		m := newTestManager()
		m.state = c.state
		err := m.Start(context.Background())
		if !errors.Is(err, c.want) {
			t.Errorf("state %s: got %v, want %v", c.state, err, c.want)
		}
	}
}

func TestStartReadinessGating(t *testing.T) {
	cases := []struct {
		name      string
		readiness Readiness
		pool      bool
		want      error
	}{
		{"watching only", fakeReadiness{watchingOnly: true}, true, ErrWatchingOnly},
		{"no network", fakeReadiness{connected: false}, true, ErrNoNetwork},
		{"no p2p", fakeReadiness{connected: true}, false, ErrNoP2P},
		{"mns not synced", fakeReadiness{connected: true, mnsSynced: false}, true, ErrMNSDataNotReady},
		{"llmq not ready", fakeReadiness{connected: true, mnsSynced: true, llmqReady: false}, true, ErrLLMQDataNotReady},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := New(mixconfig.Default(), Deps{Readiness: c.readiness})
			if c.pool {
				m.pool = p2p.NewPool(p2p.PoolConfig{})
			}
			err := m.Start(context.Background())
			if !errors.Is(err, c.want) {
				t.Errorf("got %v, want %v", err, c.want)
			}
		})
	}
}

func TestStartReachesMixingAndStopReturnsToReady(t *testing.T) {
	saved := stopDrainTimeout
	stopDrainTimeout = 200 * time.Millisecond
	defer func() { stopDrainTimeout = saved }()

	m := newTestManager()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := m.State(); got != Mixing {
		t.Fatalf("got state %s, want Mixing", got)
	}

	m.Stop(context.Background())
	if got := m.State(); got != Ready {
		t.Fatalf("got state %s, want Ready", got)
	}
}

// TestStartFillsKeypairCacheBeforeReachingMixing is a regression test for a
// deadlock where Start's own wait loop tried to drive the keypair cache's
// NeedCache->Caching transition itself, instead of the maintainer group
// that's supposed to own it: keypairsCacheWorker must be running (i.e. the
// maintainer group already started) before Start blocks waiting for
// keypairs.Ready, or the cache sits in Caching forever and Start never
// returns.
func TestStartFillsKeypairCacheBeforeReachingMixing(t *testing.T) {
	saved := stopDrainTimeout
	stopDrainTimeout = 200 * time.Millisecond
	defer func() { stopDrainTimeout = saved }()

	m := New(mixconfig.Default(), Deps{
		Keypairs: keypairs.New(time.Minute),
		Deriver:  fakeDeriver{},
	})

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start deadlocked waiting on the keypair cache")
	}

	if got := m.State(); got != Mixing {
		t.Fatalf("got state %s, want Mixing", got)
	}

	m.Stop(context.Background())
}

func TestStopNoOpWhenNotMixing(t *testing.T) {
	m := newTestManager()
	m.Stop(context.Background())
	if got := m.State(); got != Disabled {
		t.Fatalf("got state %s, want Disabled unchanged", got)
	}
}

func TestIsNotEnoughFundsUnwraps(t *testing.T) {
	lookalike := errors.New("workflow: not enough funds: no confirmed collateral")
	if isNotEnoughFunds(lookalike) {
		t.Fatal("plain error with similar text should not match errors.Is")
	}
}

func TestPickDenomValueToMixReturnsZeroWhenEmpty(t *testing.T) {
	got := pickDenomValueToMix(fakeDenomsToMix{})
	if got != 0 {
		t.Fatalf("got %v, want 0", got)
	}
}

func TestPickDenomValueToMixReturnsAPresentValue(t *testing.T) {
	want := mixtypes.Amount(100001)
	got := pickDenomValueToMix(fakeDenomsToMix{
		"a": {Value: want},
	})
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestChangeReserverAdapterUsesPSChangeBucket(t *testing.T) {
	reserver := &recordingReserver{}
	m := &Manager{reserver: reserver}
	a := changeReserverAdapter{ctx: context.Background(), m: m}

	addr, err := a.ReserveChange("tag1")
	if err != nil {
		t.Fatalf("ReserveChange: %v", err)
	}
	if addr != "addr-for-PS_CHANGE" {
		t.Fatalf("got %q", addr)
	}
	if reserver.lastBucket != mixtypes.BucketPSChange {
		t.Fatalf("got bucket %v, want BucketPSChange", reserver.lastBucket)
	}
}

func TestDenominateReserverAdapterRoutesMainKeystore(t *testing.T) {
	reserver := &recordingReserver{}
	m := &Manager{reserver: reserver}
	a := denominateReserverAdapter{ctx: context.Background(), m: m}

	if _, err := a.Reserve("tag", false); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if reserver.lastBucket != mixtypes.BucketPSSpendable {
		t.Fatalf("got %v, want BucketPSSpendable for non-hw path", reserver.lastBucket)
	}

	if _, err := a.Reserve("tag", true); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if reserver.lastBucket != mixtypes.BucketSpendable {
		t.Fatalf("got %v, want BucketSpendable for main-keystore path", reserver.lastBucket)
	}
}

func TestWalletRemoverAdapterDelegates(t *testing.T) {
	b := &recordingBroadcaster{}
	m := &Manager{broadcaster: b}
	a := walletRemoverAdapter{ctx: context.Background(), m: m}

	hadTx, err := a.RemoveTx("deadbeef")
	if err != nil {
		t.Fatalf("RemoveTx: %v", err)
	}
	if !hadTx {
		t.Fatal("expected hadTx true from recordingBroadcaster")
	}
	if b.lastTxID != "deadbeef" {
		t.Fatalf("got txid %q", b.lastTxID)
	}
}

func TestRunFindUntrackedNoOpWithoutHistorySource(t *testing.T) {
	m := newTestManager()
	n, err := m.RunFindUntracked(context.Background())
	if err != nil {
		t.Fatalf("RunFindUntracked: %v", err)
	}
	if n != 0 {
		t.Fatalf("got %d, want 0 with no history source wired", n)
	}
	if got := m.State(); got != Ready {
		t.Fatalf("got state %s, want Ready", got)
	}
}

func TestRunFindUntrackedRejectsFromMixingState(t *testing.T) {
	m := newTestManager()
	m.state = Mixing
	_, err := m.RunFindUntracked(context.Background())
	if !errors.Is(err, ErrFindUntrackedRun) {
		t.Fatalf("got %v, want ErrFindUntrackedRun", err)
	}
}

// TestRunFindUntrackedClassifiesAndIsIdempotent checks discovery idempotence
// (spec §8 property 8): a wallet with one untracked NEW_DENOMS-shaped
// transaction is classified on the first discovery pass, and a second pass
// over the same unchanged history finds nothing new.
func TestRunFindUntrackedClassifiesAndIsIdempotent(t *testing.T) {
	store := denomstore.New(4)
	m := New(mixconfig.Default(), Deps{
		Store:   store,
		History: fakeHistory{tx: newDenomsObservedTx()},
	})

	n, err := m.RunFindUntracked(context.Background())
	if err != nil {
		t.Fatalf("RunFindUntracked: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d newly classified, want 1", n)
	}
	if got := m.State(); got != Ready {
		t.Fatalf("got state %s after discovery, want Ready", got)
	}
	if got := m.Status(context.Background()).FoundUntrackedTxs; got != 1 {
		t.Fatalf("got FoundUntrackedTxs %d after first pass, want 1", got)
	}

	again, err := m.RunFindUntracked(context.Background())
	if err != nil {
		t.Fatalf("second RunFindUntracked: %v", err)
	}
	if again != 0 {
		t.Fatalf("second pass over unchanged history found %d, want 0", again)
	}
	if got := m.Status(context.Background()).FoundUntrackedTxs; got != 1 {
		t.Fatalf("got FoundUntrackedTxs %d after idempotent second pass, want 1 (cumulative total unchanged)", got)
	}
}

func newDenomsObservedTx() discovery.ObservedTx {
	return discovery.ObservedTx{
		TxID: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Inputs: []discovery.TxInput{
			{Address: "seedAddr", Value: 5000000, IsMine: true},
		},
		Outputs: []discovery.TxOutput{
			{Address: "seedAddr", Value: 4000000},
			{Address: "a1", Value: mixtypes.MinDenomVal},
		},
	}
}

type fakeHistory struct {
	tx discovery.ObservedTx
}

func (f fakeHistory) WalletHistory(ctx context.Context) ([]discovery.ObservedTx, error) {
	return []discovery.ObservedTx{f.tx}, nil
}

func TestMaxInt(t *testing.T) {
	if maxInt(1, 4) != 4 {
		t.Fatal("maxInt(1,4) should be 4")
	}
	if maxInt(4, 1) != 4 {
		t.Fatal("maxInt(4,1) should be 4")
	}
}

// --- fakes ---

type fakeReadiness struct {
	watchingOnly bool
	connected    bool
	mnsSynced    bool
	llmqReady    bool
}

func (f fakeReadiness) NetworkConnected(ctx context.Context) bool      { return f.connected }
func (f fakeReadiness) MasternodeListSynced(ctx context.Context) bool { return f.mnsSynced }
func (f fakeReadiness) LLMQDataReady(ctx context.Context) bool        { return f.llmqReady }
func (f fakeReadiness) WatchingOnly() bool                            { return f.watchingOnly }

type fakeDenomsToMix map[string]mixtypes.Denom

func (f fakeDenomsToMix) DenomsToMix() map[string]mixtypes.Denom { return f }

type fakeDeriver struct{}

func (fakeDeriver) DeriveKeypairs(ctx context.Context, bucket mixtypes.KeypairBucket, count int) ([]walletiface.KeypairEntry, error) {
	out := make([]walletiface.KeypairEntry, count)
	for i := range out {
		out[i] = walletiface.KeypairEntry{Address: fmt.Sprintf("addr-%d-%d", bucket, i)}
	}
	return out, nil
}

type recordingReserver struct {
	lastBucket mixtypes.KeypairBucket
}

func (r *recordingReserver) Reserve(ctx context.Context, bucket mixtypes.KeypairBucket, tag string) (mixtypes.ReservedAddress, error) {
	r.lastBucket = bucket
	return mixtypes.ReservedAddress{Address: "addr-for-" + bucket.String()}, nil
}
func (r *recordingReserver) Release(ctx context.Context, addr mixtypes.ReservedAddress) error {
	return nil
}
func (r *recordingReserver) MarkUsed(ctx context.Context, addr mixtypes.ReservedAddress) error {
	return nil
}

type recordingBroadcaster struct {
	lastTxID string
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, tx *wire.Tx) (string, error) {
	return "", nil
}
func (b *recordingBroadcaster) HasConflictingSpend(ctx context.Context, inputs []mixtypes.Outpoint) (bool, error) {
	return false, nil
}
func (b *recordingBroadcaster) RemoveTx(ctx context.Context, txid string) (bool, error) {
	b.lastTxID = txid
	return true, nil
}

var _ walletiface.AddressReserver = (*recordingReserver)(nil)
var _ walletiface.Broadcaster = (*recordingBroadcaster)(nil)
