package discovery

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/rawblock/mixcore/internal/denomstore"
	"github.com/rawblock/mixcore/pkg/mixtypes"
)

func hashFor(t *testing.T, txid string) chainhash.Hash {
	t.Helper()
	var h chainhash.Hash
	copy(h[:], []byte(txid))
	return h
}

func outpoint(t *testing.T, txid string, vout uint32) mixtypes.Outpoint {
	return mixtypes.Outpoint{Hash: hashFor(t, txid), Vout: vout}
}

type fakePSAddrs map[string]bool

func (f fakePSAddrs) IsPSAddress(ctx context.Context, address string) (bool, error) {
	return f[address], nil
}

func TestIsNewDenomsAcceptsLadderAscendingWithOptionalCollateral(t *testing.T) {
	store := denomstore.New(4)
	sc := NewScanner(store, fakePSAddrs{}, 4)

	parent := outpoint(t, "p1", 0)
	tx := ObservedTx{
		TxID: "tx1",
		Inputs: []TxInput{
			{Outpoint: parent, Address: "addrIn", Value: 5000000, IsMine: true},
		},
		Outputs: []TxOutput{
			{Address: "addrIn", Value: 4000000}, // change
			{Address: "a1", Value: mixtypes.MinDenomVal},
			{Address: "a2", Value: mixtypes.MinDenomVal},
			{Address: "a3", Value: 1000010},
		},
	}

	if !sc.isNewDenoms(tx) {
		t.Fatal("expected NEW_DENOMS match")
	}
}

func TestIsNewDenomsRejectsDecreasingLadderOrder(t *testing.T) {
	store := denomstore.New(4)
	sc := NewScanner(store, fakePSAddrs{}, 4)

	tx := ObservedTx{
		TxID: "tx1",
		Inputs: []TxInput{
			{Outpoint: outpoint(t, "p1", 0), Address: "addrIn", Value: 5000000, IsMine: true},
		},
		Outputs: []TxOutput{
			{Address: "a1", Value: 1000010},
			{Address: "a2", Value: mixtypes.MinDenomVal},
		},
	}

	if sc.isNewDenoms(tx) {
		t.Fatal("decreasing ladder order must not match NEW_DENOMS")
	}
}

func TestIsNewDenomsRejectsOtherInputs(t *testing.T) {
	store := denomstore.New(4)
	sc := NewScanner(store, fakePSAddrs{}, 4)

	tx := ObservedTx{
		TxID: "tx1",
		Inputs: []TxInput{
			{Outpoint: outpoint(t, "p1", 0), Address: "addrIn", Value: 5000000, IsMine: false},
		},
		Outputs: []TxOutput{
			{Address: "a1", Value: mixtypes.MinDenomVal},
		},
	}

	if sc.isNewDenoms(tx) {
		t.Fatal("non-mine input must reject NEW_DENOMS")
	}
}

func TestIsPayCollateralRequiresTrackedInputCollateral(t *testing.T) {
	store := denomstore.New(4)
	sc := NewScanner(store, fakePSAddrs{}, 4)

	in := outpoint(t, "collat", 0)
	tx := ObservedTx{
		TxID: "pay1",
		Inputs: []TxInput{
			{Outpoint: in, Address: "cAddr", Value: mixtypes.CollateralVal * 2, IsMine: true},
		},
		Outputs: []TxOutput{
			{Address: "change", Value: mixtypes.CollateralVal},
		},
	}

	if sc.isPayCollateral(tx) {
		t.Fatal("untracked collateral input must not match PAY_COLLATERAL")
	}

	if err := store.AddCollateral(mixtypes.Collateral{Outpoint: in, Address: "cAddr", Value: mixtypes.CollateralVal * 2, Confirmed: true}); err != nil {
		t.Fatalf("AddCollateral: %v", err)
	}

	if !sc.isPayCollateral(tx) {
		t.Fatal("tracked collateral input should match PAY_COLLATERAL")
	}
}

func TestIsPayCollateralAcceptsOpReturnSink(t *testing.T) {
	store := denomstore.New(4)
	sc := NewScanner(store, fakePSAddrs{}, 4)

	in := outpoint(t, "collat", 0)
	_ = store.AddCollateral(mixtypes.Collateral{Outpoint: in, Address: "cAddr", Value: mixtypes.CollateralVal, Confirmed: true})

	tx := ObservedTx{
		TxID: "pay1",
		Inputs: []TxInput{
			{Outpoint: in, Address: "cAddr", Value: mixtypes.CollateralVal, IsMine: true},
		},
		Outputs: []TxOutput{
			{Address: "", Value: 0, IsOpReturn: true},
		},
	}

	if !sc.isPayCollateral(tx) {
		t.Fatal("smallest collateral burned to OP_RETURN should match PAY_COLLATERAL")
	}
}

func TestIsDenominateRequiresEqualInOutAndTrackedDenoms(t *testing.T) {
	store := denomstore.New(4)
	sc := NewScanner(store, fakePSAddrs{}, 4)

	ins := []mixtypes.Outpoint{outpoint(t, "d1", 0), outpoint(t, "d2", 0), outpoint(t, "d3", 0)}
	for _, op := range ins {
		_ = store.AddDenom(mixtypes.Denom{Outpoint: op, Address: "a", Value: mixtypes.MinDenomVal, Rounds: 1, Confirmed: true})
	}

	tx := ObservedTx{
		TxID: "dn1",
		Inputs: []TxInput{
			{Outpoint: ins[0], Address: "a", Value: mixtypes.MinDenomVal, IsMine: true},
			{Outpoint: ins[1], Address: "a", Value: mixtypes.MinDenomVal, IsMine: true},
			{Outpoint: ins[2], Address: "a", Value: mixtypes.MinDenomVal, IsMine: false},
		},
		Outputs: []TxOutput{
			{Address: "b1", Value: mixtypes.MinDenomVal},
			{Address: "b2", Value: mixtypes.MinDenomVal},
			{Address: "b3", Value: mixtypes.MinDenomVal},
		},
	}

	if !sc.isDenominate(tx) {
		t.Fatal("expected DENOMINATE match")
	}
}

func TestIsDenominateRejectsMixedDenomValues(t *testing.T) {
	store := denomstore.New(4)
	sc := NewScanner(store, fakePSAddrs{}, 4)

	tx := ObservedTx{
		TxID: "dn1",
		Inputs: []TxInput{
			{Outpoint: outpoint(t, "d1", 0), Address: "a", Value: mixtypes.MinDenomVal, IsMine: true},
			{Outpoint: outpoint(t, "d2", 0), Address: "a", Value: 1000010, IsMine: true},
			{Outpoint: outpoint(t, "d3", 0), Address: "a", Value: mixtypes.MinDenomVal, IsMine: false},
		},
		Outputs: []TxOutput{
			{Value: mixtypes.MinDenomVal},
			{Value: mixtypes.MinDenomVal},
			{Value: mixtypes.MinDenomVal},
		},
	}

	if sc.isDenominate(tx) {
		t.Fatal("mismatched input values must not match DENOMINATE")
	}
}

func TestIsPrivateSendRequiresMatureRounds(t *testing.T) {
	store := denomstore.New(4)
	sc := NewScanner(store, fakePSAddrs{}, 4)

	op := outpoint(t, "d1", 0)
	_ = store.AddDenom(mixtypes.Denom{Outpoint: op, Address: "a", Value: mixtypes.MinDenomVal, Rounds: 2, Confirmed: true})

	tx := ObservedTx{
		TxID: "ps1",
		Inputs: []TxInput{
			{Outpoint: op, Address: "a", Value: mixtypes.MinDenomVal, IsMine: true},
		},
		Outputs: []TxOutput{
			{Address: "out", Value: mixtypes.MinDenomVal},
		},
	}

	if sc.isPrivateSend(tx) {
		t.Fatal("rounds below mix_rounds must not match PRIVATESEND")
	}

	_ = store.IncrementRounds(op.String())
	_ = store.IncrementRounds(op.String())
	if !sc.isPrivateSend(tx) {
		t.Fatal("expected PRIVATESEND once rounds reach the floor")
	}
}

func TestIsSpendPSCoinsRequiresTrackedInput(t *testing.T) {
	store := denomstore.New(4)
	sc := NewScanner(store, fakePSAddrs{}, 4)

	tx := ObservedTx{
		TxID: "spend1",
		Inputs: []TxInput{
			{Outpoint: outpoint(t, "untracked", 0), Address: "a", Value: 123456, IsMine: true},
		},
		Outputs: []TxOutput{{Address: "out", Value: 50000}},
	}
	if sc.isSpendPSCoins(tx) {
		t.Fatal("untracked input must not match SPEND_PS_COINS")
	}

	op := outpoint(t, "other1", 0)
	store.AddOtherCoin(mixtypes.OtherCoin{Outpoint: op, Address: "a", Value: 123456})
	tx.Inputs[0].Outpoint = op

	if !sc.isSpendPSCoins(tx) {
		t.Fatal("tracked other-coin input should match SPEND_PS_COINS")
	}
}

func TestMatchesOtherPSCoinsChecksOutputAddresses(t *testing.T) {
	store := denomstore.New(4)
	sc := NewScanner(store, fakePSAddrs{"psAddr": true}, 4)

	tx := ObservedTx{
		TxID:    "deposit1",
		Outputs: []TxOutput{{Address: "regular", Value: 1000}, {Address: "psAddr", Value: 2000}},
	}
	if !sc.matchesOtherPSCoins(context.Background(), tx) {
		t.Fatal("expected OTHER_PS_COINS match on psAddr output")
	}

	tx.Outputs = []TxOutput{{Address: "regular", Value: 1000}}
	if sc.matchesOtherPSCoins(context.Background(), tx) {
		t.Fatal("no PS-bucket outputs should not match")
	}
}

// TestRunFixedPointChainsNewDenomsThenPayCollateral checks the fixed-point
// iteration: a NEW_DENOMS tx produces a collateral output that a later
// PAY_COLLATERAL tx spends. The collateral output is only legal (per the
// chaining rule) if NEW_DENOMS itself has already been classified, so with
// the history given as [payCollateral, newDenoms] a single Run call must
// iterate until both resolve, and a second Run on the same data must find
// nothing new (idempotence, spec §8 property 8).
func TestRunFixedPointChainsNewDenomsThenPayCollateral(t *testing.T) {
	store := denomstore.New(4)
	sc := NewScanner(store, fakePSAddrs{}, 4)

	seed := outpoint(t, "seed", 0)
	newDenomsID := hashFor(t, "newdenoms1").String()
	newDenoms := ObservedTx{
		TxID: newDenomsID,
		Inputs: []TxInput{
			{Outpoint: seed, Address: "seedAddr", Value: mixtypes.CreateCollateralVal + mixtypes.MinDenomVal, IsMine: true},
		},
		Outputs: []TxOutput{
			{Address: "d1", Value: mixtypes.MinDenomVal},
			{Address: "c1", Value: mixtypes.CreateCollateralVal},
		},
	}

	newDenomsCollateral := outpoint(t, "newdenoms1", 1)
	payCollateral := ObservedTx{
		TxID: "paycollateral1",
		Inputs: []TxInput{
			{Outpoint: newDenomsCollateral, Address: "c1", Value: mixtypes.CreateCollateralVal, IsMine: true},
		},
		Outputs: []TxOutput{
			{Address: "change", Value: mixtypes.CreateCollateralVal - mixtypes.CollateralVal},
		},
	}

	txs := []ObservedTx{payCollateral, newDenoms}

	results, err := sc.Run(context.Background(), txs, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 newly classified txs, got %d: %+v", len(results), results)
	}

	gotTypes := map[string]mixtypes.PsTxType{}
	for _, r := range results {
		gotTypes[r.TxID] = r.Type
	}
	if gotTypes[newDenomsID] != mixtypes.PsTxNewDenoms {
		t.Fatalf("newdenoms1 classified as %v, want NEW_DENOMS", gotTypes[newDenomsID])
	}
	if gotTypes["paycollateral1"] != mixtypes.PsTxPayCollateral {
		t.Fatalf("paycollateral1 classified as %v, want PAY_COLLATERAL", gotTypes["paycollateral1"])
	}

	again, err := sc.Run(context.Background(), txs, nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second Run over the same history must find 0 new txs, got %d", len(again))
	}
}
