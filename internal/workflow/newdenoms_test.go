package workflow

import (
	"testing"

	"github.com/rawblock/mixcore/pkg/mixtypes"
)

func amounts(vals ...[2]int64) []mixtypes.Amount {
	var out []mixtypes.Amount
	for _, v := range vals {
		for i := int64(0); i < v[1]; i++ {
			out = append(out, mixtypes.Amount(v[0]))
		}
	}
	return out
}

func equalAmounts(t *testing.T, got, want []mixtypes.Amount) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d\ngot:  %v\nwant: %v", len(got), len(want), got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("index %d mismatch: got %d want %d\ngot:  %v\nwant: %v", i, got[i], want[i], got, want)
		}
	}
}

// TestFindDenomsApproxKeepAmountTwo reproduces the keep_amount=2 new-denoms
// plan scenario: starting from zero existing denoms, the ladder is filled
// ascending, capping at eleven outputs per value, until the running total
// can no longer absorb a full cycle without forcing one final minimum-value
// output.
func TestFindDenomsApproxKeepAmountTwo(t *testing.T) {
	const keepAmountHaks = 2 * int64(mixtypes.HaksPerCoin)
	needVal := mixtypes.Amount(keepAmountHaks) + mixtypes.CreateCollateralVal
	got := findDenomsApprox(needVal)

	want := [][]mixtypes.Amount{
		amounts([2]int64{100001, 11}, [2]int64{1000010, 11}, [2]int64{10000100, 11}),
		amounts([2]int64{100001, 11}, [2]int64{1000010, 11}, [2]int64{10000100, 6}),
		amounts([2]int64{100001, 11}, [2]int64{1000010, 4}),
		amounts([2]int64{100001, 8}),
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d chained transactions, got %d", len(want), len(got))
	}
	for i := range want {
		equalAmounts(t, got[i], want[i])
	}
}

// TestCalcNeedDenomsAmountsInsertsCreateCollateral reproduces the full
// planning path: with unlimited spendable funds and no existing collateral,
// the first transaction's output list gains a leading CreateCollateralVal
// entry to seed the wallet's first collateral alongside its denoms.
func TestCalcNeedDenomsAmountsInsertsCreateCollateral(t *testing.T) {
	plan := CalcNeedDenomsAmounts(DenomsPlanInput{
		KeepAmountCoins:       2,
		OldDenomsVal:          0,
		OldDenomsCnt:          0,
		CoinsVal:              1000 * mixtypes.HaksPerCoin,
		CoinsCnt:              1,
		FeePerKB:              1000,
		MixRounds:             4,
		AtLeastRound:          func(int) int { return 0 },
		OldCollateralsVal:     0,
		HasExistingCollateral: false,
		OnKeepAmount:          false,
	})

	if len(plan) != 4 {
		t.Fatalf("expected 4 chained transactions, got %d: %v", len(plan), plan)
	}
	if plan[0][0] != mixtypes.CreateCollateralVal {
		t.Fatalf("expected plan[0][0] == CreateCollateralVal (%d), got %d", mixtypes.CreateCollateralVal, plan[0][0])
	}

	want0 := append([]mixtypes.Amount{mixtypes.CreateCollateralVal},
		amounts([2]int64{100001, 11}, [2]int64{1000010, 11}, [2]int64{10000100, 11})...)
	equalAmounts(t, plan[0], want0)
}

// TestCalcNeedDenomsAmountsAlreadySatisfied covers the early-return path:
// when existing denoms already meet or exceed the keep_amount target, no
// new-denoms plan is produced.
func TestCalcNeedDenomsAmountsAlreadySatisfied(t *testing.T) {
	plan := CalcNeedDenomsAmounts(DenomsPlanInput{
		KeepAmountCoins: 2,
		OldDenomsVal:    1000 * mixtypes.HaksPerCoin,
		CoinsVal:        10 * mixtypes.HaksPerCoin,
		CoinsCnt:        1,
		FeePerKB:        1000,
		MixRounds:       4,
		AtLeastRound:    func(int) int { return 0 },
	})
	if plan != nil {
		t.Fatalf("expected nil plan when old denoms already satisfy keep_amount, got %v", plan)
	}
}

// TestCalcNeedDenomsAmountsInsufficientFunds covers the funds-shrinking
// loop: a wallet with just enough for one minimum denom and a collateral
// gets a plan sized to what it can actually afford, not the full
// keep_amount target.
func TestCalcNeedDenomsAmountsInsufficientFunds(t *testing.T) {
	coinsVal := mixtypes.MinDenomVal + mixtypes.CreateCollateralVal + 10000
	plan := CalcNeedDenomsAmounts(DenomsPlanInput{
		KeepAmountCoins: 2,
		OldDenomsVal:    0,
		CoinsVal:        coinsVal,
		CoinsCnt:        1,
		FeePerKB:        1000,
		MixRounds:       4,
		AtLeastRound:    func(int) int { return 0 },
	})
	if len(plan) == 0 {
		t.Fatalf("expected a reduced plan, got none")
	}
	var total mixtypes.Amount
	for _, a := range plan {
		for _, v := range a {
			total += v
		}
	}
	if total > coinsVal {
		t.Fatalf("planned output total %d exceeds available funds %d", total, coinsVal)
	}
}
