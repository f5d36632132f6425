package workflow

import (
	"math"

	"github.com/rawblock/mixcore/pkg/mixtypes"
)

// ladderAscending is mixtypes.Ladder smallest-to-largest, the order
// find_denoms_approx walks when filling a new-denoms plan.
func ladderAscending() []mixtypes.Amount {
	out := make([]mixtypes.Amount, len(mixtypes.Ladder))
	for i, v := range mixtypes.Ladder {
		out[len(out)-1-i] = v
	}
	return out
}

// findDenomsApprox greedily fills successive output lists with up to
// MaxNewDenomsPerValue copies of each ladder value, ascending, until the
// running total would overflow needAmount. Overflowing on the smallest
// ladder value forces one final addition and stops; overflowing on any
// larger value just moves on to the next (and, once every value has been
// tried for this pass, starts a fresh output list carrying the running
// total forward) — so a single call can return several chained lists
// (spec §4.6.3, the S3 scenario).
func findDenomsApprox(needAmount mixtypes.Amount) [][]mixtypes.Amount {
	if needAmount < mixtypes.CollateralVal {
		return nil
	}

	var denomsAmounts [][]mixtypes.Amount
	var denomsTotal mixtypes.Amount
	approxFound := false
	ladder := ladderAscending()
	minDenomVal := ladder[0]

	for !approxFound {
		var cur []mixtypes.Amount
		for _, dval := range ladder {
			for dn := 0; dn < mixtypes.MaxNewDenomsPerValue; dn++ {
				if denomsTotal+dval > needAmount {
					if dval == minDenomVal {
						approxFound = true
						denomsTotal += dval
						cur = append(cur, dval)
					}
					break
				}
				denomsTotal += dval
				cur = append(cur, dval)
			}
			if approxFound {
				break
			}
		}
		denomsAmounts = append(denomsAmounts, cur)
	}
	return denomsAmounts
}

// RoundCounter reports how many of the wallet's existing denoms carry at
// least minRounds mixing rounds, the bookkeeping query calcNeedSignCnt
// needs once per round threshold.
type RoundCounter func(minRounds int) int

// calcNeedSignCnt implements spec §4.5's sizing formula: a future
// pay-collateral transaction is needed for roughly one in eleven mixing
// rounds, a future new-collateral transaction for one in four of those,
// and three in four pay-collaterals spend a change output rather than
// burn to OP_RETURN.
func calcNeedSignCnt(oldDenomsCnt, newDenomsCnt, mixRounds int, atLeastRound RoundCounter, oldCollateralsVal mixtypes.Amount) (needSignCnt, needSignChangeCnt, newCollateralCnt int) {
	totalDenomsCnt := oldDenomsCnt + newDenomsCnt
	signDenomsCnt := 0
	nextRoundsDenomsCnt := 0
	for r := 1; r < mixRounds; r++ {
		nextRoundsDenomsCnt = atLeastRound(r + 1)
		signDenomsCnt += totalDenomsCnt - nextRoundsDenomsCnt
	}
	signDenomsCnt += totalDenomsCnt - nextRoundsDenomsCnt

	payCollateralCnt := int(math.Ceil(float64(signDenomsCnt) / 10 / 1.1))
	newCollateralCnt = int(math.Ceil(float64(payCollateralCnt) * 0.25))
	needSignChangeCnt = int(math.Ceil(float64(payCollateralCnt) * 0.75))

	oldCollateralsCnt := int(oldCollateralsVal / mixtypes.CreateCollateralVal)
	newCollateralCnt -= oldCollateralsCnt
	if newCollateralCnt < 0 {
		newCollateralCnt = 0
	}

	signDenomsCnt += totalDenomsCnt - oldDenomsCnt
	needSignCnt = signDenomsCnt + newCollateralCnt
	return
}

// calcTotalNeedVal implements spec §4.6.3's affordability check: the value
// and fee of every planned new-denoms tx, plus the value and fee of the
// future new-collateral transactions this batch of denoms will eventually
// need. When the wallet has no collateral yet, the first planned new-denoms
// tx is made to also seed one by inserting CreateCollateralVal at the front
// of its output list, and the future collateral count drops by one to
// account for it.
func calcTotalNeedVal(txinCnt int, outputsAmounts [][]mixtypes.Amount, feePerKB mixtypes.Amount, oldDenomsCnt, mixRounds int, atLeastRound RoundCounter, oldCollateralsVal mixtypes.Amount, hasExistingCollateral bool) (mixtypes.Amount, [][]mixtypes.Amount) {
	res := make([][]mixtypes.Amount, len(outputsAmounts))
	var newDenomsVal mixtypes.Amount
	newDenomsCnt := 0
	for i, a := range outputsAmounts {
		res[i] = append([]mixtypes.Amount(nil), a...)
		for _, v := range a {
			newDenomsVal += v
		}
		newDenomsCnt += len(a)
	}

	_, _, newCollateralCnt := calcNeedSignCnt(oldDenomsCnt, newDenomsCnt, mixRounds, atLeastRound, oldCollateralsVal)
	if !hasExistingCollateral && len(res) > 0 {
		newCollateralCnt--
		res[0] = append([]mixtypes.Amount{mixtypes.CreateCollateralVal}, res[0]...)
	}
	newCollateralsVal := mixtypes.CreateCollateralVal * mixtypes.Amount(newCollateralCnt)

	var newDenomsFee mixtypes.Amount
	for i, amounts := range res {
		if i == 0 {
			newDenomsFee += EstimateFee(txinCnt, len(amounts)+1, feePerKB, true)
		} else {
			newDenomsFee += EstimateFee(1, len(amounts)+1, feePerKB, true)
		}
	}

	newCollateralFee := EstimateFee(1, 2, feePerKB, true)
	newCollateralsFee := newCollateralFee * mixtypes.Amount(newCollateralCnt)

	totalNeedVal := newDenomsVal + newDenomsFee + newCollateralsVal + newCollateralsFee
	return totalNeedVal, res
}

// DenomsPlanInput bundles the wallet-side figures CalcNeedDenomsAmounts
// needs: none of it lives in this package, all of it comes from the host
// wallet and denomstore.Store.
type DenomsPlanInput struct {
	KeepAmountCoins       int64 // mixconfig.Config.KeepAmount
	OldDenomsVal          mixtypes.Amount
	OldDenomsCnt          int
	CoinsVal              mixtypes.Amount
	CoinsCnt              int
	FeePerKB              mixtypes.Amount
	MixRounds             int
	AtLeastRound          RoundCounter
	OldCollateralsVal     mixtypes.Amount
	HasExistingCollateral bool
	OnKeepAmount          bool
}

// CalcNeedDenomsAmounts implements spec §4.6.3's new-denoms planning
// algorithm in full: compute the target value (keep_amount plus one fresh
// collateral, minus what's already denominated), fill it greedily via
// findDenomsApprox, and if the wallet can't actually afford that plan plus
// its future collateral overhead, shrink the target by one minimum denom
// at a time until it fits (or give up once the target would fall below a
// single collateral).
func CalcNeedDenomsAmounts(in DenomsPlanInput) [][]mixtypes.Amount {
	needVal := mixtypes.Amount(in.KeepAmountCoins)*mixtypes.HaksPerCoin + mixtypes.CreateCollateralVal
	if needVal < in.OldDenomsVal {
		return nil
	}
	if in.CoinsVal < mixtypes.MinDenomVal && !in.OnKeepAmount {
		return nil
	}

	approxVal := needVal - in.OldDenomsVal
	outputs := findDenomsApprox(approxVal)
	totalNeed, outputs := calcTotalNeedVal(in.CoinsCnt, outputs, in.FeePerKB, in.OldDenomsCnt, in.MixRounds, in.AtLeastRound, in.OldCollateralsVal, in.HasExistingCollateral)
	if in.OnKeepAmount || in.CoinsVal >= totalNeed {
		return outputs
	}

	approxVal = in.CoinsVal
	for {
		if approxVal < mixtypes.CreateCollateralVal {
			return nil
		}
		outputs = findDenomsApprox(approxVal)
		totalNeed, outputs = calcTotalNeedVal(in.CoinsCnt, outputs, in.FeePerKB, in.OldDenomsCnt, in.MixRounds, in.AtLeastRound, in.OldCollateralsVal, in.HasExistingCollateral)
		if in.CoinsVal >= totalNeed {
			return outputs
		}
		approxVal -= mixtypes.Ladder[len(mixtypes.Ladder)-1] // MinDenomVal
	}
}
