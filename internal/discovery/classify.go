package discovery

import (
	"context"

	"github.com/rawblock/mixcore/pkg/mixtypes"
)

// classify attempts every structural pattern, first match wins, in the
// fixed order spec §4.9 names: DENOMINATE, PAY_COLLATERAL, NEW_COLLATERAL,
// NEW_DENOMS, OTHER_PS_COINS, PRIVATESEND, SPEND_PS_COINS.
func (s *Scanner) classify(tx ObservedTx) mixtypes.PsTxType {
	if s.isDenominate(tx) {
		return mixtypes.PsTxDenominate
	}
	if s.isPayCollateral(tx) {
		return mixtypes.PsTxPayCollateral
	}
	if s.isNewCollateral(tx) {
		return mixtypes.PsTxNewCollateral
	}
	if s.isNewDenoms(tx) {
		return mixtypes.PsTxNewDenoms
	}
	if s.matchesOtherPSCoins(context.Background(), tx) {
		return mixtypes.PsTxOtherPSCoins
	}
	if s.isPrivateSend(tx) {
		return mixtypes.PsTxPrivateSend
	}
	if s.isSpendPSCoins(tx) {
		return mixtypes.PsTxSpendPSCoins
	}
	return mixtypes.PsTxUnknown
}

func ioCounts(tx ObservedTx) (mineIn, otherIn, opReturnOut int) {
	for _, in := range tx.Inputs {
		if in.IsMine {
			mineIn++
		} else {
			otherIn++
		}
	}
	for _, o := range tx.Outputs {
		if o.IsOpReturn {
			opReturnOut++
		}
	}
	return
}

// isNewDenoms implements spec §4.9's NEW_DENOMS rule: all mine-inputs, no
// OP_RETURN, at most one change output, denom outputs non-decreasing by
// ladder order with at most MaxNewDenomsPerValue repeats, an optional
// single CreateCollateralVal collateral output.
func (s *Scanner) isNewDenoms(tx ObservedTx) bool {
	mineIn, otherIn, opReturnOut := ioCounts(tx)
	if otherIn > 0 || opReturnOut > 0 || mineIn == 0 {
		return false
	}
	if len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
		return false
	}

	txin0 := tx.Inputs[0]
	txin0Type, _ := s.Classified(txin0.Outpoint.Hash.String())

	changeCnt := 0
	changeCnt2 := 0
	for _, o := range tx.Outputs {
		if o.Address == txin0.Address {
			changeCnt++
		}
		if !isPSVal(o.Value) {
			changeCnt2++
		}
	}
	if changeCnt2 > changeCnt {
		changeCnt = changeCnt2
	}
	if changeCnt > 1 {
		return false
	}

	collateralCnt := 0
	denomsCnt := 0
	dvalCnt := 0
	lastDenomVal := mixtypes.MinDenomVal

	for _, o := range tx.Outputs {
		if o.Address == txin0.Address {
			continue
		}
		val := o.Value
		switch {
		case mixtypes.IsCollateralVal(val):
			if collateralCnt > 0 {
				return false
			}
			if val == mixtypes.CreateCollateralVal {
				collateralCnt++
			} else if changeCnt > 0 {
				return false
			} else if len(tx.Inputs) > 1 {
				return false
			} else if !isChainableParent(txin0Type) {
				return false
			} else {
				collateralCnt++
			}
		case mixtypes.IsDenom(val):
			switch {
			case val < lastDenomVal:
				return false
			case val == lastDenomVal:
				dvalCnt++
				if dvalCnt > mixtypes.MaxNewDenomsPerValue {
					return false
				}
			default:
				dvalCnt = 1
				lastDenomVal = val
			}
			denomsCnt++
		default:
			return false
		}
	}
	return denomsCnt >= 1
}

// isNewCollateral implements spec §4.9's NEW_COLLATERAL rule: all
// mine-inputs, one CreateCollateralVal output, at most one change, at most
// two outputs total.
func (s *Scanner) isNewCollateral(tx ObservedTx) bool {
	mineIn, otherIn, opReturnOut := ioCounts(tx)
	if otherIn > 0 || opReturnOut > 0 || mineIn == 0 {
		return false
	}
	if len(tx.Outputs) > 2 || len(tx.Inputs) == 0 {
		return false
	}

	txin0 := tx.Inputs[0]
	txin0Type, _ := s.Classified(txin0.Outpoint.Hash.String())

	changeCnt := 0
	changeCnt2 := 0
	for _, o := range tx.Outputs {
		if o.Address == txin0.Address {
			changeCnt++
		}
		if !mixtypes.IsCollateralVal(o.Value) {
			changeCnt2++
		}
	}
	if changeCnt2 > changeCnt {
		changeCnt = changeCnt2
	}
	if changeCnt > 1 {
		return false
	}

	collateralCnt := 0
	for _, o := range tx.Outputs {
		if o.Address == txin0.Address {
			continue
		}
		if !mixtypes.IsCollateralVal(o.Value) {
			return false
		}
		if collateralCnt > 0 {
			return false
		}
		if o.Value == mixtypes.CreateCollateralVal {
			collateralCnt++
		} else if changeCnt > 0 {
			return false
		} else if len(tx.Inputs) > 1 {
			return false
		} else if !isChainableParent(txin0Type) {
			return false
		} else {
			collateralCnt++
		}
	}
	return collateralCnt >= 1
}

func isChainableParent(t mixtypes.PsTxType) bool {
	switch t {
	case mixtypes.PsTxOtherPSCoins, mixtypes.PsTxNewDenoms, mixtypes.PsTxDenominate:
		return true
	default:
		return false
	}
}

// isPayCollateral implements spec §4.9's PAY_COLLATERAL rule: exactly one
// input from CreateCollateralVals, exactly one output that's either a
// zero-value OP_RETURN or input-CollateralVal and itself in
// CreateCollateralVals minus the largest entry.
func (s *Scanner) isPayCollateral(tx ObservedTx) bool {
	mineIn, otherIn, _ := ioCounts(tx)
	if otherIn > 0 || mineIn != 1 || len(tx.Outputs) != 1 {
		return false
	}

	in0 := tx.Inputs[0]
	if !mixtypes.IsCollateralVal(in0.Value) {
		return false
	}

	out0 := tx.Outputs[0]
	if out0.IsOpReturn {
		if out0.Value != 0 {
			return false
		}
	} else if !isBelowMaxCollateralVal(out0.Value) {
		return false
	}
	if out0.Value != in0.Value-mixtypes.CollateralVal {
		return false
	}

	_, tracked := s.store.Collateral(in0.Outpoint.String())
	return tracked
}

func isBelowMaxCollateralVal(v mixtypes.Amount) bool {
	for _, c := range mixtypes.CreateCollateralVals[:len(mixtypes.CreateCollateralVals)-1] {
		if c == v {
			return true
		}
	}
	return false
}

// isDenominate implements spec §4.9's DENOMINATE rule: equal input/output
// counts in [PoolMinParticipants, PoolMaxParticipants*PrivateSendEntryMaxSize],
// every mine-input and every output equal to one ladder value, no
// OP_RETURN, at least one mine-input already tracked as a denom.
func (s *Scanner) isDenominate(tx ObservedTx) bool {
	mineIn, _, opReturnOut := ioCounts(tx)
	if len(tx.Inputs) != len(tx.Outputs) {
		return false
	}
	if len(tx.Inputs) < mixtypes.PoolMinParticipants {
		return false
	}
	if len(tx.Inputs) > mixtypes.PoolMaxParticipants*mixtypes.PrivateSendEntryMaxSize {
		return false
	}
	if mineIn < 1 || opReturnOut > 0 {
		return false
	}

	var denomVal mixtypes.Amount = -1
	for _, in := range tx.Inputs {
		if !in.IsMine {
			continue
		}
		if denomVal == -1 {
			denomVal = in.Value
			if !mixtypes.IsDenom(denomVal) {
				return false
			}
		} else if in.Value != denomVal {
			return false
		}
	}
	for _, o := range tx.Outputs {
		if o.Value != denomVal {
			return false
		}
	}

	for _, in := range tx.Inputs {
		if !in.IsMine {
			continue
		}
		if _, ok := s.store.Denom(in.Outpoint.String()); !ok {
			return false
		}
	}
	return true
}

// isPrivateSend implements spec §4.9's PRIVATESEND rule: all mine-inputs
// from mature denoms with rounds >= mix_rounds, no OP_RETURN, exactly one
// output.
func (s *Scanner) isPrivateSend(tx ObservedTx) bool {
	_, otherIn, opReturnOut := ioCounts(tx)
	if otherIn > 0 || opReturnOut > 0 || len(tx.Outputs) != 1 {
		return false
	}
	if len(tx.Inputs) == 0 {
		return false
	}
	for _, in := range tx.Inputs {
		if !mixtypes.IsDenom(in.Value) {
			return false
		}
		d, ok := s.store.Denom(in.Outpoint.String())
		if !ok {
			return false
		}
		if d.Rounds < s.minMixRounds {
			return false
		}
	}
	return true
}

// isSpendPSCoins implements spec §4.9's SPEND_PS_COINS rule: all
// mine-inputs, at least one from a tracked denom/collateral/other.
func (s *Scanner) isSpendPSCoins(tx ObservedTx) bool {
	mineIn, otherIn, _ := ioCounts(tx)
	if otherIn > 0 || mineIn == 0 {
		return false
	}
	for _, in := range tx.Inputs {
		if s.isTracked(in.Outpoint.String()) {
			return true
		}
	}
	return false
}

// matchesOtherPSCoins implements spec §4.9's OTHER_PS_COINS rule: at least
// one output pays an address in the PS-addresses set.
func (s *Scanner) matchesOtherPSCoins(ctx context.Context, tx ObservedTx) bool {
	if s.psAddrs == nil {
		return false
	}
	for _, o := range tx.Outputs {
		isPS, err := s.psAddrs.IsPSAddress(ctx, o.Address)
		if err == nil && isPS {
			return true
		}
	}
	return false
}

func isPSVal(v mixtypes.Amount) bool {
	return mixtypes.IsDenom(v) || mixtypes.IsCollateralVal(v)
}
