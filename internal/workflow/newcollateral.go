package workflow

import (
	"fmt"

	"github.com/rawblock/mixcore/internal/denomstore"
	"github.com/rawblock/mixcore/internal/wire"
	"github.com/rawblock/mixcore/pkg/mixtypes"
)

// RegularCoin is a spendable, non-denominated, non-collateral input
// candidate for BuildNewCollateral.
type RegularCoin struct {
	Outpoint mixtypes.Outpoint
	Address  string
	Value    mixtypes.Amount
}

// BuildNewCollateral implements spec §4.6.2: a 1-input, 1-or-2-output tx
// paying CreateCollateralVal to a freshly reserved address, with change
// back to the input's own address when there's any left over. If the
// wallet has no regular coin but holds a MIN_DENOM_VAL denom, that denom
// may be consumed instead, producing the largest CreateCollateralVals-sized
// output that still leaves room for the fee; the rest of the denom goes to
// the fee.
func BuildNewCollateral(store *denomstore.Store, coin RegularCoin, fallbackDenom *mixtypes.Denom, reserver AddressReserver, feePerKB mixtypes.Amount) (*Workflow, *wire.Tx, error) {
	wf := New(KindNewCollateral)

	var input mixtypes.Outpoint
	var inputValue mixtypes.Amount
	var inputAddress string
	usingDenom := false

	switch {
	case coin.Value > 0:
		input = coin.Outpoint
		inputValue = coin.Value
		inputAddress = coin.Address
	case fallbackDenom != nil && fallbackDenom.Value == mixtypes.MinDenomVal:
		input = fallbackDenom.Outpoint
		inputValue = fallbackDenom.Value
		inputAddress = fallbackDenom.Address
		usingDenom = true
	default:
		return nil, nil, fmt.Errorf("workflow: %w: no regular coin or fallback denom for new collateral", ErrNotEnoughFunds)
	}

	addr, err := reserver.ReserveChange(input.String())
	if err != nil {
		return nil, nil, err
	}
	payScript, err := p2pkhScript(addr)
	if err != nil {
		return nil, nil, err
	}

	collateralOut := mixtypes.CreateCollateralVal
	if usingDenom {
		fee := EstimateFee(1, 1, feePerKB, false)
		collateralOut = 0
		for _, v := range mixtypes.CreateCollateralVals {
			if v <= inputValue-fee {
				collateralOut = v
			}
		}
		if collateralOut == 0 {
			return nil, nil, fmt.Errorf("workflow: %w: denom value cannot fund a collateral plus fee", ErrNotEnoughFunds)
		}
	}

	outputs := []wire.TxOut{{Value: int64(collateralOut), PkScript: payScript}}

	if !usingDenom {
		fee := EstimateFee(1, 2, feePerKB, false)
		change := inputValue - collateralOut - fee
		change, fee = foldDustChange(change, fee)
		if change > 0 {
			changeScript, err := p2pkhScript(inputAddress)
			if err != nil {
				return nil, nil, err
			}
			outputs = append(outputs, wire.TxOut{Value: int64(change), PkScript: changeScript})
		}
		if inputValue < collateralOut+fee {
			return nil, nil, fmt.Errorf("workflow: %w: input does not cover collateral plus fee", ErrNotEnoughFunds)
		}
	}

	tx := &wire.Tx{
		Version: 1,
		Inputs: []wire.TxIn{{
			PrevOut:  wire.Outpoint{Hash: input.Hash, Vout: input.Vout},
			Sequence: 0xFFFFFFFF,
		}},
		Outputs:  outputs,
		LockTime: 0,
	}

	if usingDenom {
		if err := store.MarkSpendingDenom(input.String(), wf.UUID); err != nil {
			return nil, nil, err
		}
	}
	wf.LockOutpoint(input.String())
	wf.ReserveAddress(store, mixtypes.ReservedAddress{Address: addr, ForChange: false, DataTag: wf.UUID})

	txid, err := txidOf(tx)
	if err != nil {
		return nil, nil, err
	}
	wf.AddTx(txid, tx)
	return wf, tx, nil
}
