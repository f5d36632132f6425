package workflow

import (
	"fmt"

	"github.com/rawblock/mixcore/internal/denomstore"
	"github.com/rawblock/mixcore/internal/wire"
	"github.com/rawblock/mixcore/pkg/mixtypes"
)

// BuildNewDenoms turns a CalcNeedDenomsAmounts plan into a chain of
// transactions (spec §4.6.3): the first spends every coin in srcCoins and
// pays out plan[0]'s amounts plus change; each later list spends only the
// previous transaction's change output. Every denom output address and
// every change address is freshly reserved. Returns the workflow and the
// chain of transactions in broadcast order.
func BuildNewDenoms(store *denomstore.Store, srcCoins []RegularCoin, reserver AddressReserver, feePerKB mixtypes.Amount, plan [][]mixtypes.Amount) (*Workflow, []*wire.Tx, error) {
	if len(plan) == 0 {
		return nil, nil, fmt.Errorf("workflow: %w: empty new-denoms plan", ErrNotEnoughFunds)
	}

	wf := New(KindNewDenoms)
	txs := make([]*wire.Tx, 0, len(plan))

	var prevChangeOut wire.Outpoint
	var prevChangeVal mixtypes.Amount

	for i, amounts := range plan {
		var inputs []wire.TxIn
		var inTotal mixtypes.Amount
		inCnt := 1

		if i == 0 {
			inCnt = len(srcCoins)
			for _, c := range srcCoins {
				inputs = append(inputs, wire.TxIn{
					PrevOut:  wire.Outpoint{Hash: c.Outpoint.Hash, Vout: c.Outpoint.Vout},
					Sequence: 0xFFFFFFFF,
				})
				inTotal += c.Value
			}
		} else {
			inputs = []wire.TxIn{{PrevOut: prevChangeOut, Sequence: 0xFFFFFFFF}}
			inTotal = prevChangeVal
		}

		outputs := make([]wire.TxOut, 0, len(amounts)+1)
		for _, v := range amounts {
			addr, err := reserver.ReserveChange(fmt.Sprintf("newdenoms:%s:%d", wf.UUID, i))
			if err != nil {
				return nil, nil, err
			}
			script, err := p2pkhScript(addr)
			if err != nil {
				return nil, nil, err
			}
			outputs = append(outputs, wire.TxOut{Value: int64(v), PkScript: script})
			wf.ReserveAddress(store, mixtypes.ReservedAddress{Address: addr, ForChange: false, DataTag: wf.UUID})
		}

		var planTotal mixtypes.Amount
		for _, v := range amounts {
			planTotal += v
		}

		fee := EstimateFee(inCnt, len(amounts)+1, feePerKB, true)
		change := inTotal - planTotal - fee
		change, fee = foldDustChange(change, fee)
		if change < 0 {
			return nil, nil, fmt.Errorf("workflow: %w: new-denoms tx %d short by %d", ErrNotEnoughFunds, i, -change)
		}

		if change > 0 {
			addr, err := reserver.ReserveChange(fmt.Sprintf("newdenoms:%s:%d:change", wf.UUID, i))
			if err != nil {
				return nil, nil, err
			}
			script, err := p2pkhScript(addr)
			if err != nil {
				return nil, nil, err
			}
			outputs = append(outputs, wire.TxOut{Value: int64(change), PkScript: script})
			wf.ReserveAddress(store, mixtypes.ReservedAddress{Address: addr, ForChange: true, DataTag: wf.UUID})
		}

		tx := &wire.Tx{
			Version:  1,
			Inputs:   inputs,
			Outputs:  outputs,
			LockTime: 0,
		}

		txid, err := txidOf(tx)
		if err != nil {
			return nil, nil, err
		}
		wf.AddTx(txid, tx)
		txs = append(txs, tx)

		if i == 0 {
			for _, c := range srcCoins {
				wf.LockOutpoint(c.Outpoint.String())
			}
		} else {
			wf.LockOutpoint(mixtypes.Outpoint{Hash: prevChangeOut.Hash, Vout: prevChangeOut.Vout}.String())
		}

		if change > 0 {
			h, err := tx.TxHash()
			if err != nil {
				return nil, nil, err
			}
			prevChangeOut = wire.Outpoint{Hash: h, Vout: uint32(len(outputs) - 1)}
			prevChangeVal = change
		} else if i != len(plan)-1 {
			return nil, nil, fmt.Errorf("workflow: %w: new-denoms tx %d has no change to fund the next", ErrNotEnoughFunds, i)
		}
	}

	return wf, txs, nil
}
