package workflow

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"

	"github.com/rawblock/mixcore/internal/denomstore"
	"github.com/rawblock/mixcore/internal/wire"
	"github.com/rawblock/mixcore/pkg/mixtypes"
)

// AddressReserver is the narrow slice of walletiface.AddressReserver this
// package needs, kept local to avoid an import cycle with the interface
// package's broader surface.
type AddressReserver interface {
	ReserveChange(tag string) (address string, err error)
}

// BuildPayCollateral implements spec §4.6.1: a single tx spending one
// confirmed collateral, paying change back (minus CollateralVal) when the
// collateral is large enough to have change left over, else burning the
// difference to an OP_RETURN output. Sequence is 0xFFFFFFFF, locktime 0.
// The resulting tx is not broadcast by this workflow; the caller hands it
// to the mix session.
func BuildPayCollateral(store *denomstore.Store, reserver AddressReserver) (*Workflow, *wire.Tx, error) {
	collateral, ok := store.AnyConfirmedCollateral()
	if !ok {
		return nil, nil, fmt.Errorf("workflow: %w: no confirmed collateral", ErrNotEnoughFunds)
	}

	wf := New(KindPayCollateral)

	if err := store.MarkSpendingCollateral(collateral.Outpoint.String(), wf.UUID); err != nil {
		return nil, nil, err
	}
	wf.LockOutpoint(collateral.Outpoint.String())

	tx := &wire.Tx{
		Version: 1,
		Inputs: []wire.TxIn{{
			PrevOut:  wire.Outpoint{Hash: collateral.Outpoint.Hash, Vout: collateral.Outpoint.Vout},
			Sequence: 0xFFFFFFFF,
		}},
		LockTime: 0,
	}

	if collateral.Value >= 2*mixtypes.CollateralVal {
		changeValue := collateral.Value - mixtypes.CollateralVal
		addr, err := reserver.ReserveChange(collateral.Outpoint.String())
		if err != nil {
			return nil, nil, err
		}
		script, err := p2pkhScript(addr)
		if err != nil {
			return nil, nil, err
		}
		tx.Outputs = []wire.TxOut{{Value: int64(changeValue), PkScript: script}}
		wf.ReserveAddress(store, mixtypes.ReservedAddress{Address: addr, ForChange: true, DataTag: collateral.Outpoint.String()})
	} else {
		tx.Outputs = []wire.TxOut{{Value: 0, PkScript: opReturnScript(nil)}}
	}

	txid, err := txidOf(tx)
	if err != nil {
		return nil, nil, err
	}
	wf.AddTx(txid, tx)
	return wf, tx, nil
}

func p2pkhScript(address string) ([]byte, error) {
	addr, err := decodeAddress(address)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// P2PKHScript exposes p2pkhScript for callers outside this package that
// need to build a standard pay-to-address output against the same active
// network (mixsession, assembling a session's own outputs).
func P2PKHScript(address string) ([]byte, error) {
	return p2pkhScript(address)
}

func opReturnScript(data []byte) []byte {
	b := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN)
	if len(data) > 0 {
		b = b.AddData(data)
	}
	script, err := b.Script()
	if err != nil {
		// OP_RETURN with no/short data never fails to build.
		return []byte{txscript.OP_RETURN}
	}
	return script
}
