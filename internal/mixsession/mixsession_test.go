package mixsession

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/rawblock/mixcore/internal/netcfg"
	"github.com/rawblock/mixcore/internal/wire"
	"github.com/rawblock/mixcore/internal/workflow"
	"github.com/rawblock/mixcore/pkg/mixtypes"
)

func testDenom(seed byte, value mixtypes.Amount, addr string) mixtypes.Denom {
	var h chainhash.Hash
	h[0] = seed
	return mixtypes.Denom{
		Outpoint:  mixtypes.Outpoint{Hash: h, Vout: 0},
		Address:   addr,
		Value:     value,
		Confirmed: true,
	}
}

// testAddress builds a valid pay-to-pubkey-hash address under the active
// network so decodeAddress/P2PKHScript accept it, without hardcoding a
// base58 string tied to one particular network's prefix byte.
func testAddress(t *testing.T, seed byte) string {
	t.Helper()
	var h [20]byte
	h[0] = seed
	addr, err := btcutil.NewAddressPubKeyHash(h[:], netcfg.MainNetParams.Chain)
	if err != nil {
		t.Fatalf("build test address: %v", err)
	}
	return addr.EncodeAddress()
}

func testTarget(t *testing.T) (Target, *wire.Tx) {
	d := testDenom(1, 100001, testAddress(t, 0x11))
	out := testAddress(t, 0x22)
	target := Target{
		Denom:       100001,
		Inputs:      []mixtypes.Denom{d},
		OutputAddrs: []string{out},
	}

	script, err := workflow.P2PKHScript(out)
	if err != nil {
		panic(err)
	}
	tx := &wire.Tx{
		Version: 1,
		Inputs: []wire.TxIn{{
			PrevOut:  wire.Outpoint{Hash: d.Outpoint.Hash, Vout: d.Outpoint.Vout},
			Sequence: 0xFFFFFFFF,
		}},
		Outputs: []wire.TxOut{{Value: int64(target.Denom), PkScript: script}},
	}
	return target, tx
}

func TestVerifyFinalTxAcceptsMatchingShape(t *testing.T) {
	target, tx := testTarget(t)
	if err := verifyFinalTx(tx, target); err != nil {
		t.Fatalf("expected final tx to verify, got %v", err)
	}
}

func TestVerifyFinalTxRejectsMissingInput(t *testing.T) {
	target, tx := testTarget(t)
	tx.Inputs = nil
	if err := verifyFinalTx(tx, target); err == nil {
		t.Fatal("expected verification failure for missing input")
	}
}

func TestVerifyFinalTxRejectsMissingOutput(t *testing.T) {
	target, tx := testTarget(t)
	tx.Outputs[0].Value = int64(target.Denom) + 1
	if err := verifyFinalTx(tx, target); err == nil {
		t.Fatal("expected verification failure for mismatched output value")
	}
}

type stubSigner struct{}

func (stubSigner) SignInput(ctx context.Context, tx *wire.Tx, inputIndex int, prevPkScript []byte, amount mixtypes.Amount, bucket mixtypes.KeypairBucket) ([]byte, error) {
	return []byte{0xAA, byte(inputIndex)}, nil
}
func (stubSigner) SignMessage(ctx context.Context, address string, msg []byte) (*ecdsa.Signature, error) {
	return nil, nil
}
func (stubSigner) RequiresMainKeystore(address string) bool { return false }

func TestSignOwnInputsSignsOnlyOwnedOutpoints(t *testing.T) {
	target, tx := testTarget(t)

	foreignHash := chainhash.Hash{}
	foreignHash[5] = 9
	tx.Inputs = append(tx.Inputs, wire.TxIn{
		PrevOut:  wire.Outpoint{Hash: foreignHash, Vout: 1},
		Sequence: 0xFFFFFFFF,
	})

	signed, err := signOwnInputs(context.Background(), stubSigner{}, tx, target.Inputs)
	if err != nil {
		t.Fatalf("signOwnInputs: %v", err)
	}
	if len(signed) != 1 {
		t.Fatalf("expected to sign exactly 1 own input, got %d", len(signed))
	}
	if signed[0].PrevOut.Hash != target.Inputs[0].Outpoint.Hash {
		t.Fatalf("signed the wrong input")
	}
}

func TestWaitForTimesOutWithNoMessages(t *testing.T) {
	saved := sessionMsgTimeout
	sessionMsgTimeout = 10 * time.Millisecond
	defer func() { sessionMsgTimeout = saved }()

	d := newDispatcher()
	_, err := waitFor(context.Background(), d.dsf, d.dssu, nil)
	if err != ErrSessionTimeout {
		t.Fatalf("expected ErrSessionTimeout, got %v", err)
	}
}

func TestWaitForDssuResetsDeadline(t *testing.T) {
	saved := sessionMsgTimeout
	sessionMsgTimeout = 30 * time.Millisecond
	defer func() { sessionMsgTimeout = saved }()

	d := newDispatcher()
	go func() {
		time.Sleep(15 * time.Millisecond)
		d.dssu <- &wire.MsgDSSU{SessionID: 1}
		time.Sleep(15 * time.Millisecond)
		d.dsf <- &wire.MsgDSF{SessionID: 1}
	}()

	got, err := waitFor(context.Background(), d.dsf, d.dssu, nil)
	if err != nil {
		t.Fatalf("expected dssu to extend the deadline past the final dsf, got %v", err)
	}
	if got.SessionID != 1 {
		t.Fatalf("unexpected dsf: %+v", got)
	}
}
