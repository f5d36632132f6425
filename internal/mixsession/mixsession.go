// Package mixsession drives one PrivateSend mixing session end to end: pick
// a masternode, open a dedicated peer, run the dsa/dsi/dss protocol steps,
// and verify the masternode's final transaction before signing into it
// (spec §4.7).
package mixsession

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rawblock/mixcore/internal/p2p"
	"github.com/rawblock/mixcore/internal/spork"
	"github.com/rawblock/mixcore/internal/walletiface"
	"github.com/rawblock/mixcore/internal/wire"
	"github.com/rawblock/mixcore/internal/workflow"
	"github.com/rawblock/mixcore/pkg/mixtypes"
)

// ErrSessionTimeout fires when a blocking read exceeds SessionMsgTimeoutSeconds.
var ErrSessionTimeout = errors.New("mixsession: session timeout, reset")

// ErrProtocolError flags a reply of the wrong type for the current step.
var ErrProtocolError = errors.New("mixsession: protocol error")

// ErrNoMasternode means no suitable session counterparty could be found.
var ErrNoMasternode = errors.New("mixsession: no suitable masternode found")

// ErrVerifyFailed means the masternode's dsq signature or final transaction
// did not match what this session expects.
var ErrVerifyFailed = errors.New("mixsession: verification failed")

// maxMasternodePickAttempts bounds how many recent dsq queue entries get
// tried before falling back to a uniformly random masternode (spec §9,
// tunable but not exposed as config).
const maxMasternodePickAttempts = 10

// dsqQueuePreference is the fraction of sessions that prefer popping a
// recently gossiped ready dsq over picking a masternode at random.
const dsqQueuePreference = 0.67

var sessionMsgTimeout = time.Duration(mixtypes.SessionMsgTimeoutSeconds) * time.Second

// Target describes what one session should accomplish: mix Inputs (all of
// the same Denom value) into freshly reserved Outputs, optionally carrying
// a pay-collateral transaction the masternode broadcasts as its fee.
type Target struct {
	Denom        mixtypes.Amount
	Inputs       []mixtypes.Denom
	OutputAddrs  []string
	CollateralTx *wire.Tx
}

// Deps bundles the wallet-side collaborators a session needs. The caller
// owns the workflow and its locks/reservations; Run only drives the wire
// protocol and signs into the masternode's final transaction. On any
// returned error the caller is expected to close out the workflow with
// Cleanup(force=false, ...) and start a fresh session rather than treat it
// as permanent failure (spec §4.7: "abort, do not fail the workflow").
type Deps struct {
	Pool   *p2p.Pool
	MNList walletiface.MasternodeList
	Signer walletiface.MessageSigner
}

// Run executes one full session attempt.
func Run(ctx context.Context, deps Deps, target Target) error {
	entry, dsq, viaQueue, err := pickMasternode(ctx, deps.Pool.DSQRing(), deps.MNList)
	if err != nil {
		return err
	}

	d := newDispatcher()
	peer, err := deps.Pool.DialSessionPeerWithDispatcher(ctx, serviceAddr(entry.Service), d)
	if err != nil {
		return err
	}
	defer peer.Close()

	deps.Pool.DSQRing().MarkMixed(wire.Outpoint{Hash: entry.Outpoint.Hash, Vout: entry.Outpoint.Vout})

	if viaQueue {
		ok, err := spork.VerifyDSQSignature(&dsq, entry.PubKeyOperator)
		if err != nil || !ok {
			return fmt.Errorf("%w: dsq signature", ErrVerifyFailed)
		}
	}

	collateral := wire.Tx{}
	if target.CollateralTx != nil {
		collateral = *target.CollateralTx
	}
	if err := peer.Send(&wire.MsgDSA{Denom: int32(target.Denom), CollateralTx: collateral}); err != nil {
		return err
	}

	if !viaQueue {
		readyDSQ, err := waitFor(ctx, d.dsq, d.dssu, nil)
		if err != nil {
			return err
		}
		ok, err := spork.VerifyDSQSignature(readyDSQ, entry.PubKeyOperator)
		if err != nil || !ok {
			return fmt.Errorf("%w: dsq signature", ErrVerifyFailed)
		}
		if !readyDSQ.Ready {
			return fmt.Errorf("%w: dsq not ready", ErrProtocolError)
		}
	}

	inputs := make([]wire.TxIn, len(target.Inputs))
	for i, in := range target.Inputs {
		inputs[i] = wire.TxIn{
			PrevOut:  wire.Outpoint{Hash: in.Outpoint.Hash, Vout: in.Outpoint.Vout},
			Sequence: 0xFFFFFFFF,
		}
	}
	outputs := make([]wire.TxOut, len(target.OutputAddrs))
	for i, addr := range target.OutputAddrs {
		script, err := workflow.P2PKHScript(addr)
		if err != nil {
			return err
		}
		outputs[i] = wire.TxOut{Value: int64(target.Denom), PkScript: script}
	}
	if err := peer.Send(&wire.MsgDSI{Inputs: inputs, CollateralTx: collateral, Outputs: outputs}); err != nil {
		return err
	}

	dsf, err := waitFor(ctx, d.dsf, d.dssu, nil)
	if err != nil {
		return err
	}

	if err := verifyFinalTx(&dsf.TxFinal, target); err != nil {
		return err
	}

	signedInputs, err := signOwnInputs(ctx, deps.Signer, &dsf.TxFinal, target.Inputs)
	if err != nil {
		return err
	}
	if err := peer.Send(&wire.MsgDSS{Inputs: signedInputs}); err != nil {
		return err
	}

	dsc, err := waitFor(ctx, d.dsc, d.dssu, nil)
	if err != nil {
		return err
	}
	if dsc.MsgID != wire.MsgSuccess {
		return fmt.Errorf("%w: dsc msg_id %d", ErrProtocolError, dsc.MsgID)
	}

	return nil
}

// verifyFinalTx checks that the masternode's assembled transaction actually
// spends our inputs and pays our outputs exactly, before we sign anything
// (spec §4.7 step 5).
func verifyFinalTx(tx *wire.Tx, target Target) error {
	haveInput := make(map[mixtypes.Outpoint]bool, len(tx.Inputs))
	for _, in := range tx.Inputs {
		haveInput[mixtypes.Outpoint{Hash: in.PrevOut.Hash, Vout: in.PrevOut.Vout}] = true
	}
	for _, d := range target.Inputs {
		if !haveInput[d.Outpoint] {
			return fmt.Errorf("%w: final tx missing our input %s", ErrVerifyFailed, d.Outpoint.String())
		}
	}

	for _, addr := range target.OutputAddrs {
		script, err := workflow.P2PKHScript(addr)
		if err != nil {
			return err
		}
		found := false
		for _, out := range tx.Outputs {
			if out.Value == int64(target.Denom) && scriptsEqual(out.PkScript, script) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: final tx missing our output %s", ErrVerifyFailed, addr)
		}
	}
	return nil
}

func scriptsEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// signOwnInputs signs only the inputs this session contributed, matched by
// outpoint against target.Inputs, and returns them as the dss payload.
func signOwnInputs(ctx context.Context, signer walletiface.MessageSigner, tx *wire.Tx, ours []mixtypes.Denom) ([]wire.TxIn, error) {
	owned := make(map[mixtypes.Outpoint]mixtypes.Denom, len(ours))
	for _, d := range ours {
		owned[d.Outpoint] = d
	}

	var signed []wire.TxIn
	for i, in := range tx.Inputs {
		op := mixtypes.Outpoint{Hash: in.PrevOut.Hash, Vout: in.PrevOut.Vout}
		d, ok := owned[op]
		if !ok {
			continue
		}
		prevScript, err := workflow.P2PKHScript(d.Address)
		if err != nil {
			return nil, err
		}
		bucket := mixtypes.BucketPSSpendable
		scriptSig, err := signer.SignInput(ctx, tx, i, prevScript, d.Value, bucket)
		if err != nil {
			return nil, err
		}
		signed = append(signed, wire.TxIn{
			PrevOut:   in.PrevOut,
			ScriptSig: scriptSig,
			Sequence:  in.Sequence,
		})
	}
	return signed, nil
}

func serviceAddr(s wire.Service) string {
	return fmt.Sprintf("%s:%d", s.IP.String(), s.Port)
}

// randFraction returns a uniform value in [0, 1). It is a var, not a plain
// func, so tests can pin the masternode-pick branch deterministically.
var randFraction = func() float64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	n := binary.BigEndian.Uint64(b[:])
	return float64(n) / float64(math.MaxUint64)
}
