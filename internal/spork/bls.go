package spork

import (
	"fmt"

	bls12381 "github.com/kilic/bls12-381"

	"github.com/rawblock/mixcore/internal/wire"
)

// VerifyDSQSignature verifies a ready dsq's 96-byte BLS signature against
// the masternode operator's 48-byte BLS public key (spec §4.7, S6):
//
//	msg_hash = SHA256(SHA256(pack(denom, masternodeOutPoint, nTime, fReady)))
//	e(G1Generator, sig) == e(operatorPubKey, HashToG2(msg_hash))
//
// Dash masternode operator keys use the "minimal-pubkey-size" BLS variant:
// public keys live in G1 (48 bytes compressed), signatures in G2 (96
// bytes compressed).
func VerifyDSQSignature(dsq *wire.MsgDSQ, operatorPubKey [48]byte) (bool, error) {
	if len(dsq.Sig) != 96 {
		return false, fmt.Errorf("spork: dsq signature length %d, want 96", len(dsq.Sig))
	}
	msgHash := doubleSHA256(dsq.SigningPayload())
	return verifyMinPubkeySize(operatorPubKey[:], dsq.Sig, msgHash[:])
}

func doubleSHA256(b []byte) [32]byte {
	first := sha256Sum(b)
	return sha256Sum(first[:])
}

// verifyMinPubkeySize checks e(g1Gen, sig) == e(pubKey, H(msg)) via a
// single pairing-product check: e(g1Gen, sig) * e(pubKey, H(msg))^-1 == 1.
func verifyMinPubkeySize(pubKeyBytes, sigBytes, msgHash []byte) (bool, error) {
	g1 := bls12381.NewG1()
	g2 := bls12381.NewG2()

	pubKey, err := g1.FromCompressed(pubKeyBytes)
	if err != nil {
		return false, fmt.Errorf("spork: bad operator pubkey: %w", err)
	}
	sig, err := g2.FromCompressed(sigBytes)
	if err != nil {
		return false, fmt.Errorf("spork: bad bls signature encoding: %w", err)
	}

	hm := g2.MapToCurve(msgHash)

	gen1 := g1.One()

	e := bls12381.NewEngine()
	e.AddPair(gen1, sig)
	e.AddPairInv(pubKey, hm)
	return e.Check(), nil
}
