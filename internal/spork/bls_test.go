package spork

import (
	"testing"

	bls12381 "github.com/kilic/bls12-381"

	"github.com/rawblock/mixcore/internal/wire"
)

// generateOperatorKeypair builds a fixture BLS keypair on the
// minimal-pubkey-size curve assignment (pubkey in G1, signature in G2):
// the same shape production masternode operator keys use.
func generateOperatorKeypair(t *testing.T, seed byte) (priv *bls12381.Fr, pubCompressed [48]byte) {
	t.Helper()
	g1 := bls12381.NewG1()
	fr := bls12381.NewFr()
	buf := make([]byte, 32)
	buf[31] = seed + 1 // nonzero scalar
	fr.FromBytes(buf)

	pub := g1.New()
	g1.MulScalar(pub, g1.One(), fr)
	compressed := g1.ToCompressed(pub)
	copy(pubCompressed[:], compressed)
	return fr, pubCompressed
}

func signDSQ(t *testing.T, priv *bls12381.Fr, dsq *wire.MsgDSQ) []byte {
	t.Helper()
	g2 := bls12381.NewG2()
	msgHash := doubleSHA256(dsq.SigningPayload())
	hm := g2.MapToCurve(msgHash[:])
	sig := g2.New()
	g2.MulScalar(sig, hm, priv)
	return g2.ToCompressed(sig)
}

func TestVerifyDSQSignature_ValidAndTamperedFixtures(t *testing.T) {
	priv, pub := generateOperatorKeypair(t, 7)

	dsq := &wire.MsgDSQ{
		Denom:              100001,
		MasternodeOutpoint: wire.Outpoint{Vout: 3},
		Time:               1700000000,
		Ready:              true,
	}
	dsq.Sig = signDSQ(t, priv, dsq)

	ok, err := VerifyDSQSignature(dsq, pub)
	if err != nil {
		t.Fatalf("verify valid fixture: %v", err)
	}
	if !ok {
		t.Fatal("expected valid dsq signature to verify")
	}

	// Flip a single byte of the signature; verification must now fail.
	tampered := append([]byte(nil), dsq.Sig...)
	tampered[0] ^= 0xFF
	dsqBad := *dsq
	dsqBad.Sig = tampered
	ok, err = VerifyDSQSignature(&dsqBad, pub)
	if err == nil && ok {
		t.Fatal("expected tampered signature to fail verification")
	}
}
