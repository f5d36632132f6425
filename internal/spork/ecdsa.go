package spork

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	ecdsa_ "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/rawblock/mixcore/internal/netcfg"
)

// legacyMessageMagic is prefixed to the ASCII-concatenated legacy spork
// payload before hashing, mirroring Bitcoin/Dash's "signmessage" magic
// convention (spec §4.3: "message-magic-prefixed ASCII concatenation").
const legacyMessageMagic = "DarkCoin Signed Message:\n"

// PackedPayload builds the post-NEW_SIGS spork signing payload: the raw
// little-endian packing of (id, value, time).
func PackedPayload(v Value) []byte {
	var buf [20]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(v.ID))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(v.Value))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(v.TimeSigned))
	return buf[:]
}

// LegacyPayload builds the pre-NEW_SIGS signing payload: a magic-prefixed
// varstring-style ASCII concatenation of the decimal id, value and
// timeSigned, with no separator between them.
func LegacyPayload(v Value) []byte {
	msg := fmt.Sprintf("%d%d%d", v.ID, v.Value, v.TimeSigned)
	var buf []byte
	buf = append(buf, byte(len(legacyMessageMagic)))
	buf = append(buf, legacyMessageMagic...)
	buf = append(buf, byte(len(msg)))
	buf = append(buf, msg...)
	return buf
}

// SigningHash double-SHA256es the algorithm-appropriate payload for v.
func SigningHash(v Value, algo HashAlgorithm) chainhash.Hash {
	var payload []byte
	if algo == HashPackedFields {
		payload = PackedPayload(v)
	} else {
		payload = LegacyPayload(v)
	}
	return chainhash.DoubleHashH(payload)
}

// VerifyECDSA recovers the signer's public key from v.Sig over the
// algorithm-appropriate hash and checks it hashes to the hard-coded spork
// address for params. Sig must be exactly SporkSigLen(65) bytes
// (the wire layer already enforces this on decode).
func VerifyECDSA(v Value, algo HashAlgorithm, params netcfg.Params) (bool, error) {
	if len(v.Sig) != 65 {
		return false, fmt.Errorf("spork: signature length %d, want 65", len(v.Sig))
	}
	hash := SigningHash(v, algo)

	pubKey, _, err := ecdsa_.RecoverCompact(v.Sig, hash[:])
	if err != nil {
		return false, nil // malformed recoverable signature: not valid, not an error
	}

	addr, err := addressFromPubKey(pubKey, params)
	if err != nil {
		return false, err
	}
	return addr == params.SporkAddr, nil
}

func addressFromPubKey(pubKey *btcec.PublicKey, params netcfg.Params) (string, error) {
	hash160 := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(hash160, params.Chain)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}
