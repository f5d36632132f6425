package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TxIn is a minimal transaction input: the spent outpoint, scriptSig and
// sequence. Enough to carry pay-collateral/denominate transactions through
// the mixing session without depending on a full consensus-layer Tx type
// (out of scope per spec §1 — this core does not validate chain state).
type TxIn struct {
	PrevOut   Outpoint
	ScriptSig []byte
	Sequence  uint32
}

// TxOut is a minimal transaction output.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// Tx is the PrivateSend session's working transaction shape: version,
// inputs, outputs, locktime, plus an opaque DIP2 extra-payload blob carried
// through byte-for-byte (the mixing core never interprets it).
type Tx struct {
	Version      int32
	TxType       uint16
	Inputs       []TxIn
	Outputs      []TxOut
	LockTime     uint32
	ExtraPayload []byte
}

const maxScriptLen = 10000
const maxTxVectorLen = 100000

func readTxIn(r io.Reader) (TxIn, error) {
	var in TxIn
	var err error
	if in.PrevOut, err = ReadOutpoint(r); err != nil {
		return in, err
	}
	if in.ScriptSig, err = ReadVarBytes(r, maxScriptLen, "txin.scriptSig"); err != nil {
		return in, err
	}
	if err := binary.Read(r, binary.LittleEndian, &in.Sequence); err != nil {
		return in, err
	}
	return in, nil
}

func writeTxIn(w io.Writer, in TxIn) error {
	if err := WriteOutpoint(w, in.PrevOut); err != nil {
		return err
	}
	if err := WriteVarBytes(w, in.ScriptSig); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, in.Sequence)
}

func readTxOut(r io.Reader) (TxOut, error) {
	var out TxOut
	if err := binary.Read(r, binary.LittleEndian, &out.Value); err != nil {
		return out, err
	}
	var err error
	out.PkScript, err = ReadVarBytes(r, maxScriptLen, "txout.pkScript")
	return out, err
}

func writeTxOut(w io.Writer, out TxOut) error {
	if err := binary.Write(w, binary.LittleEndian, out.Value); err != nil {
		return err
	}
	return WriteVarBytes(w, out.PkScript)
}

// Encode writes t in the special-transaction layout: version||type in the
// low/high 16 bits of the version field (DIP2), vin, vout, locktime, and a
// trailing length-prefixed extra payload when txType != 0.
func (t *Tx) Encode(w io.Writer) error {
	packedVersion := uint32(uint16(t.Version)) | uint32(t.TxType)<<16
	if err := binary.Write(w, binary.LittleEndian, packedVersion); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(len(t.Inputs))); err != nil {
		return err
	}
	for _, in := range t.Inputs {
		if err := writeTxIn(w, in); err != nil {
			return err
		}
	}
	if err := WriteVarInt(w, uint64(len(t.Outputs))); err != nil {
		return err
	}
	for _, out := range t.Outputs {
		if err := writeTxOut(w, out); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, t.LockTime); err != nil {
		return err
	}
	if t.TxType != 0 {
		if err := WriteVarBytes(w, t.ExtraPayload); err != nil {
			return err
		}
	}
	return nil
}

// TxHash returns the double-SHA256 of t's serialized form, the txid used
// as a bookkeeping key before the transaction is known to the wallet.
func (t *Tx) TxHash() (chainhash.Hash, error) {
	var buf bytes.Buffer
	if err := t.Encode(&buf); err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.DoubleHashH(buf.Bytes()), nil
}

func (t *Tx) Decode(r io.Reader) error {
	var packedVersion uint32
	if err := binary.Read(r, binary.LittleEndian, &packedVersion); err != nil {
		return err
	}
	t.Version = int32(int16(uint16(packedVersion)))
	t.TxType = uint16(packedVersion >> 16)

	nIn, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if nIn > maxTxVectorLen {
		return errTooMany("tx.vin", int(nIn), maxTxVectorLen)
	}
	t.Inputs = make([]TxIn, nIn)
	for i := range t.Inputs {
		if t.Inputs[i], err = readTxIn(r); err != nil {
			return err
		}
	}

	nOut, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if nOut > maxTxVectorLen {
		return errTooMany("tx.vout", int(nOut), maxTxVectorLen)
	}
	t.Outputs = make([]TxOut, nOut)
	for i := range t.Outputs {
		if t.Outputs[i], err = readTxOut(r); err != nil {
			return err
		}
	}

	if err := binary.Read(r, binary.LittleEndian, &t.LockTime); err != nil {
		return err
	}
	if t.TxType != 0 {
		t.ExtraPayload, err = ReadVarBytes(r, maxScriptLen, "tx.extraPayload")
		if err != nil {
			return err
		}
	}
	return nil
}
