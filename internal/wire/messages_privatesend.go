package wire

import (
	"encoding/binary"
	"io"
)

// MsgDSA opens a session: the chosen denomination plus a collateral
// transaction paying the masternode if we misbehave.
type MsgDSA struct {
	Denom        int32
	CollateralTx Tx
}

func (m *MsgDSA) Command() string { return CmdDSA }
func (m *MsgDSA) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, m.Denom); err != nil {
		return err
	}
	return m.CollateralTx.Encode(w)
}
func (m *MsgDSA) Decode(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &m.Denom); err != nil {
		return err
	}
	return m.CollateralTx.Decode(r)
}

// MsgDSI submits our inputs, collateral and desired outputs.
type MsgDSI struct {
	Inputs       []TxIn
	CollateralTx Tx
	Outputs      []TxOut
}

func (m *MsgDSI) Command() string { return CmdDSI }

func (m *MsgDSI) Encode(w io.Writer) error {
	if len(m.Inputs) > MaxDSVecEntries {
		return errTooMany("dsi.inputs", len(m.Inputs), MaxDSVecEntries)
	}
	if len(m.Outputs) > MaxDSVecEntries {
		return errTooMany("dsi.outputs", len(m.Outputs), MaxDSVecEntries)
	}
	if err := WriteVarInt(w, uint64(len(m.Inputs))); err != nil {
		return err
	}
	for _, in := range m.Inputs {
		if err := writeTxIn(w, in); err != nil {
			return err
		}
	}
	if err := m.CollateralTx.Encode(w); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(len(m.Outputs))); err != nil {
		return err
	}
	for _, out := range m.Outputs {
		if err := writeTxOut(w, out); err != nil {
			return err
		}
	}
	return nil
}

func (m *MsgDSI) Decode(r io.Reader) error {
	n, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if n > MaxDSVecEntries {
		return errTooMany("dsi.inputs", int(n), MaxDSVecEntries)
	}
	m.Inputs = make([]TxIn, n)
	for i := range m.Inputs {
		if m.Inputs[i], err = readTxIn(r); err != nil {
			return err
		}
	}
	if err := m.CollateralTx.Decode(r); err != nil {
		return err
	}
	n2, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if n2 > MaxDSVecEntries {
		return errTooMany("dsi.outputs", int(n2), MaxDSVecEntries)
	}
	m.Outputs = make([]TxOut, n2)
	for i := range m.Outputs {
		if m.Outputs[i], err = readTxOut(r); err != nil {
			return err
		}
	}
	return nil
}

// MsgDSF carries the masternode-assembled final, unsigned transaction.
type MsgDSF struct {
	SessionID int32
	TxFinal   Tx
}

func (m *MsgDSF) Command() string { return CmdDSF }
func (m *MsgDSF) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, m.SessionID); err != nil {
		return err
	}
	return m.TxFinal.Encode(w)
}
func (m *MsgDSF) Decode(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &m.SessionID); err != nil {
		return err
	}
	return m.TxFinal.Decode(r)
}

// MsgDSS returns our signed inputs for the final transaction.
type MsgDSS struct {
	Inputs []TxIn
}

func (m *MsgDSS) Command() string { return CmdDSS }
func (m *MsgDSS) Encode(w io.Writer) error {
	if len(m.Inputs) > MaxDSVecEntries {
		return errTooMany("dss.inputs", len(m.Inputs), MaxDSVecEntries)
	}
	if err := WriteVarInt(w, uint64(len(m.Inputs))); err != nil {
		return err
	}
	for _, in := range m.Inputs {
		if err := writeTxIn(w, in); err != nil {
			return err
		}
	}
	return nil
}
func (m *MsgDSS) Decode(r io.Reader) error {
	n, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if n > MaxDSVecEntries {
		return errTooMany("dss.inputs", int(n), MaxDSVecEntries)
	}
	m.Inputs = make([]TxIn, n)
	for i := range m.Inputs {
		if m.Inputs[i], err = readTxIn(r); err != nil {
			return err
		}
	}
	return nil
}

// MsgDSC is the session completion notice. MsgID other than MsgSuccess is
// a failure (spec §4.7 step 7).
type MsgDSC struct {
	SessionID int32
	MsgID     int32
}

const MsgSuccess int32 = 0

func (m *MsgDSC) Command() string { return CmdDSC }
func (m *MsgDSC) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, m.SessionID); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, m.MsgID)
}
func (m *MsgDSC) Decode(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &m.SessionID); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &m.MsgID)
}

// MsgDSQ is a masternode queue announcement, gossiped when fReady is false
// and a session-scoped invite once fReady is true (spec §4.7/§6).
type MsgDSQ struct {
	Denom             int32
	MasternodeOutpoint Outpoint
	Time              int64
	Ready             bool
	Sig               []byte // 96-byte BLS signature, only meaningful when Ready
}

func (m *MsgDSQ) Command() string { return CmdDSQ }

func (m *MsgDSQ) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, m.Denom); err != nil {
		return err
	}
	if err := WriteOutpoint(w, m.MasternodeOutpoint); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.Time); err != nil {
		return err
	}
	if err := writeBool(w, m.Ready); err != nil {
		return err
	}
	if len(m.Sig) != DSQSigLen {
		return errBadSigLen("dsq", len(m.Sig), DSQSigLen)
	}
	return WriteVarBytes(w, m.Sig)
}

func (m *MsgDSQ) Decode(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &m.Denom); err != nil {
		return err
	}
	var err error
	if m.MasternodeOutpoint, err = ReadOutpoint(r); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Time); err != nil {
		return err
	}
	if err := readBool(r, &m.Ready); err != nil {
		return err
	}
	sig, err := ReadVarBytes(r, DSQSigLen+8, "dsq.sig")
	if err != nil {
		return err
	}
	if len(sig) != DSQSigLen {
		return errBadSigLen("dsq", len(sig), DSQSigLen)
	}
	m.Sig = sig
	return nil
}

// SigningPayload packs (denom, masternodeOutPoint, nTime, fReady) for BLS
// verification, per spec §4.7.
func (m *MsgDSQ) SigningPayload() []byte {
	var buf [4 + 36 + 8 + 1]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Denom))
	copy(buf[4:36], m.MasternodeOutpoint.Hash[:])
	binary.LittleEndian.PutUint32(buf[36:40], m.MasternodeOutpoint.Vout)
	binary.LittleEndian.PutUint64(buf[40:48], uint64(m.Time))
	if m.Ready {
		buf[48] = 1
	}
	return buf[:]
}

// PoolState is the masternode-reported session state (spec §4.7).
type PoolState int32

const (
	PoolStateIdle PoolState = iota
	PoolStateQueue
	PoolStateAcceptingEntries
	PoolStateSigning
	PoolStateError
	PoolStateSuccess
)

// MsgDSSU is a status update streamed by the masternode while we wait for
// the next protocol step.
type MsgDSSU struct {
	SessionID    int32
	State        PoolState
	EntriesCount int32
	StatusUpdate int32
	MessageID    int32
}

func (m *MsgDSSU) Command() string { return CmdDSSU }
func (m *MsgDSSU) Encode(w io.Writer) error {
	for _, v := range []interface{}{m.SessionID, m.State, m.EntriesCount, m.StatusUpdate, m.MessageID} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}
func (m *MsgDSSU) Decode(r io.Reader) error {
	for _, v := range []interface{}{&m.SessionID, &m.State, &m.EntriesCount, &m.StatusUpdate, &m.MessageID} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}
