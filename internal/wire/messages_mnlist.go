package wire

import (
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// LLMQType enumerates the long-living masternode quorum types (glossary).
type LLMQType uint8

const (
	LLMQType50_60  LLMQType = 1
	LLMQType400_60 LLMQType = 2
	LLMQType400_85 LLMQType = 3
	LLMQType5_60   LLMQType = 100
)

// MsgGetMNListD requests a diff of the masternode list between two blocks.
type MsgGetMNListD struct {
	BaseBlockHash chainhash.Hash
	BlockHash     chainhash.Hash
}

func (m *MsgGetMNListD) Command() string { return CmdGetMNListD }
func (m *MsgGetMNListD) Encode(w io.Writer) error {
	if _, err := w.Write(m.BaseBlockHash[:]); err != nil {
		return err
	}
	_, err := w.Write(m.BlockHash[:])
	return err
}
func (m *MsgGetMNListD) Decode(r io.Reader) error {
	if _, err := io.ReadFull(r, m.BaseBlockHash[:]); err != nil {
		return err
	}
	_, err := io.ReadFull(r, m.BlockHash[:])
	return err
}

// SimplifiedMNListEntry is one masternode list row (fields this core
// actually reads: outpoint and the BLS operator public key used to verify
// dsq signatures — everything else in a real mnlistdiff is chain-validation
// detail, out of scope per spec §1).
type SimplifiedMNListEntry struct {
	ProRegTxHash    chainhash.Hash
	ConfirmedHash   chainhash.Hash
	Service         Service
	PubKeyOperator  [48]byte
	KeyIDVoting     [20]byte
	IsValid         bool
}

func readMNEntry(r io.Reader) (SimplifiedMNListEntry, error) {
	var e SimplifiedMNListEntry
	if _, err := io.ReadFull(r, e.ProRegTxHash[:]); err != nil {
		return e, err
	}
	if _, err := io.ReadFull(r, e.ConfirmedHash[:]); err != nil {
		return e, err
	}
	var err error
	if e.Service, err = ReadService(r); err != nil {
		return e, err
	}
	if _, err := io.ReadFull(r, e.PubKeyOperator[:]); err != nil {
		return e, err
	}
	if _, err := io.ReadFull(r, e.KeyIDVoting[:]); err != nil {
		return e, err
	}
	if err := readBool(r, &e.IsValid); err != nil {
		return e, err
	}
	return e, nil
}

func writeMNEntry(w io.Writer, e SimplifiedMNListEntry) error {
	if _, err := w.Write(e.ProRegTxHash[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.ConfirmedHash[:]); err != nil {
		return err
	}
	if err := WriteService(w, e.Service); err != nil {
		return err
	}
	if _, err := w.Write(e.PubKeyOperator[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.KeyIDVoting[:]); err != nil {
		return err
	}
	return writeBool(w, e.IsValid)
}

// QuorumFinalCommitment ("qfcommit") carries the signer/validMember
// bitfields sized to (size+7)/8 bytes, per spec §6.
type QuorumFinalCommitment struct {
	Version       uint16
	LLMQType      LLMQType
	QuorumHash    chainhash.Hash
	SignersSize   int
	Signers       []byte
	ValidSize     int
	ValidMembers  []byte
	QuorumPubKey  [48]byte
	QuorumVvecHash chainhash.Hash
	QuorumSig     [96]byte
	MembersSig    [96]byte
}

func bitfieldBytes(size int) int {
	return (size + 7) / 8
}

func readQFCommit(r io.Reader) (QuorumFinalCommitment, error) {
	var q QuorumFinalCommitment
	if err := binary.Read(r, binary.LittleEndian, &q.Version); err != nil {
		return q, err
	}
	if err := binary.Read(r, binary.LittleEndian, &q.LLMQType); err != nil {
		return q, err
	}
	if _, err := io.ReadFull(r, q.QuorumHash[:]); err != nil {
		return q, err
	}
	signersSize, err := ReadVarInt(r)
	if err != nil {
		return q, err
	}
	q.SignersSize = int(signersSize)
	q.Signers = make([]byte, bitfieldBytes(q.SignersSize))
	if _, err := io.ReadFull(r, q.Signers); err != nil {
		return q, err
	}
	validSize, err := ReadVarInt(r)
	if err != nil {
		return q, err
	}
	q.ValidSize = int(validSize)
	q.ValidMembers = make([]byte, bitfieldBytes(q.ValidSize))
	if _, err := io.ReadFull(r, q.ValidMembers); err != nil {
		return q, err
	}
	if _, err := io.ReadFull(r, q.QuorumPubKey[:]); err != nil {
		return q, err
	}
	if _, err := io.ReadFull(r, q.QuorumVvecHash[:]); err != nil {
		return q, err
	}
	if _, err := io.ReadFull(r, q.QuorumSig[:]); err != nil {
		return q, err
	}
	_, err = io.ReadFull(r, q.MembersSig[:])
	return q, err
}

func writeQFCommit(w io.Writer, q QuorumFinalCommitment) error {
	if err := binary.Write(w, binary.LittleEndian, q.Version); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, q.LLMQType); err != nil {
		return err
	}
	if _, err := w.Write(q.QuorumHash[:]); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(q.SignersSize)); err != nil {
		return err
	}
	if _, err := w.Write(q.Signers); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(q.ValidSize)); err != nil {
		return err
	}
	if _, err := w.Write(q.ValidMembers); err != nil {
		return err
	}
	if _, err := w.Write(q.QuorumPubKey[:]); err != nil {
		return err
	}
	if _, err := w.Write(q.QuorumVvecHash[:]); err != nil {
		return err
	}
	if _, err := w.Write(q.QuorumSig[:]); err != nil {
		return err
	}
	_, err := w.Write(q.MembersSig[:])
	return err
}

// MsgMNListDiff is the response to MsgGetMNListD: added/removed masternode
// entries and any new quorum commitments observed in the block range.
type MsgMNListDiff struct {
	BaseBlockHash chainhash.Hash
	BlockHash     chainhash.Hash
	DeletedMNs    []chainhash.Hash
	AddedMNs      []SimplifiedMNListEntry
	NewQuorums    []QuorumFinalCommitment
}

const maxMNListLen = 100000

func (m *MsgMNListDiff) Command() string { return CmdMNListDiff }

func (m *MsgMNListDiff) Encode(w io.Writer) error {
	if _, err := w.Write(m.BaseBlockHash[:]); err != nil {
		return err
	}
	if _, err := w.Write(m.BlockHash[:]); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(len(m.DeletedMNs))); err != nil {
		return err
	}
	for _, h := range m.DeletedMNs {
		if _, err := w.Write(h[:]); err != nil {
			return err
		}
	}
	if err := WriteVarInt(w, uint64(len(m.AddedMNs))); err != nil {
		return err
	}
	for _, e := range m.AddedMNs {
		if err := writeMNEntry(w, e); err != nil {
			return err
		}
	}
	if err := WriteVarInt(w, uint64(len(m.NewQuorums))); err != nil {
		return err
	}
	for _, q := range m.NewQuorums {
		if err := writeQFCommit(w, q); err != nil {
			return err
		}
	}
	return nil
}

func (m *MsgMNListDiff) Decode(r io.Reader) error {
	if _, err := io.ReadFull(r, m.BaseBlockHash[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, m.BlockHash[:]); err != nil {
		return err
	}

	nDel, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if nDel > maxMNListLen {
		return errTooMany("mnlistdiff.deleted", int(nDel), maxMNListLen)
	}
	m.DeletedMNs = make([]chainhash.Hash, nDel)
	for i := range m.DeletedMNs {
		if _, err := io.ReadFull(r, m.DeletedMNs[i][:]); err != nil {
			return err
		}
	}

	nAdd, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if nAdd > maxMNListLen {
		return errTooMany("mnlistdiff.added", int(nAdd), maxMNListLen)
	}
	m.AddedMNs = make([]SimplifiedMNListEntry, nAdd)
	for i := range m.AddedMNs {
		if m.AddedMNs[i], err = readMNEntry(r); err != nil {
			return err
		}
	}

	nQ, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if nQ > maxMNListLen {
		return errTooMany("mnlistdiff.quorums", int(nQ), maxMNListLen)
	}
	m.NewQuorums = make([]QuorumFinalCommitment, nQ)
	for i := range m.NewQuorums {
		if m.NewQuorums[i], err = readQFCommit(r); err != nil {
			return err
		}
	}
	return nil
}
