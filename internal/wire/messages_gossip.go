package wire

import (
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// InvVect is one inventory vector entry: a type tag plus the item's hash.
type InvVect struct {
	Type InvType
	Hash chainhash.Hash
}

func readInvVect(r io.Reader) (InvVect, error) {
	var iv InvVect
	if err := binary.Read(r, binary.LittleEndian, &iv.Type); err != nil {
		return iv, err
	}
	if _, err := io.ReadFull(r, iv.Hash[:]); err != nil {
		return iv, err
	}
	return iv, nil
}

func writeInvVect(w io.Writer, iv InvVect) error {
	if err := binary.Write(w, binary.LittleEndian, iv.Type); err != nil {
		return err
	}
	_, err := w.Write(iv.Hash[:])
	return err
}

func readInvVector(r io.Reader, maxCount int, what string) ([]InvVect, error) {
	n, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(maxCount) {
		return nil, errTooMany(what, int(n), maxCount)
	}
	out := make([]InvVect, n)
	for i := range out {
		if out[i], err = readInvVect(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeInvVector(w io.Writer, invs []InvVect) error {
	if err := WriteVarInt(w, uint64(len(invs))); err != nil {
		return err
	}
	for _, iv := range invs {
		if err := writeInvVect(w, iv); err != nil {
			return err
		}
	}
	return nil
}

// MsgInv announces objects the sender has available.
type MsgInv struct {
	Invs []InvVect
}

func (m *MsgInv) Command() string { return CmdInv }
func (m *MsgInv) Encode(w io.Writer) error {
	return writeInvVector(w, m.Invs)
}
func (m *MsgInv) Decode(r io.Reader) error {
	invs, err := readInvVector(r, MaxInvCount, "inv")
	if err != nil {
		return err
	}
	m.Invs = invs
	return nil
}

// MsgGetData requests the objects named by its inventory vectors.
type MsgGetData struct {
	Invs []InvVect
}

func (m *MsgGetData) Command() string { return CmdGetData }
func (m *MsgGetData) Encode(w io.Writer) error {
	return writeInvVector(w, m.Invs)
}
func (m *MsgGetData) Decode(r io.Reader) error {
	invs, err := readInvVector(r, MaxInvCount, "getdata")
	if err != nil {
		return err
	}
	m.Invs = invs
	return nil
}

// NetAddr is one entry of a MsgAddr address table.
type NetAddr struct {
	Timestamp uint32
	Services  uint64
	Service   Service
}

// MsgAddr gossips known peer addresses.
type MsgAddr struct {
	Addrs []NetAddr
}

func (m *MsgAddr) Command() string { return CmdAddr }

func (m *MsgAddr) Encode(w io.Writer) error {
	if len(m.Addrs) > MaxAddrCount {
		return errTooMany("addr", len(m.Addrs), MaxAddrCount)
	}
	if err := WriteVarInt(w, uint64(len(m.Addrs))); err != nil {
		return err
	}
	for _, a := range m.Addrs {
		if err := binary.Write(w, binary.LittleEndian, a.Timestamp); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, a.Services); err != nil {
			return err
		}
		if err := WriteService(w, a.Service); err != nil {
			return err
		}
	}
	return nil
}

func (m *MsgAddr) Decode(r io.Reader) error {
	n, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if n > MaxAddrCount {
		return errTooMany("addr", int(n), MaxAddrCount)
	}
	out := make([]NetAddr, n)
	for i := range out {
		if err := binary.Read(r, binary.LittleEndian, &out[i].Timestamp); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &out[i].Services); err != nil {
			return err
		}
		if out[i].Service, err = ReadService(r); err != nil {
			return err
		}
	}
	m.Addrs = out
	return nil
}
