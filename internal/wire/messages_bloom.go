package wire

import (
	"encoding/binary"
	"io"
)

const CmdFilterLoad = "filterload"
const CmdFilterAdd = "filteradd"

// MsgFilterLoad installs a bloom filter on the connection (spec §4.1
// limits d: >36000 bytes or >50 hash funcs must be rejected).
type MsgFilterLoad struct {
	Filter    []byte
	NumHash   uint32
	Tweak     uint32
	UpdateFlag uint8
}

func (m *MsgFilterLoad) Command() string { return CmdFilterLoad }

func (m *MsgFilterLoad) Encode(w io.Writer) error {
	if len(m.Filter) > MaxFilterLoadBytes {
		return errTooLong("filterload.filter", len(m.Filter), MaxFilterLoadBytes)
	}
	if m.NumHash > MaxFilterHashFuncs {
		return errTooMany("filterload.numHash", int(m.NumHash), MaxFilterHashFuncs)
	}
	if err := WriteVarBytes(w, m.Filter); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.NumHash); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.Tweak); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, m.UpdateFlag)
}

func (m *MsgFilterLoad) Decode(r io.Reader) error {
	filter, err := ReadVarBytes(r, MaxFilterLoadBytes, "filterload.filter")
	if err != nil {
		return err
	}
	m.Filter = filter
	if err := binary.Read(r, binary.LittleEndian, &m.NumHash); err != nil {
		return err
	}
	if m.NumHash > MaxFilterHashFuncs {
		return errTooMany("filterload.numHash", int(m.NumHash), MaxFilterHashFuncs)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Tweak); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &m.UpdateFlag)
}

// MsgFilterAdd adds one more element to an already-loaded bloom filter.
type MsgFilterAdd struct {
	Data []byte
}

func (m *MsgFilterAdd) Command() string { return CmdFilterAdd }
func (m *MsgFilterAdd) Encode(w io.Writer) error {
	if len(m.Data) > MaxFilterAddBytes {
		return errTooLong("filteradd.data", len(m.Data), MaxFilterAddBytes)
	}
	return WriteVarBytes(w, m.Data)
}
func (m *MsgFilterAdd) Decode(r io.Reader) error {
	data, err := ReadVarBytes(r, MaxFilterAddBytes, "filteradd.data")
	if err != nil {
		return err
	}
	m.Data = data
	return nil
}
