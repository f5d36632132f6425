package wire

import (
	"encoding/binary"
	"io"
)

// MsgVersion is the initial handshake message (spec §6).
type MsgVersion struct {
	Version         int32
	Services        uint64
	Timestamp       int64
	RecvServices    uint64
	Recv            Service
	TransServices   uint64
	Trans           Service
	Nonce           uint64
	UserAgent       string
	StartHeight     int32
	Relay           *bool
	MNAuthChallenge *[32]byte
	FMasternode     *bool
}

func (m *MsgVersion) Command() string { return CmdVersion }

func (m *MsgVersion) Encode(w io.Writer) error {
	if len(m.UserAgent) > MaxUserAgentLen {
		return errTooLong("user_agent", len(m.UserAgent), MaxUserAgentLen)
	}
	for _, v := range []interface{}{
		m.Version, m.Services, m.Timestamp, m.RecvServices,
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := WriteService(w, m.Recv); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.TransServices); err != nil {
		return err
	}
	if err := WriteService(w, m.Trans); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.Nonce); err != nil {
		return err
	}
	if err := WriteVarString(w, m.UserAgent); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.StartHeight); err != nil {
		return err
	}
	if m.Relay != nil {
		if err := writeBool(w, *m.Relay); err != nil {
			return err
		}
	}
	if m.MNAuthChallenge != nil {
		if _, err := w.Write(m.MNAuthChallenge[:]); err != nil {
			return err
		}
	}
	if m.FMasternode != nil {
		if err := writeBool(w, *m.FMasternode); err != nil {
			return err
		}
	}
	return nil
}

func (m *MsgVersion) Decode(r io.Reader) error {
	for _, v := range []interface{}{
		&m.Version, &m.Services, &m.Timestamp, &m.RecvServices,
	} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	var err error
	if m.Recv, err = ReadService(r); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.TransServices); err != nil {
		return err
	}
	if m.Trans, err = ReadService(r); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Nonce); err != nil {
		return err
	}
	if m.UserAgent, err = ReadVarString(r); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.StartHeight); err != nil {
		return err
	}
	// Trailing fields are optional; absence (EOF) is not an error, since a
	// standalone parse of a truncated tail would otherwise be rejected by
	// the "no unknown tail bytes" rule at the frame-payload-length level,
	// not here.
	var relay bool
	if err := readBool(r, &relay); err == nil {
		m.Relay = &relay
	} else {
		return nil
	}
	var challenge [32]byte
	if _, err := io.ReadFull(r, challenge[:]); err == nil {
		m.MNAuthChallenge = &challenge
	} else {
		return nil
	}
	var fmn bool
	if err := readBool(r, &fmn); err == nil {
		m.FMasternode = &fmn
	}
	return nil
}

// MsgVerAck has no payload.
type MsgVerAck struct{}

func (m *MsgVerAck) Command() string          { return CmdVerAck }
func (m *MsgVerAck) Encode(w io.Writer) error { return nil }
func (m *MsgVerAck) Decode(r io.Reader) error { return nil }

// MsgPing carries a random nonce to be echoed back in MsgPong.
type MsgPing struct {
	Nonce uint64
}

func (m *MsgPing) Command() string { return CmdPing }
func (m *MsgPing) Encode(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, m.Nonce)
}
func (m *MsgPing) Decode(r io.Reader) error {
	return binary.Read(r, binary.LittleEndian, &m.Nonce)
}

// MsgPong echoes a MsgPing's nonce.
type MsgPong struct {
	Nonce uint64
}

func (m *MsgPong) Command() string { return CmdPong }
func (m *MsgPong) Encode(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, m.Nonce)
}
func (m *MsgPong) Decode(r io.Reader) error {
	return binary.Read(r, binary.LittleEndian, &m.Nonce)
}

// MsgSendDSQ tells the remote peer whether to forward dsq gossip to us.
type MsgSendDSQ struct {
	Send bool
}

func (m *MsgSendDSQ) Command() string          { return CmdSendDSQ }
func (m *MsgSendDSQ) Encode(w io.Writer) error { return writeBool(w, m.Send) }
func (m *MsgSendDSQ) Decode(r io.Reader) error { return readBool(r, &m.Send) }

// MsgGetAddr requests a peer's address table. No payload.
type MsgGetAddr struct{}

func (m *MsgGetAddr) Command() string          { return CmdGetAddr }
func (m *MsgGetAddr) Encode(w io.Writer) error { return nil }
func (m *MsgGetAddr) Decode(r io.Reader) error { return nil }

func writeBool(w io.Writer, b bool) error {
	var v uint8
	if b {
		v = 1
	}
	return binary.Write(w, binary.LittleEndian, v)
}

func readBool(r io.Reader, out *bool) error {
	var v uint8
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return err
	}
	*out = v != 0
	return nil
}
