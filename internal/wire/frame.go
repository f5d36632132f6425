package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Frame is one on-wire message: magic || command(12) || payload_len(4) ||
// checksum(4) || payload, per spec §4.1/§6.
type Frame struct {
	Magic    [4]byte
	Command  string
	Payload  []byte
}

func checksum(payload []byte) uint32 {
	if len(payload) == 0 {
		return EmptyPayloadCkSum
	}
	h := chainhash.DoubleHashB(payload)
	return binary.LittleEndian.Uint32(h[:4])
}

func encodeCommand(cmd string) ([CommandLen]byte, error) {
	var out [CommandLen]byte
	if len(cmd) > CommandLen {
		return out, fmt.Errorf("wire: command %q exceeds %d bytes", cmd, CommandLen)
	}
	copy(out[:], cmd)
	return out, nil
}

// WriteFrame serializes f to w.
func WriteFrame(w io.Writer, f Frame) error {
	cmdBytes, err := encodeCommand(f.Command)
	if err != nil {
		return err
	}
	if len(f.Payload) > MaxPayloadLength {
		return fmt.Errorf("wire: payload length %d exceeds max %d", len(f.Payload), MaxPayloadLength)
	}

	var buf bytes.Buffer
	buf.Write(f.Magic[:])
	buf.Write(cmdBytes[:])
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(f.Payload))); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, checksum(f.Payload)); err != nil {
		return err
	}
	buf.Write(f.Payload)

	_, err = w.Write(buf.Bytes())
	return err
}

// ErrBadChecksum signals a frame whose checksum did not match its payload.
// Per spec §4.1, the caller must silently drop such a frame (not disconnect).
var ErrBadChecksum = fmt.Errorf("wire: checksum mismatch")

// ErrOversizedPayload signals a frame header advertising a payload larger
// than MaxPayloadLength. Per spec §4.1 the caller must disconnect on this.
var ErrOversizedPayload = fmt.Errorf("wire: payload length exceeds cap")

// ReadFrame reads one frame from r. On ErrBadChecksum the frame has already
// been fully consumed from r (so the stream stays in sync); the caller
// should simply continue reading the next frame rather than disconnecting.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr struct {
		Magic    [4]byte
		Command  [CommandLen]byte
		Length   uint32
		Checksum uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.Magic); err != nil {
		return Frame{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.Command); err != nil {
		return Frame{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.Length); err != nil {
		return Frame{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.Checksum); err != nil {
		return Frame{}, err
	}
	if hdr.Length > MaxPayloadLength {
		return Frame{}, ErrOversizedPayload
	}

	payload := make([]byte, hdr.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}

	cmd := string(bytes.TrimRight(hdr.Command[:], "\x00"))
	f := Frame{Magic: hdr.Magic, Command: cmd, Payload: payload}

	if checksum(payload) != hdr.Checksum {
		return f, ErrBadChecksum
	}
	return f, nil
}
