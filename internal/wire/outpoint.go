package wire

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Outpoint is the wire encoding of a (txid, vout) pair: a 32-byte hash
// followed by a little-endian uint32 index. 0xFFFFFFFF encodes "null" (-1).
type Outpoint struct {
	Hash chainhash.Hash
	Vout uint32
}

// NullVout is the wire encoding of "no output" on an outpoint.
const NullVout uint32 = 0xFFFFFFFF

func ReadOutpoint(r io.Reader) (Outpoint, error) {
	var op Outpoint
	if _, err := io.ReadFull(r, op.Hash[:]); err != nil {
		return op, err
	}
	if err := binary.Read(r, binary.LittleEndian, &op.Vout); err != nil {
		return op, err
	}
	return op, nil
}

func WriteOutpoint(w io.Writer, op Outpoint) error {
	if _, err := w.Write(op.Hash[:]); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, op.Vout)
}

// Service is a 16-byte IPv6 address (IPv4-mapped when IPv4) plus a
// network-byte-order uint16 port.
type Service struct {
	IP   net.IP
	Port uint16
}

func ReadService(r io.Reader) (Service, error) {
	var raw [16]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return Service{}, err
	}
	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return Service{}, err
	}
	ip := net.IP(append([]byte(nil), raw[:]...))
	return Service{IP: ip, Port: binary.BigEndian.Uint16(portBuf[:])}, nil
}

func WriteService(w io.Writer, s Service) error {
	var raw [16]byte
	ip4 := s.IP.To4()
	if ip4 != nil {
		// IPv4-mapped: ::ffff:a.b.c.d
		raw[10] = 0xff
		raw[11] = 0xff
		copy(raw[12:], ip4)
	} else if ip6 := s.IP.To16(); ip6 != nil {
		copy(raw[:], ip6)
	}
	if _, err := w.Write(raw[:]); err != nil {
		return err
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], s.Port)
	_, err := w.Write(portBuf[:])
	return err
}
