package wire

import (
	"fmt"
	"io"

	btcwire "github.com/btcsuite/btcd/wire"
)

// pver is passed to the underlying btcsuite helpers; this protocol does not
// gate varint/varstring encoding on protocol version, so a fixed value is
// used throughout.
const pver = 0

// ReadVarInt reads a compact-size integer (1/3/5/9 bytes by value
// thresholds 253, 2^16, 2^32), delegating to btcsuite/btcd/wire.
func ReadVarInt(r io.Reader) (uint64, error) {
	return btcwire.ReadVarInt(r, pver)
}

// WriteVarInt writes v as a compact-size integer.
func WriteVarInt(w io.Writer, v uint64) error {
	return btcwire.WriteVarInt(w, pver, v)
}

// VarIntSerializeSize returns the number of bytes WriteVarInt would write.
func VarIntSerializeSize(v uint64) int {
	return btcwire.VarIntSerializeSize(v)
}

// ReadVarBytes reads a compact-size-prefixed byte vector, rejecting it
// before allocation if it would exceed maxLen.
func ReadVarBytes(r io.Reader, maxLen uint64, what string) ([]byte, error) {
	n, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		return nil, fmt.Errorf("wire: %s length %d exceeds max %d", what, n, maxLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteVarBytes writes b as a compact-size-prefixed byte vector.
func WriteVarBytes(w io.Writer, b []byte) error {
	if err := WriteVarInt(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadVarString reads a compact-size-prefixed UTF-8 string, enforcing
// MaxUserAgentLen for user-agent style fields (callers needing a different
// cap should read via ReadVarBytes instead).
func ReadVarString(r io.Reader) (string, error) {
	b, err := ReadVarBytes(r, MaxUserAgentLen, "varstring")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteVarString writes s as a compact-size-prefixed UTF-8 string.
func WriteVarString(w io.Writer, s string) error {
	return WriteVarBytes(w, []byte(s))
}
