// Package spork tracks signed, network-wide feature-flag values and
// verifies the signatures on spork and dsq messages (spec §3, §4.3, §4.7).
package spork

import (
	"time"

	"github.com/rawblock/mixcore/internal/wire"
)

// ID enumerates the spork identifiers this core cares about. Real networks
// carry more sporks than this; only the ones mixing behavior depends on
// are modeled.
type ID int32

const (
	SporkInstantSendEnabled ID = 10001
	SporkNewSigs            ID = 10006 // NEW_SIGS: governs the spork hash algorithm itself (spec §4.3)
	SporkPrivateSendEnabled ID = 10004
)

// Value is one spork's signed value (spec §3).
type Value struct {
	ID         ID
	Value      int64
	TimeSigned int64
	Sig        []byte
}

// Active reports whether the spork is in effect as of now (spec §3:
// "active iff value < now()").
func (v Value) Active() bool {
	return v.Value < time.Now().Unix()
}

// defaults are the hard-coded per-network fallback spork values used
// before any live spork has been gathered from peers.
var defaults = map[ID]int64{
	SporkInstantSendEnabled: 0,          // always active
	SporkNewSigs:            4070908800, // far future: inactive by default
	SporkPrivateSendEnabled: 0,          // always active
}

// Table holds the strongest (highest time_signed) signature-valid value
// seen per spork id, falling back to defaults.
type Table struct {
	values map[ID]Value
}

func NewTable() *Table {
	return &Table{values: make(map[ID]Value)}
}

// Merge installs v if it is newer than what's currently held for v.ID.
// The caller must have already verified v's signature.
func (t *Table) Merge(v Value) (updated bool) {
	cur, ok := t.values[v.ID]
	if ok && cur.TimeSigned >= v.TimeSigned {
		return false
	}
	t.values[v.ID] = v
	return true
}

// Get returns the live value for id if gathered, else the hard-coded
// default wrapped as an always-signed Value with TimeSigned=0.
func (t *Table) Get(id ID) Value {
	if v, ok := t.values[id]; ok {
		return v
	}
	return Value{ID: id, Value: defaults[id]}
}

// IsActive is shorthand for t.Get(id).Active().
func (t *Table) IsActive(id ID) bool {
	return t.Get(id).Active()
}

// HashAlgorithm selects the spork/dsq signing-hash scheme (spec §4.3): once
// NEW_SIGS is active, signed payloads are double-SHA256 of the packed
// fields directly; before that, they're double-SHA256 of a
// magic-prefixed ASCII concatenation.
type HashAlgorithm int

const (
	HashLegacyASCII HashAlgorithm = iota
	HashPackedFields
)

func (t *Table) SporkHashAlgorithm() HashAlgorithm {
	if t.IsActive(SporkNewSigs) {
		return HashPackedFields
	}
	return HashLegacyASCII
}

// FromWire converts a decoded wire.MsgSpork into a spork.Value.
func FromWire(m *wire.MsgSpork) Value {
	return Value{ID: ID(m.ID), Value: m.Value, TimeSigned: m.TimeSigned, Sig: append([]byte(nil), m.Sig...)}
}
