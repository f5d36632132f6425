// Package netcfg carries the per-network constants the wire codec and peer
// pool need: magic bytes, default ports and the protocol version, shaped
// after btcsuite/btcd/chaincfg.Params.
package netcfg

import "github.com/btcsuite/btcd/chaincfg"

// ProtocolVersion is the P2P protocol version this core speaks.
const ProtocolVersion uint32 = 70216

// Params describes one network (mainnet/testnet).
type Params struct {
	Name        string
	Magic       [4]byte
	DefaultPort string
	SporkAddr   string
	// Chain carries the address-encoding version bytes this network uses,
	// reusing btcutil's address types instead of hand-rolling base58check.
	Chain *chaincfg.Params
}

// MainNetParams is the production network.
var MainNetParams = Params{
	Name:        "mainnet",
	Magic:       [4]byte{0xbf, 0x0c, 0x6b, 0xbd},
	DefaultPort: "9937",
	SporkAddr:   "XcJ9WALbVHzPVgpGAXWBMhT3AjNhjDQZBF",
	Chain: &chaincfg.Params{
		Name:             "mainnet",
		PubKeyHashAddrID: 0x4c,
		ScriptHashAddrID: 0x10,
		PrivateKeyID:     0xcc,
	},
}

// TestNetParams is the test network.
var TestNetParams = Params{
	Name:        "testnet",
	Magic:       [4]byte{0xce, 0xe2, 0xca, 0xff},
	DefaultPort: "19937",
	SporkAddr:   "yjPtiKh2uwk3bDutTEA2q9mCtXyiZRWn55",
	Chain: &chaincfg.Params{
		Name:             "testnet",
		PubKeyHashAddrID: 0x8c,
		ScriptHashAddrID: 0x13,
		PrivateKeyID:     0xef,
	},
}

// ByName resolves "mainnet"/"testnet" to its Params, defaulting to mainnet.
func ByName(name string) Params {
	if name == "testnet" {
		return TestNetParams
	}
	return MainNetParams
}

// MaxMixRounds returns the clamp ceiling for mix_rounds on this network
// (spec §4.8: testnet allows up to 256, mainnet up to 16).
func (p Params) MaxMixRounds() int {
	if p.Name == "testnet" {
		return 256
	}
	return 16
}
