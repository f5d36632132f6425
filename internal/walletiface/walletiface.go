// Package walletiface defines the boundary between the mixing core and the
// wallet it mixes on behalf of. The core never touches a keystore, UTXO set,
// or masternode list directly; it calls these interfaces and lets the host
// wallet decide how to satisfy them.
package walletiface

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/rawblock/mixcore/internal/wire"
	"github.com/rawblock/mixcore/pkg/mixtypes"
)

// Broadcaster sends a finished transaction to the network and reports
// whether the wallet itself already holds a conflicting spend of any input
// (spec §4.6.5's double-spend check happens before broadcast, but the
// wallet is the source of truth for what else it has pending).
type Broadcaster interface {
	Broadcast(ctx context.Context, tx *wire.Tx) (chainhashHex string, err error)
	HasConflictingSpend(ctx context.Context, inputs []mixtypes.Outpoint) (bool, error)

	// RemoveTx drops tx from the wallet's pending set (e.g. a workflow
	// abort before broadcast), reporting whether the wallet still had it
	// so Workflow.Cleanup knows whether to also adjust its own TxData.
	RemoveTx(ctx context.Context, txid string) (hadTx bool, err error)
}

// UTXOSource answers questions about the wallet's coin set: confirmed
// spendable denominations, collaterals, and other non-denominated coins,
// scoped by keypair bucket.
type UTXOSource interface {
	ListDenoms(ctx context.Context) ([]mixtypes.Denom, error)
	ListCollaterals(ctx context.Context) ([]mixtypes.Collateral, error)
	ListOtherCoins(ctx context.Context) ([]mixtypes.OtherCoin, error)
	Confirmations(ctx context.Context, op mixtypes.Outpoint) (int32, error)
}

// AddressReserver hands out fresh receive addresses from a specific keypair
// bucket and lets the core return one unused, e.g. after a workflow aborts
// before broadcasting (spec §4.6.6).
type AddressReserver interface {
	Reserve(ctx context.Context, bucket mixtypes.KeypairBucket, tag string) (mixtypes.ReservedAddress, error)
	Release(ctx context.Context, addr mixtypes.ReservedAddress) error
	MarkUsed(ctx context.Context, addr mixtypes.ReservedAddress) error
}

// MessageSigner signs transaction inputs and raw messages. Hardware
// keystores are sometimes restricted to a single "main" keystore policy: a
// denominate workflow's last mixing round must route signing through that
// keystore rather than the per-output PS keystore the earlier rounds used
// (an Open Question resolved in DESIGN.md).
type MessageSigner interface {
	SignInput(ctx context.Context, tx *wire.Tx, inputIndex int, prevPkScript []byte, amount mixtypes.Amount, bucket mixtypes.KeypairBucket) ([]byte, error)
	SignMessage(ctx context.Context, address string, msg []byte) (*ecdsa.Signature, error)

	// RequiresMainKeystore reports whether signing for address must go
	// through the wallet's primary keystore instead of a PS-bucket one.
	// Always false for software keystores; hardware keystores that can
	// only hold one active signing context return true.
	RequiresMainKeystore(address string) bool
}

// MasternodeEntry is the subset of a masternode list entry the mixing core
// needs to pick a session counterparty and verify its dsq signature.
type MasternodeEntry struct {
	Outpoint       mixtypes.Outpoint
	Service        wire.Service
	PubKeyOperator [48]byte
	IsValid        bool
}

// MasternodeList exposes the current masternode list for session-partner
// selection (spec §4.7: 67% weighted toward recently-broadcast dsq queue
// entries, else uniformly at random, capped at 10 attempts).
type MasternodeList interface {
	RandomValid(ctx context.Context, excluded []mixtypes.Outpoint) (MasternodeEntry, error)
	ByOutpoint(ctx context.Context, op mixtypes.Outpoint) (MasternodeEntry, bool, error)
}

// SporkSource exposes the live spork table the wallet process maintains,
// gathered over its own p2p connections.
type SporkSource interface {
	IsPrivateSendEnabled(ctx context.Context) bool
	IsInstantSendEnabled(ctx context.Context) bool
}

// FeeSource exposes the wallet's current relay fee-per-KB estimate, used to
// size change outputs across all four workflow builders.
type FeeSource interface {
	FeePerKB(ctx context.Context) (mixtypes.Amount, error)
}

// KeypairDeriver derives fresh keypairs into a given bucket. The wallet
// owns the HD seed and private key material; the mixing core only ever
// asks for more and hands signing back through MessageSigner (spec §4.5:
// the keypair cache holds derived keys ahead of the sessions that need
// them, but derivation itself is a wallet-keystore operation).
type KeypairDeriver interface {
	DeriveKeypairs(ctx context.Context, bucket mixtypes.KeypairBucket, count int) ([]KeypairEntry, error)
}

// KeypairEntry is one freshly derived keypair, handed to
// internal/keypairs.Cache.Fill.
type KeypairEntry struct {
	Address        string
	XPubKey        string
	PrivateKeyData []byte
}
