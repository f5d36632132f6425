// Package mixtypes holds the shared vocabulary of the mixing core: the
// denomination ladder, collateral values, outpoints and the coin records
// that denomstore, workflow and mixsession all key off of.
package mixtypes

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Amount is an integer count of haks (1 coin == 1e8 haks).
type Amount int64

const (
	// HaksPerCoin is the number of haks in one coin.
	HaksPerCoin Amount = 100000000

	// MinDenomVal is the smallest value any denom output may carry.
	MinDenomVal Amount = 100001

	// CollateralVal is the fixed fee a pay-collateral transaction burns
	// or returns as change.
	CollateralVal Amount = 10000

	// CreateCollateralVal is the output value a new-collateral workflow
	// targets: four times CollateralVal. Distinct from CollateralVal
	// itself and from the CreateCollateralVals acceptance list below.
	CreateCollateralVal Amount = CollateralVal * 4

	// PrivateSendEntryMaxSize is the maximum number of inputs (and
	// outputs) of one denom value a single client contributes to a
	// mixing session.
	PrivateSendEntryMaxSize = 9

	// PoolMinParticipants and PoolMaxParticipants bound a mixing session.
	PoolMinParticipants = 3
	PoolMaxParticipants = 5

	// QueueTimeoutSeconds is how long a dsq queue announcement is valid for.
	QueueTimeoutSeconds = 30

	// SessionMsgTimeoutSeconds bounds any single read while in a session.
	SessionMsgTimeoutSeconds = 40

	// PostMixSettleSeconds is the cooldown after a finished mix before a
	// denom participates again.
	PostMixSettleSeconds = 120

	// WaitForMNTxsSeconds is how long an interrupted denominate workflow
	// is retained before garbage collection, in case the masternode still
	// broadcasts the final transaction.
	WaitForMNTxsSeconds = 120

	// MaxNewDenomsPerValue bounds how many same-value denom outputs a
	// single new-denoms transaction creates.
	MaxNewDenomsPerValue = 11
)

// Ladder is the fixed set of denomination values, descending.
var Ladder = []Amount{1000010000, 100001000, 10000100, 1000010, 100001}

// CreateCollateralVals is {10000*k | k=1..10}, ascending.
var CreateCollateralVals = func() []Amount {
	vals := make([]Amount, 10)
	for k := 1; k <= 10; k++ {
		vals[k-1] = CollateralVal * Amount(k)
	}
	return vals
}()

// MaxCollateralVal is the largest acceptable collateral size, the last
// (largest) entry of CreateCollateralVals.
var MaxCollateralVal = CreateCollateralVals[len(CreateCollateralVals)-1]

// IsDenom reports whether v is one of the ladder values.
func IsDenom(v Amount) bool {
	for _, l := range Ladder {
		if l == v {
			return true
		}
	}
	return false
}

// IsCollateralVal reports whether v is one of CreateCollateralVals.
func IsCollateralVal(v Amount) bool {
	for _, c := range CreateCollateralVals {
		if c == v {
			return true
		}
	}
	return false
}

// Outpoint identifies a transaction output. It is used as an opaque key
// (via String) in every bookkeeping table; no package holds a pointer into
// another package's tx structures, only these keys.
type Outpoint struct {
	Hash chainhash.Hash
	Vout uint32
}

// String renders the canonical "<txid_hex>:<vout>" bookkeeping key.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.Hash.String(), o.Vout)
}

// IsNull reports whether this is the wire "null" outpoint (index 0xFFFFFFFF).
func (o Outpoint) IsNull() bool {
	return o.Vout == 0xFFFFFFFF && o.Hash == (chainhash.Hash{})
}

// Denom is a wallet outpoint holding one ladder value, tracked for mixing.
type Denom struct {
	Outpoint  Outpoint
	Address   string
	Value     Amount
	Rounds    int
	Confirmed bool
	IsLocked  bool // covered by an InstantSend lock
}

// Collateral is a wallet outpoint holding one CreateCollateralVals value.
type Collateral struct {
	Outpoint  Outpoint
	Address   string
	Value     Amount
	Confirmed bool
}

// OtherCoin is a UTXO that landed on a PS-reserved address via an external
// (non-mixing) transaction.
type OtherCoin struct {
	Outpoint Outpoint
	Address  string
	Value    Amount
}

// ReservedAddress records why an address must not be reused.
type ReservedAddress struct {
	Address   string
	ForChange bool
	// DataTag is either a workflow UUID string or a producing outpoint
	// string, per spec §3.
	DataTag string
}

// KeypairBucket names one of the five keypair-cache buckets (spec §4.5).
type KeypairBucket int

const (
	BucketIncoming KeypairBucket = iota
	BucketSpendable
	BucketPSSpendable
	BucketPSCoins
	BucketPSChange
)

func (b KeypairBucket) String() string {
	switch b {
	case BucketIncoming:
		return "INCOMING"
	case BucketSpendable:
		return "SPENDABLE"
	case BucketPSSpendable:
		return "PS_SPENDABLE"
	case BucketPSCoins:
		return "PS_COINS"
	case BucketPSChange:
		return "PS_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// PsTxType tags the structural classification of a wallet transaction
// (spec §4.9).
type PsTxType int

const (
	PsTxUnknown PsTxType = iota
	PsTxDenominate
	PsTxPayCollateral
	PsTxNewCollateral
	PsTxNewDenoms
	PsTxOtherPSCoins
	PsTxPrivateSend
	PsTxSpendPSCoins
)

func (t PsTxType) String() string {
	switch t {
	case PsTxDenominate:
		return "DENOMINATE"
	case PsTxPayCollateral:
		return "PAY_COLLATERAL"
	case PsTxNewCollateral:
		return "NEW_COLLATERAL"
	case PsTxNewDenoms:
		return "NEW_DENOMS"
	case PsTxOtherPSCoins:
		return "OTHER_PS_COINS"
	case PsTxPrivateSend:
		return "PRIVATESEND"
	case PsTxSpendPSCoins:
		return "SPEND_PS_COINS"
	default:
		return "UNKNOWN"
	}
}
