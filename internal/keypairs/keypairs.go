// Package keypairs is the PrivateSend keypair cache (C5): a small pool of
// pre-derived addresses and their private key material, sized ahead of a
// mixing run so the signer never has to pause for key derivation mid
// session (spec §4.5).
package keypairs

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rawblock/mixcore/pkg/mixtypes"
)

// ErrNotFoundInKeypairs is raised by the signer when an input address
// isn't present in the cache (spec §7).
var ErrNotFoundInKeypairs = errors.New("keypairs: address not found in cache")

// ErrSignWithKeypairsFailed is raised when fewer inputs got signed than
// expected using cached keys (spec §7).
var ErrSignWithKeypairsFailed = errors.New("keypairs: sign with cached keypairs failed")

// KPMaxIncomingTxs bounds how many split-transactions an incoming deposit
// is assumed to arrive as (spec §4.5 step 5).
const KPMaxIncomingTxs = 5

// Entry is one cached keypair.
type Entry struct {
	Address        string
	XPubKey        string
	PrivateKeyData []byte
}

// State is the cache's lifecycle position (spec §4.5).
type State int

const (
	Empty State = iota
	NeedCache
	Caching
	Ready
	Unused
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case NeedCache:
		return "need-cache"
	case Caching:
		return "caching"
	case Ready:
		return "ready"
	case Unused:
		return "unused"
	default:
		return "unknown"
	}
}

// Cache holds the five keypair buckets and the cache's own lifecycle
// state. Transitions are manager-driven; only the manager calls
// RequestCaching/MarkReady/Invalidate.
type Cache struct {
	mu      sync.Mutex
	state   State
	buckets map[mixtypes.KeypairBucket]map[string]Entry

	lastUsed       time.Time
	idleTimeout    time.Duration // 0 disables the timeout
	unusedSinceSet bool
}

// New builds an empty cache. idleTimeout is the kp_timeout mixconfig knob.
func New(idleTimeout time.Duration) *Cache {
	c := &Cache{
		state:       Empty,
		buckets:     make(map[mixtypes.KeypairBucket]map[string]Entry),
		idleTimeout: idleTimeout,
	}
	for b := mixtypes.BucketIncoming; b <= mixtypes.BucketPSChange; b++ {
		c.buckets[b] = make(map[string]Entry)
	}
	return c
}

func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestCaching transitions Empty/Unused -> NeedCache; a background
// worker should then call BeginCaching.
func (c *Cache) RequestCaching() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Empty || c.state == Unused {
		c.state = NeedCache
	}
}

// BeginCaching transitions NeedCache -> Caching. Returns false if the
// cache wasn't in NeedCache.
func (c *Cache) BeginCaching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != NeedCache {
		return false
	}
	c.state = Caching
	return true
}

// Fill inserts newly derived entries into bucket while Caching.
func (c *Cache) Fill(bucket mixtypes.KeypairBucket, entries []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.buckets[bucket][e.Address] = e
	}
}

// MarkReady transitions Caching -> Ready.
func (c *Cache) MarkReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Ready
	c.lastUsed = time.Now()
}

// MarkUnused transitions Ready -> Unused, starting the idle-timeout clock.
func (c *Cache) MarkUnused() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Ready {
		c.state = Unused
		c.lastUsed = time.Now()
	}
}

// Invalidate wipes all key material and returns the cache to Empty. Called
// on any sign failure (spec §4.5) or idle-timeout expiry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for bucket, entries := range c.buckets {
		for addr, e := range entries {
			zeroize(e.PrivateKeyData)
			delete(entries, addr)
		}
		c.buckets[bucket] = entries
	}
	c.state = Empty
}

// CheckIdleTimeout invalidates the cache if it has sat Unused past
// idleTimeout. The manager calls this periodically.
func (c *Cache) CheckIdleTimeout() {
	c.mu.Lock()
	if c.idleTimeout <= 0 || c.state != Unused {
		c.mu.Unlock()
		return
	}
	expired := time.Since(c.lastUsed) > c.idleTimeout
	c.mu.Unlock()
	if expired {
		c.Invalidate()
	}
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Lookup finds the cached keypair for address in bucket.
func (c *Cache) Lookup(bucket mixtypes.KeypairBucket, address string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.buckets[bucket][address]
	if !ok {
		return Entry{}, ErrNotFoundInKeypairs
	}
	return e, nil
}

// Purge removes a consumed address from bucket once its spending tx is
// confirmed, unless keepChange is set (a workflow deliberately sent change
// back to an input address, spec §4.5).
func (c *Cache) Purge(bucket mixtypes.KeypairBucket, address string, keepChange bool) {
	if keepChange {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.buckets[bucket][address]; ok {
		zeroize(e.PrivateKeyData)
		delete(c.buckets[bucket], address)
	}
}

// Counts is the output of NeedNewKeypairsCnt: how many fresh keypairs to
// derive per bucket.
type Counts struct {
	PSSpendable int
	PSChange    int
	Incoming    int
}

// NeedNewKeypairsCnt implements calc_need_new_keypairs_cnt (spec §4.5):
//
//  1. futureDenomOutputs is the number of denom outputs that will need
//     signing across the remaining mixing rounds of the existing denom
//     count plus whatever new-denoms will add.
//  2. payCollateralCnt = ceil(futureDenomOutputs / 10 / 1.1), an empirical
//     1-pay-collateral-per-10-denominates ratio inflated by 1.1.
//  3. newCollateralCnt = ceil(payCollateralCnt * 0.25) (each new collateral
//     funds 4 pay-collateral rounds); needSignChangeCnt = ceil(payCollateralCnt * 0.75).
//  4. Existing collateral capacity is subtracted from newCollateralCnt.
//  5. If incoming funds are expected to split across <= KPMaxIncomingTxs
//     transactions, every count is multiplied by KPMaxIncomingTxs and an
//     INCOMING allocation of the same size is added.
func NeedNewKeypairsCnt(existingDenomCount, newDenomOutputsPlanned, remainingMixRounds, existingCollateralCapacity int, expectSplitIncoming bool) Counts {
	futureDenomOutputs := (existingDenomCount + newDenomOutputsPlanned) * remainingMixRounds
	if futureDenomOutputs < 0 {
		futureDenomOutputs = 0
	}

	payCollateralCnt := int(math.Ceil(float64(futureDenomOutputs) / 10.0 / 1.1))
	newCollateralCnt := int(math.Ceil(float64(payCollateralCnt) * 0.25))
	needSignChangeCnt := int(math.Ceil(float64(payCollateralCnt) * 0.75))

	newCollateralCnt -= existingCollateralCapacity
	if newCollateralCnt < 0 {
		newCollateralCnt = 0
	}

	counts := Counts{
		PSSpendable: newCollateralCnt,
		PSChange:    needSignChangeCnt,
	}

	if expectSplitIncoming {
		counts.PSSpendable *= KPMaxIncomingTxs
		counts.PSChange *= KPMaxIncomingTxs
		counts.Incoming = counts.PSSpendable
	}

	return counts
}
