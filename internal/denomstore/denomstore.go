// Package denomstore is the PrivateSend bookkeeping table: every denom,
// collateral, and other coin this wallet has tracked, plus the reserved
// addresses handed out to workflows (spec §4.4).
//
// Concurrency: each coin family gets its own sync.RWMutex so readers don't
// block each other across families, mirroring the per-table locking in
// the teacher's heuristics address watchlist. Mutations that must touch
// more than one family acquire locks in a fixed order — denoms, then
// collaterals, then others — to prevent deadlock.
package denomstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rawblock/mixcore/pkg/mixtypes"
)

// ErrAddPSDataError is raised when an incoming confirmed tx fails one of
// the structural checks bookkeeping expects during confirmation processing
// (spec §7).
var ErrAddPSDataError = errors.New("denomstore: add ps data error")

// Store holds the full set of denomination bookkeeping tables, keyed by
// outpoint string ("<txid_hex>:<vout>").
type Store struct {
	denomsMu      sync.RWMutex
	denoms        map[string]mixtypes.Denom
	spentDenoms   map[string]mixtypes.Denom
	spendingDenom map[string]string // outpoint -> workflow uuid

	collateralMu      sync.RWMutex
	collaterals       map[string]mixtypes.Collateral
	spentCollaterals  map[string]mixtypes.Collateral
	spendingColl      map[string]string

	othersMu    sync.RWMutex
	others      map[string]mixtypes.OtherCoin
	spentOthers map[string]mixtypes.OtherCoin

	reservedMu sync.RWMutex
	reserved   map[string]mixtypes.ReservedAddress // address -> reservation

	cacheMu           sync.RWMutex
	mixRounds         int
	denomsAmountCache mixtypes.Amount
	denomsToMixCache  map[string]mixtypes.Denom
}

// New builds an empty Store for the given mix_rounds threshold.
func New(mixRounds int) *Store {
	return &Store{
		denoms:           make(map[string]mixtypes.Denom),
		spentDenoms:      make(map[string]mixtypes.Denom),
		spendingDenom:    make(map[string]string),
		collaterals:      make(map[string]mixtypes.Collateral),
		spentCollaterals: make(map[string]mixtypes.Collateral),
		spendingColl:     make(map[string]string),
		others:           make(map[string]mixtypes.OtherCoin),
		spentOthers:      make(map[string]mixtypes.OtherCoin),
		reserved:         make(map[string]mixtypes.ReservedAddress),
		mixRounds:        mixRounds,
		denomsToMixCache: make(map[string]mixtypes.Denom),
	}
}

// AddDenom records a newly discovered denom and refreshes the derived
// caches. Returns ErrAddPSDataError if the outpoint is already tracked as
// spent (violates invariant 1 of spec §8).
func (s *Store) AddDenom(d mixtypes.Denom) error {
	key := d.Outpoint.String()

	s.denomsMu.Lock()
	if _, spent := s.spentDenoms[key]; spent {
		s.denomsMu.Unlock()
		return fmt.Errorf("%w: outpoint %s already spent", ErrAddPSDataError, key)
	}
	s.denoms[key] = d
	s.denomsMu.Unlock()

	s.recomputeDenomCaches()
	return nil
}

// SpendDenom moves an outpoint from denoms to spent_denoms.
func (s *Store) SpendDenom(outpoint string) error {
	s.denomsMu.Lock()
	d, ok := s.denoms[outpoint]
	if !ok {
		s.denomsMu.Unlock()
		return fmt.Errorf("%w: outpoint %s not tracked as a denom", ErrAddPSDataError, outpoint)
	}
	delete(s.denoms, outpoint)
	s.spentDenoms[outpoint] = d
	delete(s.spendingDenom, outpoint)
	s.denomsMu.Unlock()

	s.recomputeDenomCaches()
	return nil
}

// MarkSpendingDenom reserves outpoint under workflowUUID so no other
// workflow may also spend it (spec §5 ordering rule b).
func (s *Store) MarkSpendingDenom(outpoint, workflowUUID string) error {
	s.denomsMu.Lock()
	defer s.denomsMu.Unlock()
	if _, ok := s.denoms[outpoint]; !ok {
		return fmt.Errorf("%w: outpoint %s not a tracked denom", ErrAddPSDataError, outpoint)
	}
	if owner, locked := s.spendingDenom[outpoint]; locked && owner != workflowUUID {
		return fmt.Errorf("%w: outpoint %s already locked by workflow %s", ErrAddPSDataError, outpoint, owner)
	}
	s.spendingDenom[outpoint] = workflowUUID
	return nil
}

// IsSpendingDenom reports whether outpoint is currently locked by any
// workflow (used by the double-spend guard, spec §7 S7).
func (s *Store) IsSpendingDenom(outpoint string) bool {
	s.denomsMu.RLock()
	defer s.denomsMu.RUnlock()
	_, locked := s.spendingDenom[outpoint]
	return locked
}

// ReleaseSpendingLocksForWorkflow clears every spending/reservation entry
// tagged with workflowUUID, across all three families in fixed lock order
// (spec §4.6: forcible cleanup invariant 4 of spec §8).
func (s *Store) ReleaseSpendingLocksForWorkflow(workflowUUID string) {
	s.denomsMu.Lock()
	for op, uuid := range s.spendingDenom {
		if uuid == workflowUUID {
			delete(s.spendingDenom, op)
		}
	}
	s.denomsMu.Unlock()

	s.collateralMu.Lock()
	for op, uuid := range s.spendingColl {
		if uuid == workflowUUID {
			delete(s.spendingColl, op)
		}
	}
	s.collateralMu.Unlock()

	s.reservedMu.Lock()
	for addr, r := range s.reserved {
		if r.DataTag == workflowUUID {
			delete(s.reserved, addr)
		}
	}
	s.reservedMu.Unlock()
}

// IncrementRounds bumps d.Rounds for outpoint by one, used on the round
// counter rule of spec §4.6.4 (S4).
func (s *Store) IncrementRounds(outpoint string) error {
	s.denomsMu.Lock()
	d, ok := s.denoms[outpoint]
	if !ok {
		s.denomsMu.Unlock()
		return fmt.Errorf("%w: outpoint %s not tracked", ErrAddPSDataError, outpoint)
	}
	d.Rounds++
	s.denoms[outpoint] = d
	s.denomsMu.Unlock()

	s.recomputeDenomCaches()
	return nil
}

// SetMixRounds updates the mix_rounds threshold and forces a
// denoms_to_mix_cache recompute (spec §4.4: "required after mix_rounds
// changes").
func (s *Store) SetMixRounds(rounds int) {
	s.cacheMu.Lock()
	s.mixRounds = rounds
	s.cacheMu.Unlock()
	s.recomputeDenomCaches()
}

func (s *Store) recomputeDenomCaches() {
	s.denomsMu.RLock()
	snapshot := make(map[string]mixtypes.Denom, len(s.denoms))
	for k, v := range s.denoms {
		snapshot[k] = v
	}
	locked := make(map[string]struct{}, len(s.spendingDenom))
	for k := range s.spendingDenom {
		locked[k] = struct{}{}
	}
	s.denomsMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	var total mixtypes.Amount
	toMix := make(map[string]mixtypes.Denom)
	for outpoint, d := range snapshot {
		total += d.Value
		if _, spending := locked[outpoint]; spending {
			continue
		}
		if d.Rounds < s.mixRounds {
			toMix[outpoint] = d
		}
	}
	s.denomsAmountCache = total
	s.denomsToMixCache = toMix
}

// DenomsAmount returns the cached sum of all tracked denom values.
func (s *Store) DenomsAmount() mixtypes.Amount {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.denomsAmountCache
}

// DenomsToMix returns a snapshot of denoms eligible for another mixing
// round (rounds < mix_rounds and not currently locked to a workflow).
func (s *Store) DenomsToMix() map[string]mixtypes.Denom {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	out := make(map[string]mixtypes.Denom, len(s.denomsToMixCache))
	for k, v := range s.denomsToMixCache {
		out[k] = v
	}
	return out
}

// Denom looks up a tracked denom by outpoint key, searching both the live
// and spent tables (internal/discovery's chaining rules need to see a
// denom's prior classification regardless of whether it has since been
// spent by the very tx being classified).
func (s *Store) Denom(outpoint string) (mixtypes.Denom, bool) {
	s.denomsMu.RLock()
	defer s.denomsMu.RUnlock()
	if d, ok := s.denoms[outpoint]; ok {
		return d, true
	}
	d, ok := s.spentDenoms[outpoint]
	return d, ok
}

// AddCollateral records a newly discovered collateral output.
func (s *Store) AddCollateral(c mixtypes.Collateral) error {
	key := c.Outpoint.String()
	s.collateralMu.Lock()
	defer s.collateralMu.Unlock()
	if _, spent := s.spentCollaterals[key]; spent {
		return fmt.Errorf("%w: outpoint %s already spent", ErrAddPSDataError, key)
	}
	s.collaterals[key] = c
	return nil
}

// AnyConfirmedCollateral reports whether at least one confirmed,
// non-locked collateral exists, and returns it (spec §4.6.1 trigger).
func (s *Store) AnyConfirmedCollateral() (mixtypes.Collateral, bool) {
	s.collateralMu.RLock()
	defer s.collateralMu.RUnlock()
	for op, c := range s.collaterals {
		if _, locked := s.spendingColl[op]; locked {
			continue
		}
		if c.Confirmed {
			return c, true
		}
	}
	return mixtypes.Collateral{}, false
}

// Collateral looks up a tracked collateral by outpoint key, live or spent.
func (s *Store) Collateral(outpoint string) (mixtypes.Collateral, bool) {
	s.collateralMu.RLock()
	defer s.collateralMu.RUnlock()
	if c, ok := s.collaterals[outpoint]; ok {
		return c, true
	}
	c, ok := s.spentCollaterals[outpoint]
	return c, ok
}

// MarkSpendingCollateral locks a collateral outpoint to workflowUUID.
func (s *Store) MarkSpendingCollateral(outpoint, workflowUUID string) error {
	s.collateralMu.Lock()
	defer s.collateralMu.Unlock()
	if _, ok := s.collaterals[outpoint]; !ok {
		return fmt.Errorf("%w: outpoint %s not a tracked collateral", ErrAddPSDataError, outpoint)
	}
	s.spendingColl[outpoint] = workflowUUID
	return nil
}

// SpendCollateral moves an outpoint from collaterals to spent_collaterals.
func (s *Store) SpendCollateral(outpoint string) error {
	s.collateralMu.Lock()
	defer s.collateralMu.Unlock()
	c, ok := s.collaterals[outpoint]
	if !ok {
		return fmt.Errorf("%w: outpoint %s not tracked as a collateral", ErrAddPSDataError, outpoint)
	}
	delete(s.collaterals, outpoint)
	s.spentCollaterals[outpoint] = c
	delete(s.spendingColl, outpoint)
	return nil
}

// HasCreateCollateralUTXO reports whether any tracked collateral or any
// regular (non-denom) coin of exactly a CREATE_COLLATERAL_VALS size exists,
// the precise trigger condition the original's new_collateral_maintainer
// checks for (SPEC_FULL.md §6.1) rather than just "no active workflow".
func (s *Store) HasCreateCollateralUTXO() bool {
	s.collateralMu.RLock()
	for _, c := range s.collaterals {
		if mixtypes.IsCollateralVal(c.Value) {
			s.collateralMu.RUnlock()
			return true
		}
	}
	s.collateralMu.RUnlock()

	s.othersMu.RLock()
	defer s.othersMu.RUnlock()
	for _, c := range s.others {
		if mixtypes.IsCollateralVal(c.Value) {
			return true
		}
	}
	return false
}

// AddOtherCoin records a non-denominated, non-collateral coin.
func (s *Store) AddOtherCoin(c mixtypes.OtherCoin) {
	key := c.Outpoint.String()
	s.othersMu.Lock()
	defer s.othersMu.Unlock()
	s.others[key] = c
}

// Other looks up a tracked non-denominated coin by outpoint key, live or
// already marked spent.
func (s *Store) Other(outpoint string) (mixtypes.OtherCoin, bool) {
	s.othersMu.RLock()
	defer s.othersMu.RUnlock()
	if c, ok := s.others[outpoint]; ok {
		return c, true
	}
	c, ok := s.spentOthers[outpoint]
	return c, ok
}

// SpendOther moves an outpoint from others to spent_others, mirroring
// SpendDenom for the third coin family (used when discovery classifies a tx
// that spends a tracked other-coin).
func (s *Store) SpendOther(outpoint string) error {
	s.othersMu.Lock()
	defer s.othersMu.Unlock()
	c, ok := s.others[outpoint]
	if !ok {
		return fmt.Errorf("%w: outpoint %s not tracked as an other coin", ErrAddPSDataError, outpoint)
	}
	delete(s.others, outpoint)
	s.spentOthers[outpoint] = c
	return nil
}

// Reserve records a freshly reserved address under workflowUUID.
func (s *Store) Reserve(addr mixtypes.ReservedAddress) {
	s.reservedMu.Lock()
	defer s.reservedMu.Unlock()
	s.reserved[addr.Address] = addr
}

// Release un-reserves an address (spec §4.6.6 cleanup).
func (s *Store) Release(address string) {
	s.reservedMu.Lock()
	defer s.reservedMu.Unlock()
	delete(s.reserved, address)
}

// IsReserved reports whether address is currently reserved by any
// workflow, and by which (spec §7 PSSpendToPSAddressesError guard).
func (s *Store) IsReserved(address string) (mixtypes.ReservedAddress, bool) {
	s.reservedMu.RLock()
	defer s.reservedMu.RUnlock()
	r, ok := s.reserved[address]
	return r, ok
}
