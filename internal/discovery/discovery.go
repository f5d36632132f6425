// Package discovery implements PS-data discovery (C9): on wallet open, or
// after mixing is first enabled, it walks the wallet's transaction history
// and reclassifies every transaction with no existing PS tag by structural
// pattern, recovering the denom/collateral/other bookkeeping denomstore
// needs without having observed the mixing sessions that originally
// produced those transactions (spec §4.9).
package discovery

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/rawblock/mixcore/internal/denomstore"
	"github.com/rawblock/mixcore/internal/workflow"
	"github.com/rawblock/mixcore/pkg/mixtypes"
)

// TxInput is one decoded input of a candidate transaction. The mixing core
// has no script-parsing role of its own (out of scope per spec §1), so the
// host wallet hands discovery addresses and values already resolved rather
// than raw scriptSigs.
type TxInput struct {
	Outpoint mixtypes.Outpoint
	Address  string
	Value    mixtypes.Amount
	IsMine   bool
}

// TxOutput is one decoded output.
type TxOutput struct {
	Address    string
	Value      mixtypes.Amount
	IsOpReturn bool
}

// ObservedTx is the wallet's decoded view of one transaction, in chain
// order, the shape classify and Scanner.Run operate on.
type ObservedTx struct {
	TxID    string
	Inputs  []TxInput
	Outputs []TxOutput
}

// outHash parses TxID into the chainhash form mixtypes.Outpoint keys need.
// A malformed TxID yields the zero hash, which simply fails to collide with
// any real outpoint rather than panicking mid-scan.
func (tx ObservedTx) outHash() chainhash.Hash {
	h, err := chainhash.NewHashFromStr(tx.TxID)
	if err != nil {
		return chainhash.Hash{}
	}
	return *h
}

// HistorySource supplies the wallet's full, chain-ordered transaction
// history for a discovery pass.
type HistorySource interface {
	WalletHistory(ctx context.Context) ([]ObservedTx, error)
}

// PSAddressSource reports whether an address was generated into one of the
// PS keypair buckets, the OTHER_PS_COINS pattern's "address in the
// PS-addresses set" test. Backed by the wallet's own address-bucket index,
// which tracks every address the core has ever reserved, not only the
// currently-unused ones denomstore.Store.IsReserved sees.
type PSAddressSource interface {
	IsPSAddress(ctx context.Context, address string) (bool, error)
}

// Result records one newly classified transaction from a discovery pass.
type Result struct {
	TxID string
	Type mixtypes.PsTxType
}

// Scanner runs classify to fixed point over a transaction set, applying the
// matching bookkeeping mutation to store as each transaction is classified
// so that later passes see an up-to-date picture (spec §4.9: "classifying
// tx A can change whether tx B's inputs are recognized as PS").
type Scanner struct {
	store        *denomstore.Store
	psAddrs      PSAddressSource
	minMixRounds int

	classified map[string]mixtypes.PsTxType
}

// NewScanner builds a Scanner backed by store, using psAddrs for the
// OTHER_PS_COINS test and minMixRounds for the PRIVATESEND round-floor
// check (mixconfig.Config.MixRounds at the time of the scan).
func NewScanner(store *denomstore.Store, psAddrs PSAddressSource, minMixRounds int) *Scanner {
	return &Scanner{
		store:        store,
		psAddrs:      psAddrs,
		minMixRounds: minMixRounds,
		classified:   make(map[string]mixtypes.PsTxType),
	}
}

// Classified reports the PsTxType this scanner has already assigned txid,
// if any, consulted by the chaining rules of NEW_DENOMS/NEW_COLLATERAL
// (txin0's own classification decides whether a non-minimal collateral
// output is legal).
func (s *Scanner) Classified(txid string) (mixtypes.PsTxType, bool) {
	t, ok := s.classified[txid]
	return t, ok
}

// Run iterates txs (already sorted in chain order by the caller) to a fixed
// point, then performs one final OTHER_PS_COINS-only pass over whatever is
// still unclassified, returning every transaction that was newly tagged.
// Already-tagged transactions (txid present in preclassified) are skipped
// entirely, matching the "no existing PS classification" precondition.
func (s *Scanner) Run(ctx context.Context, txs []ObservedTx, preclassified map[string]mixtypes.PsTxType) ([]Result, error) {
	for txid, t := range preclassified {
		s.classified[txid] = t
	}

	var results []Result
	for {
		progressed := false
		for _, tx := range txs {
			if _, done := s.classified[tx.TxID]; done {
				continue
			}
			t := s.classify(tx)
			if t == mixtypes.PsTxUnknown {
				continue
			}
			if err := s.apply(tx, t); err != nil {
				return results, err
			}
			s.classified[tx.TxID] = t
			results = append(results, Result{TxID: tx.TxID, Type: t})
			progressed = true
		}
		if !progressed {
			break
		}
	}

	for _, tx := range txs {
		if _, done := s.classified[tx.TxID]; done {
			continue
		}
		if !s.matchesOtherPSCoins(ctx, tx) {
			continue
		}
		if err := s.apply(tx, mixtypes.PsTxOtherPSCoins); err != nil {
			return results, err
		}
		s.classified[tx.TxID] = mixtypes.PsTxOtherPSCoins
		results = append(results, Result{TxID: tx.TxID, Type: mixtypes.PsTxOtherPSCoins})
	}

	return results, nil
}

// apply mutates store to reflect tx's classification, mirroring each
// PsTxType's _add_*_ps_data counterpart in the teacher's lineage. Best
// effort: an input that was never tracked (e.g. its own parent wasn't
// discovered yet, hence it's being discovered via the OTHER_PS_COINS
// fallback) is simply skipped rather than treated as an error, since
// find-untracked operates over possibly-incomplete history too.
func (s *Scanner) apply(tx ObservedTx, t mixtypes.PsTxType) error {
	switch t {
	case mixtypes.PsTxNewDenoms, mixtypes.PsTxNewCollateral:
		return s.applyNewCoins(tx)
	case mixtypes.PsTxPayCollateral:
		return s.applyPayCollateral(tx)
	case mixtypes.PsTxDenominate:
		return s.applyDenominate(tx)
	case mixtypes.PsTxPrivateSend, mixtypes.PsTxSpendPSCoins, mixtypes.PsTxOtherPSCoins:
		return s.applySpend(tx)
	}
	return nil
}

func (s *Scanner) spendTracked(outpoint string) {
	if _, ok := s.store.Denom(outpoint); ok {
		_ = s.store.SpendDenom(outpoint)
		return
	}
	if _, ok := s.store.Collateral(outpoint); ok {
		_ = s.store.SpendCollateral(outpoint)
		return
	}
	if _, ok := s.store.Other(outpoint); ok {
		_ = s.store.SpendOther(outpoint)
	}
}

// applyNewCoins handles both NEW_DENOMS and NEW_COLLATERAL: every mine
// input is marked spent, then every output is classified into a denom,
// collateral, or (if it's change landing back on an already-PS outpoint)
// other coin.
func (s *Scanner) applyNewCoins(tx ObservedTx) error {
	txin0 := tx.Inputs[0]
	txin0Key := txin0.Outpoint.String()
	txin0WasTracked := s.isTracked(txin0Key)

	for _, in := range tx.Inputs {
		if in.IsMine {
			s.spendTracked(in.Outpoint.String())
		}
	}

	for i, o := range tx.Outputs {
		outpoint := mixtypes.Outpoint{Hash: tx.outHash(), Vout: uint32(i)}
		switch {
		case o.Address == txin0.Address:
			if txin0WasTracked {
				s.store.AddOtherCoin(mixtypes.OtherCoin{Outpoint: outpoint, Address: o.Address, Value: o.Value})
			}
		case mixtypes.IsCollateralVal(o.Value):
			_ = s.store.AddCollateral(mixtypes.Collateral{Outpoint: outpoint, Address: o.Address, Value: o.Value, Confirmed: true})
		case mixtypes.IsDenom(o.Value):
			_ = s.store.AddDenom(mixtypes.Denom{Outpoint: outpoint, Address: o.Address, Value: o.Value, Rounds: 0, Confirmed: true})
		}
	}
	return nil
}

func (s *Scanner) applyPayCollateral(tx ObservedTx) error {
	in0 := tx.Inputs[0]
	s.spendTracked(in0.Outpoint.String())

	out0 := tx.Outputs[0]
	if out0.IsOpReturn {
		return nil
	}
	newOutpoint := mixtypes.Outpoint{Hash: tx.outHash(), Vout: 0}
	return s.store.AddCollateral(mixtypes.Collateral{
		Outpoint:  newOutpoint,
		Address:   out0.Address,
		Value:     out0.Value,
		Confirmed: true,
	})
}

func (s *Scanner) applyDenominate(tx ObservedTx) error {
	var inputRounds []int
	for _, in := range tx.Inputs {
		if !in.IsMine {
			continue
		}
		key := in.Outpoint.String()
		if d, ok := s.store.Denom(key); ok {
			inputRounds = append(inputRounds, d.Rounds)
		}
		s.spendTracked(key)
	}

	outputRounds := workflow.CalcRoundsForDenominateTx(false, nil, inputRounds)
	for i, o := range tx.Outputs {
		round := 0
		if i < len(outputRounds) {
			round = outputRounds[i]
		}
		outpoint := mixtypes.Outpoint{Hash: tx.outHash(), Vout: uint32(i)}
		_ = s.store.AddDenom(mixtypes.Denom{Outpoint: outpoint, Address: o.Address, Value: o.Value, Rounds: round, Confirmed: true})
	}
	return nil
}

// applySpend handles PRIVATESEND, SPEND_PS_COINS and OTHER_PS_COINS alike:
// every mine input that was tracked gets marked spent, and any output that
// lands on a PS address is picked up as a new other-coin (spec's
// OTHER_PS_COINS catches exactly this: external deposits to PS addresses).
func (s *Scanner) applySpend(tx ObservedTx) error {
	for _, in := range tx.Inputs {
		if in.IsMine {
			s.spendTracked(in.Outpoint.String())
		}
	}
	for i, o := range tx.Outputs {
		if s.psAddrs == nil {
			continue
		}
		isPS, err := s.psAddrs.IsPSAddress(context.Background(), o.Address)
		if err != nil || !isPS {
			continue
		}
		outpoint := mixtypes.Outpoint{Hash: tx.outHash(), Vout: uint32(i)}
		s.store.AddOtherCoin(mixtypes.OtherCoin{Outpoint: outpoint, Address: o.Address, Value: o.Value})
	}
	return nil
}

func (s *Scanner) isTracked(outpoint string) bool {
	if _, ok := s.store.Denom(outpoint); ok {
		return true
	}
	if _, ok := s.store.Collateral(outpoint); ok {
		return true
	}
	if _, ok := s.store.Other(outpoint); ok {
		return true
	}
	return false
}
