// Package workflow implements the four PrivateSend transaction-building
// workflows (C6): pay-collateral, new-collateral, new-denoms, and
// denominate. All four share a common lifecycle, defined here; each
// workflow's own construction logic lives in its own file.
package workflow

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/mixcore/internal/denomstore"
	"github.com/rawblock/mixcore/internal/wire"
	"github.com/rawblock/mixcore/pkg/mixtypes"
)

// ErrNotEnoughFunds is raised by workflow builders when the wallet cannot
// afford the planned transaction(s) (spec §7).
var ErrNotEnoughFunds = errors.New("workflow: not enough funds")

// ErrPossibleDoubleSpend guards a user broadcast against spending a denom
// outpoint currently locked to an active workflow (spec §7, S7).
var ErrPossibleDoubleSpend = errors.New("workflow: possible double spend")

// ErrSpendToPSAddress guards a user broadcast against paying a
// PS-reserved address, which would leak mixing activity (spec §7).
var ErrSpendToPSAddress = errors.New("workflow: spend to ps address")

// Kind identifies which of the four workflows an instance is.
type Kind int

const (
	KindPayCollateral Kind = iota
	KindNewCollateral
	KindNewDenoms
	KindDenominate
)

func (k Kind) String() string {
	switch k {
	case KindPayCollateral:
		return "pay-collateral"
	case KindNewCollateral:
		return "new-collateral"
	case KindNewDenoms:
		return "new-denoms"
	case KindDenominate:
		return "denominate"
	default:
		return "unknown"
	}
}

// TxData is one transaction belonging to a workflow, tracked through the
// broadcast & retry policy of spec §4.6.5.
type TxData struct {
	Tx         *wire.Tx
	TxID       string
	SentAt     *time.Time
	NextSendAt *time.Time
}

// readyToSend reports whether t is eligible for the broadcast loop to send
// right now (spec §4.6.5: sent_at is null and next_send_at is null or <= now).
func (t *TxData) readyToSend(now time.Time) bool {
	if t.SentAt != nil {
		return false
	}
	return t.NextSendAt == nil || !t.NextSendAt.After(now)
}

// onBroadcastFailure sets the 10s retry backoff (spec §4.6.5).
func (t *TxData) onBroadcastFailure(now time.Time) {
	next := now.Add(10 * time.Second)
	t.NextSendAt = &next
}

// onBroadcastSuccess marks the tx sent (spec §4.6.5).
func (t *TxData) onBroadcastSuccess(now time.Time) {
	t.SentAt = &now
}

// Workflow is the shared envelope every one of the four builders produces:
// a UUID, an ordered list of txids (tx_order), the per-txid TxData table,
// the set of addresses reserved under this UUID, and the outpoints this
// workflow has locked in the bookkeeping store.
type Workflow struct {
	mu sync.Mutex

	UUID     string
	Kind     Kind
	TxOrder  []string
	TxData   map[string]*TxData
	Reserved []string // addresses reserved under UUID
	Locked   []string // bookkeeping outpoints locked under UUID

	completed bool
}

// New allocates a fresh workflow with a random UUID (spec §4.6: "UUID
// allocation").
func New(kind Kind) *Workflow {
	return &Workflow{
		UUID:    uuid.NewString(),
		Kind:    kind,
		TxData:  make(map[string]*TxData),
		TxOrder: nil,
	}
}

// AddTx appends txid to the ordered list and stores its TxData, keeping
// tx_order and TxData's key set equal as sets (spec §8 invariant 3).
func (w *Workflow) AddTx(txid string, tx *wire.Tx) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.TxData[txid]; exists {
		return
	}
	w.TxOrder = append(w.TxOrder, txid)
	w.TxData[txid] = &TxData{Tx: tx, TxID: txid}
}

// ReserveAddress records addr as reserved in store and locally, so Cleanup
// can find it again without a store lookup. An empty DataTag is set to this
// workflow's UUID; a caller-supplied tag (such as a producing outpoint) is
// kept.
func (w *Workflow) ReserveAddress(store *denomstore.Store, addr mixtypes.ReservedAddress) {
	if addr.DataTag == "" {
		addr.DataTag = w.UUID
	}
	store.Reserve(addr)
	w.mu.Lock()
	w.Reserved = append(w.Reserved, addr.Address)
	w.mu.Unlock()
}

// LockOutpoint records outpoint as locked under this workflow's UUID.
func (w *Workflow) LockOutpoint(outpoint string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Locked = append(w.Locked, outpoint)
}

// MarkCompleted flags the workflow as finished with a non-empty order,
// making Cleanup(force=false) a no-op (spec §4.6.6).
func (w *Workflow) MarkCompleted() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.completed = true
}

// NextToSend returns the next TxData eligible for broadcast, skipping any
// txid already visible in the wallet's unverified-tx set (spec §4.6.5).
func (w *Workflow) NextToSend(now time.Time, inUnverifiedSet func(txid string) bool) *TxData {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, txid := range w.TxOrder {
		td := w.TxData[txid]
		if inUnverifiedSet != nil && inUnverifiedSet(txid) {
			continue
		}
		if td.readyToSend(now) {
			return td
		}
	}
	return nil
}

// RecordBroadcastResult updates a tx's send state after an attempt.
func (w *Workflow) RecordBroadcastResult(txid string, err error, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	td, ok := w.TxData[txid]
	if !ok {
		return
	}
	if err != nil {
		td.onBroadcastFailure(now)
		return
	}
	td.onBroadcastSuccess(now)
}

// RemoveTx drops a tx from tx_order and TxData together, keeping them
// equal as sets (spec §8 invariant 3).
func (w *Workflow) RemoveTx(txid string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.TxData, txid)
	for i, id := range w.TxOrder {
		if id == txid {
			w.TxOrder = append(w.TxOrder[:i], w.TxOrder[i+1:]...)
			break
		}
	}
}

// WalletRemover is the narrow wallet-boundary slice Cleanup needs: remove
// a transaction if the wallet still has it.
type WalletRemover interface {
	RemoveTx(txid string) (hadTx bool, err error)
}

// Cleanup implements spec §4.6.6. With force=false it is a no-op on a
// completed workflow with a non-empty order. Otherwise (and always when
// force=true) it walks tx_order in reverse removing each tx from the
// wallet (or the local TxData entry if the wallet never had it), then
// releases every reserved address and spending lock tagged with this
// workflow's UUID.
func (w *Workflow) Cleanup(force bool, wallet WalletRemover, store *denomstore.Store) error {
	w.mu.Lock()
	skip := !force && w.completed && len(w.TxOrder) > 0
	order := append([]string(nil), w.TxOrder...)
	reserved := append([]string(nil), w.Reserved...)
	w.mu.Unlock()

	if skip {
		return nil
	}

	for i := len(order) - 1; i >= 0; i-- {
		txid := order[i]
		if wallet != nil {
			hadTx, err := wallet.RemoveTx(txid)
			if err != nil {
				return err
			}
			if hadTx {
				w.RemoveTx(txid)
				continue
			}
		}
		w.RemoveTx(txid)
	}

	for _, addr := range reserved {
		store.Release(addr)
	}
	store.ReleaseSpendingLocksForWorkflow(w.UUID)

	w.mu.Lock()
	w.Reserved = nil
	w.Locked = nil
	w.mu.Unlock()

	return nil
}

// CheckDoubleSpend implements the spec §7 S7 guard: a user-constructed tx
// that spends a denom outpoint currently locked to an active workflow must
// be rejected before the external broadcast call happens. Only denom
// spending locks are checked; collateral locks are not.
func CheckDoubleSpend(store *denomstore.Store, inputs []mixtypes.Outpoint) error {
	for _, op := range inputs {
		if store.IsSpendingDenom(op.String()) {
			return ErrPossibleDoubleSpend
		}
	}
	return nil
}

// CheckSpendToPSAddress implements the spec §7 guard against paying a
// PS-reserved address.
func CheckSpendToPSAddress(store *denomstore.Store, outputAddresses []string) error {
	for _, addr := range outputAddresses {
		if _, reserved := store.IsReserved(addr); reserved {
			return ErrSpendToPSAddress
		}
	}
	return nil
}
