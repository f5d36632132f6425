package mixer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/rawblock/mixcore/internal/keypairs"
	"github.com/rawblock/mixcore/internal/mixsession"
	"github.com/rawblock/mixcore/internal/workflow"
	"github.com/rawblock/mixcore/pkg/mixtypes"
)

// notEnoughFundsCooldownPeriod is how long a maintainer backs off after one
// of its workflow builders returns workflow.ErrNotEnoughFunds, so the group
// doesn't spin retrying a plan the wallet's balance hasn't changed enough to
// afford yet (spec §4.8).
const notEnoughFundsCooldownPeriod = 30 * time.Second

func (m *Manager) inCooldown() bool {
	m.cooldownMu.Lock()
	defer m.cooldownMu.Unlock()
	return time.Now().Before(m.notEnoughFundsUntil)
}

func (m *Manager) setCooldown() {
	m.cooldownMu.Lock()
	m.notEnoughFundsUntil = time.Now().Add(notEnoughFundsCooldownPeriod)
	m.cooldownMu.Unlock()
}

// notEnoughFundsCooldown itself does no work; it just keeps the cooldown gate
// alive for the duration of the maintainer group and logs when it lifts, so
// an operator watching logs can see why the pay/new-collateral/new-denoms
// maintainers went quiet and came back.
func (m *Manager) notEnoughFundsCooldown(ctx context.Context) error {
	wasInCooldown := false
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		now := m.inCooldown()
		if wasInCooldown && !now {
			log.Println("[Mixer] not-enough-funds cooldown lifted")
		}
		wasInCooldown = now
	}
}

// keypairsCacheWorker drives the keypair cache from NeedCache through
// Caching to Ready (spec §4.5), deriving exactly as many fresh keypairs per
// bucket as NeedNewKeypairsCnt prescribes, and separately invalidates the
// cache once it has sat Unused past its idle timeout.
func (m *Manager) keypairsCacheWorker(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if m.kp == nil {
			continue
		}
		m.kp.CheckIdleTimeout()

		if m.kp.State() != keypairs.NeedCache {
			continue
		}
		if !m.kp.BeginCaching() {
			continue
		}
		if err := m.fillKeypairCache(ctx); err != nil {
			log.Printf("[Mixer] keypair caching failed: %v", err)
			m.kp.Invalidate()
			continue
		}
		m.kp.MarkReady()
	}
}

func (m *Manager) fillKeypairCache(ctx context.Context) error {
	if m.deriver == nil {
		return fmt.Errorf("mixer: no keypair deriver configured")
	}

	cfg := m.config()
	existingDenoms := 0
	existingCollateralCap := 0
	if m.store != nil {
		existingDenoms = len(m.store.DenomsToMix())
		if _, ok := m.store.AnyConfirmedCollateral(); ok {
			existingCollateralCap = 1
		}
	}
	counts := keypairs.NeedNewKeypairsCnt(existingDenoms, 0, cfg.MixRounds, existingCollateralCap, false)

	plan := map[mixtypes.KeypairBucket]int{
		mixtypes.BucketPSSpendable: counts.PSSpendable,
		mixtypes.BucketPSChange:    counts.PSChange,
		mixtypes.BucketIncoming:    counts.Incoming,
	}
	for bucket, n := range plan {
		if n <= 0 {
			continue
		}
		derived, err := m.deriver.DeriveKeypairs(ctx, bucket, n)
		if err != nil {
			return err
		}
		entries := make([]keypairs.Entry, len(derived))
		for i, d := range derived {
			entries[i] = keypairs.Entry{Address: d.Address, XPubKey: d.XPubKey, PrivateKeyData: d.PrivateKeyData}
		}
		m.kp.Fill(bucket, entries)
	}
	return nil
}

// allMixedChecker implements spec §4.8's auto-stop: once the wallet's
// tracked denom total reaches the configured keep_amount target, mixing has
// nothing left to do and the manager stops itself rather than spin its
// maintainers indefinitely.
func (m *Manager) allMixedChecker(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if m.store == nil {
			continue
		}
		target := mixtypes.Amount(m.config().KeepAmount) * mixtypes.HaksPerCoin
		if m.store.DenomsAmount() >= target {
			m.setPendingStopReason(ErrAllMixed.Error())
			go m.Stop(context.Background())
			return nil
		}
	}
}

// changeReserverAdapter satisfies workflow.AddressReserver against the
// wallet-boundary AddressReserver, always drawing from the PS-change bucket.
type changeReserverAdapter struct {
	ctx context.Context
	m   *Manager
}

func (a changeReserverAdapter) ReserveChange(tag string) (string, error) {
	ra, err := a.m.reserver.Reserve(a.ctx, mixtypes.BucketPSChange, tag)
	if err != nil {
		return "", err
	}
	return ra.Address, nil
}

// denominateReserverAdapter satisfies workflow.DenominateReserver, routing
// through the main keystore bucket when a hardware keystore forces it.
type denominateReserverAdapter struct {
	ctx context.Context
	m   *Manager
}

func (a denominateReserverAdapter) Reserve(tag string, mainKeystore bool) (string, error) {
	bucket := mixtypes.BucketPSSpendable
	if mainKeystore {
		bucket = mixtypes.BucketSpendable
	}
	ra, err := a.m.reserver.Reserve(a.ctx, bucket, tag)
	if err != nil {
		return "", err
	}
	return ra.Address, nil
}

// walletRemoverAdapter satisfies workflow.WalletRemover against the
// broadcaster's RemoveTx, binding the ctx a Cleanup call was given.
type walletRemoverAdapter struct {
	ctx context.Context
	m   *Manager
}

func (a walletRemoverAdapter) RemoveTx(txid string) (bool, error) {
	return a.m.broadcaster.RemoveTx(a.ctx, txid)
}

// broadcastWorkflow drains wf's NextToSend loop, broadcasting each ready tx
// and recording the result, until nothing more is ready to send (spec
// §4.6.5). It returns once the workflow is fully sent or ctx is cancelled;
// the 10s per-tx retry backoff is enforced by TxData itself.
func (m *Manager) broadcastWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		td := wf.NextToSend(time.Now(), nil)
		if td == nil {
			if len(wf.TxOrder) == 0 {
				return nil
			}
			allSent := true
			for _, txid := range wf.TxOrder {
				data, ok := wf.TxData[txid]
				if !ok || data.SentAt == nil {
					allSent = false
					break
				}
			}
			if allSent {
				wf.MarkCompleted()
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				continue
			}
		}

		_, err := m.broadcaster.Broadcast(ctx, td.Tx)
		wf.RecordBroadcastResult(td.TxID, err, time.Now())
		if err != nil {
			log.Printf("[Mixer] broadcast of %s failed, will retry: %v", td.TxID, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// payCollateralMaintainer implements spec §4.6.1: whenever a confirmed
// collateral sits unspent and no pay-collateral workflow is already using
// one, spend it down (or top it back up via change) ahead of the next
// session that needs it.
func (m *Manager) payCollateralMaintainer(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if m.store == nil || m.reserver == nil || m.broadcaster == nil || m.inCooldown() {
			continue
		}
		if _, ok := m.store.AnyConfirmedCollateral(); !ok {
			continue
		}
		if m.kp != nil && m.kp.State() != keypairs.Ready {
			continue
		}

		reserver := changeReserverAdapter{ctx: ctx, m: m}
		wf, _, err := workflow.BuildPayCollateral(m.store, reserver)
		if err != nil {
			if isNotEnoughFunds(err) {
				m.setCooldown()
				continue
			}
			log.Printf("[Mixer] pay-collateral build failed: %v", err)
			continue
		}
		if err := m.broadcastWorkflow(ctx, wf); err != nil && ctx.Err() == nil {
			log.Printf("[Mixer] pay-collateral broadcast failed: %v", err)
			_ = wf.Cleanup(false, walletRemoverAdapter{ctx: ctx, m: m}, m.store)
		}
	}
}

// newCollateralMaintainer implements spec §4.6.2: top up collateral
// capacity from a spendable regular coin (or, failing that, a minimum-value
// denom) whenever the wallet has no spare CreateCollateralVals-sized coin
// waiting.
func (m *Manager) newCollateralMaintainer(ctx context.Context) error {
	ticker := time.NewTicker(7 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if m.store == nil || m.reserver == nil || m.broadcaster == nil || m.wallet == nil || m.inCooldown() {
			continue
		}
		if m.store.HasCreateCollateralUTXO() {
			continue
		}
		if m.kp != nil && m.kp.State() != keypairs.Ready {
			continue
		}

		coin, fallback, err := m.pickCollateralSeed(ctx)
		if err != nil {
			log.Printf("[Mixer] new-collateral seed lookup failed: %v", err)
			continue
		}

		feePerKB, err := m.feePerKB(ctx)
		if err != nil {
			log.Printf("[Mixer] fee estimate failed: %v", err)
			continue
		}

		reserver := changeReserverAdapter{ctx: ctx, m: m}
		wf, _, err := workflow.BuildNewCollateral(m.store, coin, fallback, reserver, feePerKB)
		if err != nil {
			if isNotEnoughFunds(err) {
				m.setCooldown()
				continue
			}
			log.Printf("[Mixer] new-collateral build failed: %v", err)
			continue
		}
		if err := m.broadcastWorkflow(ctx, wf); err != nil && ctx.Err() == nil {
			log.Printf("[Mixer] new-collateral broadcast failed: %v", err)
			_ = wf.Cleanup(false, walletRemoverAdapter{ctx: ctx, m: m}, m.store)
		}
	}
}

func (m *Manager) pickCollateralSeed(ctx context.Context) (workflow.RegularCoin, *mixtypes.Denom, error) {
	others, err := m.wallet.ListOtherCoins(ctx)
	if err != nil {
		return workflow.RegularCoin{}, nil, err
	}
	for _, c := range others {
		if c.Value > mixtypes.CreateCollateralVal {
			return workflow.RegularCoin{Outpoint: c.Outpoint, Address: c.Address, Value: c.Value}, nil, nil
		}
	}

	for _, d := range m.store.DenomsToMix() {
		if d.Value == mixtypes.MinDenomVal {
			dd := d
			return workflow.RegularCoin{}, &dd, nil
		}
	}
	return workflow.RegularCoin{}, nil, fmt.Errorf("mixer: %w: no seed coin for new collateral", workflow.ErrNotEnoughFunds)
}

func (m *Manager) feePerKB(ctx context.Context) (mixtypes.Amount, error) {
	if m.fees == nil {
		return 1000, nil
	}
	return m.fees.FeePerKB(ctx)
}

// newDenomsMaintainer implements spec §4.6.3: whenever the wallet's
// regular-coin balance and existing denom total leave room under
// keep_amount, plan and broadcast a fresh new-denoms transaction chain.
func (m *Manager) newDenomsMaintainer(ctx context.Context) error {
	ticker := time.NewTicker(11 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if m.store == nil || m.reserver == nil || m.broadcaster == nil || m.wallet == nil || m.inCooldown() {
			continue
		}
		if m.kp != nil && m.kp.State() != keypairs.Ready {
			continue
		}

		others, err := m.wallet.ListOtherCoins(ctx)
		if err != nil {
			log.Printf("[Mixer] list other coins failed: %v", err)
			continue
		}
		if len(others) == 0 {
			continue
		}

		var coinsVal mixtypes.Amount
		srcCoins := make([]workflow.RegularCoin, len(others))
		for i, c := range others {
			srcCoins[i] = workflow.RegularCoin{Outpoint: c.Outpoint, Address: c.Address, Value: c.Value}
			coinsVal += c.Value
		}

		feePerKB, err := m.feePerKB(ctx)
		if err != nil {
			log.Printf("[Mixer] fee estimate failed: %v", err)
			continue
		}
		_, hasCollateral := m.store.AnyConfirmedCollateral()
		cfg := m.config()

		plan := workflow.CalcNeedDenomsAmounts(workflow.DenomsPlanInput{
			KeepAmountCoins:       cfg.KeepAmount,
			OldDenomsVal:          m.store.DenomsAmount(),
			OldDenomsCnt:          len(m.store.DenomsToMix()),
			CoinsVal:              coinsVal,
			CoinsCnt:              len(srcCoins),
			FeePerKB:              feePerKB,
			MixRounds:             cfg.MixRounds,
			AtLeastRound:          func(int) int { return 0 },
			OldCollateralsVal:     0,
			HasExistingCollateral: hasCollateral,
		})
		if len(plan) == 0 {
			continue
		}

		reserver := changeReserverAdapter{ctx: ctx, m: m}
		wf, _, err := workflow.BuildNewDenoms(m.store, srcCoins, reserver, feePerKB, plan)
		if err != nil {
			if isNotEnoughFunds(err) {
				m.setCooldown()
				continue
			}
			log.Printf("[Mixer] new-denoms build failed: %v", err)
			continue
		}
		if err := m.broadcastWorkflow(ctx, wf); err != nil && ctx.Err() == nil {
			log.Printf("[Mixer] new-denoms broadcast failed: %v", err)
			_ = wf.Cleanup(false, walletRemoverAdapter{ctx: ctx, m: m}, m.store)
		}
	}
}

// mixDenoms implements spec §4.6.4 and §4.7 together: keep up to
// MaxSessions concurrent denominate sessions running against the wallet's
// still-needs-mixing denoms, retrying a failed session attempt with a fresh
// Workflow rather than treating it as a permanent failure.
func (m *Manager) mixDenoms(ctx context.Context) error {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	sem := make(chan struct{}, maxInt(1, m.config().MaxSessions))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if m.store == nil || m.pool == nil || m.mnList == nil || m.signer == nil || m.reserver == nil {
			continue
		}
		if m.kp != nil && m.kp.State() != keypairs.Ready {
			continue
		}

		cfg := m.config()
		if cap(sem) != maxInt(1, cfg.MaxSessions) {
			sem = make(chan struct{}, maxInt(1, cfg.MaxSessions))
		}

		value := pickDenomValueToMix(m.store)
		if value == 0 {
			continue
		}

		select {
		case sem <- struct{}{}:
		default:
			continue
		}

		go func(denomValue mixtypes.Amount) {
			defer func() { <-sem }()
			m.runOneDenominateSession(ctx, denomValue)
		}(value)
	}
}

func pickDenomValueToMix(store interface {
	DenomsToMix() map[string]mixtypes.Denom
}) mixtypes.Amount {
	for _, d := range store.DenomsToMix() {
		return d.Value
	}
	return 0
}

func (m *Manager) runOneDenominateSession(ctx context.Context, value mixtypes.Amount) {
	inputs := workflow.SelectDenominateInputs(m.store, value, false, nil, nil)
	if len(inputs) == 0 {
		return
	}

	atomic.AddInt32(&m.activeSessions, 1)
	defer atomic.AddInt32(&m.activeSessions, -1)

	cfg := m.config()
	reserver := denominateReserverAdapter{ctx: ctx, m: m}
	wf, outs, err := workflow.BuildDenominateWorkflow(m.store, inputs, cfg.MixRounds, false, reserver)
	if err != nil {
		log.Printf("[Mixer] denominate build failed: %v", err)
		return
	}

	target := mixsession.Target{
		Denom:       value,
		Inputs:      inputs,
		OutputAddrs: outs.Addresses,
	}
	deps := mixsession.Deps{Pool: m.pool, MNList: m.mnList, Signer: m.signer}

	if err := mixsession.Run(ctx, deps, target); err != nil {
		if ctx.Err() == nil {
			log.Printf("[Mixer] denominate session aborted, will retry next pass: %v", err)
		}
		_ = wf.Cleanup(false, walletRemoverAdapter{ctx: ctx, m: m}, m.store)
		return
	}

	wf.MarkCompleted()
}

func isNotEnoughFunds(err error) bool {
	return errors.Is(err, workflow.ErrNotEnoughFunds)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
