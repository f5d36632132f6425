// Package mixer is the top-level mixing manager (C8): a single state
// machine that owns the decision of when to spend keypair-cache capacity,
// schedule workflows, and open mix sessions, reacting to balance, network
// and spork changes (spec §4.8).
package mixer

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/mixcore/internal/denomstore"
	"github.com/rawblock/mixcore/internal/discovery"
	"github.com/rawblock/mixcore/internal/keypairs"
	"github.com/rawblock/mixcore/internal/mixconfig"
	"github.com/rawblock/mixcore/internal/p2p"
	"github.com/rawblock/mixcore/internal/walletiface"
)

// State is the manager's top-level position (spec §4.8).
type State int

const (
	Unsupported State = iota
	Disabled
	Initializing
	Ready
	StartMixing
	Mixing
	StopMixing
	FindingUntracked
	Errored
	Cleaning
)

func (s State) String() string {
	switch s {
	case Unsupported:
		return "UNSUPPORTED"
	case Disabled:
		return "DISABLED"
	case Initializing:
		return "INITIALIZING"
	case Ready:
		return "READY"
	case StartMixing:
		return "START_MIXING"
	case Mixing:
		return "MIXING"
	case StopMixing:
		return "STOP_MIXING"
	case FindingUntracked:
		return "FINDING_UNTRACKED"
	case Errored:
		return "ERRORED"
	case Cleaning:
		return "CLEANING"
	default:
		return "UNKNOWN_STATE"
	}
}

// Fixed-catalog error strings returned to the user-facing API when a start
// request cannot proceed (spec §4.8).
var (
	ErrNotEnabled         = errors.New("NOT_ENABLED")
	ErrInitializing       = errors.New("INITIALIZING")
	ErrAlreadyRunning     = errors.New("ALREADY_RUNNING")
	ErrFindUntrackedRun   = errors.New("FIND_UNTRACKED_RUN")
	ErrErrored            = errors.New("ERRORED")
	ErrNoNetwork          = errors.New("NO_NETWORK")
	ErrNoP2P              = errors.New("NO_P2P")
	ErrLLMQDataNotReady   = errors.New("LLMQ_DATA_NOT_READY")
	ErrMNSDataNotReady    = errors.New("MNS_DATA_NOT_READY")
	ErrWatchingOnly       = errors.New("WATCHING_ONLY")
	ErrAllMixed           = errors.New("ALL_MIXED")
	ErrUnknownStateForOp  = errors.New("UNKNOWN_STATE")
)

// readinessCheckTimeout is how long network/masternode-list freshness
// checks are allowed to block a start request.
const readinessCheckTimeout = 5 * time.Second

// Readiness lets the host wallet report the preconditions StartMixing needs
// that this core cannot observe on its own.
type Readiness interface {
	NetworkConnected(ctx context.Context) bool
	MasternodeListSynced(ctx context.Context) bool
	LLMQDataReady(ctx context.Context) bool
	WatchingOnly() bool
}

// Event is broadcast to subscribers on every state transition and on
// notable milestones (session completed, all mixed, error).
type Event struct {
	State   State
	Message string
	Time    time.Time
}

// Status is the manager's externally visible snapshot (GET /mixing/status).
type Status struct {
	State             State  `json:"state"`
	Message           string `json:"message,omitempty"`
	Anonymized        int64  `json:"anonymized_haks"`
	Target            int64  `json:"target_haks"`
	ActiveSessions    int    `json:"active_sessions"`
	FoundUntrackedTxs int64  `json:"found_untracked_txs"`
}

// Manager owns the mixing state machine and its concurrent maintainer
// tasks. All fields under mu are the single-writer lock spec §4.8 requires.
type Manager struct {
	mu    sync.Mutex
	state State
	msg   string

	cfg   mixconfig.Config
	store *denomstore.Store
	kp    *keypairs.Cache
	pool  *p2p.Pool

	readiness  Readiness
	wallet     walletiface.UTXOSource
	reserver   walletiface.AddressReserver
	broadcaster walletiface.Broadcaster
	signer     walletiface.MessageSigner
	mnList     walletiface.MasternodeList
	sporks     walletiface.SporkSource
	deriver    walletiface.KeypairDeriver
	fees       walletiface.FeeSource

	history discovery.HistorySource
	psAddrs discovery.PSAddressSource
	scanner *discovery.Scanner

	subsMu sync.Mutex
	subs   []func(Event)

	cancel            context.CancelFunc
	wg                sync.WaitGroup
	pendingStopReason string

	cooldownMu          sync.Mutex
	notEnoughFundsUntil time.Time

	activeSessions    int32
	foundUntrackedTxs int64
}

// Deps bundles every collaborator the manager needs to run.
type Deps struct {
	Store       *denomstore.Store
	Keypairs    *keypairs.Cache
	Pool        *p2p.Pool
	Readiness   Readiness
	Wallet      walletiface.UTXOSource
	Reserver    walletiface.AddressReserver
	Broadcaster walletiface.Broadcaster
	Signer      walletiface.MessageSigner
	MNList      walletiface.MasternodeList
	Sporks      walletiface.SporkSource
	Deriver     walletiface.KeypairDeriver
	Fees        walletiface.FeeSource

	History discovery.HistorySource
	PSAddrs discovery.PSAddressSource
}

// New builds a Manager in the Disabled state.
func New(cfg mixconfig.Config, deps Deps) *Manager {
	return &Manager{
		state:       Disabled,
		cfg:         cfg,
		store:       deps.Store,
		kp:          deps.Keypairs,
		pool:        deps.Pool,
		readiness:   deps.Readiness,
		wallet:      deps.Wallet,
		reserver:    deps.Reserver,
		broadcaster: deps.Broadcaster,
		signer:      deps.Signer,
		mnList:      deps.MNList,
		sporks:      deps.Sporks,
		deriver:     deps.Deriver,
		fees:        deps.Fees,
		history:     deps.History,
		psAddrs:     deps.PSAddrs,
	}
}

// State returns the manager's current state under the single-writer lock.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) transition(s State, msg string) {
	m.mu.Lock()
	m.state = s
	m.msg = msg
	m.mu.Unlock()
	m.emit(Event{State: s, Message: msg})
}

// Subscribe registers fn to receive every future state transition/event.
func (m *Manager) Subscribe(fn func(Event)) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subs = append(m.subs, fn)
}

func (m *Manager) emit(ev Event) {
	ev.Time = time.Now()
	m.subsMu.Lock()
	subs := append([]func(Event){}, m.subs...)
	m.subsMu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Status returns the externally visible snapshot for GET /mixing/status.
func (m *Manager) Status(ctx context.Context) Status {
	m.mu.Lock()
	s, msg := m.state, m.msg
	m.mu.Unlock()

	anonymized, target := int64(0), int64(m.cfg.KeepAmount)*100000000
	if m.store != nil {
		anonymized = int64(m.store.DenomsAmount())
	}

	return Status{
		State:             s,
		Message:           msg,
		Anonymized:        anonymized,
		Target:            target,
		ActiveSessions:    int(atomic.LoadInt32(&m.activeSessions)),
		FoundUntrackedTxs: atomic.LoadInt64(&m.foundUntrackedTxs),
	}
}

// SetConfig replaces the manager's active configuration, normalized against
// maxMixRounds. Safe to call at any state; maintainers re-read cfg through
// the manager's getter on every loop pass.
func (m *Manager) SetConfig(cfg mixconfig.Config, maxMixRounds int) {
	m.mu.Lock()
	m.cfg = cfg.Normalize(maxMixRounds)
	m.mu.Unlock()
}

// setPendingStopReason records msg to surface as the StopMixing transition's
// message the next time Stop runs, used by maintainers (allMixedChecker)
// that decide to stop the manager themselves rather than on a user request.
func (m *Manager) setPendingStopReason(msg string) {
	m.mu.Lock()
	m.pendingStopReason = msg
	m.mu.Unlock()
}

func (m *Manager) config() mixconfig.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Start implements spec §4.8's StartMixing transition and error catalog. It
// blocks until the Mixing state is reached or a fixed-catalog error applies.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Unsupported:
		m.mu.Unlock()
		return ErrNotEnabled
	case Initializing:
		m.mu.Unlock()
		return ErrInitializing
	case Mixing, StartMixing:
		m.mu.Unlock()
		return ErrAlreadyRunning
	case FindingUntracked:
		m.mu.Unlock()
		return ErrFindUntrackedRun
	case Errored:
		m.mu.Unlock()
		return ErrErrored
	case StopMixing, Cleaning:
		m.mu.Unlock()
		return ErrUnknownStateForOp
	}
	m.mu.Unlock()

	if m.readiness != nil {
		rctx, cancel := context.WithTimeout(ctx, readinessCheckTimeout)
		defer cancel()
		if m.readiness.WatchingOnly() {
			return ErrWatchingOnly
		}
		if !m.readiness.NetworkConnected(rctx) {
			return ErrNoNetwork
		}
		if m.pool == nil {
			return ErrNoP2P
		}
		if !m.readiness.MasternodeListSynced(rctx) {
			return ErrMNSDataNotReady
		}
		if !m.readiness.LLMQDataReady(rctx) {
			return ErrLLMQDataNotReady
		}
	}

	m.transition(StartMixing, "")

	// The maintainer group must already be running before we wait on the
	// keypair cache: keypairsCacheWorker is the only goroutine that ever
	// calls BeginCaching/fillKeypairCache/MarkReady to drive
	// NeedCache->Caching->Ready (spec §4.5). Start merely polls State().
	sctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.runMaintainers(sctx)

	if m.kp != nil {
		m.kp.RequestCaching()
		for m.kp.State() != keypairs.Ready {
			select {
			case <-ctx.Done():
				cancel()
				m.drainMaintainers()
				m.transition(Ready, "start cancelled")
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
	}

	m.transition(Mixing, "")
	return nil
}

// drainMaintainers waits for the maintainer group to exit, bounded by
// stopDrainTimeout, used both by Stop and by Start's cancellation path.
func (m *Manager) drainMaintainers() {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopDrainTimeout):
		log.Println("[Mixer] maintainers did not drain within the stop timeout")
	}
}

// RunFindUntracked implements PS-data discovery (C9, spec §4.9): on wallet
// open, or the first time mixing is enabled, walk the wallet's transaction
// history and reclassify every transaction with no existing PS tag,
// transitioning Initializing/Ready -> FindingUntracked -> Ready (spec
// §4.8). Returns the number of transactions newly classified; per the
// idempotence property (spec §8 property 8), a second call over an
// unchanged history returns 0.
func (m *Manager) RunFindUntracked(ctx context.Context) (int, error) {
	m.mu.Lock()
	switch m.state {
	case Initializing, Ready, Disabled:
	default:
		m.mu.Unlock()
		return 0, ErrFindUntrackedRun
	}
	m.mu.Unlock()

	if m.history == nil {
		m.transition(Ready, "")
		return 0, nil
	}

	m.transition(FindingUntracked, "")

	txs, err := m.history.WalletHistory(ctx)
	if err != nil {
		m.transition(Errored, err.Error())
		return 0, err
	}

	if m.scanner == nil {
		m.scanner = discovery.NewScanner(m.store, m.psAddrs, m.config().MixRounds)
	}

	results, err := m.scanner.Run(ctx, txs, nil)
	if err != nil {
		m.transition(Errored, err.Error())
		return 0, err
	}

	atomic.AddInt64(&m.foundUntrackedTxs, int64(len(results)))

	m.transition(Ready, "")
	return len(results), nil
}

// Stop implements the Mixing/StartMixing -> StopMixing -> Ready transition
// (spec §4.8's Cancellation section): cancel every maintainer, wait for
// live sessions to drain up to SessionMsgTimeoutSeconds+5s, then settle in
// Ready.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if m.state != Mixing && m.state != StartMixing {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	reason := m.pendingStopReason
	m.pendingStopReason = ""
	m.mu.Unlock()

	m.transition(StopMixing, reason)
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopDrainTimeout):
		log.Println("[Mixer] maintainers did not drain within the stop timeout")
	case <-ctx.Done():
	}

	m.transition(Ready, "")
}

// stopDrainTimeout bounds how long Stop waits for in-flight sessions, per
// spec §4.8: PRIVATESEND_SESSION_MSG_TIMEOUT + 5s.
var stopDrainTimeout = 45 * time.Second

func (m *Manager) runMaintainers(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	m.wg.Add(1)

	tasks := []func(context.Context) error{
		m.keypairsCacheWorker,
		m.allMixedChecker,
		m.notEnoughFundsCooldown,
		m.payCollateralMaintainer,
		m.newCollateralMaintainer,
		m.newDenomsMaintainer,
		m.mixDenoms,
	}
	for _, task := range tasks {
		task := task
		g.Go(func() error { return task(gctx) })
	}

	go func() {
		defer m.wg.Done()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[Mixer] maintainer group exited: %v", err)
			m.transition(Errored, err.Error())
		}
	}()
}
