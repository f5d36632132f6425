package p2p

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/rawblock/mixcore/internal/netcfg"
)

// MinPeers and MaxPeersCap bound the pool's max_peers knob (spec §4.3).
const (
	MinPeers     = 2
	MaxPeersCap  = 8
	DefaultPeers = 2
)

// staticBackoff is how long a static peer that just failed is skipped for.
const staticBackoff = 10 * time.Second

// SeedResolver resolves a list of candidate peer addresses out-of-band
// (DNS-over-HTTPS seed resolution is out of scope for this core; a host
// wallet supplies a concrete implementation).
type SeedResolver interface {
	ResolveSeeds(ctx context.Context) ([]string, error)
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Params      netcfg.Params
	PeerConfig  Config
	MaxPeers    int      // clamped to [MinPeers, MaxPeersCap]
	StaticPeers []string // non-empty disables seed-based discovery
	Seeds       SeedResolver
}

func (c PoolConfig) clampedMaxPeers() int {
	n := c.MaxPeers
	if n < MinPeers {
		n = DefaultPeers
	}
	if n > MaxPeersCap {
		n = MaxPeersCap
	}
	return n
}

// Pool maintains the set of connected and in-flight peers, resolving
// candidates either from a static list or DNS-over-HTTPS seeds, and keeps
// the pool sized to max_peers (spec §4.3).
type Pool struct {
	cfg PoolConfig

	mu           sync.Mutex
	peers        map[string]*Peer
	connecting   map[string]struct{}
	foundPeers   []string
	banlist      map[string]time.Time
	staticCursor int
	lastFail     map[string]time.Time

	dsqRing *DSQRing

	cancel context.CancelFunc
}

// NewPool builds a Pool. Call Run to start its maintenance loop.
func NewPool(cfg PoolConfig) *Pool {
	return &Pool{
		cfg:        cfg,
		peers:      make(map[string]*Peer),
		connecting: make(map[string]struct{}),
		banlist:    make(map[string]time.Time),
		lastFail:   make(map[string]time.Time),
		dsqRing:    NewDSQRing(10),
	}
}

// DSQRing exposes the pool's recent-dsq / recent-mixes ring for session
// masternode selection (spec §4.7 step 1).
func (p *Pool) DSQRing() *DSQRing { return p.dsqRing }

// Peers returns a snapshot of the currently connected peers.
func (p *Pool) Peers() []*Peer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Peer, 0, len(p.peers))
	for _, peer := range p.peers {
		out = append(out, peer)
	}
	return out
}

// Run starts the ~100ms maintenance loop (spec §4.3). It returns when ctx
// is cancelled, after closing all connected peers.
func (p *Pool) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.closeAll()
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pool) closeAll() {
	p.mu.Lock()
	peers := make([]*Peer, 0, len(p.peers))
	for _, peer := range p.peers {
		peers = append(peers, peer)
	}
	p.mu.Unlock()
	for _, peer := range peers {
		peer.Close()
	}
}

func (p *Pool) tick(ctx context.Context) {
	maxPeers := p.cfg.clampedMaxPeers()

	p.mu.Lock()
	usingStatic := len(p.cfg.StaticPeers) > 0
	total := len(p.peers) + len(p.connecting)
	needSeeds := !usingStatic && (len(p.peers)+len(p.connecting)+len(p.foundPeers)-len(p.banlist) < 2)
	p.mu.Unlock()

	if needSeeds && p.cfg.Seeds != nil {
		seeds, err := p.cfg.Seeds.ResolveSeeds(ctx)
		if err != nil {
			log.Printf("[Pool] seed resolution failed: %v", err)
		} else {
			p.mu.Lock()
			p.foundPeers = seeds
			p.mu.Unlock()
		}
	}

	for total < maxPeers {
		addr, ok := p.pickCandidate(usingStatic)
		if !ok {
			break
		}
		p.dialAsync(ctx, addr)
		p.mu.Lock()
		total = len(p.peers) + len(p.connecting)
		p.mu.Unlock()
	}

	p.mu.Lock()
	surplus := len(p.peers) + len(p.connecting) - maxPeers
	var victim *Peer
	if surplus > 0 && len(p.peers) > 0 {
		addrs := make([]string, 0, len(p.peers))
		for a := range p.peers {
			addrs = append(addrs, a)
		}
		victim = p.peers[addrs[rand.Intn(len(addrs))]]
	}
	p.mu.Unlock()
	if victim != nil {
		victim.Close()
	}
}

func (p *Pool) pickCandidate(usingStatic bool) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if usingStatic {
		n := len(p.cfg.StaticPeers)
		for i := 0; i < n; i++ {
			idx := (p.staticCursor + i) % n
			addr := p.cfg.StaticPeers[idx]
			if _, connected := p.peers[addr]; connected {
				continue
			}
			if _, inflight := p.connecting[addr]; inflight {
				continue
			}
			if failed, ok := p.lastFail[addr]; ok && time.Since(failed) < staticBackoff {
				continue
			}
			p.staticCursor = (idx + 1) % n
			return addr, true
		}
		return "", false
	}

	candidates := make([]string, 0, len(p.foundPeers))
	for _, addr := range p.foundPeers {
		if _, connected := p.peers[addr]; connected {
			continue
		}
		if _, inflight := p.connecting[addr]; inflight {
			continue
		}
		if until, banned := p.banlist[addr]; banned && time.Now().Before(until) {
			continue
		}
		candidates = append(candidates, addr)
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rand.Intn(len(candidates))], true
}

func (p *Pool) dialAsync(ctx context.Context, addr string) {
	p.mu.Lock()
	p.connecting[addr] = struct{}{}
	p.mu.Unlock()

	go func() {
		cfg := p.cfg.PeerConfig
		cfg.Params = p.cfg.Params
		peer := NewPeer(addr, cfg)
		err := peer.Dial(ctx)

		p.mu.Lock()
		delete(p.connecting, addr)
		if err != nil {
			p.lastFail[addr] = time.Now()
			p.mu.Unlock()
			log.Printf("[Pool] dial %s failed: %v", addr, err)
			return
		}
		p.peers[addr] = peer
		p.mu.Unlock()
		log.Printf("[Pool] connected %s", addr)
	}()
}

// Ban bans addr from future dialing for d (zero means indefinite) and
// disconnects it immediately if currently connected (spec §4.2).
func (p *Pool) Ban(addr string, d time.Duration) {
	p.mu.Lock()
	until := time.Now().AddDate(100, 0, 0)
	if d > 0 {
		until = time.Now().Add(d)
	}
	p.banlist[addr] = until
	peer := p.peers[addr]
	p.mu.Unlock()
	if peer != nil {
		peer.Ban(d)
		peer.Close()
	}
}

// DialSessionPeer opens a peer connection scoped to one mix session,
// separate from the pooled set (spec §4.3: "a separate peer ... opened per
// active mix session and closed at session end").
func (p *Pool) DialSessionPeer(ctx context.Context, addr string) (*Peer, error) {
	return p.DialSessionPeerWithDispatcher(ctx, addr, p.cfg.PeerConfig.Dispatcher)
}

// DialSessionPeerWithDispatcher is DialSessionPeer with a session-scoped
// Dispatcher substituted for the pool's own, so a mix session can route its
// dssu/dsq/dsf/dsc traffic without competing with the pool's dispatcher.
func (p *Pool) DialSessionPeerWithDispatcher(ctx context.Context, addr string, d Dispatcher) (*Peer, error) {
	cfg := p.cfg.PeerConfig
	cfg.Params = p.cfg.Params
	cfg.Dispatcher = d
	peer := NewPeer(addr, cfg)
	if err := peer.Dial(ctx); err != nil {
		return nil, fmt.Errorf("p2p: session peer dial %s: %w", addr, err)
	}
	return peer, nil
}
