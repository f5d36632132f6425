// Package p2p implements the peer connection state machine (C2) and the
// peer pool that keeps a healthy set of connections alive (C3).
package p2p

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	socks "github.com/btcsuite/go-socks/socks"

	"github.com/rawblock/mixcore/internal/netcfg"
	"github.com/rawblock/mixcore/internal/wire"
)

// State is a connection's position in the handshake/lifecycle state machine
// (spec §4.2): Opening -> VersionSent -> {VersionReceived, VerackReceived}
// -> Ready -> Closed.
type State int

const (
	Opening State = iota
	VersionSent
	VersionReceived
	VerackReceived
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case VersionSent:
		return "version-sent"
	case VersionReceived:
		return "version-received"
	case VerackReceived:
		return "verack-received"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// networkTimeout is how long a silent connection may go without a read
// before the watchdog declares it dead (spec §4.2).
const networkTimeout = 20 * time.Minute

// pingInterval is how long outbound inactivity may persist before the
// pinger sends an unsolicited ping (spec §4.2: 300s).
const pingInterval = 300 * time.Second

// ErrReadTimeout is the watchdog's disconnect reason when the peer has gone
// quiet past networkTimeout.
var ErrReadTimeout = errors.New("p2p: read timeout")

// ErrProtocolViolation flags an unsolicited or out-of-sequence message.
var ErrProtocolViolation = errors.New("p2p: protocol violation")

// Dispatcher is handed every fully-decoded inbound message once the peer is
// Ready. It must not block for long; slow handling should hand off to its
// own goroutine.
type Dispatcher interface {
	Dispatch(p *Peer, msg wire.Message)
}

// Config bundles the connection-level settings a Peer needs at dial time.
type Config struct {
	Params        netcfg.Params
	UserAgent     string
	StartHeight   int32
	SocksProxy    string // "" disables SOCKS5 tunneling
	Dispatcher    Dispatcher
	OnStateChange func(p *Peer, s State)
}

// Peer is one TCP (optionally SOCKS5-tunneled) connection to a network
// peer, including the three concurrent tasks that run once it's Ready.
type Peer struct {
	Addr string
	cfg  Config

	mu          sync.Mutex
	state       State
	conn        net.Conn
	lastRead    time.Time
	lastWrite   time.Time
	pingNonce   uint64
	rttEstimate time.Duration
	bannedUntil time.Time

	writeCh      chan wire.Message
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	sporkWaiters []chan *wire.MsgSpork
}

// NewPeer constructs an unconnected Peer for addr ("host:port").
func NewPeer(addr string, cfg Config) *Peer {
	return &Peer{
		Addr:    addr,
		cfg:     cfg,
		state:   Opening,
		writeCh: make(chan wire.Message, 64),
	}
}

func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	if p.cfg.OnStateChange != nil {
		p.cfg.OnStateChange(p, s)
	}
}

func (p *Peer) IsBanned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Now().Before(p.bannedUntil)
}

// Ban marks the peer banned for the given duration; a zero duration bans
// indefinitely (spec §4.2).
func (p *Peer) Ban(d time.Duration) {
	p.mu.Lock()
	if d <= 0 {
		p.bannedUntil = time.Now().AddDate(100, 0, 0)
	} else {
		p.bannedUntil = time.Now().Add(d)
	}
	p.mu.Unlock()
}

// Dial opens the transport, performs the version/verack handshake, and if
// successful starts the reader/pinger/watchdog tasks and moves to Ready.
func (p *Peer) Dial(ctx context.Context) error {
	conn, err := p.dialTransport(ctx)
	if err != nil {
		return fmt.Errorf("p2p: dial %s: %w", p.Addr, err)
	}
	p.mu.Lock()
	p.conn = conn
	p.lastRead = time.Now()
	p.lastWrite = time.Now()
	p.mu.Unlock()

	if err := p.handshake(ctx); err != nil {
		conn.Close()
		p.setState(Closed)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.setState(Ready)

	if err := p.writeMessage(&wire.MsgSendDSQ{Send: true}); err != nil {
		log.Printf("[Peer %s] failed to send senddsq: %v", p.Addr, err)
	}

	p.wg.Add(3)
	go p.readerLoop(ctx)
	go p.pingerLoop(ctx)
	go p.watchdogLoop(ctx)

	return nil
}

func (p *Peer) dialTransport(ctx context.Context) (net.Conn, error) {
	if p.cfg.SocksProxy == "" {
		d := net.Dialer{}
		return d.DialContext(ctx, "tcp", p.Addr)
	}
	dialer := &socks.Proxy{Addr: p.cfg.SocksProxy}
	return dialer.Dial("tcp", p.Addr)
}

func (p *Peer) handshake(ctx context.Context) error {
	p.setState(VersionSent)

	nonce, err := randomNonce()
	if err != nil {
		return err
	}
	ver := &wire.MsgVersion{
		Version:       int32(netcfg.ProtocolVersion),
		UserAgent:     p.cfg.UserAgent,
		StartHeight:   p.cfg.StartHeight,
		Nonce:         nonce,
		RecvServices:  0,
		TransServices: 0,
		Timestamp:     time.Now().Unix(),
	}
	if err := p.writeMessage(ver); err != nil {
		return fmt.Errorf("p2p: send version: %w", err)
	}

	var gotVersion, gotVerack bool
	for i := 0; i < 2; i++ {
		frame, err := p.readFrame()
		if err != nil {
			return fmt.Errorf("p2p: handshake read: %w", err)
		}
		switch frame.Command {
		case wire.CmdVersion:
			if gotVersion {
				return fmt.Errorf("%w: duplicate version", ErrProtocolViolation)
			}
			gotVersion = true
			p.setState(VersionReceived)
		case wire.CmdVerAck:
			if gotVerack {
				return fmt.Errorf("%w: duplicate verack", ErrProtocolViolation)
			}
			gotVerack = true
			p.setState(VerackReceived)
		default:
			return fmt.Errorf("%w: expected version/verack, got %s", ErrProtocolViolation, frame.Command)
		}
	}
	if !gotVersion || !gotVerack {
		return fmt.Errorf("%w: incomplete handshake", ErrProtocolViolation)
	}
	return p.writeMessage(&wire.MsgVerAck{})
}

func (p *Peer) readFrame() (wire.Frame, error) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	frame, err := wire.ReadFrame(conn)
	if err != nil {
		return frame, err
	}
	if frame.Magic != p.cfg.Params.Magic {
		return frame, fmt.Errorf("%w: bad network magic", ErrProtocolViolation)
	}
	p.mu.Lock()
	p.lastRead = time.Now()
	p.mu.Unlock()
	return frame, nil
}

func (p *Peer) writeMessage(msg wire.Message) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	frame, err := wire.Encode(p.cfg.Params.Magic, msg)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(conn, frame); err != nil {
		return err
	}
	p.mu.Lock()
	p.lastWrite = time.Now()
	p.mu.Unlock()
	return nil
}

// Send writes msg to the connection synchronously; it is the only way
// callers outside the peer's own goroutines should write to the connection.
func (p *Peer) Send(msg wire.Message) error {
	return p.writeMessage(msg)
}

func (p *Peer) readerLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		frame, err := p.readFrame()
		if err != nil {
			if errors.Is(err, wire.ErrBadChecksum) {
				continue // silently dropped per spec §4.1
			}
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Peer %s] read error, disconnecting: %v", p.Addr, err)
			p.Close()
			return
		}
		msg, err := wire.DecodeStandalone(frame.Command, frame.Payload)
		if err != nil {
			log.Printf("[Peer %s] decode error for %s, dropping frame: %v", p.Addr, frame.Command, err)
			continue
		}
		if pong, ok := msg.(*wire.MsgPong); ok {
			p.handlePong(pong)
			continue
		}
		if ping, ok := msg.(*wire.MsgPing); ok {
			_ = p.writeMessage(&wire.MsgPong{Nonce: ping.Nonce})
			continue
		}
		if sp, ok := msg.(*wire.MsgSpork); ok {
			p.deliverSpork(sp)
		}
		if p.cfg.Dispatcher != nil {
			p.cfg.Dispatcher.Dispatch(p, msg)
		}
	}
}

// deliverSpork satisfies the oldest pending RequestSporks waiter, if any.
func (p *Peer) deliverSpork(sp *wire.MsgSpork) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sporkWaiters) == 0 {
		return
	}
	ch := p.sporkWaiters[0]
	p.sporkWaiters = p.sporkWaiters[1:]
	ch <- sp
	close(ch)
}

// RequestSporks sends getsporks and waits for one spork reply or ctx
// cancellation, whichever comes first. Multiple in-flight requests are
// matched to replies in FIFO order.
func (p *Peer) RequestSporks(ctx context.Context) (*wire.MsgSpork, error) {
	ch := make(chan *wire.MsgSpork, 1)
	p.mu.Lock()
	p.sporkWaiters = append(p.sporkWaiters, ch)
	p.mu.Unlock()

	if err := p.writeMessage(&wire.MsgGetSporks{}); err != nil {
		return nil, err
	}

	select {
	case sp := <-ch:
		return sp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Peer) handlePong(pong *wire.MsgPong) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pong.Nonce == p.pingNonce {
		p.rttEstimate = time.Since(p.lastWrite)
	}
}

func (p *Peer) pingerLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			idle := time.Since(p.lastWrite)
			p.mu.Unlock()
			if idle < pingInterval {
				continue
			}
			nonce, err := randomNonce()
			if err != nil {
				continue
			}
			p.mu.Lock()
			p.pingNonce = nonce
			p.mu.Unlock()
			if err := p.writeMessage(&wire.MsgPing{Nonce: nonce}); err != nil {
				log.Printf("[Peer %s] ping write failed: %v", p.Addr, err)
			}
		}
	}
}

func (p *Peer) watchdogLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			stale := p.lastWrite.Sub(p.lastRead) > networkTimeout
			p.mu.Unlock()
			if stale {
				log.Printf("[Peer %s] watchdog: %v", p.Addr, ErrReadTimeout)
				p.Close()
				return
			}
		}
	}
}

// Close cancels all three concurrent tasks and closes the transport.
// Closed is terminal; calling Close twice is a no-op.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.state == Closed {
		p.mu.Unlock()
		return
	}
	p.state = Closed
	conn := p.conn
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if p.cfg.OnStateChange != nil {
		p.cfg.OnStateChange(p, Closed)
	}
}

func randomNonce() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
