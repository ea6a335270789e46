// Package bridge relays settings reload signals between processes.
//
// One process (the owner) listens on a local endpoint: a Unix domain
// socket, or a named pipe on Windows. Editor processes dial it. When a
// process persists settings it sends a reload-config message, and every
// other connected process reloads its store from storage. The owner
// relays messages between editors. Messages carry the sender's ID, so a
// process never reloads because of its own signal.
//
// The bridge carries no settings data. Concurrent edits in two processes
// resolve as last writer wins.
package bridge

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/dshills/settingsync/internal/config/notify"
)

// Errors returned by the bridge.
var (
	// ErrClosed indicates the bridge was used after Close.
	ErrClosed = errors.New("bridge is closed")

	// ErrAddressInUse indicates another owner is already listening.
	ErrAddressInUse = errors.New("bridge address already in use")
)

const (
	defaultReloadTimeout = 10 * time.Second
	defaultWriteTimeout  = 2 * time.Second
)

// Reloader re-reads settings from storage. *config.Store implements it.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Synchronizer reports completed local saves. *config.Store implements it.
type Synchronizer interface {
	OnSynchronize(fn func()) *notify.Subscription
}

// MessageFunc observes messages accepted from peers.
type MessageFunc func(msg Message, reloadErr error)

// Bridge is one process's end of the reload channel.
type Bridge struct {
	mu       sync.Mutex
	id       string
	addr     string
	reloader Reloader
	listener net.Listener
	peers    map[*peer]struct{}
	handlers []MessageFunc
	closed   bool

	// dialMu keeps at most one reconnect attempt in flight.
	dialMu sync.Mutex

	logger        hclog.Logger
	reloadTimeout time.Duration
	writeTimeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type peer struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithReloadTimeout bounds each Reload triggered by a peer.
func WithReloadTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.reloadTimeout = d
		}
	}
}

// WithWriteTimeout bounds each frame write. A peer that does not drain
// its connection in time is dropped.
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.writeTimeout = d
		}
	}
}

func newBridge(addr string, r Reloader, opts []Option) *Bridge {
	b := &Bridge{
		id:            uuid.NewString(),
		addr:          addr,
		reloader:      r,
		peers:         make(map[*peer]struct{}),
		logger:        hclog.NewNullLogger(),
		reloadTimeout: defaultReloadTimeout,
		writeTimeout:  defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b
}

// Listen starts the owner end of the bridge at addr.
func Listen(addr string, r Reloader, opts ...Option) (*Bridge, error) {
	l, err := listen(addr)
	if err != nil {
		return nil, err
	}

	b := newBridge(addr, r, opts)
	b.listener = l
	b.logger.Info("bridge listening", "addr", addr, "id", b.id)

	b.wg.Add(1)
	go b.acceptLoop()
	return b, nil
}

// Dial connects an editor to the owner listening at addr.
func Dial(ctx context.Context, addr string, r Reloader, opts ...Option) (*Bridge, error) {
	conn, err := dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	b := newBridge(addr, r, opts)
	b.logger.Debug("bridge connected", "addr", addr, "id", b.id)
	b.addPeer(conn)
	return b, nil
}

// ID returns the sender ID stamped on outgoing messages.
func (b *Bridge) ID() string {
	return b.id
}

// Peers returns the number of live connections.
func (b *Bridge) Peers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}

// OnMessage registers fn, called after each accepted peer message has
// been handled with the reload result.
func (b *Bridge) OnMessage(fn MessageFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, fn)
}

// Attach sends a reload signal after every successful save of s.
func (b *Bridge) Attach(s Synchronizer) *notify.Subscription {
	return s.OnSynchronize(func() {
		if err := b.Notify(); err != nil && !errors.Is(err, ErrClosed) {
			b.logger.Warn("reload signal not delivered", "error", err)
		}
	})
}

// Notify sends a reload-config message to every peer. Peers that cannot
// be written to are dropped and reported in the returned error. An editor
// that lost its owner dials it again first; if no owner answers the
// signal is skipped.
func (b *Bridge) Notify() error {
	msg := Message{
		Type:   Channel,
		Sender: b.id,
		ID:     uuid.NewString(),
		Time:   time.Now(),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	peers := b.peerListLocked(nil)
	dialer := b.listener == nil
	b.mu.Unlock()

	if dialer && len(peers) == 0 {
		var err error
		if peers, err = b.reconnect(); err != nil {
			b.logger.Debug("owner unreachable; reload signal not sent", "addr", b.addr, "error", err)
			return nil
		}
	}

	b.logger.Debug("sending reload signal", "id", msg.ID, "peers", len(peers))
	return b.broadcast(peers, msg)
}

// Close disconnects every peer and stops listening.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	peers := b.peerListLocked(nil)
	b.mu.Unlock()

	b.cancel()

	var err error
	if b.listener != nil {
		err = b.listener.Close()
	}
	for _, p := range peers {
		p.conn.Close()
	}

	b.wg.Wait()
	return err
}

func (b *Bridge) acceptLoop() {
	defer b.wg.Done()

	for {
		conn, err := b.listener.Accept()
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}
			b.logger.Warn("bridge accept failed", "error", err)
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return
		}
		b.logger.Debug("bridge peer connected")
		b.addPeer(conn)
	}
}

// addPeer starts reading from conn. It returns nil if the bridge is
// already closed.
func (b *Bridge) addPeer(conn net.Conn) *peer {
	p := &peer{conn: conn}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return nil
	}
	b.peers[p] = struct{}{}
	b.wg.Add(1)
	b.mu.Unlock()

	go b.readLoop(p)
	return p
}

// reconnect dials the owner again after the connection was lost.
func (b *Bridge) reconnect() ([]*peer, error) {
	b.dialMu.Lock()
	defer b.dialMu.Unlock()

	b.mu.Lock()
	peers := b.peerListLocked(nil)
	b.mu.Unlock()
	if len(peers) > 0 {
		return peers, nil
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.writeTimeout)
	conn, err := dial(ctx, b.addr)
	cancel()
	if err != nil {
		return nil, err
	}

	p := b.addPeer(conn)
	if p == nil {
		return nil, ErrClosed
	}
	b.logger.Info("bridge reconnected", "addr", b.addr)
	return []*peer{p}, nil
}

func (b *Bridge) removePeer(p *peer) {
	b.mu.Lock()
	_, ok := b.peers[p]
	delete(b.peers, p)
	b.mu.Unlock()

	if ok {
		p.conn.Close()
	}
}

func (b *Bridge) readLoop(p *peer) {
	defer b.wg.Done()
	defer b.removePeer(p)

	for {
		var msg Message
		if err := ReadMsg(p.conn, &msg); err != nil {
			if b.ctx.Err() == nil {
				b.logger.Debug("bridge peer disconnected", "error", err)
			}
			return
		}
		b.handle(p, msg)
	}
}

// handle acts on one message received from p.
func (b *Bridge) handle(from *peer, msg Message) {
	if msg.Type != Channel {
		b.logger.Debug("ignoring bridge message", "type", msg.Type)
		return
	}
	if msg.Sender == b.id {
		return
	}

	// The owner relays to every other editor before reloading itself.
	if b.listener != nil {
		b.mu.Lock()
		others := b.peerListLocked(from)
		b.mu.Unlock()
		if err := b.broadcast(others, msg); err != nil {
			b.logger.Warn("relaying reload signal", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.reloadTimeout)
	err := b.reloader.Reload(ctx)
	cancel()
	if err != nil {
		b.logger.Warn("reload after peer signal failed", "sender", msg.Sender, "error", err)
	} else {
		b.logger.Debug("reloaded after peer signal", "sender", msg.Sender, "id", msg.ID)
	}

	b.mu.Lock()
	handlers := make([]MessageFunc, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()
	for _, fn := range handlers {
		fn(msg, err)
	}
}

func (b *Bridge) broadcast(peers []*peer, msg Message) error {
	var errs []error
	for _, p := range peers {
		if err := b.send(p, msg); err != nil {
			errs = append(errs, err)
			b.removePeer(p)
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) send(p *peer, msg Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.conn.SetWriteDeadline(time.Now().Add(b.writeTimeout)); err != nil {
		return err
	}
	return WriteMsg(p.conn, msg)
}

// peerListLocked returns the live peers except skip.
func (b *Bridge) peerListLocked(skip *peer) []*peer {
	out := make([]*peer, 0, len(b.peers))
	for p := range b.peers {
		if p != skip {
			out = append(out, p)
		}
	}
	return out
}
