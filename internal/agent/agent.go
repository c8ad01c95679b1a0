// Package agent is the sync core: it supervises the single peer connection,
// watches the local clipboard, dispatches wire messages and drives the lazy
// transfer engine.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dmitrijs2005/yank/internal/clipboard"
	"github.com/dmitrijs2005/yank/internal/common"
	"github.com/dmitrijs2005/yank/internal/config"
	"github.com/dmitrijs2005/yank/internal/discovery"
	"github.com/dmitrijs2005/yank/internal/filex"
	"github.com/dmitrijs2005/yank/internal/ignore"
	"github.com/dmitrijs2005/yank/internal/logging"
	"github.com/dmitrijs2005/yank/internal/pairing"
	"github.com/dmitrijs2005/yank/internal/protocol"
	"github.com/dmitrijs2005/yank/internal/transfer"
	"github.com/dmitrijs2005/yank/internal/transport"
)

// reconnect backoff ladder, then steady at the last step
var backoffLadder = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second,
	8 * time.Second, 15 * time.Second, 30 * time.Second,
}

// shutdownGrace bounds how long Run waits for workers after cancellation.
const shutdownGrace = 5 * time.Second

// Params wires an Agent. Config, Logger and Adapter are required; without a
// Record, Run returns common.ErrNotPaired; the rest have workable zero values.
type Params struct {
	Config    *config.Config
	Logger    logging.Logger
	Store     *pairing.Store
	Record    *pairing.Record
	Adapter   clipboard.Adapter
	Filter    *ignore.Filter
	Callbacks Callbacks

	// PeerAddr is the --peer fallback used when discovery stays silent.
	PeerAddr string

	// Insecure disables AEAD sealing (--no-security).
	Insecure bool

	// DestDir overrides where received files land.
	DestDir string

	// DisableDiscovery turns off mDNS (tests, --peer-only setups).
	DisableDiscovery bool
}

// Agent owns the transfer registry, the clipboard watcher and the active
// connection. Exactly one connection is live at a time.
type Agent struct {
	cfg       *config.Config
	log       logging.Logger
	store     *pairing.Store
	rec       *pairing.Record
	adapter   clipboard.Adapter
	filter    *ignore.Filter
	callbacks Callbacks
	peerAddr  string
	opts      transport.Options
	destDir   string
	noDisc    bool

	registry *transfer.Registry
	watcher  *clipboard.Watcher
	slot     *discovery.Slot

	mu       sync.Mutex
	state    State
	conn     *transport.Conn
	reserved bool
	listener net.Listener
	stopping bool

	// outbound announce currently owned by this side, for supersession
	outMu         sync.Mutex
	activeOut     string
	activeOutStop context.CancelFunc

	connWG sync.WaitGroup
}

func New(p Params) (*Agent, error) {
	if p.Config == nil || p.Logger == nil || p.Adapter == nil {
		return nil, fmt.Errorf("%w: incomplete agent params", common.ErrInternal)
	}
	if p.Filter == nil {
		p.Filter = ignore.Parse(nil)
	}

	a := &Agent{
		cfg:       p.Config,
		log:       p.Logger.With("module", "agent"),
		store:     p.Store,
		rec:       p.Record,
		adapter:   p.Adapter,
		filter:    p.Filter,
		callbacks: p.Callbacks,
		peerAddr:  p.PeerAddr,
		opts:      transport.Options{Insecure: p.Insecure},
		destDir:   p.DestDir,
		noDisc:    p.DisableDiscovery,
		registry:  transfer.NewRegistry(p.Config.TransferExpiry),
		slot:      &discovery.Slot{},
		state:     StateUnpaired,
	}
	if a.destDir == "" {
		a.destDir = defaultDestDir()
	}
	a.watcher = clipboard.NewWatcher(p.Adapter, p.Logger, p.Config.PollInterval, a.onClipboardChange)
	return a, nil
}

// Registry exposes the transfer registry for the status surface.
func (a *Agent) Registry() *transfer.Registry { return a.registry }

// State returns the current supervisor state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ListenerAddr reports the bound listen address once Run has started.
func (a *Agent) ListenerAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	if a.state == s {
		a.mu.Unlock()
		return
	}
	a.state = s
	a.mu.Unlock()
	a.callbacks.fireState(s)
}

// Run starts the four long-lived workers (listener, connector, watcher,
// janitor) plus discovery and blocks until ctx is done. It returns
// common.ErrNotPaired when no pairing record exists.
func (a *Agent) Run(ctx context.Context) error {
	if a.rec == nil {
		a.setState(StateUnpaired)
		return common.ErrNotPaired
	}
	a.setState(StateIdle)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	a.mu.Lock()
	a.listener = listener
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var disc *discovery.Discovery
	if !a.noDisc {
		port := listener.Addr().(*net.TCPAddr).Port
		disc = discovery.New(a.log, a.rec.DeviceID, a.rec.PeerDeviceID, port, a.slot)
		if err := disc.Advertise(ctx); err != nil {
			a.log.Warn(ctx, "mdns advertise failed", "error", err)
		} else {
			defer disc.Shutdown()
		}
	}

	var wg sync.WaitGroup
	start := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	start(func(ctx context.Context) { a.listenLoop(ctx, listener) })
	start(a.connectLoop)
	start(a.watcher.Run)
	start(a.janitorLoop)
	if disc != nil {
		start(func(ctx context.Context) {
			if err := disc.Browse(ctx); err != nil {
				a.log.Warn(ctx, "mdns browse failed", "error", err)
			}
		})
	}

	<-ctx.Done()

	a.mu.Lock()
	a.stopping = true
	conn := a.conn
	a.mu.Unlock()
	listener.Close()
	if conn != nil {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		a.connWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		a.log.Warn(context.Background(), "workers did not stop within grace period")
	}

	a.setState(StateClosed)
	return nil
}

// listenLoop accepts inbound connections. While a live connection exists,
// a second one is rejected with an immediate close.
func (a *Agent) listenLoop(ctx context.Context, listener net.Listener) {
	for {
		nc, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Warn(ctx, "accept failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		if !a.tryReserveConn() {
			a.log.Warn(ctx, "rejecting second connection", "remote", nc.RemoteAddr().String())
			nc.Close()
			continue
		}

		a.setState(StateAuthenticating)
		conn, err := transport.Accept(nc, a.rec, a.opts)
		if err != nil {
			a.log.Warn(ctx, "inbound handshake failed", "error", err)
			a.callbacks.fireError(common.ErrAuth, err.Error())
			nc.Close()
			a.releaseConn(nil)
			continue
		}

		a.connWG.Add(1)
		go func() {
			defer a.connWG.Done()
			a.runConnection(ctx, conn)
		}()
	}
}

// connectLoop dials the best known peer address with exponential backoff
// whenever no connection is live. The client role performs discovery +
// connect; the server role passively accepts.
func (a *Agent) connectLoop(ctx context.Context) {
	attempt := 0
	started := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}

		if a.hasConn() {
			attempt = 0
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		addr := a.slot.Get()
		if addr == "" && (a.noDisc || time.Since(started) >= discovery.WaitTimeout) {
			addr = a.peerAddr
		}
		if addr == "" {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if !a.tryReserveConn() {
			continue
		}

		a.setState(StateConnecting)
		nc, err := transport.Dial(addr, transport.HandshakeTimeout)
		if err == nil {
			a.setState(StateAuthenticating)
			var conn *transport.Conn
			conn, err = transport.Connect(nc, a.rec, a.opts)
			if err == nil {
				a.connWG.Add(1)
				go func() {
					defer a.connWG.Done()
					a.runConnection(ctx, conn)
				}()
				attempt = 0
				continue
			}
			nc.Close()
			a.callbacks.fireError(common.ErrAuth, err.Error())
		}
		a.releaseConn(nil)
		a.log.Debug(ctx, "connect failed", "addr", addr, "error", err)

		delay := backoffLadder[min(attempt, len(backoffLadder)-1)]
		attempt++
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// tryReserveConn atomically claims the single-connection slot while the
// handshake is in flight.
func (a *Agent) tryReserveConn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil || a.reserved || a.stopping {
		return false
	}
	a.reserved = true
	return true
}

// releaseConn installs the authenticated connection (or nil on failure) and
// drops the reservation.
func (a *Agent) releaseConn(c *transport.Conn) {
	a.mu.Lock()
	a.conn = c
	a.reserved = false
	a.mu.Unlock()
}

func (a *Agent) hasConn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil || a.reserved
}

// activeConn returns the live connection, or nil while disconnected.
func (a *Agent) activeConn() *transport.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

// runConnection owns one authenticated connection: it installs it, runs the
// read loop and heartbeats, and tears everything down on exit.
func (a *Agent) runConnection(ctx context.Context, conn *transport.Conn) {
	a.releaseConn(conn)
	a.setState(StateConnected)
	a.log.Info(ctx, "peer connected", "remote", conn.RemoteAddr().String(), "secured", conn.Secured())
	if a.store != nil {
		if err := a.store.TouchLastSeen(); err != nil {
			a.log.Warn(ctx, "updating last_seen failed", "error", err)
		}
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go a.heartbeatLoop(hbCtx, conn)

	s := newSession(a, conn)
	err := s.readLoop(ctx)

	stopHeartbeat()
	conn.Close()
	s.cleanup()

	failed := a.registry.FailActive()
	for _, id := range failed {
		a.callbacks.fireError(common.ErrConnectionLost, "transfer "+id+" failed")
		a.registry.Remove(id)
	}
	a.cancelOutbound()
	a.releaseConn(nil)

	a.mu.Lock()
	stopping := a.stopping
	a.mu.Unlock()
	if stopping || ctx.Err() != nil {
		return
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Info(ctx, "connection lost", "error", err)
	}
	a.setState(StateDegraded)
	a.setState(StateConnecting)
}

// heartbeatLoop sends HEARTBEAT every interval; liveness is enforced by the
// read loop's deadline (three missed intervals close the connection).
func (a *Agent) heartbeatLoop(ctx context.Context, conn *transport.Conn) {
	ticker := time.NewTicker(protocol.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Send(&protocol.Heartbeat{}, nil); err != nil {
				return
			}
		}
	}
}

// janitorLoop sweeps expired transfer records.
func (a *Agent) janitorLoop(ctx context.Context) {
	ticker := time.NewTicker(transfer.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := a.registry.SweepExpired(); len(removed) > 0 {
				a.log.Info(ctx, "swept expired transfers", "count", len(removed))
			}
		}
	}
}

func defaultDestDir() string {
	return filex.DownloadsDir()
}
