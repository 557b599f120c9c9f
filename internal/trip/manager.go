package trip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrAlreadyConfigured indicates a local-identity setter was called after
// the manager has already started accepting or dialing sessions: local
// identity is fixed once the manager is running.
var ErrAlreadyConfigured = errors.New("trip: manager already running")

// ErrNotBound indicates AddPeer or Run was called before Bind.
var ErrNotBound = errors.New("trip: manager not bound to a listen address")

// ErrDuplicateSession is returned by AddPeer for an address already
// registered in the locator; wraps Locator's own ErrDuplicatePeer.
var ErrDuplicateSession = errors.New("trip: session already configured for peer")

// SessionSnapshot is a read-only view of one session's state, returned by
// Manager.Sessions() for the Control API's "show" surface.
type SessionSnapshot struct {
	PeerAddr         netip.Addr
	RemoteITAD       uint32
	LocalID          uint32
	State            State
	Outbound         bool
	PacketsSent      uint64
	PacketsReceived  uint64
	StateTransitions uint64
}

// slot is one entry in the Manager's session slot array, index-aligned
// with the Locator's peer list. A slot is nil until a session
// — outbound from AddPeer, or inbound from a matching accepted connection
// — has been created for that peer.
type slot struct {
	session *Session
	cancel  context.CancelFunc
}

// Manager owns the listen socket, the Locator of configured peers, and the
// parallel slot array of active Sessions, all guarded by a single mutex.
// Inbound connections are demultiplexed by a TCP accept loop
// and locator lookup rather than a per-packet discriminator, since each
// peer relationship is its own long-lived stream.
type Manager struct {
	mu       sync.Mutex
	locator  *Locator
	slots    []slot
	listener net.Listener
	running  bool

	localITAD uint32
	localID   uint32
	localHold uint16

	rawNotifyCh    chan StateChange
	publicNotifyCh chan StateChange

	onUpdate UpdateCallback
	metrics  MetricsReporter
	logger   *slog.Logger

	group  *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc
}

// ManagerOption configures optional Manager parameters.
type ManagerOption func(*Manager)

// WithManagerMetrics attaches a MetricsReporter shared by every session the
// manager creates.
func WithManagerMetrics(mr MetricsReporter) ManagerOption {
	return func(m *Manager) {
		if mr != nil {
			m.metrics = mr
		}
	}
}

// WithManagerUpdateCallback attaches the callback invoked on every Update
// delivered by any session.
func WithManagerUpdateCallback(cb UpdateCallback) ManagerOption {
	return func(m *Manager) { m.onUpdate = cb }
}

// NewManager creates an unconfigured Manager. SetITAD/SetID/SetHold and
// Bind must be called before Run.
func NewManager(logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		locator:        NewLocator(),
		rawNotifyCh:    make(chan StateChange, 64),
		publicNotifyCh: make(chan StateChange, 64),
		metrics:        noopMetrics{},
		logger:         logger.With(slog.String("component", "manager")),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.forwardNotifications()
	return m
}

// forwardNotifications relays raw per-session StateChange events onto the
// public channel Sessions/StateChanges consumers read, decoupling session
// goroutines from a slow consumer.
func (m *Manager) forwardNotifications() {
	for sc := range m.rawNotifyCh {
		select {
		case m.publicNotifyCh <- sc:
		default:
			m.logger.Warn("public notification channel full, dropping state change")
		}
	}
}

// StateChanges returns the channel of session state transitions.
func (m *Manager) StateChanges() <-chan StateChange { return m.publicNotifyCh }

// -------------------------------------------------------------------------
// Local identity configuration
// -------------------------------------------------------------------------

func (m *Manager) checkNotRunning() error {
	if m.running {
		return ErrAlreadyConfigured
	}
	return nil
}

// SetITAD sets the daemon's own ITAD number. Must be called before Run.
func (m *Manager) SetITAD(itad uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkNotRunning(); err != nil {
		return err
	}
	if itad == 0 {
		return fmt.Errorf("set itad: %w", ErrITAD)
	}
	m.localITAD = itad
	return nil
}

// SetID sets the daemon's router id. Must be called before Run.
func (m *Manager) SetID(id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkNotRunning(); err != nil {
		return err
	}
	m.localID = id
	return nil
}

// SetHold sets the daemon's advertised hold time in seconds. Must be
// called before Run.
func (m *Manager) SetHold(hold uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkNotRunning(); err != nil {
		return err
	}
	if !validHold(hold) {
		return fmt.Errorf("set hold %d: %w", hold, ErrHold)
	}
	m.localHold = hold
	return nil
}

// Bind opens the listen socket used for inbound TRIP connections.
// Must be called before Run.
func (m *Manager) Bind(listenAddr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkNotRunning(); err != nil {
		return err
	}
	if listenAddr == "" {
		listenAddr = net.JoinHostPort("", tripPortStr)
	}
	lst, err := listenTCP(listenAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", listenAddr, err)
	}
	m.listener = lst
	return nil
}

// -------------------------------------------------------------------------
// Peer configuration
// -------------------------------------------------------------------------

// AddPeer registers a configured remote peer and starts an outbound
// session toward it. The session does not begin dialing until the
// manager's accept loop is running (Run).
func (m *Manager) AddPeer(addr netip.Addr, remoteITAD uint32, hold uint16, trans TransMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.locator.Add(addr, remoteITAD, hold, trans)
	if err != nil {
		return fmt.Errorf("add peer %s: %w", addr, errors.Join(err, ErrDuplicateSession))
	}
	for len(m.slots) <= idx {
		m.slots = append(m.slots, slot{})
	}

	if !m.running {
		return nil
	}
	return m.startOutbound(idx, addr, remoteITAD, hold, trans)
}

func (m *Manager) sessionConfigFor(addr netip.Addr, remoteITAD uint32, hold uint16, trans TransMode) SessionConfig {
	return SessionConfig{
		LocalITAD:  m.localITAD,
		LocalID:    m.localID,
		LocalHold:  m.localHold,
		PeerAddr:   addr,
		RemoteITAD: remoteITAD,
		HasTrans:   trans.valid(),
		TransMode:  trans,
	}
}

// startOutbound constructs and launches an outbound Session for the peer
// at locator index idx. Caller must hold m.mu.
func (m *Manager) startOutbound(idx int, addr netip.Addr, remoteITAD uint32, hold uint16, trans TransMode) error {
	cfg := m.sessionConfigFor(addr, remoteITAD, hold, trans)
	sess, err := NewOutboundSession(cfg, m.logger,
		WithMetrics(m.metrics),
		WithNotify(m.rawNotifyCh),
		WithUpdateCallback(m.onUpdate),
	)
	if err != nil {
		return fmt.Errorf("new outbound session %s: %w", addr, err)
	}
	m.launchSession(idx, sess)
	return nil
}

// launchSession stores sess in slot idx and starts its Run goroutine under
// the manager's errgroup, using a context decoupled from the group's own
// cancellation — the manager drives each session to Idle explicitly via
// Shutdown rather than relying on context cancellation to tear it down.
// Caller must hold m.mu.
func (m *Manager) launchSession(idx int, sess *Session) {
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(m.gctx))
	m.slots[idx] = slot{session: sess, cancel: cancel}
	m.metrics.RegisterSession(sess.PeerAddr(), sessionTypeOf(sess))
	m.group.Go(func() error {
		sess.Run(sessCtx)
		m.metrics.UnregisterSession(sess.PeerAddr(), sessionTypeOf(sess))
		return nil
	})
}

func sessionTypeOf(sess *Session) string {
	if sess.Outbound() {
		return "outbound"
	}
	return "inbound"
}

// -------------------------------------------------------------------------
// Run
// -------------------------------------------------------------------------

// Run starts every configured outbound session and the inbound accept
// loop. Once ctx is canceled or the accept loop fails, Run stops the accept
// loop and then waits for every session goroutine to return; session
// contexts are detached from ctx, so a session that has not reached Idle
// (see Shutdown) keeps Run waiting. Session goroutines are coordinated
// with an errgroup the way cmd/tripd's startup coordinates its server
// goroutines.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.listener == nil {
		m.mu.Unlock()
		return ErrNotBound
	}
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyConfigured
	}
	m.running = true

	gctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(gctx)
	m.group = group
	m.gctx = gctx
	m.cancel = cancel

	for idx, p := range m.locator.Peers() {
		if err := m.startOutbound(idx, p.Addr, p.RemoteITAD, p.Hold, p.TransMode); err != nil {
			m.logger.Error("failed to start configured peer", slog.String("peer", p.Addr.String()), slog.String("error", err.Error()))
		}
	}
	m.mu.Unlock()

	group.Go(func() error {
		return m.acceptLoop(gctx)
	})

	<-gctx.Done()
	cancel()
	return group.Wait()
}

// acceptLoop accepts inbound TCP connections, rejects sources unknown to
// the locator, and resolves collisions against any already-running
// session for the same peer. TRIP's transport is a connection, not a
// datagram, so there is no per-packet discriminator lookup — only a
// one-time source-address check at accept time.
func (m *Manager) acceptLoop(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = m.listener.Close()
	}()

	for {
		conn, err := m.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Error("accept failed", slog.String("error", err.Error()))
			return fmt.Errorf("accept: %w", err)
		}
		m.handleAccept(conn)
	}
}

func (m *Manager) handleAccept(conn net.Conn) {
	addr, ok := remoteAddrOf(conn)
	if !ok {
		m.logger.Warn("accepted connection with unparseable remote address", slog.String("addr", conn.RemoteAddr().String()))
		_ = conn.Close()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx, peer, err := m.locator.Lookup(addr)
	if err != nil {
		m.logger.Warn("rejecting connection from unconfigured peer", slog.String("peer", addr.String()))
		_ = conn.Close()
		return
	}

	cfg := m.sessionConfigFor(addr, peer.RemoteITAD, peer.Hold, peer.TransMode)
	inbound, err := NewInboundSession(cfg, conn, m.logger,
		WithMetrics(m.metrics),
		WithNotify(m.rawNotifyCh),
		WithUpdateCallback(m.onUpdate),
	)
	if err != nil {
		m.logger.Error("failed to build inbound session", slog.String("peer", addr.String()), slog.String("error", err.Error()))
		_ = conn.Close()
		return
	}

	existing := m.slots[idx].session
	if existing == nil || existing.State() == StateIdle {
		if existing != nil {
			// Stop the Idle session (e.g. an outbound one waiting out its
			// connect-retry backoff) before its slot is reused.
			m.slots[idx].cancel()
		}
		m.launchSession(idx, inbound)
		return
	}

	// Collision: an Open-capable session is already past Idle for this
	// peer. Resolution compares this daemon's own router id against the
	// peer's router id (not against itself): the connection initiated by
	// the higher-id daemon survives. The peer's id is whatever the
	// existing session learned from its own Open exchange; if the
	// existing session has not completed that exchange yet, its id is
	// unknown and the existing connection is kept as the conservative
	// default. On an exact tie (both sides configured with the same id,
	// a misconfiguration) the newly accepted inbound session wins and
	// the existing one is dropped, logged as a warning.
	remoteID := existing.RemoteID()
	if remoteID == 0 {
		m.logger.Info("collision before peer router id known, keeping existing session", slog.String("peer", addr.String()))
		inbound.Discard()
		_ = conn.Close()
		return
	}

	if m.localID > remoteID {
		m.logger.Info("collision resolved in favor of existing session, dropping inbound", slog.String("peer", addr.String()))
		inbound.Discard()
		_ = conn.Close()
		return
	}

	if m.localID == remoteID {
		m.logger.Warn("collision with equal router id, keeping inbound session", slog.String("peer", addr.String()))
	}
	m.slots[idx].cancel()
	existing.Discard()
	m.launchSession(idx, inbound)
}

func remoteAddrOf(conn net.Conn) (netip.Addr, bool) {
	ap, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		return netip.Addr{}, false
	}
	return ap.Addr(), true
}

// -------------------------------------------------------------------------
// Enumeration — Control API "show" surface
// -------------------------------------------------------------------------

// Addr returns the manager's bound listen address, or nil if Bind has not
// been called yet.
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Sessions returns a snapshot of every active session.
func (m *Manager) Sessions() []SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SessionSnapshot, 0, len(m.slots))
	for _, sl := range m.slots {
		if sl.session == nil {
			continue
		}
		s := sl.session
		out = append(out, SessionSnapshot{
			PeerAddr:         s.PeerAddr(),
			RemoteITAD:       s.RemoteITAD(),
			LocalID:          s.LocalID(),
			State:            s.State(),
			Outbound:         s.Outbound(),
			PacketsSent:      s.PacketsSent(),
			PacketsReceived:  s.PacketsReceived(),
			StateTransitions: s.StateTransitions(),
		})
	}
	return out
}

// -------------------------------------------------------------------------
// Shutdown and teardown
// -------------------------------------------------------------------------

// Shutdown issues Notification(Cease) to every non-Idle session and waits
// for each to reach Idle.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.slots))
	cancels := make([]context.CancelFunc, 0, len(m.slots))
	for _, sl := range m.slots {
		if sl.session != nil {
			sessions = append(sessions, sl.session)
			cancels = append(cancels, sl.cancel)
		}
	}
	m.mu.Unlock()

	for i, s := range sessions {
		s.Shutdown()
		// Also ends a session that is already Idle in connect-retry
		// backoff, whose Run only returns once its context is canceled.
		cancels[i]()
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops the accept loop and returns the manager to the uninitialized
// state so a fresh Bind/SetITAD/SetID/SetHold/AddPeer/Run sequence can
// proceed.
func (m *Manager) Close() error {
	m.mu.Lock()
	cancel := m.cancel
	lst := m.listener
	m.listener = nil
	m.locator = NewLocator()
	m.slots = nil
	m.running = false
	m.localITAD, m.localID, m.localHold = 0, 0, 0
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if lst != nil {
		return lst.Close()
	}
	return nil
}
