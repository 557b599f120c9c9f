package trip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// -------------------------------------------------------------------------
// Session Configuration
// -------------------------------------------------------------------------

// SessionConfig contains the parameters needed to create a new TRIP
// session, both the locally configured identity (shared by every session
// a Manager owns) and the specific peer this session talks to.
type SessionConfig struct {
	// LocalITAD is this daemon's own ITAD number.
	LocalITAD uint32

	// LocalID is this daemon's router id (an IPv4 address used as a
	// 32-bit identifier).
	LocalID uint32

	// LocalHold is this daemon's configured hold time in seconds; 0
	// disables the hold/keepalive timers once negotiated.
	LocalHold uint16

	// PeerAddr is the remote system's IPv6 (or IPv4-mapped IPv6) address.
	PeerAddr netip.Addr

	// RemoteITAD is the peer's expected ITAD, from the locator entry.
	RemoteITAD uint32

	// RouteTypes are the {AF, AppProto} capability records this daemon
	// advertises in its Open message.
	RouteTypes []RouteType

	// HasTrans and TransMode carry the optional transmission-mode
	// capability.
	HasTrans  bool
	TransMode TransMode
}

func validateSessionConfig(cfg SessionConfig) error {
	if cfg.LocalITAD == 0 {
		return fmt.Errorf("local itad: %w", ErrITAD)
	}
	if !validHold(cfg.LocalHold) {
		return fmt.Errorf("local hold %d: %w", cfg.LocalHold, ErrHold)
	}
	if cfg.HasTrans && !cfg.TransMode.valid() {
		return fmt.Errorf("trans mode %d: %w", cfg.TransMode, ErrTrans)
	}
	return nil
}

// -------------------------------------------------------------------------
// Session Options
// -------------------------------------------------------------------------

// SessionOption configures optional Session parameters.
type SessionOption func(*Session)

// WithMetrics attaches a MetricsReporter to the session. If mr is nil, the
// default no-op reporter is used.
func WithMetrics(mr MetricsReporter) SessionOption {
	return func(s *Session) {
		if mr != nil {
			s.metrics = mr
		}
	}
}

// WithNotify attaches a channel that receives StateChange events.
func WithNotify(ch chan<- StateChange) SessionOption {
	return func(s *Session) { s.notifyCh = ch }
}

// WithUpdateCallback attaches the callback invoked on every delivered
// Update message, for handing the parsed attributes off to a RIB.
func WithUpdateCallback(cb UpdateCallback) SessionOption {
	return func(s *Session) { s.onUpdate = cb }
}

// -------------------------------------------------------------------------
// Session Constants
// -------------------------------------------------------------------------

const (
	// initialConnectRetry is the starting connect-retry backoff.
	initialConnectRetry = 60 * time.Second

	// maxConnectRetry caps the doubling backoff.
	maxConnectRetry = 3600 * time.Second

	// openWaitTimeout bounds how long a session waits for the peer's
	// Open before the hold timer has been negotiated.
	openWaitTimeout = 4 * time.Minute
)

// -------------------------------------------------------------------------
// Session
// -------------------------------------------------------------------------

// Session implements one TRIP peer session: a finite state machine driven
// by parsed messages, timer expirations, and administrative commands,
// driven off the pure fsmTable transitions.
//
// All mutable protocol state (buffers, timers, negotiated parameters) is
// owned exclusively by the goroutine running Run. External callers read
// state through atomic accessors and may call Shutdown or Discard from any
// goroutine to request termination.
type Session struct {
	// state is atomic for lock-free external reads.
	state atomic.Uint32

	localITAD  uint32
	localID    uint32
	localHold  uint16
	remoteITAD uint32
	remoteID   atomic.Uint32 // learned from the peer's Open; read cross-goroutine by Manager collision resolution
	remoteHold uint16        // learned from the peer's Open

	routeTypes []RouteType
	hasTrans   bool
	transMode  TransMode

	peerAddr netip.Addr
	outbound bool

	connMu sync.Mutex
	conn   net.Conn

	recvBuf []byte
	recvLen int

	// sendMu serializes the send path: filling sendBuf and writing it to
	// conn must happen as one atomic step, since the keepalive ticker
	// goroutine and the protocol-read goroutine (handling a received
	// message that itself triggers a reply, e.g. a Notification) can
	// both reach sendOpen/sendKeepalive/sendNotification concurrently.
	sendMu  sync.Mutex
	sendBuf []byte

	effectiveHold     time.Duration
	keepaliveInterval time.Duration
	connectRetry      time.Duration

	pendingSubcode uint8
	pendingAttrs   []Attribute

	keepaliveStop chan struct{}
	keepaliveDone chan struct{}

	packetsSent      atomic.Uint64
	packetsReceived  atomic.Uint64
	stateTransitions atomic.Uint64
	lastStateChange  atomic.Int64
	lastPacketRecv   atomic.Int64

	shutdownOnce sync.Once
	doneCh       chan struct{}

	onUpdate UpdateCallback
	notifyCh chan<- StateChange
	metrics  MetricsReporter
	logger   *slog.Logger
}

// NewOutboundSession creates a session that will dial peerAddr once Run is
// called.
func NewOutboundSession(cfg SessionConfig, logger *slog.Logger, opts ...SessionOption) (*Session, error) {
	return newSession(cfg, true, nil, logger, opts...)
}

// NewInboundSession creates a session around an already-accepted
// connection.
func NewInboundSession(cfg SessionConfig, conn net.Conn, logger *slog.Logger, opts ...SessionOption) (*Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("inbound session: %w", errors.New("nil connection"))
	}
	return newSession(cfg, false, conn, logger, opts...)
}

func newSession(cfg SessionConfig, outbound bool, conn net.Conn, logger *slog.Logger, opts ...SessionOption) (*Session, error) {
	if err := validateSessionConfig(cfg); err != nil {
		return nil, err
	}

	s := &Session{
		localITAD:  cfg.LocalITAD,
		localID:    cfg.LocalID,
		localHold:  cfg.LocalHold,
		remoteITAD: cfg.RemoteITAD,
		routeTypes: cfg.RouteTypes,
		hasTrans:   cfg.HasTrans,
		transMode:  cfg.TransMode,
		peerAddr:   cfg.PeerAddr,
		outbound:   outbound,
		conn:       conn,
		recvBuf:    make([]byte, MaxMsgSize),
		sendBuf:    make([]byte, MaxMsgSize),
		metrics:    noopMetrics{},
		doneCh:     make(chan struct{}),
		logger: logger.With(
			slog.String("peer", cfg.PeerAddr.String()),
			slog.Uint64("remote_itad", uint64(cfg.RemoteITAD)),
		),
	}
	s.state.Store(uint32(StateIdle))

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// -------------------------------------------------------------------------
// Accessors
// -------------------------------------------------------------------------

// State returns the current session state (atomic read).
func (s *Session) State() State {
	return State(s.state.Load()) //nolint:gosec // G115: State fits uint8
}

// PeerAddr returns the remote system's address.
func (s *Session) PeerAddr() netip.Addr { return s.peerAddr }

// RemoteITAD returns the peer's ITAD, learned from its Open once received,
// or the configured expectation beforehand.
func (s *Session) RemoteITAD() uint32 { return s.remoteITAD }

// LocalID returns this session's local router id, used by Manager for
// collision resolution.
func (s *Session) LocalID() uint32 { return s.localID }

// RemoteID returns the peer's router id as learned from its Open message,
// or zero if no Open has been received on this session yet. Safe to call
// from any goroutine.
func (s *Session) RemoteID() uint32 { return s.remoteID.Load() }

// Outbound reports whether this session initiates the TCP connection.
func (s *Session) Outbound() bool { return s.outbound }

// PacketsSent returns the total messages transmitted (atomic read).
func (s *Session) PacketsSent() uint64 { return s.packetsSent.Load() }

// PacketsReceived returns the total messages received (atomic read).
func (s *Session) PacketsReceived() uint64 { return s.packetsReceived.Load() }

// StateTransitions returns the total FSM transitions (atomic read).
func (s *Session) StateTransitions() uint64 { return s.stateTransitions.Load() }

// Done returns a channel closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

func (s *Session) getConn() net.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *Session) setConn(c net.Conn) {
	s.connMu.Lock()
	s.conn = c
	s.connMu.Unlock()
}

// -------------------------------------------------------------------------
// Lifecycle
// -------------------------------------------------------------------------

// Run drives the session through one full lifecycle: for an outbound
// session, the connect-retry loop followed by the protocol loop; for an
// inbound session, directly into the protocol loop. Run
// returns once the session reaches Idle, whether from a protocol error, a
// Notification(Cease), or an administrative Shutdown/Discard. Like the
// original's session thread, Run does not automatically reconnect after an
// established session is torn down; a fresh outbound attempt is a new
// Session constructed by the caller.
func (s *Session) Run(ctx context.Context) {
	defer close(s.doneCh)

	if s.outbound {
		if !s.connectLoop(ctx) {
			return
		}
		s.transition(EventTCPConnected)
	} else {
		s.transition(EventInboundAccepted)
	}

	s.protocolLoop(ctx)
}

// connectLoop retries the outbound dial with exponential backoff: 60s
// initial, doubling on each failed attempt, capped at 3600s, reset to 60s
// on success.
func (s *Session) connectLoop(ctx context.Context) bool {
	s.connectRetry = initialConnectRetry

	for {
		s.transition(EventStart)

		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(s.peerAddr.String(), tripPortStr))
		if err != nil {
			s.logger.Warn("connect failed", slog.String("error", err.Error()))
			s.transition(EventTCPError)

			select {
			case <-ctx.Done():
				return false
			case <-time.After(s.connectRetry):
			}
			s.connectRetry = min(s.connectRetry*2, maxConnectRetry)
			continue
		}

		s.setConn(conn)
		s.connectRetry = initialConnectRetry
		return true
	}
}

// protocolLoop reads and frames messages off the wire and drives the FSM
// until the session returns to Idle.
func (s *Session) protocolLoop(ctx context.Context) {
	// Canceling ctx forces Idle, which closes the connection and so
	// unblocks a pending Read.
	stop := context.AfterFunc(ctx, func() { s.forceIdle("context canceled") })
	defer stop()

	for {
		if s.State() == StateIdle {
			s.closeConn()
			return
		}

		conn := s.getConn()
		if conn == nil {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(s.readDeadline())); err != nil {
			s.logger.Warn("set read deadline failed", slog.String("error", err.Error()))
		}

		n, err := conn.Read(s.recvBuf[s.recvLen:])
		if ctx.Err() != nil {
			s.closeConn()
			return
		}
		if err != nil {
			s.handleReadError(err)
			continue
		}

		s.recvLen += n
		s.drainBuffer()
	}
}

// readDeadline returns the read deadline for the next Read: the
// negotiated hold interval once established, or a fixed wait for the
// peer's initial Open beforehand.
func (s *Session) readDeadline() time.Duration {
	if s.effectiveHold > 0 {
		return s.effectiveHold
	}
	if s.effectiveHold == 0 && s.State() == StateEstablished {
		// Hold negotiated to 0: timers disabled, wait indefinitely.
		return 365 * 24 * time.Hour
	}
	return openWaitTimeout
}

func (s *Session) handleReadError(err error) {
	if s.State() == StateIdle {
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if s.State() == StateEstablished {
			s.transition(EventHoldTimer)
			return
		}
		s.logger.Warn("timed out waiting for peer", slog.String("state", s.State().String()))
	}
	s.forceIdle("connection lost: " + err.Error())
}

// drainBuffer repeatedly parses complete messages out of the filled
// portion of recvBuf, dispatching each, and compacts the buffer once a
// message is consumed. An incomplete trailing message is left in place so
// the next read can complete it without discarding the prefix.
func (s *Session) drainBuffer() {
	for s.recvLen > 0 {
		typ, payload, n, err := ParseMsg(s.recvBuf[:s.recvLen])
		if errors.Is(err, ErrIncomplete) {
			return
		}
		if err != nil {
			s.handleFrameError(err)
			return
		}

		s.packetsReceived.Add(1)
		s.metrics.IncPacketsReceived(s.peerAddr)
		s.lastPacketRecv.Store(nowUnixNano())

		s.dispatchMessage(typ, payload)

		copy(s.recvBuf, s.recvBuf[n:s.recvLen])
		s.recvLen -= n

		if s.State() == StateIdle {
			return
		}
	}
}

// dispatchMessage routes a parsed message to the FSM. OpenSent treats any
// message other than Open as EventRecvOther.
func (s *Session) dispatchMessage(typ MsgType, payload []byte) {
	if s.State() == StateOpenSent && typ != MsgOpen {
		s.transition(EventRecvOther)
		return
	}

	switch typ {
	case MsgOpen:
		s.handleOpen(payload)
	case MsgKeepalive:
		s.transition(EventRecvKeepalive)
	case MsgUpdate:
		s.handleUpdate(payload)
	case MsgNotification:
		s.handleNotification(payload)
	}
}

func (s *Session) handleOpen(payload []byte) {
	open, _, err := ParseOpen(payload)
	if err != nil {
		s.pendingSubcode = subcodeForOpenErr(err)
		s.transition(EventRecvOpenInvalid)
		return
	}
	if subcode, ok := s.validateOpenSemantics(open); !ok {
		s.pendingSubcode = subcode
		s.transition(EventRecvOpenInvalid)
		return
	}

	s.remoteITAD = open.ITAD
	s.remoteID.Store(open.ID)
	s.remoteHold = open.Hold

	s.transition(EventRecvOpenValid)
}

// validateOpenSemantics checks the Open fields ParseOpen cannot, against
// the OpenError subcode matrix.
func (s *Session) validateOpenSemantics(open *Open) (uint8, bool) {
	if s.remoteITAD != 0 && open.ITAD != s.remoteITAD {
		return SubOpenBadITAD, false
	}
	if open.ID == 0 {
		return SubOpenBadID, false
	}
	if open.HasTrans && s.hasTrans && !transModesCompatible(open.TransMode, s.transMode) {
		return SubOpenCapMismatch, false
	}
	return 0, true
}

// transModesCompatible reports whether two peers' declared transmission
// modes can communicate at all (neither side is send-only in the same
// direction the other also is).
func transModesCompatible(a, b TransMode) bool {
	if a == TransSend && b == TransSend {
		return false
	}
	if a == TransRecv && b == TransRecv {
		return false
	}
	return true
}

func (s *Session) handleUpdate(payload []byte) {
	attrs, err := ParseUpdate(payload)
	if err != nil {
		s.pendingSubcode = SubUpdateMalformAttr
		s.sendNotification(NotifUpdateError, s.pendingSubcode, nil)
		s.forceIdle("malformed update: " + err.Error())
		return
	}
	s.pendingAttrs = attrs
	s.transition(EventRecvUpdate)
}

func (s *Session) handleNotification(payload []byte) {
	notif, _, err := ParseNotification(payload)
	if err != nil {
		s.forceIdle("malformed notification: " + err.Error())
		return
	}
	if notif.Code == NotifCease {
		s.transition(EventRecvCease)
		return
	}
	s.logger.Info("received notification",
		slog.String("code", notif.Code.String()),
		slog.Int("subcode", int(notif.Subcode)),
	)
	s.transition(EventRecvNotification)
}

// handleFrameError reports a framing-level error the codec rejected
// outright (not Incomplete): an unrecognized message type or a length
// field whose total message size exceeds MaxMsgSize. Both are covered by
// the MsgError notification.
func (s *Session) handleFrameError(err error) {
	subcode := SubMsgBadType
	if errors.Is(err, ErrBufTooSmall) {
		subcode = SubMsgBadLen
	}
	s.sendNotification(NotifMsgError, subcode, nil)
	s.forceIdle("frame error: " + err.Error())
}

// -------------------------------------------------------------------------
// FSM Event Application
// -------------------------------------------------------------------------

// transition applies event to the FSM and executes the resulting actions.
func (s *Session) transition(event Event) {
	result := ApplyEvent(s.State(), event)
	if result.Changed {
		s.state.Store(uint32(result.NewState))
		s.logTransition(result)
	}
	for _, action := range result.Actions {
		s.executeAction(action)
	}
}

func (s *Session) logTransition(result FSMResult) {
	s.logger.Info("session state changed",
		slog.String("old_state", result.OldState.String()),
		slog.String("new_state", result.NewState.String()),
	)
	s.stateTransitions.Add(1)
	s.lastStateChange.Store(nowUnixNano())
	s.metrics.RecordStateTransition(s.peerAddr, result.OldState.String(), result.NewState.String())
	s.emitNotification(result)
}

func (s *Session) emitNotification(result FSMResult) {
	if s.notifyCh == nil {
		return
	}
	sc := StateChange{
		PeerAddr:  s.peerAddr,
		OldState:  result.OldState,
		NewState:  result.NewState,
		Timestamp: nowUnixNano(),
	}
	select {
	case s.notifyCh <- sc:
	default:
		s.logger.Warn("notification channel full, dropping state change")
	}
}

func (s *Session) executeAction(action Action) {
	switch action {
	case ActionConnectTCP:
		// Handled directly by connectLoop; nothing to do here.
	case ActionSendOpen:
		s.sendOpen()
	case ActionScheduleRetry:
		// Handled directly by connectLoop.
	case ActionSendKeepalive:
		s.sendKeepalive()
	case ActionArmTimers:
		s.armTimers()
	case ActionDeliverUpdate:
		s.deliverUpdate()
	case ActionResetHoldTimer:
		// Read deadline is recomputed on every loop iteration from
		// effectiveHold; nothing additional to reset here.
	case ActionSendNotifOpenError:
		s.sendNotification(NotifOpenError, s.pendingSubcode, nil)
	case ActionSendNotifFSMError:
		s.sendNotification(NotifFSMError, 0, nil)
	case ActionSendNotifHoldExpired:
		s.sendNotification(NotifHoldExpired, 0, nil)
	case ActionSendNotifCease:
		s.sendNotification(NotifCease, 0, nil)
	case ActionClose:
		s.stopKeepaliveTicker()
		s.closeConn()
	default:
		s.logger.Warn("unknown FSM action", slog.Int("action", int(action)))
	}
}

func (s *Session) deliverUpdate() {
	if s.onUpdate != nil {
		s.onUpdate(s.peerAddr, s.pendingAttrs)
	}
	s.pendingAttrs = nil
}

// armTimers negotiates the hold/keepalive interval once the peer's
// Keepalive confirms the Open exchange, transitioning OpenConfirm to
// Established.
func (s *Session) armTimers() {
	hold := s.localHold
	if s.remoteHold < hold {
		hold = s.remoteHold
	}
	s.effectiveHold = time.Duration(hold) * time.Second
	if hold == 0 {
		s.keepaliveInterval = 0
		return
	}
	s.keepaliveInterval = s.effectiveHold / 3
	s.startKeepaliveTicker()
}

func (s *Session) startKeepaliveTicker() {
	if s.keepaliveInterval <= 0 {
		return
	}
	s.keepaliveStop = make(chan struct{})
	s.keepaliveDone = make(chan struct{})
	go func() {
		defer close(s.keepaliveDone)
		ticker := time.NewTicker(s.keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.keepaliveStop:
				return
			case <-ticker.C:
				s.transition(EventKeepaliveTimer)
			}
		}
	}()
}

func (s *Session) stopKeepaliveTicker() {
	if s.keepaliveStop == nil {
		return
	}
	select {
	case <-s.keepaliveStop:
	default:
		close(s.keepaliveStop)
	}
}

// -------------------------------------------------------------------------
// Send discipline
// -------------------------------------------------------------------------

func (s *Session) sendOpen() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	n, err := SerializeOpen(s.sendBuf, s.localHold, s.localITAD, s.localID, s.routeTypes, s.hasTrans, s.transMode)
	if err != nil {
		s.logger.Error("failed to build open message", slog.String("error", err.Error()))
		return
	}
	s.writeMessageLocked(s.sendBuf[:n])
}

func (s *Session) sendKeepalive() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	n, err := SerializeKeepalive(s.sendBuf)
	if err != nil {
		s.logger.Error("failed to build keepalive message", slog.String("error", err.Error()))
		return
	}
	s.writeMessageLocked(s.sendBuf[:n])
}

func (s *Session) sendNotification(code NotifCode, subcode uint8, data []byte) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	n, err := SerializeNotification(s.sendBuf, code, subcode, data)
	if err != nil {
		s.logger.Error("failed to build notification message", slog.String("error", err.Error()))
		return
	}
	s.metrics.IncNotificationSent(s.peerAddr, code)
	s.writeMessageLocked(s.sendBuf[:n])
}

// writeMessageLocked writes buf to the session's connection in a loop
// handling short writes. Callers must hold sendMu: buf aliases sendBuf,
// and conn.Write must not interleave with another goroutine's write of a
// different message. A write error drives the FSM to Idle via a close.
func (s *Session) writeMessageLocked(buf []byte) {
	conn := s.getConn()
	if conn == nil {
		return
	}
	written := 0
	for written < len(buf) {
		n, err := conn.Write(buf[written:])
		if err != nil {
			s.logger.Warn("write failed", slog.String("error", err.Error()))
			s.forceIdle("write error: " + err.Error())
			return
		}
		written += n
	}
	s.packetsSent.Add(1)
	s.metrics.IncPacketsSent(s.peerAddr)
}

// -------------------------------------------------------------------------
// Shutdown paths
// -------------------------------------------------------------------------

// Shutdown requests an administrative close: it sends Notification(Cease)
// (supplementing the original's unimplemented TODO in session_shutdown),
// then closes the connection. Safe to call from any goroutine and safe to
// call more than once.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		result := ApplyEvent(s.State(), EventShutdown)
		if result.Changed {
			s.state.Store(uint32(result.NewState))
			s.logTransition(result)
		}
		for _, action := range result.Actions {
			s.executeAction(action)
		}
	})
}

// Discard forces the session to Idle without notifying the peer, used by
// Manager to drop the losing side of a collision: its TCP connection is
// closed and its state forced to Idle, with no Notification sent.
func (s *Session) Discard() {
	s.forceIdle("collision")
}

// forceIdle drives the session directly to Idle outside the FSM table,
// for conditions the table does not model (abrupt TCP loss, a collision
// loss). No notification is sent since the connection may already be
// unusable.
func (s *Session) forceIdle(reason string) {
	old := s.State()
	if old == StateIdle {
		return
	}
	s.state.Store(uint32(StateIdle))
	s.stateTransitions.Add(1)
	s.lastStateChange.Store(nowUnixNano())
	s.logger.Info("session forced to idle", slog.String("reason", reason))
	s.metrics.RecordStateTransition(s.peerAddr, old.String(), StateIdle.String())
	s.emitNotification(FSMResult{OldState: old, NewState: StateIdle, Changed: true})
	s.stopKeepaliveTicker()
	s.closeConn()
}

func (s *Session) closeConn() {
	conn := s.getConn()
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		s.logger.Debug("close failed", slog.String("error", err.Error()))
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// tripPortStr is the IANA-assigned TRIP port, as a string for
// net.JoinHostPort.
const tripPortStr = "6069"

func nowUnixNano() int64 { return time.Now().UnixNano() }

func subcodeForOpenErr(err error) uint8 {
	switch {
	case errors.Is(err, ErrVersion):
		return SubOpenUnsupVersion
	case errors.Is(err, ErrITAD):
		return SubOpenBadITAD
	case errors.Is(err, ErrHold):
		return SubOpenBadHold
	case errors.Is(err, ErrOpt):
		return SubOpenUnsupOpt
	case errors.Is(err, ErrCapInfoCode):
		return SubOpenUnsupCap
	case errors.Is(err, ErrAF), errors.Is(err, ErrAppProto):
		return SubOpenUnsupCap
	case errors.Is(err, ErrTrans):
		return SubOpenCapMismatch
	default:
		return SubOpenUnsupVersion
	}
}
