package trip_test

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/dantte-lp/trip/internal/trip"
)

// -------------------------------------------------------------------------
// Test Helpers
// -------------------------------------------------------------------------

// recordingMetrics captures every call a session makes into a
// trip.MetricsReporter, for assertions without pulling in the Prometheus
// collector.
type recordingMetrics struct {
	mu            sync.Mutex
	sent          int
	received      int
	notifications []trip.NotifCode
	transitions   [][2]string
}

func (m *recordingMetrics) RegisterSession(netip.Addr, string)   {}
func (m *recordingMetrics) UnregisterSession(netip.Addr, string) {}

func (m *recordingMetrics) IncPacketsSent(netip.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
}

func (m *recordingMetrics) IncPacketsReceived(netip.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received++
}

func (m *recordingMetrics) IncPacketsDropped(netip.Addr) {}

func (m *recordingMetrics) RecordStateTransition(_ netip.Addr, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, [2]string{from, to})
}

func (m *recordingMetrics) IncNotificationSent(_ netip.Addr, code trip.NotifCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, code)
}

func defaultTestConfig() trip.SessionConfig {
	return trip.SessionConfig{
		LocalITAD: 100,
		LocalID:   10,
		LocalHold: 3,
	}
}

// newInboundTestSession wires an inbound Session to one end of a net.Pipe,
// returning the other end for the test to drive as the remote peer.
func newInboundTestSession(t *testing.T, opts ...trip.SessionOption) (*trip.Session, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	sess, err := trip.NewInboundSession(defaultTestConfig(), server, slog.Default(), opts...)
	if err != nil {
		t.Fatalf("NewInboundSession: %v", err)
	}
	return sess, client
}

// readMsg reads one framed message off conn into a single Read call; the
// session always writes one complete message per Write, so one Read
// against an oversized buffer is guaranteed to return the whole frame over
// a net.Pipe.
func readMsg(t *testing.T, conn net.Conn) (trip.MsgType, []byte) {
	t.Helper()
	buf := make([]byte, trip.MaxMsgSize)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	typ, payload, total, err := trip.ParseMsg(buf[:n])
	if err != nil {
		t.Fatalf("parse message: %v", err)
	}
	if total != n {
		t.Fatalf("parsed %d bytes, read returned %d", total, n)
	}
	return typ, payload
}

func mustWrite(t *testing.T, conn net.Conn, buf []byte) {
	t.Helper()
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func writeOpen(t *testing.T, conn net.Conn, hold uint16, itad, id uint32) {
	t.Helper()
	buf := make([]byte, trip.MaxMsgSize)
	n, err := trip.SerializeOpen(buf, hold, itad, id, nil, false, 0)
	if err != nil {
		t.Fatalf("SerializeOpen: %v", err)
	}
	mustWrite(t, conn, buf[:n])
}

func writeKeepalive(t *testing.T, conn net.Conn) {
	t.Helper()
	buf := make([]byte, trip.MaxMsgSize)
	n, err := trip.SerializeKeepalive(buf)
	if err != nil {
		t.Fatalf("SerializeKeepalive: %v", err)
	}
	mustWrite(t, conn, buf[:n])
}

func writeNotification(t *testing.T, conn net.Conn, code trip.NotifCode) {
	t.Helper()
	buf := make([]byte, trip.MaxMsgSize)
	n, err := trip.SerializeNotification(buf, code, 0, nil)
	if err != nil {
		t.Fatalf("SerializeNotification: %v", err)
	}
	mustWrite(t, conn, buf[:n])
}

// establish drives conn through a full Open/Keepalive handshake against a
// freshly started session, leaving both sides in Established. The session
// sends its Open first and answers the peer's Open with a Keepalive.
func establish(t *testing.T, conn net.Conn) {
	t.Helper()
	synctest.Wait()

	readMsg(t, conn) // discard the session's Open
	writeOpen(t, conn, 3, 200, 20)
	synctest.Wait()
	readMsg(t, conn) // discard the session's Keepalive

	writeKeepalive(t, conn)
	synctest.Wait()
}

// -------------------------------------------------------------------------
// Construction
// -------------------------------------------------------------------------

func TestNewOutboundSessionRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	cfg.LocalITAD = 0
	if _, err := trip.NewOutboundSession(cfg, slog.Default()); err == nil {
		t.Fatal("expected error for zero local ITAD")
	}
}

func TestNewInboundSessionRejectsNilConn(t *testing.T) {
	t.Parallel()

	if _, err := trip.NewInboundSession(defaultTestConfig(), nil, slog.Default()); err == nil {
		t.Fatal("expected error for nil connection")
	}
}

func TestNewSessionInitialState(t *testing.T) {
	t.Parallel()

	sess, conn := newInboundTestSession(t)
	defer conn.Close()

	if sess.State() != trip.StateIdle {
		t.Errorf("initial state = %s, want Idle", sess.State())
	}
	if sess.Outbound() {
		t.Error("inbound session reports Outbound() = true")
	}
}

// -------------------------------------------------------------------------
// Handshake — Idle -> Established
// -------------------------------------------------------------------------

func TestInboundHandshakeReachesEstablished(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		metrics := &recordingMetrics{}
		sess, conn := newInboundTestSession(t, trip.WithMetrics(metrics))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go sess.Run(ctx)
		synctest.Wait()

		typ, _ := readMsg(t, conn)
		if typ != trip.MsgOpen {
			t.Fatalf("expected the session's Open first, got %v", typ)
		}

		writeOpen(t, conn, 3, 200, 20)
		synctest.Wait()

		typ, _ = readMsg(t, conn)
		if typ != trip.MsgKeepalive {
			t.Fatalf("expected Keepalive in reply to Open, got %v", typ)
		}
		if sess.State() != trip.StateOpenConfirm {
			t.Fatalf("state after open exchange = %s, want OpenConfirm", sess.State())
		}

		writeKeepalive(t, conn)
		synctest.Wait()

		if sess.State() != trip.StateEstablished {
			t.Fatalf("state after keepalive = %s, want Established", sess.State())
		}
		if sess.RemoteITAD() != 200 {
			t.Errorf("RemoteITAD = %d, want 200", sess.RemoteITAD())
		}

		metrics.mu.Lock()
		sent, received, transitions := metrics.sent, metrics.received, len(metrics.transitions)
		metrics.mu.Unlock()
		if sent == 0 {
			t.Error("metrics recorded no packets sent")
		}
		if received == 0 {
			t.Error("metrics recorded no packets received")
		}
		if transitions == 0 {
			t.Error("metrics recorded no state transitions")
		}

		cancel()
		synctest.Wait()
	})
}

func TestOpenSentRejectsNonOpenMessage(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		sess, conn := newInboundTestSession(t)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go sess.Run(ctx)
		synctest.Wait()

		readMsg(t, conn) // discard the session's Open
		writeKeepalive(t, conn)
		synctest.Wait()

		if sess.State() != trip.StateIdle {
			t.Fatalf("state after unexpected keepalive = %s, want Idle (FSMError)", sess.State())
		}

		cancel()
		synctest.Wait()
	})
}

// -------------------------------------------------------------------------
// Update delivery
// -------------------------------------------------------------------------

func TestEstablishedDeliversUpdate(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var gotPeer netip.Addr
		var gotAttrs []trip.Attribute
		done := make(chan struct{})

		cb := trip.UpdateCallback(func(peer netip.Addr, attrs []trip.Attribute) {
			gotPeer = peer
			gotAttrs = attrs
			close(done)
		})

		sess, conn := newInboundTestSession(t, trip.WithUpdateCallback(cb))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go sess.Run(ctx)
		establish(t, conn)

		route := trip.Route{AF: trip.AFE164, AppProto: trip.AppProtoSIP, Addr: []byte("15551234567")}
		attrBuf := make([]byte, trip.MaxMsgSize)
		attrN, err := trip.SerializeAttrReachableRoutes(attrBuf, false, 0, 0, []trip.Route{route})
		if err != nil {
			t.Fatalf("SerializeAttrReachableRoutes: %v", err)
		}

		update := make([]byte, trip.MaxMsgSize)
		n, err := trip.SerializeUpdate(update, [][]byte{attrBuf[:attrN]})
		if err != nil {
			t.Fatalf("SerializeUpdate: %v", err)
		}
		mustWrite(t, conn, update[:n])
		synctest.Wait()

		select {
		case <-done:
		default:
			t.Fatal("update callback was not invoked")
		}
		if gotPeer != sess.PeerAddr() {
			t.Errorf("callback peer = %s, want %s", gotPeer, sess.PeerAddr())
		}
		if len(gotAttrs) != 1 || gotAttrs[0].Type != trip.AttrReachableRoutes {
			t.Errorf("callback attrs = %+v, want one AttrReachableRoutes", gotAttrs)
		}

		cancel()
		synctest.Wait()
	})
}

// -------------------------------------------------------------------------
// Notification(Cease) and Shutdown
// -------------------------------------------------------------------------

func TestRecvCeaseForcesIdle(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		sess, conn := newInboundTestSession(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go sess.Run(ctx)
		establish(t, conn)

		if sess.State() != trip.StateEstablished {
			t.Fatalf("precondition: state = %s, want Established", sess.State())
		}

		writeNotification(t, conn, trip.NotifCease)
		synctest.Wait()

		if sess.State() != trip.StateIdle {
			t.Fatalf("state after recv cease = %s, want Idle", sess.State())
		}

		cancel()
		synctest.Wait()
	})
}

func TestShutdownSendsCeaseAndReachesIdle(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		sess, conn := newInboundTestSession(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go sess.Run(ctx)
		establish(t, conn)

		go sess.Shutdown()
		synctest.Wait()

		typ, payload := readMsg(t, conn)
		synctest.Wait()
		if typ != trip.MsgNotification {
			t.Fatalf("expected Notification on shutdown, got %v", typ)
		}
		notif, _, err := trip.ParseNotification(payload)
		if err != nil {
			t.Fatalf("ParseNotification: %v", err)
		}
		if notif.Code != trip.NotifCease {
			t.Errorf("shutdown notification code = %v, want Cease", notif.Code)
		}

		select {
		case <-sess.Done():
		default:
			t.Error("session did not reach Done() after Shutdown")
		}
		if sess.State() != trip.StateIdle {
			t.Errorf("state after Shutdown = %s, want Idle", sess.State())
		}

		cancel()
	})
}

func TestShutdownIsIdempotent(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		sess, conn := newInboundTestSession(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go sess.Run(ctx)
		establish(t, conn)

		sess.Shutdown()
		sess.Shutdown()
		synctest.Wait()

		if sess.State() != trip.StateIdle {
			t.Errorf("state after double Shutdown = %s, want Idle", sess.State())
		}

		cancel()
	})
}

func TestDiscardForcesIdleWithoutNotifying(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		sess, conn := newInboundTestSession(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go sess.Run(ctx)
		establish(t, conn)

		sess.Discard()
		synctest.Wait()

		if sess.State() != trip.StateIdle {
			t.Errorf("state after Discard = %s, want Idle", sess.State())
		}

		cancel()
	})
}

// -------------------------------------------------------------------------
// Hold timer expiry
// -------------------------------------------------------------------------

func TestHoldTimerExpiryForcesIdle(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		sess, conn := newInboundTestSession(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go sess.Run(ctx)
		establish(t, conn) // negotiated hold = min(local 3s, remote 3s) = 3s

		// Consume the session's periodic Keepalives so its writes never
		// block while the test peer stays silent.
		go func() {
			buf := make([]byte, trip.MaxMsgSize)
			for {
				if _, err := conn.Read(buf); err != nil {
					return
				}
			}
		}()

		time.Sleep(4 * time.Second)
		synctest.Wait()

		if sess.State() != trip.StateIdle {
			t.Fatalf("state after hold expiry = %s, want Idle", sess.State())
		}

		cancel()
	})
}

// -------------------------------------------------------------------------
// Accessors
// -------------------------------------------------------------------------

func TestPacketCountersIncrement(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		sess, conn := newInboundTestSession(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go sess.Run(ctx)
		establish(t, conn)

		if sess.PacketsSent() == 0 {
			t.Error("PacketsSent() = 0 after handshake")
		}
		if sess.PacketsReceived() == 0 {
			t.Error("PacketsReceived() = 0 after handshake")
		}
		if sess.StateTransitions() == 0 {
			t.Error("StateTransitions() = 0 after handshake")
		}

		cancel()
		synctest.Wait()
	})
}
