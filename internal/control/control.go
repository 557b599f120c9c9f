// Package control implements the TRIP location server's Control API: the
// single entry point an operator-facing surface (a CLI, a config-file
// reader, cmd/tripd's flag wiring) uses to configure and run a
// trip.Manager.
//
// There is no RPC surface here: a management RPC service is out of
// scope, so this stays a plain function-call API. See DESIGN.md.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/dantte-lp/trip/internal/rib"
	"github.com/dantte-lp/trip/internal/trip"
)

// ErrAlreadyRunning wraps trip.ErrAlreadyConfigured for Controller-level
// callers that don't want to depend on the trip package's sentinel
// directly.
var ErrAlreadyRunning = errors.New("control: already running")

// Controller wraps a trip.Manager and exposes its configuration calls
// plus Run/Shutdown, one method per operation.
type Controller struct {
	mgr    *trip.Manager
	logger *slog.Logger
}

// New creates a Controller around a fresh, unconfigured trip.Manager.
func New(logger *slog.Logger, opts ...trip.ManagerOption) *Controller {
	return &Controller{
		mgr:    trip.NewManager(logger, opts...),
		logger: logger.With(slog.String("component", "control")),
	}
}

// WithRIBHandler wires a rib.Handler's OnUpdate as the manager's
// UpdateCallback. Must be called before Run.
func WithRIBHandler(h *rib.Handler) trip.ManagerOption {
	return trip.WithManagerUpdateCallback(h.OnUpdate)
}

// Bind opens the inbound listen socket.
func (c *Controller) Bind(listenAddr string) error {
	if err := c.mgr.Bind(listenAddr); err != nil {
		return fmt.Errorf("bind: %w", remap(err))
	}
	return nil
}

// SetITAD sets the local ITAD number. Must be called before Run.
func (c *Controller) SetITAD(itad uint32) error {
	if err := c.mgr.SetITAD(itad); err != nil {
		return fmt.Errorf("set itad: %w", remap(err))
	}
	return nil
}

// SetID sets the local router id. Must be called before Run.
func (c *Controller) SetID(id uint32) error {
	if err := c.mgr.SetID(id); err != nil {
		return fmt.Errorf("set id: %w", remap(err))
	}
	return nil
}

// SetHold sets the locally advertised hold time in seconds. Must be
// called before Run.
func (c *Controller) SetHold(hold uint16) error {
	if err := c.mgr.SetHold(hold); err != nil {
		return fmt.Errorf("set hold: %w", remap(err))
	}
	return nil
}

// AddPeer registers a configured remote peer.
func (c *Controller) AddPeer(addr netip.Addr, remoteITAD uint32, hold uint16, trans trip.TransMode) error {
	if err := c.mgr.AddPeer(addr, remoteITAD, hold, trans); err != nil {
		return fmt.Errorf("add peer %s: %w", addr, err)
	}
	return nil
}

// Run starts every configured session and the accept loop, blocking
// until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.mgr.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// Shutdown issues a graceful Cease to every session and waits for them to
// reach Idle.
func (c *Controller) Shutdown(ctx context.Context) error {
	if err := c.mgr.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Destroy returns the manager to the uninitialized state so a fresh
// Bind/SetITAD/SetID/SetHold/AddPeer/Run sequence can proceed.
func (c *Controller) Destroy() error {
	if err := c.mgr.Close(); err != nil {
		return fmt.Errorf("destroy: %w", err)
	}
	return nil
}

// Sessions returns a snapshot of every active session, for a `show
// sessions`-style surface.
func (c *Controller) Sessions() []trip.SessionSnapshot { return c.mgr.Sessions() }

// StateChanges returns the channel of session state transitions, for a
// monitoring surface.
func (c *Controller) StateChanges() <-chan trip.StateChange { return c.mgr.StateChanges() }

// remap translates trip.ErrAlreadyConfigured into the Controller's own
// sentinel while preserving err as the wrapped cause.
func remap(err error) error {
	if errors.Is(err, trip.ErrAlreadyConfigured) {
		return fmt.Errorf("%w: %w", ErrAlreadyRunning, err)
	}
	return err
}
