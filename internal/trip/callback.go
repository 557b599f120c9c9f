package trip

import "net/netip"

// StateChange is emitted when a session FSM transitions between states.
type StateChange struct {
	PeerAddr  netip.Addr
	OldState  State
	NewState  State
	Timestamp int64 // UnixNano
}

// StateCallback is invoked when a session changes state.
//
// External systems (the Control API's monitoring surface, an
// operator-facing log sink) register callbacks to react to session events
// such as a peer reaching Established or falling back to Idle.
//
// Callbacks are invoked synchronously by the consumer goroutine reading
// Manager.StateChanges(); long-running work should be dispatched
// asynchronously to avoid blocking the notification pipeline.
type StateCallback func(change StateChange)

// UpdateCallback delivers the parsed attributes of a received Update
// message to the external RIB. internal/rib provides the concrete
// GoBGP-backed implementation; this decoupling avoids an import cycle
// between internal/trip and internal/rib.
type UpdateCallback func(peer netip.Addr, attrs []Attribute)
