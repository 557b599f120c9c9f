package trip

// This file implements the TRIP session finite state machine as a pure
// function over a transition table — no side effects, no Session
// dependency — which makes it independently testable.
//
// States: Idle, Connect, Active, OpenSent, OpenConfirm, Established.
// Two rules apply universally regardless of the table below and are
// checked before any table lookup: receiving Notification(Cease) or a
// local shutdown command drives any non-Idle session to Idle.

// State is a TRIP session state.
type State uint8

const (
	StateIdle State = iota
	StateConnect
	StateActive
	StateOpenSent
	StateOpenConfirm
	StateEstablished
)

var stateNames = [...]string{
	"Idle", "Connect", "Active", "OpenSent", "OpenConfirm", "Established",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Event is a TRIP FSM input: a parsed message, a timer firing, a TCP
// lifecycle signal, or an administrative command.
type Event uint8

const (
	EventStart Event = iota
	EventInboundAccepted
	EventTCPConnected
	EventTCPError
	EventRecvOpenValid
	EventRecvOpenInvalid
	EventRecvOther
	EventRecvKeepalive
	EventRecvUpdate
	EventRecvNotification
	EventRecvCease
	EventKeepaliveTimer
	EventHoldTimer
	EventShutdown
)

var eventNames = [...]string{
	"Start", "InboundAccepted", "TCPConnected", "TCPError",
	"RecvOpenValid", "RecvOpenInvalid", "RecvOther", "RecvKeepalive",
	"RecvUpdate", "RecvNotification", "RecvCease", "KeepaliveTimer",
	"HoldTimer", "Shutdown",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "Unknown"
}

// Action is a side effect the caller must execute after a transition. The
// FSM itself never performs I/O.
type Action uint8

const (
	ActionConnectTCP Action = iota + 1
	ActionSendOpen
	ActionScheduleRetry
	ActionSendKeepalive
	ActionArmTimers
	ActionDeliverUpdate
	ActionResetHoldTimer
	ActionSendNotifOpenError
	ActionSendNotifFSMError
	ActionSendNotifHoldExpired
	ActionSendNotifCease
	ActionClose
)

var actionNames = [...]string{
	"", "ConnectTCP", "SendOpen", "ScheduleRetry", "SendKeepalive",
	"ArmTimers", "DeliverUpdate", "ResetHoldTimer", "SendNotifOpenError",
	"SendNotifFSMError", "SendNotifHoldExpired", "SendNotifCease", "Close",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "Unknown"
}

// stateEvent is the FSM transition table key.
type stateEvent struct {
	state State
	event Event
}

// transition describes the target state and side effects of one entry.
type transition struct {
	newState State
	actions  []Action
}

// FSMResult is the outcome of applying one event to the FSM.
type FSMResult struct {
	OldState State
	NewState State
	Actions  []Action
	Changed  bool
}

// fsmTable is the TRIP session transition table. Unlisted (state, event)
// pairs are silently ignored — the event is dropped and FSMResult.Changed
// is false.
//
//nolint:gochecknoglobals // transition table is intentionally package-level.
var fsmTable = map[stateEvent]transition{
	// Idle: start (outbound) -> Connect, open TCP to peer.
	{StateIdle, EventStart}: {
		newState: StateConnect,
		actions:  []Action{ActionConnectTCP},
	},
	// Idle: inbound TCP accepted -> OpenSent, after sending Open.
	{StateIdle, EventInboundAccepted}: {
		newState: StateOpenSent,
		actions:  []Action{ActionSendOpen},
	},

	// Connect: TCP connected -> OpenSent, send Open.
	{StateConnect, EventTCPConnected}: {
		newState: StateOpenSent,
		actions:  []Action{ActionSendOpen},
	},
	// Connect: TCP error -> Idle, close and schedule retry.
	{StateConnect, EventTCPError}: {
		newState: StateIdle,
		actions:  []Action{ActionClose, ActionScheduleRetry},
	},

	// OpenSent: valid Open received -> OpenConfirm, send Keepalive.
	{StateOpenSent, EventRecvOpenValid}: {
		newState: StateOpenConfirm,
		actions:  []Action{ActionSendKeepalive},
	},
	// OpenSent: invalid Open received -> Idle, Notification(OpenError).
	{StateOpenSent, EventRecvOpenInvalid}: {
		newState: StateIdle,
		actions:  []Action{ActionSendNotifOpenError, ActionClose},
	},
	// OpenSent: anything else received -> Idle, Notification(FSMError).
	{StateOpenSent, EventRecvOther}: {
		newState: StateIdle,
		actions:  []Action{ActionSendNotifFSMError, ActionClose},
	},

	// OpenConfirm: Keepalive received -> Established, arm hold+keepalive
	// timers.
	{StateOpenConfirm, EventRecvKeepalive}: {
		newState: StateEstablished,
		actions:  []Action{ActionArmTimers},
	},
	// OpenConfirm: Notification received (not Cease, handled universally
	// below) -> Idle, close.
	{StateOpenConfirm, EventRecvNotification}: {
		newState: StateIdle,
		actions:  []Action{ActionClose},
	},

	// Established: Update received -> Established, deliver to RIB.
	{StateEstablished, EventRecvUpdate}: {
		newState: StateEstablished,
		actions:  []Action{ActionDeliverUpdate},
	},
	// Established: Keepalive received -> Established, reset hold timer.
	{StateEstablished, EventRecvKeepalive}: {
		newState: StateEstablished,
		actions:  []Action{ActionResetHoldTimer},
	},
	// Established: keepalive timer fires -> Established, send Keepalive.
	{StateEstablished, EventKeepaliveTimer}: {
		newState: StateEstablished,
		actions:  []Action{ActionSendKeepalive},
	},
	// Established: hold timer expires -> Idle, Notification(HoldExpired).
	{StateEstablished, EventHoldTimer}: {
		newState: StateIdle,
		actions:  []Action{ActionSendNotifHoldExpired, ActionClose},
	},
}

// ApplyEvent applies event to currentState and returns the outcome.
//
// Two rules are universal across every non-Idle state and are checked
// first: receiving Notification(Cease) closes the session, and so does a
// local shutdown command — the latter additionally sends
// Notification(Cease) first. Everything else is resolved by table lookup;
// an unlisted pair leaves the state unchanged with no actions.
func ApplyEvent(currentState State, event Event) FSMResult {
	if currentState != StateIdle {
		switch event {
		case EventRecvCease:
			return FSMResult{
				OldState: currentState,
				NewState: StateIdle,
				Actions:  []Action{ActionClose},
				Changed:  currentState != StateIdle,
			}
		case EventShutdown:
			return FSMResult{
				OldState: currentState,
				NewState: StateIdle,
				Actions:  []Action{ActionSendNotifCease, ActionClose},
				Changed:  currentState != StateIdle,
			}
		}
	}

	key := stateEvent{state: currentState, event: event}
	tr, ok := fsmTable[key]
	if !ok {
		return FSMResult{
			OldState: currentState,
			NewState: currentState,
			Actions:  nil,
			Changed:  false,
		}
	}
	return FSMResult{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}
