package connection

// State represents the lifecycle of the single logical link to the peripheral
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateServiceDiscovery
	StateReady
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateServiceDiscovery:
		return "service_discovery"
	case StateReady:
		return "ready"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Event is an input to the state machine: a transport report or an explicit request
type Event int

const (
	EventConnectRequested Event = iota
	EventTransportConnected
	EventTransportFailed
	EventDiscoverySucceeded
	EventDiscoveryFailed
	EventTransportDisconnected
	EventTeardownRequested
	EventTeardownComplete
)

func (e Event) String() string {
	switch e {
	case EventConnectRequested:
		return "connect_requested"
	case EventTransportConnected:
		return "transport_connected"
	case EventTransportFailed:
		return "transport_failed"
	case EventDiscoverySucceeded:
		return "discovery_succeeded"
	case EventDiscoveryFailed:
		return "discovery_failed"
	case EventTransportDisconnected:
		return "transport_disconnected"
	case EventTeardownRequested:
		return "teardown_requested"
	case EventTeardownComplete:
		return "teardown_complete"
	default:
		return "unknown"
	}
}

// Effect is a side effect the owner of the machine must carry out after a transition
type Effect int

const (
	EffectConnect      Effect = iota // initiate transport connect
	EffectDiscover                   // trigger service discovery
	EffectBind                       // bind the control characteristic handle
	EffectSubscribe                  // enable telemetry notifications
	EffectResetBackoff               // reset the reconnect policy
	EffectClearHandles               // drop bound characteristic handles
	EffectRelease                    // disconnect and close the transport
	EffectReconnect                  // hand off to the reconnect policy
	EffectCancelTimers               // cancel pending reconnect timers
)

func (e Effect) String() string {
	switch e {
	case EffectConnect:
		return "connect"
	case EffectDiscover:
		return "discover"
	case EffectBind:
		return "bind"
	case EffectSubscribe:
		return "subscribe"
	case EffectResetBackoff:
		return "reset_backoff"
	case EffectClearHandles:
		return "clear_handles"
	case EffectRelease:
		return "release"
	case EffectReconnect:
		return "reconnect"
	case EffectCancelTimers:
		return "cancel_timers"
	default:
		return "unknown"
	}
}
