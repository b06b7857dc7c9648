package session

import (
	"github.com/looplab/fsm"
)

type State string

const (
	StateUninitialized State = "Uninitialized"
	StateInitialized   State = "Initialized"
	StateConnecting    State = "Connecting"
	StateConnected     State = "Connected"
	StateScanning      State = "Scanning"
	StateDisconnecting State = "Disconnecting"
	StateDisconnected  State = "Disconnected"
	StateError         State = "Error"
)

const evInitialized = "evInitialized"
const evConnect = "evConnect"
const evNoReader = "evNoReader"
const evConnectFailed = "evConnectFailed"
const evConnected = "evConnected"
const evInventoryStarted = "evInventoryStarted"
const evInventoryStopped = "evInventoryStopped"
const evConnectionLost = "evConnectionLost"
const evDisconnect = "evDisconnect"
const evDisconnected = "evDisconnected"

func names(states ...State) []string {
	result := make([]string, len(states))
	for i, s := range states {
		result[i] = string(s)
	}
	return result
}

func (s *readerSession) initFsm() {
	states := fsm.NewFSM(
		string(StateUninitialized),
		fsm.Events{
			{Name: evInitialized, Src: names(StateUninitialized, StateDisconnected), Dst: string(StateInitialized)},
			{Name: evConnect, Src: names(StateInitialized, StateError), Dst: string(StateConnecting)},
			{Name: evNoReader, Src: names(StateConnecting), Dst: string(StateInitialized)},
			{Name: evConnectFailed, Src: names(StateConnecting), Dst: string(StateError)},
			{Name: evConnected, Src: names(StateConnecting), Dst: string(StateConnected)},
			{Name: evInventoryStarted, Src: names(StateConnected), Dst: string(StateScanning)},
			{Name: evInventoryStopped, Src: names(StateScanning), Dst: string(StateConnected)},
			{Name: evConnectionLost, Src: names(StateConnected, StateScanning), Dst: string(StateError)},
			{Name: evDisconnect, Src: names(StateUninitialized, StateInitialized, StateConnecting, StateConnected, StateScanning, StateError, StateDisconnected), Dst: string(StateDisconnecting)},
			{Name: evDisconnected, Src: names(StateDisconnecting), Dst: string(StateDisconnected)},
		},
		fsm.Callbacks{
			"enter_state": func(e *fsm.Event) {
				s.logger.Info().Str("old", e.Src).Str("event", e.Event).Str("new", e.Dst).Msg("transitioning state")
				s.publish(State(e.Dst))
			},
		},
	)

	s.states = states
	s.publish(StateUninitialized)
}

// publish mirrors the FSM state into the fields read by the lock-free queries.
func (s *readerSession) publish(state State) {
	s.state.Store(state)
	s.connected.Store(state == StateConnected || state == StateScanning)
	s.scanning.Store(state == StateScanning)
}

// event fires a transition if the current state allows it. Only the worker calls this.
func (s *readerSession) event(name string) {
	if !s.states.Can(name) {
		s.logger.Debug().Str("event", name).Str("state", s.states.Current()).Msg("transition not applicable")
		return
	}

	if err := s.states.Event(name); err != nil {
		if _, ok := err.(fsm.NoTransitionError); ok {
			return
		}
		s.logger.Error().Err(err).Str("event", name).Msg("state transition failed")
	}
}

func (s *readerSession) current() State {
	return State(s.states.Current())
}
