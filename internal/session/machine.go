package session

// State is the lifecycle state of a recording session.
type State string

const (
	StateRecording   State = "recording"
	StatePaused      State = "paused"
	StateProcessing  State = "processing"
	StateCompleted   State = "completed"
	StateCancelled   State = "cancelled"
	StateInterrupted State = "interrupted"
)

// Terminal reports whether no command may change s any more. Interrupted
// counts: it is only ever reached by the idle sweep and never left.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateInterrupted:
		return true
	}
	return false
}

// Command is an input to the state machine.
type Command string

const (
	CmdPause     Command = "pause"
	CmdResume    Command = "resume"
	CmdStop      Command = "stop"
	CmdFinish    Command = "finish"
	CmdCancel    Command = "cancel"
	CmdInterrupt Command = "interrupt"
	// CmdIngest is never a transition; it only appears in errors.
	CmdIngest Command = "ingest"
)

var transitions = map[State]map[Command]State{
	StateRecording: {
		CmdPause:     StatePaused,
		CmdStop:      StateProcessing,
		CmdCancel:    StateCancelled,
		CmdInterrupt: StateInterrupted,
	},
	StatePaused: {
		CmdResume:    StateRecording,
		CmdStop:      StateProcessing,
		CmdCancel:    StateCancelled,
		CmdInterrupt: StateInterrupted,
	},
	StateProcessing: {
		CmdFinish: StateCompleted,
		CmdCancel: StateCancelled,
	},
}

// Next returns the state cmd leads to from from, or a *TransitionError.
func Next(from State, cmd Command) (State, error) {
	to, ok := transitions[from][cmd]
	if !ok {
		return from, &TransitionError{From: from, Command: cmd}
	}
	return to, nil
}
