package rcs

// StackState represents the lifecycle state of a Stack.
type StackState int

const (
	// StackStateInitialized means the stack is created but not started.
	StackStateInitialized StackState = iota

	// StackStateStarting means Start() is provisioning the documents.
	StackStateStarting

	// StackStateRunning means sessions can be created and received.
	StackStateRunning

	// StackStateStopping means Stop() is aborting live sessions.
	StackStateStopping

	// StackStateStopped means the stack has been shut down.
	StackStateStopped
)

// String returns a human-readable name for the state.
func (s StackState) String() string {
	switch s {
	case StackStateInitialized:
		return "Initialized"
	case StackStateStarting:
		return "Starting"
	case StackStateRunning:
		return "Running"
	case StackStateStopping:
		return "Stopping"
	case StackStateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// CanStart returns true if Start() can be called in this state.
func (s StackState) CanStart() bool {
	return s == StackStateInitialized
}

// CanStop returns true if Stop() can be called in this state.
func (s StackState) CanStop() bool {
	return s == StackStateRunning || s == StackStateStarting
}
