package orchestrator

// Status is the session lifecycle state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// transitions lists the allowed forward edges. Reset to idle is allowed from
// every state and is not listed.
var transitions = map[Status][]Status{
	StatusIdle:       {StatusStarting},
	StatusStarting:   {StatusRunning, StatusProcessing, StatusError},
	StatusRunning:    {StatusProcessing, StatusError},
	StatusProcessing: {StatusCompleted},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status) bool {
	if to == StatusIdle {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Active reports whether a session in this state holds capture resources.
func (s Status) Active() bool {
	return s == StatusStarting || s == StatusRunning
}

// Terminal reports whether no further forward transition exists.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}
