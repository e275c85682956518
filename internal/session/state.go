package session

// State is the phase of an acquisition session. States only move forward,
// except that any of them can fall into Error.
type State int

const (
	Init State = iota
	Waiting
	PrepareForSampling
	Sampling
	Shutdown
	Error
)

var stateNames = map[State]string{
	Init:               "INIT",
	Waiting:            "WAITING",
	PrepareForSampling: "PREPARE-FOR-SAMPLING",
	Sampling:           "SAMPLING",
	Shutdown:           "SHUTDOWN",
	Error:              "ERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}
