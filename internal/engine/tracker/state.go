package tracker

import "fmt"

// State is the lifecycle state of a tracked flow.
type State uint8

const (
	StateNew State = iota
	StateEstablished
	StateClosing
	StateClosed
	StateEvicted
)

var stateNames = [...]string{"NEW", "ESTABLISHED", "CLOSING", "CLOSED", "EVICTED"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE(%d)", s)
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether the flow has left the live table.
func (s State) Terminal() bool { return s == StateClosed || s == StateEvicted }

// Closure and eviction reasons.
const (
	ReasonFIN         = "fin"
	ReasonReset       = "reset"
	ReasonIdleTimeout = "idle_timeout"
	ReasonCapacity    = "capacity"
	ReasonShutdown    = "shutdown"
	// ReasonICMPPrefix is followed by the semantic code of the ICMP error.
	ReasonICMPPrefix = "icmp_"
)

var transitions = map[State][]State{
	StateNew:         {StateEstablished, StateClosing, StateClosed, StateEvicted},
	StateEstablished: {StateClosing, StateClosed, StateEvicted},
	StateClosing:     {StateClosed, StateEvicted},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// InvariantError is raised (as a panic value) when the state machine is asked
// to take an edge it does not have. It means the shard is corrupt.
type InvariantError struct {
	Shard int
	From  State
	To    State
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("shard %d: illegal transition %s -> %s", e.Shard, e.From, e.To)
}
