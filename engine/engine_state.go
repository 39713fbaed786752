package engine

import "encoding/json"

// State represents the lifecycle state of an engine handle.
type State int

const (
	// StateUnloaded is used before any load attempt.
	StateUnloaded State = iota
	// StateLoading is used while a load is in flight.
	StateLoading
	// StateReady is used once the engine is loaded. It is permanent.
	StateReady
	// StateLoadFailed is used after a failed load. The next EnsureLoaded retries.
	StateLoadFailed
)

// String returns a string representation of a State.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "UNLOADED"
	case StateLoading:
		return "LOADING"
	case StateReady:
		return "READY"
	case StateLoadFailed:
		return "LOAD_FAILED"
	}
	return "UNLOADED"
}

// MarshalJSON marshals a State into a string.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// StateFromString returns a State from a string.
func StateFromString(s string) State {
	switch s {
	default:
		return StateUnloaded
	case "LOADING":
		return StateLoading
	case "READY":
		return StateReady
	case "LOAD_FAILED":
		return StateLoadFailed
	}
}

// UnmarshalJSON unmarshals a string into a State.
func (s *State) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	*s = StateFromString(str)
	return nil
}
