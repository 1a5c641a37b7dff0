package pipeline

import (
	"fmt"
	"strings"
)

// State is the position of a run in the chunk loop
type State int

const (
	Idle State = iota
	Fetching
	Decoding
	Merging
	Done
	Error
	Cancelled
)

var stateNames = [...]string{"idle", "fetching", "decoding", "merging", "done", "error", "cancelled"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Active reports whether a run is in the chunk loop
func (s State) Active() bool {
	return s == Fetching || s == Decoding || s == Merging
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if strings.EqualFold(name, string(b)) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown pipeline state %q", b)
}

// ErrorKind classifies a run failure reported through OnError
type ErrorKind string

const (
	KindSource      ErrorKind = "source"
	KindCalibration ErrorKind = "calibration"
)
