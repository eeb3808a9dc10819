package review

import (
	"encoding"
	"encoding/json"
	"fmt"
)

// SessionStatus is the review session lifecycle state.
type SessionStatus int

const (
	StatusIdle SessionStatus = iota + 1
	StatusStarting
	StatusActive
	StatusPaused
	StatusCompleting
	StatusCompleted
	StatusAbandoned
	StatusError
)

var (
	statusNames = [...]string{
		StatusIdle:       "idle",
		StatusStarting:   "starting",
		StatusActive:     "active",
		StatusPaused:     "paused",
		StatusCompleting: "completing",
		StatusCompleted:  "completed",
		StatusAbandoned:  "abandoned",
		StatusError:      "error",
	}
	statusByName = map[string]SessionStatus{
		"idle":       StatusIdle,
		"starting":   StatusStarting,
		"active":     StatusActive,
		"paused":     StatusPaused,
		"completing": StatusCompleting,
		"completed":  StatusCompleted,
		"abandoned":  StatusAbandoned,
		"error":      StatusError,
	}
)

// Compile-time interface checks.
var (
	_ fmt.Stringer             = SessionStatus(0)
	_ encoding.TextMarshaler   = SessionStatus(0)
	_ encoding.TextUnmarshaler = (*SessionStatus)(nil)
	_ json.Marshaler           = SessionStatus(0)
	_ json.Unmarshaler         = (*SessionStatus)(nil)
)

func (s SessionStatus) isValid() bool {
	return s >= StatusIdle && s <= StatusError
}

// Terminal reports whether no further session operations are allowed.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned || s == StatusError
}

// String returns the lowercase name of the status.
func (s SessionStatus) String() string {
	if s.isValid() {
		return statusNames[s]
	}
	return fmt.Sprintf("SessionStatus(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s SessionStatus) MarshalText() ([]byte, error) {
	if !s.isValid() {
		return nil, fmt.Errorf("review: invalid session status: %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SessionStatus) UnmarshalText(text []byte) error {
	v, ok := statusByName[string(text)]
	if !ok {
		return fmt.Errorf("review: invalid session status: %q", text)
	}
	*s = v
	return nil
}

// MarshalJSON implements json.Marshaler. Status serializes as a string.
func (s SessionStatus) MarshalJSON() ([]byte, error) {
	text, err := s.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SessionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("review: invalid session status: %s", data)
	}
	return s.UnmarshalText([]byte(str))
}

// ItemState classifies an item's position in the learning lifecycle.
type ItemState int

const (
	StateNew ItemState = iota + 1
	StateLearning
	StateMastered
)

var (
	itemStateNames = [...]string{
		StateNew:      "new",
		StateLearning: "learning",
		StateMastered: "mastered",
	}
	itemStateByName = map[string]ItemState{
		"new":      StateNew,
		"learning": StateLearning,
		"mastered": StateMastered,
	}
)

var (
	_ fmt.Stringer             = ItemState(0)
	_ encoding.TextMarshaler   = ItemState(0)
	_ encoding.TextUnmarshaler = (*ItemState)(nil)
)

func (s ItemState) isValid() bool {
	return s >= StateNew && s <= StateMastered
}

// String returns the lowercase name of the state.
func (s ItemState) String() string {
	if s.isValid() {
		return itemStateNames[s]
	}
	return fmt.Sprintf("ItemState(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s ItemState) MarshalText() ([]byte, error) {
	if !s.isValid() {
		return nil, fmt.Errorf("review: invalid item state: %d", int(s))
	}
	return []byte(itemStateNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ItemState) UnmarshalText(text []byte) error {
	v, ok := itemStateByName[string(text)]
	if !ok {
		return fmt.Errorf("review: invalid item state: %q", text)
	}
	*s = v
	return nil
}
