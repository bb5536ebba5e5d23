package item

import "fmt"

// State is the position of an item in its convergence state machine:
// pending -> probing -> {skipped | applying -> {fixed | failed}}.
type State int

const (
	Pending State = iota
	Probing
	Applying
	Skipped
	Fixed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Probing:
		return "probing"
	case Applying:
		return "applying"
	case Skipped:
		return "skipped"
	case Fixed:
		return "fixed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s == Skipped || s == Fixed || s == Failed
}

// Succeeded reports whether dependents may proceed.
func (s State) Succeeded() bool {
	return s == Skipped || s == Fixed
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for c := Pending; c <= Failed; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown item state %q", text)
}
