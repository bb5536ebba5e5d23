package engine

import (
	"sync"
	"time"

	"github.com/steelcutops/converge/converge/item"
)

// Observer is told about every state transition as it happens. It is called
// from many goroutines.
type Observer interface {
	Transition(node string, id item.ID, state item.State, at time.Time)
}

type ObserverFunc func(node string, id item.ID, state item.State, at time.Time)

func (f ObserverFunc) Transition(node string, id item.ID, state item.State, at time.Time) {
	f(node, id, state, at)
}

// Event is one recorded transition.
type Event struct {
	Node  string
	ID    item.ID
	State item.State
	At    time.Time
}

// Trace records transitions in arrival order.
type Trace struct {
	mu     sync.Mutex
	events []Event
}

func (t *Trace) Transition(node string, id item.ID, state item.State, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, Event{Node: node, ID: id, State: state, At: at})
}

func (t *Trace) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.events...)
}

// States returns the states id went through on node.
func (t *Trace) States(node string, id item.ID) []item.State {
	var states []item.State
	for _, e := range t.Events() {
		if e.Node == node && e.ID == id {
			states = append(states, e.State)
		}
	}
	return states
}

// Interval is the span during which an item was probing or applying.
type Interval struct {
	ID         item.ID
	Start, End time.Time
}

// Busy returns, per item of node, the interval from entering probing to
// reaching a terminal state.
func (t *Trace) Busy(node string) []Interval {
	start := make(map[item.ID]time.Time)
	var out []Interval
	for _, e := range t.Events() {
		if e.Node != node {
			continue
		}
		switch {
		case e.State == item.Probing:
			start[e.ID] = e.At
		case e.State.Terminal():
			if s, ok := start[e.ID]; ok {
				out = append(out, Interval{ID: e.ID, Start: s, End: e.At})
			}
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) Transition(node string, id item.ID, state item.State, at time.Time) {
	for _, o := range m {
		o.Transition(node, id, state, at)
	}
}

// Observers combines several observers into one.
func Observers(observers ...Observer) Observer {
	var out multiObserver
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}
