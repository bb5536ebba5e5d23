package statemanager

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("state not found")

// State is the recorded outcome of one run for one resource, normally a
// node.
type State struct {
	ID          string                 `json:"id"`          // run that produced the state
	ResourceID  string                 `json:"resource_id"` // node name
	Version     int                    `json:"version"`     // incremented each time this state is updated
	Timestamp   time.Time              `json:"timestamp"`
	Verdict     string                 `json:"verdict"`
	Data        map[string]interface{} `json:"data"`
	ChangedBy   string                 `json:"changed_by"`
	Description string                 `json:"description"`
}

// StateManager stores the states produced by runs.
type StateManager interface {
	// Save stores the state and returns the ID it was stored under.
	Save(ctx context.Context, state State) (string, error)

	// Get retrieves the state for a given resource ID and version.
	// If version is omitted, it retrieves the latest state.
	Get(ctx context.Context, resourceID string, version ...int) (State, error)

	// List returns the latest state of every resource.
	List(ctx context.Context) ([]State, error)

	// History returns every stored state of a resource, oldest first.
	History(ctx context.Context, resourceID string) ([]State, error)

	Delete(ctx context.Context, resourceID string) error
	Exists(ctx context.Context, resourceID string) (bool, error)
}
