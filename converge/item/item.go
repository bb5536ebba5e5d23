// Package item defines the unit of desired state managed on a node and the
// registry that turns configuration into items.
package item

import (
	"context"
	"fmt"
	"strings"

	"github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/converge/hostmanager"
)

// ID identifies an item on a node as "type:name". An empty Name is only
// valid in dependency declarations, where it selects every item of Type.
type ID struct {
	Type string
	Name string
}

func (id ID) String() string { return id.Type + ":" + id.Name }

// Wildcard reports whether id selects all items of its type.
func (id ID) Wildcard() bool { return id.Name == "" }

// Less orders identifiers by type name, then item name.
func Less(a, b ID) bool {
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.Name < b.Name
}

// ParseID parses "type:name". The name may itself contain colons.
func ParseID(s string) (ID, error) {
	typ, name, ok := strings.Cut(s, ":")
	if !ok || typ == "" {
		return ID{}, fmt.Errorf("%w: %q is not of the form type:name", errdefs.ErrInvalidItem, s)
	}
	return ID{Type: typ, Name: name}, nil
}

// Runner is what an item may do to its node: run commands and read facts.
// It is implemented by host.Session.
type Runner interface {
	Name() string
	// Run executes a command that must exit zero.
	Run(ctx context.Context, config commandmanager.CommandConfig) (commandmanager.CommandResult, error)
	// Check executes a command whose exit status is data.
	Check(ctx context.Context, config commandmanager.CommandConfig) (commandmanager.CommandResult, error)
	Facts(ctx context.Context) (hostmanager.Facts, error)
}

// Item is one unit of desired state.
//
// Probe must not change the node. Apply must be safe to call when the node
// is already in the desired state.
type Item interface {
	ID() ID
	Attributes() Attributes
	Needs() []ID
	NeededBy() []ID
	Probe(ctx context.Context, r Runner) (bool, error)
	Apply(ctx context.Context, r Runner) error
}

// Enumerator is implemented by item types that can list what exists on a
// node, managed or not.
type Enumerator interface {
	Existing(ctx context.Context, r Runner) ([]ID, error)
}

// AutoDepender is implemented by items that derive dependencies from the
// other items on the same node.
type AutoDepender interface {
	AutoDeps(items []Item) ([]ID, error)
}

// Base carries what every item has in common. Item types embed it.
type Base struct {
	id       ID
	attrs    Attributes
	needs    []ID
	neededBy []ID
}

func NewBase(id ID, attrs Attributes, needs, neededBy []ID) Base {
	return Base{id: id, attrs: attrs, needs: needs, neededBy: neededBy}
}

func (b Base) ID() ID                 { return b.id }
func (b Base) Attributes() Attributes { return b.attrs }
func (b Base) Needs() []ID            { return b.needs }
func (b Base) NeededBy() []ID         { return b.neededBy }
func (b Base) String() string         { return b.id.String() }
