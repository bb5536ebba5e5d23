package item

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/converge/hostmanager"
)

// Reserved attribute names consumed by the registry, never by item types.
const (
	AttrNeeds    = "needs"
	AttrNeededBy = "needed_by"
)

// Type describes an item type: how to build its items and which other types
// must never run alongside it on the same node.
type Type struct {
	Name string
	// Attributes lists every accepted attribute with its default. A nil
	// default leaves the attribute unset.
	Attributes map[string]interface{}
	Required   []string
	New        func(base Base) (Item, error)
	// BlockConcurrent returns the type names that must not be probed or
	// applied at the same time as this type on a node with the given OS.
	BlockConcurrent func(os hostmanager.OSType, version string) []string
}

// Blocks returns a static BlockConcurrent function.
func Blocks(types ...string) func(hostmanager.OSType, string) []string {
	return func(hostmanager.OSType, string) []string {
		return types
	}
}

type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Type)}
}

func (r *Registry) Register(t Type) error {
	if t.Name == "" || t.New == nil {
		return fmt.Errorf("item type needs a name and a constructor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[t.Name]; ok {
		return fmt.Errorf("item type %s already registered", t.Name)
	}
	r.types[t.Name] = t
	return nil
}

func (r *Registry) MustRegister(types ...Type) {
	for _, t := range types {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Lookup(name string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BlockConcurrent resolves the exclusion set of a type for the given facts.
func (r *Registry) BlockConcurrent(typeName string, facts hostmanager.Facts) []string {
	t, ok := r.Lookup(typeName)
	if !ok || t.BlockConcurrent == nil {
		return nil
	}
	return t.BlockConcurrent(facts.OS, facts.OSVersion)
}

// New validates attrs against the type of id and builds the item.
func (r *Registry) New(id ID, attrs Attributes) (Item, error) {
	t, ok := r.Lookup(id.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s: unknown item type %q", errdefs.ErrInvalidItem, id, id.Type)
	}
	if err := validateName(id); err != nil {
		return nil, err
	}

	resolved := make(Attributes, len(t.Attributes))
	for key, def := range t.Attributes {
		if def != nil {
			resolved[key] = def
		}
	}

	var needs, neededBy []ID
	var unknown []string
	for key, value := range attrs {
		switch key {
		case AttrNeeds, AttrNeededBy:
			ids, err := parseIDs(id, key, value)
			if err != nil {
				return nil, err
			}
			if key == AttrNeeds {
				needs = ids
			} else {
				neededBy = ids
			}
			continue
		}
		if _, ok := t.Attributes[key]; !ok {
			unknown = append(unknown, key)
			continue
		}
		resolved[key] = value
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s: unknown attributes %s", errdefs.ErrInvalidItem, id, strings.Join(unknown, ", "))
	}
	for _, key := range t.Required {
		if _, ok := resolved[key]; !ok {
			return nil, fmt.Errorf("%w: %s: missing required attribute %s", errdefs.ErrInvalidItem, id, key)
		}
	}

	it, err := t.New(NewBase(id, resolved, needs, neededBy))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errdefs.ErrInvalidItem, id, err)
	}
	return it, nil
}

func validateName(id ID) error {
	if id.Name == "" {
		return fmt.Errorf("%w: %s: empty item name", errdefs.ErrInvalidItem, id)
	}
	if strings.TrimSpace(id.Name) != id.Name {
		return fmt.Errorf("%w: %q: item name has surrounding whitespace", errdefs.ErrInvalidItem, id.String())
	}
	return nil
}

func parseIDs(owner ID, key string, value interface{}) ([]ID, error) {
	raw, err := Attributes{key: value}.StringList(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errdefs.ErrInvalidItem, owner, err)
	}
	ids := make([]ID, 0, len(raw))
	for _, s := range raw {
		id, err := ParseID(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", owner, key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
