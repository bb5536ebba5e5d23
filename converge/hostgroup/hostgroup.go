// Package hostgroup resolves named groups of nodes. A group lists members by
// name or pattern and may include other groups, also by name or pattern.
package hostgroup

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/steelcutops/converge/converge/host"
)

var (
	ErrUnknownGroup = errors.New("unknown group")
	ErrUnknownNode  = errors.New("unknown node")
	ErrGroupLoop    = errors.New("group loop")
)

var validGroupName = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// Group is a group as written in the repository.
type Group struct {
	Name             string
	Members          []string
	MemberPatterns   []string
	Subgroups        []string
	SubgroupPatterns []string
	Bundles          []string
}

// LoopError reports a group that ends up among its own subgroups. Chain
// runs from that group back to itself.
type LoopError struct {
	Group string
	Chain []string
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("group %s can't be a subgroup of itself (%s)", e.Group, strings.Join(e.Chain, " -> "))
}

func (e *LoopError) Is(target error) bool { return target == ErrGroupLoop }

type compiled struct {
	Group
	members   []*regexp.Regexp
	subgroups []*regexp.Regexp
}

// Set holds every group of a repository and the names of all nodes, which
// member patterns are matched against.
type Set struct {
	groups map[string]*compiled
	nodes  []string
}

// NewSet validates the groups and compiles their patterns. It does not
// resolve subgroups; loops surface from Members and Subgroups.
func NewSet(groups []Group, nodes []string) (*Set, error) {
	s := &Set{groups: make(map[string]*compiled, len(groups))}
	s.nodes = append(s.nodes, nodes...)
	sort.Strings(s.nodes)

	for _, g := range groups {
		if !validGroupName.MatchString(g.Name) {
			return nil, fmt.Errorf("%q is not a valid group name", g.Name)
		}
		if _, ok := s.groups[g.Name]; ok {
			return nil, fmt.Errorf("group %s defined twice", g.Name)
		}
		c := &compiled{Group: g}
		for _, p := range g.MemberPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("group %s: member pattern %q: %w", g.Name, p, err)
			}
			c.members = append(c.members, re)
		}
		for _, p := range g.SubgroupPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("group %s: subgroup pattern %q: %w", g.Name, p, err)
			}
			c.subgroups = append(c.subgroups, re)
		}
		s.groups[g.Name] = c
	}
	return s, nil
}

// Names returns all group names, sorted.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Set) Group(name string) (Group, bool) {
	c, ok := s.groups[name]
	if !ok {
		return Group{}, false
	}
	return c.Group, true
}

// Subgroups returns every group reachable from name through subgroups and
// subgroup patterns, sorted, without name itself.
func (s *Set) Subgroups(name string) ([]string, error) {
	g, ok := s.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, name)
	}
	found := make(map[string]bool)
	if err := s.walk(g, []string{name}, found); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(found))
	for n := range found {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Set) walk(g *compiled, visited []string, found map[string]bool) error {
	names := append([]string(nil), g.Subgroups...)
	for _, re := range g.subgroups {
		for _, other := range s.Names() {
			if other != g.Name && re.MatchString(other) {
				names = append(names, other)
			}
		}
	}

	for _, name := range names {
		if contains(visited, name) {
			return &LoopError{Group: name, Chain: loopChain(name, g.Name, visited)}
		}
		sub, ok := s.groups[name]
		if !ok {
			return fmt.Errorf("%w: group %s lists %s as a subgroup", ErrUnknownGroup, g.Name, name)
		}
		next := append(append([]string(nil), visited...), g.Name)
		if err := s.walk(sub, next, found); err != nil {
			return err
		}
	}
	if !contains(visited, g.Name) {
		found[g.Name] = true
	}
	return nil
}

// loopChain builds the path shown for a loop: the visited groups from the
// first visit of loop onwards, then last, then loop again.
func loopChain(loop, last string, visited []string) []string {
	var chain []string
	for _, v := range visited {
		if contains(chain, loop) != (v == loop) {
			chain = append(chain, v)
		}
	}
	return append(chain, last, loop)
}

// Members returns the nodes of a group: its static members, members
// matched by pattern and the members of all its subgroups. The result is
// sorted and has no duplicates.
func (s *Set) Members(name string) ([]string, error) {
	subgroups, err := s.Subgroups(name)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, gname := range append([]string{name}, subgroups...) {
		g := s.groups[gname]
		for _, m := range g.Members {
			if !contains(s.nodes, m) {
				return nil, fmt.Errorf("%w: group %s lists %s as a member", ErrUnknownNode, gname, m)
			}
			seen[m] = true
		}
		for _, re := range g.members {
			for _, node := range s.nodes {
				if re.MatchString(node) {
					seen[node] = true
				}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// GroupsOf returns, sorted, the groups that node is a member of.
func (s *Set) GroupsOf(node string) ([]string, error) {
	var out []string
	for _, name := range s.Names() {
		members, err := s.Members(name)
		if err != nil {
			return nil, err
		}
		if contains(members, node) {
			out = append(out, name)
		}
	}
	return out, nil
}

// Bundles returns the bundle names node gets from its groups, sorted.
func (s *Set) Bundles(node string) ([]string, error) {
	groups, err := s.GroupsOf(node)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, name := range groups {
		for _, b := range s.groups[name].Bundles {
			if !seen[b] {
				seen[b] = true
				out = append(out, b)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Check resolves every group once so that loops and dangling references are
// reported up front.
func (s *Set) Check() error {
	for _, name := range s.Names() {
		if _, err := s.Members(name); err != nil {
			return err
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// HostGroup is a set of hosts keyed by name, such as the selection a run
// operates on.
type HostGroup struct {
	sync.RWMutex
	Hosts map[string]*host.Host
}

// NewHostGroup creates a new HostGroup with the given hosts.
func NewHostGroup(hosts ...*host.Host) *HostGroup {
	hostMap := make(map[string]*host.Host)
	for _, h := range hosts {
		hostMap[h.Name] = h
	}
	return &HostGroup{Hosts: hostMap}
}

// AddHost adds a host to the HostGroup.
func (hg *HostGroup) AddHost(h *host.Host) {
	hg.Lock()
	defer hg.Unlock()
	hg.Hosts[h.Name] = h
}

// RemoveHost removes a host from the HostGroup by its name.
func (hg *HostGroup) RemoveHost(name string) {
	hg.Lock()
	defer hg.Unlock()
	delete(hg.Hosts, name)
}

// HasHost checks if a host with the given name exists in the HostGroup.
func (hg *HostGroup) HasHost(name string) bool {
	hg.RLock()
	defer hg.RUnlock()
	_, exists := hg.Hosts[name]
	return exists
}

// List returns the hosts sorted by name.
func (hg *HostGroup) List() []*host.Host {
	hg.RLock()
	defer hg.RUnlock()
	out := make([]*host.Host, 0, len(hg.Hosts))
	for _, h := range hg.Hosts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
