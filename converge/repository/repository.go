// Package repository loads the declared state of every node: a YAML file
// with nodes, groups and bundles of items, optionally merged with an INI
// inventory of hosts per group.
package repository

import (
	"fmt"
	"os"
	"sort"

	multierror "github.com/hashicorp/go-multierror"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/converge/host"
	"github.com/steelcutops/converge/converge/hostgroup"
	"github.com/steelcutops/converge/converge/hostmanager"
	"github.com/steelcutops/converge/converge/item"
)

// Items maps item type to item name to attributes.
type Items map[string]map[string]item.Attributes

type NodeConfig struct {
	Hostname  string   `yaml:"hostname"`
	Port      int      `yaml:"port"`
	User      string   `yaml:"user"`
	OS        string   `yaml:"os"`
	OSVersion string   `yaml:"os_version"`
	Bundles   []string `yaml:"bundles"`
	Items     Items    `yaml:"items"`
}

type GroupConfig struct {
	Members          []string `yaml:"members"`
	MemberPatterns   []string `yaml:"member_patterns"`
	Subgroups        []string `yaml:"subgroups"`
	SubgroupPatterns []string `yaml:"subgroup_patterns"`
	Bundles          []string `yaml:"bundles"`
}

type BundleConfig struct {
	Items Items `yaml:"items"`
}

// Config is the repository file as written.
type Config struct {
	Nodes   map[string]NodeConfig   `yaml:"nodes"`
	Groups  map[string]GroupConfig  `yaml:"groups"`
	Bundles map[string]BundleConfig `yaml:"bundles"`
}

// Node is a resolved node: where to reach it and what it must look like.
type Node struct {
	Name      string
	Hostname  string
	Port      int
	User      string
	OS        hostmanager.OSType
	OSVersion string
	// Bundles lists the bundles the node gets, directly or through groups.
	Bundles []string
	Groups  []string
	Items   []item.Item
}

// Host returns the host descriptor for n. Options are applied first, so
// the node's own settings win over them.
func (n *Node) Host(options ...host.HostOption) (*host.Host, error) {
	options = append([]host.HostOption(nil), options...)
	if n.Hostname != "" {
		options = append(options, host.WithHostname(n.Hostname))
	}
	if n.Port != 0 {
		options = append(options, host.WithPort(n.Port))
	}
	if n.User != "" {
		options = append(options, host.WithUser(n.User))
	}
	if n.OS != "" {
		options = append(options, host.WithOS(n.OS, n.OSVersion))
	}
	return host.NewHost(n.Name, options...)
}

type Repository struct {
	nodes  map[string]*Node
	groups *hostgroup.Set
}

// ReadInventory reads an INI file whose sections are groups and whose
// values are host names.
func ReadInventory(filePath string) (map[string][]string, error) {
	cfg, err := ini.Load(filePath)
	if err != nil {
		return nil, err
	}

	hosts := make(map[string][]string)

	for _, section := range cfg.Sections() {
		name := section.Name()
		for _, key := range section.Keys() {
			hosts[name] = append(hosts[name], key.String())
		}
	}

	return hosts, nil
}

// Load reads the repository file at path and merges the given inventory
// files into it.
func Load(reg *item.Registry, path string, inventories ...string) (*Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read repository: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse repository %s: %w", path, err)
	}
	for _, inv := range inventories {
		hosts, err := ReadInventory(inv)
		if err != nil {
			return nil, fmt.Errorf("failed to read inventory %s: %w", inv, err)
		}
		cfg.AddInventory(hosts)
	}
	return cfg.Build(reg)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AddInventory adds every inventory host as a node, unless one of that name
// exists, and as a member of its group. Hosts in the default section join
// no group.
func (c *Config) AddInventory(hosts map[string][]string) {
	if c.Nodes == nil {
		c.Nodes = make(map[string]NodeConfig)
	}
	if c.Groups == nil {
		c.Groups = make(map[string]GroupConfig)
	}
	for group, names := range hosts {
		for _, name := range names {
			if _, ok := c.Nodes[name]; !ok {
				c.Nodes[name] = NodeConfig{}
			}
		}
		if group == ini.DefaultSection {
			continue
		}
		g := c.Groups[group]
		g.Members = append(g.Members, names...)
		c.Groups[group] = g
	}
}

// Build validates the configuration and resolves every node's items. All
// problems found are returned together.
func (c *Config) Build(reg *item.Registry) (*Repository, error) {
	names := make([]string, 0, len(c.Nodes))
	for name := range c.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	groupNames := make([]string, 0, len(c.Groups))
	for name := range c.Groups {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)
	groups := make([]hostgroup.Group, 0, len(groupNames))
	for _, name := range groupNames {
		g := c.Groups[name]
		groups = append(groups, hostgroup.Group{
			Name:             name,
			Members:          g.Members,
			MemberPatterns:   g.MemberPatterns,
			Subgroups:        g.Subgroups,
			SubgroupPatterns: g.SubgroupPatterns,
			Bundles:          g.Bundles,
		})
	}
	set, err := hostgroup.NewSet(groups, names)
	if err != nil {
		return nil, err
	}
	if err := set.Check(); err != nil {
		return nil, err
	}

	repo := &Repository{nodes: make(map[string]*Node, len(names)), groups: set}
	var result *multierror.Error
	for _, name := range names {
		node, err := c.node(reg, set, name)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("node %s: %w", name, err))
			continue
		}
		repo.nodes[name] = node
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (c *Config) node(reg *item.Registry, set *hostgroup.Set, name string) (*Node, error) {
	nc := c.Nodes[name]
	node := &Node{
		Name:      name,
		Hostname:  nc.Hostname,
		Port:      nc.Port,
		User:      nc.User,
		OSVersion: nc.OSVersion,
	}
	if nc.OS != "" {
		osType, ok := hostmanager.ParseOSType(nc.OS)
		if !ok {
			return nil, fmt.Errorf("unknown os %q", nc.OS)
		}
		node.OS = osType
	}
	if _, err := node.Host(); err != nil {
		return nil, err
	}

	groups, err := set.GroupsOf(name)
	if err != nil {
		return nil, err
	}
	node.Groups = groups
	fromGroups, err := set.Bundles(name)
	if err != nil {
		return nil, err
	}
	node.Bundles = union(nc.Bundles, fromGroups)

	// origin records where each item was declared, to name both places
	// when one is declared twice.
	origin := make(map[item.ID]string)
	var result *multierror.Error
	add := func(source string, items Items) {
		built, err := buildItems(reg, items)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", source, err))
		}
		for _, it := range built {
			if prev, dup := origin[it.ID()]; dup {
				result = multierror.Append(result, fmt.Errorf("%w: %s in %s and %s", errdefs.ErrDuplicateItem, it.ID(), prev, source))
				continue
			}
			origin[it.ID()] = source
			node.Items = append(node.Items, it)
		}
	}

	for _, b := range node.Bundles {
		bundle, ok := c.Bundles[b]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("unknown bundle %s", b))
			continue
		}
		add("bundle "+b, bundle.Items)
	}
	add("node items", nc.Items)

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	sort.Slice(node.Items, func(i, j int) bool { return item.Less(node.Items[i].ID(), node.Items[j].ID()) })
	return node, nil
}

func buildItems(reg *item.Registry, items Items) ([]item.Item, error) {
	var ids []item.ID
	for typ, byName := range items {
		for name := range byName {
			ids = append(ids, item.ID{Type: typ, Name: name})
		}
	}
	sort.Slice(ids, func(i, j int) bool { return item.Less(ids[i], ids[j]) })

	var out []item.Item
	var result *multierror.Error
	for _, id := range ids {
		it, err := reg.New(id, items[id.Type][id.Name])
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		out = append(out, it)
	}
	return out, result.ErrorOrNil()
}

func union(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Nodes returns all nodes sorted by name.
func (r *Repository) Nodes() []*Node {
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Repository) Node(name string) (*Node, bool) {
	n, ok := r.nodes[name]
	return n, ok
}

func (r *Repository) Groups() *hostgroup.Set { return r.groups }

// Select resolves targets, each a node or a group name, to nodes sorted by
// name. No targets selects every node.
func (r *Repository) Select(targets ...string) ([]*Node, error) {
	if len(targets) == 0 {
		return r.Nodes(), nil
	}
	seen := make(map[string]bool)
	for _, target := range targets {
		if _, ok := r.nodes[target]; ok {
			seen[target] = true
			continue
		}
		if _, ok := r.groups.Group(target); !ok {
			return nil, fmt.Errorf("no node or group named %s", target)
		}
		members, err := r.groups.Members(target)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			seen[m] = true
		}
	}

	out := make([]*Node, 0, len(seen))
	for name := range seen {
		out = append(out, r.nodes[name])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
