package hostgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steelcutops/converge/converge/host"
)

var nodes = []string{"db1", "db2", "web1", "web2", "lb1"}

func TestMembers(t *testing.T) {
	s, err := NewSet([]Group{
		{Name: "web", MemberPatterns: []string{"^web"}, Bundles: []string{"nginx"}},
		{Name: "db", Members: []string{"db1", "db2"}, Bundles: []string{"postgres"}},
		{Name: "backend", Subgroups: []string{"db"}, Members: []string{"lb1"}},
		{Name: "all", SubgroupPatterns: []string{".*"}, Bundles: []string{"base"}},
	}, nodes)
	require.NoError(t, err)

	members, err := s.Members("web")
	require.NoError(t, err)
	assert.Equal(t, []string{"web1", "web2"}, members)

	members, err = s.Members("backend")
	require.NoError(t, err)
	assert.Equal(t, []string{"db1", "db2", "lb1"}, members)

	members, err = s.Members("all")
	require.NoError(t, err)
	assert.Equal(t, []string{"db1", "db2", "lb1", "web1", "web2"}, members)

	subgroups, err := s.Subgroups("all")
	require.NoError(t, err)
	assert.Equal(t, []string{"backend", "db", "web"}, subgroups)

	groups, err := s.GroupsOf("db1")
	require.NoError(t, err)
	assert.Equal(t, []string{"all", "backend", "db"}, groups)

	bundles, err := s.Bundles("db1")
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "postgres"}, bundles)

	require.NoError(t, s.Check())
}

func TestSubgroupLoop(t *testing.T) {
	s, err := NewSet([]Group{
		{Name: "a", Subgroups: []string{"b"}},
		{Name: "b", Subgroups: []string{"c"}},
		{Name: "c", Subgroups: []string{"a"}},
	}, nodes)
	require.NoError(t, err)

	_, err = s.Members("a")
	require.ErrorIs(t, err, ErrGroupLoop)
	var loop *LoopError
	require.ErrorAs(t, err, &loop)
	assert.Equal(t, "a", loop.Group)
	assert.Equal(t, []string{"a", "b", "c", "a"}, loop.Chain)
	assert.EqualError(t, err, "group a can't be a subgroup of itself (a -> b -> c -> a)")

	assert.ErrorIs(t, s.Check(), ErrGroupLoop)
}

func TestLoopThroughPattern(t *testing.T) {
	s, err := NewSet([]Group{
		{Name: "x", SubgroupPatterns: []string{"^y$"}},
		{Name: "y", Subgroups: []string{"x"}},
	}, nodes)
	require.NoError(t, err)

	_, err = s.Subgroups("y")
	var loop *LoopError
	require.ErrorAs(t, err, &loop)
	assert.Equal(t, []string{"y", "x", "y"}, loop.Chain)
}

func TestDanglingReferences(t *testing.T) {
	s, err := NewSet([]Group{
		{Name: "a", Subgroups: []string{"missing"}},
		{Name: "b", Members: []string{"ghost"}},
	}, nodes)
	require.NoError(t, err)

	_, err = s.Members("a")
	assert.ErrorIs(t, err, ErrUnknownGroup)
	_, err = s.Members("b")
	assert.ErrorIs(t, err, ErrUnknownNode)
	_, err = s.Members("nope")
	assert.ErrorIs(t, err, ErrUnknownGroup)
}

func TestNewSetRejects(t *testing.T) {
	tests := []struct {
		name   string
		groups []Group
	}{
		{"bad name", []Group{{Name: "has space"}}},
		{"duplicate", []Group{{Name: "a"}, {Name: "a"}}},
		{"bad member pattern", []Group{{Name: "a", MemberPatterns: []string{"("}}}},
		{"bad subgroup pattern", []Group{{Name: "a", SubgroupPatterns: []string{"["}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSet(tt.groups, nodes)
			assert.Error(t, err)
		})
	}
}

func TestHostGroup(t *testing.T) {
	web2, err := host.NewHost("web2")
	require.NoError(t, err)
	web1, err := host.NewHost("web1", host.WithHostname("10.0.0.1"))
	require.NoError(t, err)

	hg := NewHostGroup(web2)
	hg.AddHost(web1)
	assert.True(t, hg.HasHost("web1"))
	assert.False(t, hg.HasHost("10.0.0.1"))

	list := hg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "web1", list[0].Name)

	hg.RemoveHost("web2")
	assert.False(t, hg.HasHost("web2"))
}
