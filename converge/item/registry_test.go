package item_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/converge/hostmanager"
	"github.com/steelcutops/converge/converge/item"
	"github.com/steelcutops/converge/converge/item/itemtest"
)

func TestParseID(t *testing.T) {
	id, err := item.ParseID("file:/etc/hosts")
	require.NoError(t, err)
	assert.Equal(t, item.ID{Type: "file", Name: "/etc/hosts"}, id)

	id, err = item.ParseID("pkg_apt:")
	require.NoError(t, err)
	assert.True(t, id.Wildcard())

	id, err = item.ParseID("symlink:c:/weird:name")
	require.NoError(t, err)
	assert.Equal(t, "c:/weird:name", id.Name)

	_, err = item.ParseID("git")
	assert.ErrorIs(t, err, errdefs.ErrInvalidItem)
	_, err = item.ParseID(":git")
	assert.ErrorIs(t, err, errdefs.ErrInvalidItem)
}

func TestLess(t *testing.T) {
	assert.True(t, item.Less(item.ID{Type: "a", Name: "z"}, item.ID{Type: "b", Name: "a"}))
	assert.True(t, item.Less(item.ID{Type: "a", Name: "a"}, item.ID{Type: "a", Name: "b"}))
	assert.False(t, item.Less(item.ID{Type: "a", Name: "a"}, item.ID{Type: "a", Name: "a"}))
}

func TestRegistryNew(t *testing.T) {
	reg := itemtest.Registry()

	it, err := reg.New(item.ID{Type: "pkg", Name: "git"}, item.Attributes{
		"needs":     []interface{}{"pkg:curl", "pkg_dnf:"},
		"needed_by": "pkg:tig",
	})
	require.NoError(t, err)
	assert.Equal(t, []item.ID{{Type: "pkg", Name: "curl"}, {Type: "pkg_dnf"}}, it.Needs())
	assert.Equal(t, []item.ID{{Type: "pkg", Name: "tig"}}, it.NeededBy())
	assert.Equal(t, true, it.Attributes()["installed"])
	_, hasNeeds := it.Attributes()["needs"]
	assert.False(t, hasNeeds)
}

func TestRegistryNewRejects(t *testing.T) {
	reg := itemtest.Registry()

	tests := []struct {
		name  string
		id    item.ID
		attrs item.Attributes
	}{
		{"unknown type", item.ID{Type: "nope", Name: "x"}, nil},
		{"empty name", item.ID{Type: "pkg", Name: ""}, nil},
		{"padded name", item.ID{Type: "pkg", Name: " git"}, nil},
		{"unknown attribute", item.ID{Type: "pkg", Name: "git"}, item.Attributes{"colour": "red"}},
		{"bad bool", item.ID{Type: "pkg", Name: "git"}, item.Attributes{"installed": "maybe"}},
		{"bad needs", item.ID{Type: "pkg", Name: "git"}, item.Attributes{"needs": "curl"}},
		{"needs not a list", item.ID{Type: "pkg", Name: "git"}, item.Attributes{"needs": 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.New(tt.id, tt.attrs)
			assert.ErrorIs(t, err, errdefs.ErrInvalidItem)
		})
	}
}

func TestRegistryRequired(t *testing.T) {
	reg := item.NewRegistry()
	reg.MustRegister(item.Type{
		Name:       "symlink",
		Attributes: map[string]interface{}{"target": nil},
		Required:   []string{"target"},
		New: func(base item.Base) (item.Item, error) {
			return &itemtest.Package{Base: base}, nil
		},
	})

	_, err := reg.New(item.ID{Type: "symlink", Name: "/x"}, nil)
	assert.ErrorIs(t, err, errdefs.ErrInvalidItem)
	assert.Contains(t, err.Error(), "target")

	it, err := reg.New(item.ID{Type: "symlink", Name: "/x"}, item.Attributes{"target": "/y"})
	require.NoError(t, err)
	assert.Equal(t, "/y", it.Attributes()["target"])
}

func TestRegistryRegister(t *testing.T) {
	reg := itemtest.Registry()
	assert.Equal(t, []string{"pkg", "pkg_dnf", "pkg_yum"}, reg.Names())
	assert.Error(t, reg.Register(itemtest.PackageType("pkg")))
	assert.Error(t, reg.Register(item.Type{Name: "empty"}))
	assert.Panics(t, func() { reg.MustRegister(itemtest.PackageType("pkg_dnf")) })

	facts := hostmanager.Facts{OS: hostmanager.LinuxFedora}
	assert.Equal(t, []string{"pkg_dnf", "pkg_yum"}, reg.BlockConcurrent("pkg_yum", facts))
	assert.Empty(t, reg.BlockConcurrent("pkg", facts))
	assert.Empty(t, reg.BlockConcurrent("missing", facts))
}

func TestAttributes(t *testing.T) {
	attrs := item.Attributes{
		"s":     "x",
		"n":     3,
		"f":     float64(7),
		"ns":    "12",
		"b":     "true",
		"list":  []interface{}{"a", "b"},
		"mixed": []interface{}{"a", 1},
	}

	s, err := attrs.String("n")
	require.NoError(t, err)
	assert.Equal(t, "3", s)
	s, err = attrs.String("missing")
	require.NoError(t, err)
	assert.Empty(t, s)

	n, err := attrs.Int("f")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	n, err = attrs.Int("ns")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	n, err = attrs.Int("missing")
	require.NoError(t, err)
	assert.Equal(t, -1, n)
	_, err = attrs.Int("s")
	assert.Error(t, err)

	b, err := attrs.Bool("b", false)
	require.NoError(t, err)
	assert.True(t, b)
	b, err = attrs.Bool("missing", true)
	require.NoError(t, err)
	assert.True(t, b)

	list, err := attrs.StringList("list")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, list)
	list, err = attrs.StringList("s")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, list)
	_, err = attrs.StringList("mixed")
	assert.Error(t, err)
}

func TestStateText(t *testing.T) {
	for s := item.Pending; s <= item.Failed; s++ {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back item.State
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	var s item.State
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
	assert.True(t, item.Skipped.Succeeded())
	assert.False(t, item.Failed.Succeeded())
	assert.False(t, item.Applying.Terminal())
}
