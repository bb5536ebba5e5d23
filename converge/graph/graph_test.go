package graph

import (
	"testing"

	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/converge/hostmanager"
	"github.com/steelcutops/converge/converge/item"
	"github.com/steelcutops/converge/converge/item/itemtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func id(s string) item.ID {
	parsed, err := item.ParseID(s)
	if err != nil {
		panic(err)
	}
	return parsed
}

func needs(targets ...string) item.Attributes {
	list := make([]interface{}, len(targets))
	for i, t := range targets {
		list[i] = t
	}
	return item.Attributes{"needs": list}
}

func TestBuildOrder(t *testing.T) {
	reg := itemtest.Registry()
	items := []item.Item{
		itemtest.MustNew(reg, "pkg:c", needs("pkg:b")),
		itemtest.MustNew(reg, "pkg:b", needs("pkg:a")),
		itemtest.MustNew(reg, "pkg:a", nil),
		itemtest.MustNew(reg, "pkg:z", nil),
		itemtest.MustNew(reg, "pkg_dnf:x", nil),
	}

	g, err := Build(items)
	require.NoError(t, err)
	assert.Equal(t, []item.ID{id("pkg:a"), id("pkg:b"), id("pkg:c"), id("pkg:z"), id("pkg_dnf:x")}, g.Order())
	assert.Equal(t, []item.ID{id("pkg:a")}, g.Dependencies(id("pkg:b")))
	assert.Equal(t, []item.ID{id("pkg:c")}, g.Dependents(id("pkg:b")))
	assert.Equal(t, 5, g.Len())
	assert.Equal(t, []string{"pkg", "pkg_dnf"}, g.Types())

	first := g.Items()[0]
	assert.Equal(t, id("pkg:a"), first.ID())
}

func TestBuildIsDeterministic(t *testing.T) {
	reg := itemtest.Registry()
	var want []item.ID
	for i := 0; i < 20; i++ {
		g, err := Build([]item.Item{
			itemtest.MustNew(reg, "pkg:m", nil),
			itemtest.MustNew(reg, "pkg:d", needs("pkg:m")),
			itemtest.MustNew(reg, "pkg:b", nil),
			itemtest.MustNew(reg, "pkg:k", nil),
			itemtest.MustNew(reg, "pkg:a", needs("pkg:k")),
		})
		require.NoError(t, err)
		if want == nil {
			want = g.Order()
			continue
		}
		assert.Equal(t, want, g.Order())
	}
	assert.Equal(t, []item.ID{id("pkg:b"), id("pkg:k"), id("pkg:a"), id("pkg:m"), id("pkg:d")}, want)
}

func TestBuildNeededByAndWildcards(t *testing.T) {
	reg := itemtest.Registry()
	g, err := Build([]item.Item{
		itemtest.MustNew(reg, "pkg:repo", item.Attributes{"needed_by": []interface{}{"pkg_dnf:"}}),
		itemtest.MustNew(reg, "pkg_dnf:git", nil),
		itemtest.MustNew(reg, "pkg_dnf:vim", nil),
		itemtest.MustNew(reg, "pkg:after", needs("pkg_dnf:", "pkg_yum:")),
	})
	require.NoError(t, err)

	assert.Equal(t, []item.ID{id("pkg_dnf:git"), id("pkg_dnf:vim")}, g.Dependents(id("pkg:repo")))
	assert.Equal(t, []item.ID{id("pkg_dnf:git"), id("pkg_dnf:vim")}, g.Dependencies(id("pkg:after")))
	assert.Equal(t, id("pkg:repo"), g.Order()[0])
	assert.Equal(t, id("pkg:after"), g.Order()[3])
}

func TestWildcardSkipsSelf(t *testing.T) {
	reg := itemtest.Registry()
	g, err := Build([]item.Item{
		itemtest.MustNew(reg, "pkg:a", needs("pkg:")),
		itemtest.MustNew(reg, "pkg:b", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, []item.ID{id("pkg:b")}, g.Dependencies(id("pkg:a")))
}

func TestBuildErrors(t *testing.T) {
	reg := itemtest.Registry()

	_, err := Build([]item.Item{itemtest.MustNew(reg, "pkg:a", nil), itemtest.MustNew(reg, "pkg:a", nil)})
	assert.ErrorIs(t, err, errdefs.ErrDuplicateItem)

	_, err = Build([]item.Item{itemtest.MustNew(reg, "pkg:a", needs("pkg:missing"))})
	assert.ErrorIs(t, err, errdefs.ErrUnknownDependency)

	_, err = Build([]item.Item{itemtest.MustNew(reg, "pkg:a", item.Attributes{"needed_by": "pkg:missing"})})
	assert.ErrorIs(t, err, errdefs.ErrUnknownDependency)
}

func TestBuildCycle(t *testing.T) {
	reg := itemtest.Registry()
	_, err := Build([]item.Item{
		itemtest.MustNew(reg, "pkg:root", nil),
		itemtest.MustNew(reg, "pkg:a", needs("pkg:b", "pkg:root")),
		itemtest.MustNew(reg, "pkg:b", needs("pkg:c")),
		itemtest.MustNew(reg, "pkg:c", needs("pkg:a")),
		itemtest.MustNew(reg, "pkg:d", needs("pkg:c")),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrDependencyCycle)

	var cycleErr *errdefs.DependencyCycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"pkg:a", "pkg:b", "pkg:c", "pkg:a"}, cycleErr.Cycle)
	assert.Equal(t, "dependency cycle: pkg:a -> pkg:b -> pkg:c -> pkg:a", err.Error())
}

func TestBuildSelfCycle(t *testing.T) {
	reg := itemtest.Registry()
	_, err := Build([]item.Item{itemtest.MustNew(reg, "pkg:a", needs("pkg:a"))})

	var cycleErr *errdefs.DependencyCycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"pkg:a", "pkg:a"}, cycleErr.Cycle)
}

func TestExclusions(t *testing.T) {
	reg := itemtest.Registry()
	g, err := Build([]item.Item{
		itemtest.MustNew(reg, "pkg_dnf:x", nil),
		itemtest.MustNew(reg, "pkg_yum:y", nil),
		itemtest.MustNew(reg, "pkg:z", nil),
	})
	require.NoError(t, err)

	ex := g.Exclusions(reg, hostmanager.Facts{OS: hostmanager.LinuxFedora})
	assert.True(t, ex.Conflicts("pkg_dnf", "pkg_yum"))
	assert.True(t, ex.Conflicts("pkg_yum", "pkg_dnf"))
	assert.True(t, ex.Conflicts("pkg_dnf", "pkg_dnf"))
	assert.False(t, ex.Conflicts("pkg", "pkg_dnf"))
	assert.False(t, ex.Conflicts("pkg", "pkg"))
	assert.Equal(t, [][]string{{"pkg_dnf", "pkg_yum"}}, ex.Groups())
}

func TestExclusionsAreSymmetric(t *testing.T) {
	reg := item.NewRegistry()
	reg.MustRegister(
		itemtest.PackageType("a", "b"),
		itemtest.PackageType("b"),
		itemtest.PackageType("c"),
	)
	g, err := Build([]item.Item{
		itemtest.MustNew(reg, "a:1", nil),
		itemtest.MustNew(reg, "b:1", nil),
		itemtest.MustNew(reg, "c:1", nil),
	})
	require.NoError(t, err)

	ex := g.Exclusions(reg, hostmanager.Facts{})
	assert.True(t, ex.Conflicts("b", "a"))
	assert.False(t, ex.Conflicts("a", "a"))
	assert.Equal(t, [][]string{{"a", "b"}}, ex.Groups())
}

func TestExclusionsIgnoreAbsentTypes(t *testing.T) {
	reg := itemtest.Registry()
	g, err := Build([]item.Item{itemtest.MustNew(reg, "pkg_yum:y", nil)})
	require.NoError(t, err)

	ex := g.Exclusions(reg, hostmanager.Facts{})
	assert.False(t, ex.Conflicts("pkg_yum", "pkg_dnf"))
	assert.True(t, ex.Conflicts("pkg_yum", "pkg_yum"))
}
