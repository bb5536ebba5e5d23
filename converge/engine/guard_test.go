package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steelcutops/converge/converge/graph"
	"github.com/steelcutops/converge/converge/hostmanager"
	"github.com/steelcutops/converge/converge/item"
	"github.com/steelcutops/converge/converge/item/itemtest"
)

func testGuard(t *testing.T) *guard {
	reg := itemtest.Registry()
	g, err := graph.Build([]item.Item{
		itemtest.MustNew(reg, "pkg_dnf:x", nil),
		itemtest.MustNew(reg, "pkg_yum:y", nil),
		itemtest.MustNew(reg, "pkg:z", nil),
	})
	require.NoError(t, err)
	return newGuard(g.Exclusions(reg, hostmanager.Facts{}))
}

func TestGuardAdmitsUnrelatedTypes(t *testing.T) {
	g := testGuard(t)
	ctx := context.Background()
	require.NoError(t, g.acquire(ctx, "pkg"))
	require.NoError(t, g.acquire(ctx, "pkg"))
	require.NoError(t, g.acquire(ctx, "pkg_dnf"))
}

func TestGuardBlocksConflictingTypes(t *testing.T) {
	g := testGuard(t)
	require.NoError(t, g.acquire(context.Background(), "pkg_dnf"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.acquire(ctx, "pkg_yum"), context.DeadlineExceeded)
	assert.ErrorIs(t, g.acquire(ctx, "pkg_dnf"), context.DeadlineExceeded)

	acquired := make(chan error, 1)
	go func() { acquired <- g.acquire(context.Background(), "pkg_yum") }()

	select {
	case <-acquired:
		t.Fatal("pkg_yum admitted while pkg_dnf is in flight")
	case <-time.After(20 * time.Millisecond):
	}

	g.releaseType("pkg_dnf")
	select {
	case err := <-acquired:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pkg_yum not admitted after release")
	}
}
