package packagemanager

import (
	"context"

	cm "github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/item"
)

// BrewPackageManager never uses sudo, Homebrew refuses to run as root.
type BrewPackageManager struct{}

func (bpm *BrewPackageManager) Installed(ctx context.Context, r item.Runner, pkg string) (bool, error) {
	result, err := r.Check(ctx, cm.CommandConfig{
		Command: "brew list --versions",
		Args:    []string{pkg},
	})
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

func (bpm *BrewPackageManager) AddPackage(ctx context.Context, r item.Runner, pkg string) error {
	_, err := r.Run(ctx, cm.CommandConfig{
		Command: "brew install",
		Args:    []string{pkg},
	})
	return err
}

func (bpm *BrewPackageManager) RemovePackage(ctx context.Context, r item.Runner, pkg string) error {
	_, err := r.Run(ctx, cm.CommandConfig{
		Command: "brew uninstall",
		Args:    []string{pkg},
	})
	return err
}

func (bpm *BrewPackageManager) ListPackages(ctx context.Context, r item.Runner) ([]string, error) {
	output, err := r.Run(ctx, cm.CommandConfig{Command: "brew list -1"})
	if err != nil {
		return nil, err
	}
	return firstColumn(output.STDOUT), nil
}
