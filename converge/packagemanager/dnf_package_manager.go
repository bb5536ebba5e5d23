package packagemanager

import (
	"context"

	cm "github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/item"
)

type DnfPackageManager struct{}

func (dpm *DnfPackageManager) Installed(ctx context.Context, r item.Runner, pkg string) (bool, error) {
	result, err := r.Check(ctx, cm.CommandConfig{
		Command: "dnf list --installed",
		Args:    []string{pkg},
	})
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

func (dpm *DnfPackageManager) AddPackage(ctx context.Context, r item.Runner, pkg string) error {
	_, err := r.Run(ctx, cm.CommandConfig{
		Command: "dnf -y install",
		Sudo:    true,
		Args:    []string{pkg},
	})
	return err
}

func (dpm *DnfPackageManager) RemovePackage(ctx context.Context, r item.Runner, pkg string) error {
	_, err := r.Run(ctx, cm.CommandConfig{
		Command: "dnf -y remove",
		Sudo:    true,
		Args:    []string{pkg},
	})
	return err
}

func (dpm *DnfPackageManager) ListPackages(ctx context.Context, r item.Runner) ([]string, error) {
	output, err := r.Run(ctx, cm.CommandConfig{Command: "dnf list --installed"})
	if err != nil {
		return nil, err
	}
	return rpmNames(output.STDOUT), nil
}
