package packagemanager

import (
	"context"

	cm "github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/item"
)

// YumPackageManager runs yum with debug and error output suppressed so that
// listings stay parseable.
type YumPackageManager struct{}

func (ypm *YumPackageManager) Installed(ctx context.Context, r item.Runner, pkg string) (bool, error) {
	result, err := r.Check(ctx, cm.CommandConfig{
		Command: "yum -d0 -e0 list installed",
		Args:    []string{pkg},
	})
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

func (ypm *YumPackageManager) AddPackage(ctx context.Context, r item.Runner, pkg string) error {
	_, err := r.Run(ctx, cm.CommandConfig{
		Command: "yum -d0 -e0 -y install",
		Sudo:    true,
		Args:    []string{pkg},
	})
	return err
}

func (ypm *YumPackageManager) RemovePackage(ctx context.Context, r item.Runner, pkg string) error {
	_, err := r.Run(ctx, cm.CommandConfig{
		Command: "yum -d0 -e0 -y remove",
		Sudo:    true,
		Args:    []string{pkg},
	})
	return err
}

func (ypm *YumPackageManager) ListPackages(ctx context.Context, r item.Runner) ([]string, error) {
	output, err := r.Run(ctx, cm.CommandConfig{Command: "yum -d0 -e0 list installed"})
	if err != nil {
		return nil, err
	}
	return rpmNames(output.STDOUT), nil
}
