package packagemanager

import (
	"context"
	"strings"

	cm "github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/item"
)

var aptEnv = []string{"DEBIAN_FRONTEND=noninteractive"}

type AptPackageManager struct{}

func (apm *AptPackageManager) Installed(ctx context.Context, r item.Runner, pkg string) (bool, error) {
	result, err := r.Check(ctx, cm.CommandConfig{
		Command: "dpkg",
		Args:    []string{"-s", pkg},
	})
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0 && strings.Contains(result.STDOUT, "Status: install ok installed"), nil
}

func (apm *AptPackageManager) AddPackage(ctx context.Context, r item.Runner, pkg string) error {
	_, err := r.Run(ctx, cm.CommandConfig{
		Command: "apt-get",
		Sudo:    true,
		Env:     aptEnv,
		Args:    []string{"-qy", "-o", "Dpkg::Options::=--force-confdef", "-o", "Dpkg::Options::=--force-confold", "install", pkg},
	})
	return err
}

func (apm *AptPackageManager) RemovePackage(ctx context.Context, r item.Runner, pkg string) error {
	_, err := r.Run(ctx, cm.CommandConfig{
		Command: "apt-get",
		Sudo:    true,
		Env:     aptEnv,
		Args:    []string{"-qy", "remove", pkg},
	})
	return err
}

func (apm *AptPackageManager) ListPackages(ctx context.Context, r item.Runner) ([]string, error) {
	output, err := r.Run(ctx, cm.CommandConfig{
		Command: "dpkg-query",
		Args:    []string{"-W", "-f=${Package}\\n"},
	})
	if err != nil {
		return nil, err
	}
	return firstColumn(output.STDOUT), nil
}
