package packagemanager

import (
	"context"

	cm "github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/item"
)

type ApkPackageManager struct{}

func (apkm *ApkPackageManager) Installed(ctx context.Context, r item.Runner, pkg string) (bool, error) {
	result, err := r.Check(ctx, cm.CommandConfig{
		Command: "apk info -e",
		Args:    []string{pkg},
	})
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

func (apkm *ApkPackageManager) AddPackage(ctx context.Context, r item.Runner, pkg string) error {
	_, err := r.Run(ctx, cm.CommandConfig{
		Command: "apk add",
		Sudo:    true,
		Args:    []string{pkg},
	})
	return err
}

func (apkm *ApkPackageManager) RemovePackage(ctx context.Context, r item.Runner, pkg string) error {
	_, err := r.Run(ctx, cm.CommandConfig{
		Command: "apk del",
		Sudo:    true,
		Args:    []string{pkg},
	})
	return err
}

func (apkm *ApkPackageManager) ListPackages(ctx context.Context, r item.Runner) ([]string, error) {
	output, err := r.Run(ctx, cm.CommandConfig{Command: "apk info"})
	if err != nil {
		return nil, err
	}
	return firstColumn(output.STDOUT), nil
}
