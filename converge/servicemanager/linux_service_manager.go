package servicemanager

import (
	"context"
	"strings"

	cm "github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/item"
)

type LinuxServiceManager struct{}

// Status reads is-active and is-enabled. Both exit non-zero for stopped or
// disabled units, so only the printed word counts.
func (lsm *LinuxServiceManager) Status(ctx context.Context, r item.Runner, service string) (Status, error) {
	active, err := r.Check(ctx, cm.CommandConfig{
		Command: "systemctl is-active --",
		Args:    []string{service},
	})
	if err != nil {
		return Status{}, err
	}
	enabled, err := r.Check(ctx, cm.CommandConfig{
		Command: "systemctl is-enabled --",
		Args:    []string{service},
	})
	if err != nil {
		return Status{}, err
	}

	status := Status{State: Inactive, Enabled: strings.TrimSpace(enabled.STDOUT) == "enabled"}
	switch strings.TrimSpace(active.STDOUT) {
	case "active", "reloading":
		status.State = Active
	case "failed":
		status.State = Failed
	}
	return status, nil
}

func (lsm *LinuxServiceManager) systemctl(ctx context.Context, r item.Runner, verb, service string) error {
	_, err := r.Run(ctx, cm.CommandConfig{
		Command: "systemctl " + verb + " --",
		Sudo:    true,
		Args:    []string{service},
	})
	return err
}

func (lsm *LinuxServiceManager) StartService(ctx context.Context, r item.Runner, service string) error {
	return lsm.systemctl(ctx, r, "start", service)
}

func (lsm *LinuxServiceManager) StopService(ctx context.Context, r item.Runner, service string) error {
	return lsm.systemctl(ctx, r, "stop", service)
}

func (lsm *LinuxServiceManager) EnableService(ctx context.Context, r item.Runner, service string) error {
	return lsm.systemctl(ctx, r, "enable", service)
}

func (lsm *LinuxServiceManager) DisableService(ctx context.Context, r item.Runner, service string) error {
	return lsm.systemctl(ctx, r, "disable", service)
}
