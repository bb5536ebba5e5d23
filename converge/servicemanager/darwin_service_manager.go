package servicemanager

import (
	"context"
	"fmt"
	"strings"

	cm "github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/item"
)

// DarwinServiceManager manages system daemons whose plist lives in
// /Library/LaunchDaemons. A daemon counts as enabled while it is loaded.
type DarwinServiceManager struct{}

func plist(service string) string {
	return fmt.Sprintf("/Library/LaunchDaemons/%s.plist", service)
}

func (dsm *DarwinServiceManager) Status(ctx context.Context, r item.Runner, service string) (Status, error) {
	output, err := r.Check(ctx, cm.CommandConfig{
		Command: "launchctl print",
		Args:    []string{"system/" + service},
	})
	if err != nil {
		return Status{}, err
	}
	if output.ExitCode != 0 {
		return Status{State: Inactive}, nil
	}
	status := Status{State: Inactive, Enabled: true}
	if strings.Contains(output.STDOUT, "state = running") {
		status.State = Active
	}
	return status, nil
}

func (dsm *DarwinServiceManager) launchctl(ctx context.Context, r item.Runner, args ...string) error {
	_, err := r.Run(ctx, cm.CommandConfig{
		Command: "launchctl",
		Sudo:    true,
		Args:    args,
	})
	return err
}

// StartService loads the daemon first when needed, a bootout unloads it.
func (dsm *DarwinServiceManager) StartService(ctx context.Context, r item.Runner, service string) error {
	status, err := dsm.Status(ctx, r, service)
	if err != nil {
		return err
	}
	if !status.Enabled {
		if err := dsm.EnableService(ctx, r, service); err != nil {
			return err
		}
	}
	return dsm.launchctl(ctx, r, "kickstart", "system/"+service)
}

func (dsm *DarwinServiceManager) StopService(ctx context.Context, r item.Runner, service string) error {
	return dsm.launchctl(ctx, r, "kill", "SIGTERM", "system/"+service)
}

func (dsm *DarwinServiceManager) EnableService(ctx context.Context, r item.Runner, service string) error {
	return dsm.launchctl(ctx, r, "bootstrap", "system", plist(service))
}

func (dsm *DarwinServiceManager) DisableService(ctx context.Context, r item.Runner, service string) error {
	return dsm.launchctl(ctx, r, "bootout", "system/"+service)
}
