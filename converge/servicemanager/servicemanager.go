// Package servicemanager provides service item types for systemd and
// launchd nodes.
package servicemanager

import (
	"context"

	"github.com/steelcutops/converge/converge/item"
)

type ServiceStatus string

const (
	Active   ServiceStatus = "active"
	Inactive ServiceStatus = "inactive"
	Failed   ServiceStatus = "failed"
)

// Status is the observed state of one service.
type Status struct {
	State   ServiceStatus
	Enabled bool
}

// ServiceManager represents operations that can be performed on system services.
type ServiceManager interface {
	Status(ctx context.Context, r item.Runner, service string) (Status, error)
	StartService(ctx context.Context, r item.Runner, service string) error
	StopService(ctx context.Context, r item.Runner, service string) error
	EnableService(ctx context.Context, r item.Runner, service string) error
	DisableService(ctx context.Context, r item.Runner, service string) error
}

// Service keeps a service running or stopped and, when the enabled
// attribute is set, enabled or disabled at boot.
type Service struct {
	item.Base
	running bool
	enabled *bool
	manager ServiceManager
}

func (s *Service) Probe(ctx context.Context, r item.Runner) (bool, error) {
	status, err := s.manager.Status(ctx, r, s.ID().Name)
	if err != nil {
		return false, err
	}
	return s.correct(status), nil
}

func (s *Service) correct(status Status) bool {
	if (status.State == Active) != s.running {
		return false
	}
	return s.enabled == nil || *s.enabled == status.Enabled
}

// Apply stops before disabling and enables before starting.
func (s *Service) Apply(ctx context.Context, r item.Runner) error {
	name := s.ID().Name
	status, err := s.manager.Status(ctx, r, name)
	if err != nil {
		return err
	}
	active := status.State == Active
	if active && !s.running {
		if err := s.manager.StopService(ctx, r, name); err != nil {
			return err
		}
	}
	if s.enabled != nil && *s.enabled != status.Enabled {
		if *s.enabled {
			err = s.manager.EnableService(ctx, r, name)
		} else {
			err = s.manager.DisableService(ctx, r, name)
		}
		if err != nil {
			return err
		}
	}
	if !active && s.running {
		return s.manager.StartService(ctx, r, name)
	}
	return nil
}

func newType(name string, manager ServiceManager) item.Type {
	return item.Type{
		Name:       name,
		Attributes: map[string]interface{}{"running": true, "enabled": nil},
		New: func(base item.Base) (item.Item, error) {
			attrs := base.Attributes()
			running, err := attrs.Bool("running", true)
			if err != nil {
				return nil, err
			}
			svc := &Service{Base: base, running: running, manager: manager}
			if _, ok := attrs["enabled"]; ok {
				enabled, err := attrs.Bool("enabled", false)
				if err != nil {
					return nil, err
				}
				svc.enabled = &enabled
			}
			return svc, nil
		},
	}
}

// Types returns the service item types.
func Types() []item.Type {
	return []item.Type{
		newType("svc_systemd", &LinuxServiceManager{}),
		newType("svc_launchd", &DarwinServiceManager{}),
	}
}
