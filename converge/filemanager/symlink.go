package filemanager

import (
	"context"
	"fmt"
	"path"

	cm "github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/converge/item"
)

// Symlink ensures a symbolic link points at target.
type Symlink struct {
	item.Base
	ownership
	target string
}

func symlinkType() item.Type {
	return item.Type{
		Name:       TypeSymlink,
		Attributes: map[string]interface{}{"target": nil, "owner": nil, "group": nil},
		Required:   []string{"target"},
		New: func(base item.Base) (item.Item, error) {
			if err := validatePath(base.ID()); err != nil {
				return nil, err
			}
			o, err := newOwnership(base.Attributes())
			if err != nil {
				return nil, err
			}
			target, err := base.Attributes().String("target")
			if err != nil {
				return nil, err
			}
			if target == "" {
				return nil, fmt.Errorf("%s: empty target", base.ID())
			}
			return &Symlink{Base: base, ownership: o, target: target}, nil
		},
	}
}

func (s *Symlink) Probe(ctx context.Context, r item.Runner) (bool, error) {
	info, err := GetPathInfo(ctx, r, s.ID().Name)
	if err != nil {
		return false, err
	}
	return info.Exists && info.Type == statSymlink && info.Target == s.target && s.matches(info), nil
}

// Apply recreates the path when it is missing or of the wrong type, which
// fixes everything at once. Otherwise target and ownership are fixed
// separately.
func (s *Symlink) Apply(ctx context.Context, r item.Runner) error {
	p := s.ID().Name
	info, err := GetPathInfo(ctx, r, p)
	if err != nil {
		return err
	}

	if !info.Exists || info.Type != statSymlink {
		if info.Exists {
			if _, err := r.Run(ctx, cm.CommandConfig{Command: "rm -rf --", Sudo: true, Args: []string{p}}); err != nil {
				return err
			}
		}
		if _, err := r.Run(ctx, cm.CommandConfig{Command: "mkdir -p --", Sudo: true, Args: []string{path.Dir(p)}}); err != nil {
			return err
		}
		if _, err := r.Run(ctx, cm.CommandConfig{Command: "ln -s --", Sudo: true, Args: []string{s.target, p}}); err != nil {
			return err
		}
		if s.set() {
			return s.chown(ctx, r, p, true)
		}
		return nil
	}

	if info.Target != s.target {
		if _, err := r.Run(ctx, cm.CommandConfig{Command: "ln -sfn --", Sudo: true, Args: []string{s.target, p}}); err != nil {
			return err
		}
	}
	if s.set() && !s.matches(info) {
		return s.chown(ctx, r, p, true)
	}
	return nil
}

// AutoDeps also rejects a directory declared at the link's own path.
func (s *Symlink) AutoDeps(items []item.Item) ([]item.ID, error) {
	for _, other := range items {
		if other.ID().Type == TypeDirectory && other.ID().Name == s.ID().Name {
			return nil, fmt.Errorf("%w: %s blocks the path of %s", errdefs.ErrInvalidItem, other.ID(), s.ID())
		}
	}
	return pathDeps(s, s.ownership, items)
}
