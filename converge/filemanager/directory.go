package filemanager

import (
	"context"
	"fmt"
	"strconv"

	cm "github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/item"
)

// Directory ensures a directory exists with the given mode and ownership.
type Directory struct {
	item.Base
	ownership
	mode string
}

func directoryType() item.Type {
	return item.Type{
		Name:       TypeDirectory,
		Attributes: map[string]interface{}{"mode": nil, "owner": nil, "group": nil},
		New: func(base item.Base) (item.Item, error) {
			if err := validatePath(base.ID()); err != nil {
				return nil, err
			}
			o, err := newOwnership(base.Attributes())
			if err != nil {
				return nil, err
			}
			mode, err := base.Attributes().String("mode")
			if err != nil {
				return nil, err
			}
			if mode != "" {
				if mode, err = normalizeMode(mode); err != nil {
					return nil, err
				}
			}
			return &Directory{Base: base, ownership: o, mode: mode}, nil
		},
	}
}

// normalizeMode turns "0755" and "755" alike into the form stat prints.
func normalizeMode(mode string) (string, error) {
	n, err := strconv.ParseUint(mode, 8, 32)
	if err != nil || n > 07777 {
		return "", fmt.Errorf("invalid mode %q", mode)
	}
	return strconv.FormatUint(n, 8), nil
}

func (d *Directory) Probe(ctx context.Context, r item.Runner) (bool, error) {
	info, err := GetPathInfo(ctx, r, d.ID().Name)
	if err != nil {
		return false, err
	}
	return d.correct(info), nil
}

func (d *Directory) correct(info PathInfo) bool {
	if !info.Exists || info.Type != statDirectory {
		return false
	}
	return (d.mode == "" || d.mode == info.Mode) && d.matches(info)
}

func (d *Directory) Apply(ctx context.Context, r item.Runner) error {
	p := d.ID().Name
	info, err := GetPathInfo(ctx, r, p)
	if err != nil {
		return err
	}
	if info.Exists && info.Type != statDirectory {
		if _, err := r.Run(ctx, cm.CommandConfig{Command: "rm -rf --", Sudo: true, Args: []string{p}}); err != nil {
			return err
		}
		info = PathInfo{Path: p}
	}
	if !info.Exists {
		if _, err := r.Run(ctx, cm.CommandConfig{Command: "mkdir -p --", Sudo: true, Args: []string{p}}); err != nil {
			return err
		}
	}
	if d.mode != "" && d.mode != info.Mode {
		if _, err := r.Run(ctx, cm.CommandConfig{Command: "chmod", Sudo: true, Args: []string{d.mode, "--", p}}); err != nil {
			return err
		}
	}
	if d.set() && !d.matches(info) {
		return d.chown(ctx, r, p, false)
	}
	return nil
}

func (d *Directory) AutoDeps(items []item.Item) ([]item.ID, error) {
	return pathDeps(d, d.ownership, items)
}
