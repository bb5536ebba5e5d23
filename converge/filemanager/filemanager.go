// Package filemanager provides the directory and symlink item types.
package filemanager

import (
	"context"
	"fmt"
	"path"
	"strings"

	cm "github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/converge/item"
)

const (
	TypeDirectory = "directory"
	TypeSymlink   = "symlink"

	statDirectory = "directory"
	statSymlink   = "symbolic link"
)

// PathInfo is what stat reports about a path on the node.
type PathInfo struct {
	Path   string
	Exists bool
	Type   string
	Owner  string
	Group  string
	Mode   string
	Target string
}

// GetPathInfo stats path without following a final symlink. A missing path
// is not an error.
func GetPathInfo(ctx context.Context, r item.Runner, p string) (PathInfo, error) {
	result, err := r.Check(ctx, cm.CommandConfig{
		Command: "stat -c '%F:%U:%G:%a' --",
		Args:    []string{p},
	})
	if err != nil {
		return PathInfo{}, err
	}
	info := PathInfo{Path: p}
	if result.ExitCode != 0 {
		return info, nil
	}

	parts := strings.Split(strings.TrimSpace(result.STDOUT), ":")
	if len(parts) != 4 {
		return PathInfo{}, fmt.Errorf("unexpected stat output for %s: %q", p, result.STDOUT)
	}
	info.Exists = true
	info.Type, info.Owner, info.Group, info.Mode = parts[0], parts[1], parts[2], parts[3]

	if info.Type == statSymlink {
		target, err := r.Run(ctx, cm.CommandConfig{Command: "readlink --", Args: []string{p}})
		if err != nil {
			return PathInfo{}, err
		}
		info.Target = strings.TrimSuffix(target.STDOUT, "\n")
	}
	return info, nil
}

// ownership carries the optional owner and group attributes shared by the
// path item types.
type ownership struct {
	owner string
	group string
}

func newOwnership(attrs item.Attributes) (ownership, error) {
	owner, err := attrs.String("owner")
	if err != nil {
		return ownership{}, err
	}
	group, err := attrs.String("group")
	if err != nil {
		return ownership{}, err
	}
	return ownership{owner: owner, group: group}, nil
}

func (o ownership) matches(info PathInfo) bool {
	return (o.owner == "" || o.owner == info.Owner) && (o.group == "" || o.group == info.Group)
}

func (o ownership) set() bool { return o.owner != "" || o.group != "" }

// chown sets owner and group with a single command. noDeref changes the
// link itself rather than its target.
func (o ownership) chown(ctx context.Context, r item.Runner, p string, noDeref bool) error {
	spec := o.owner
	if o.group != "" {
		spec += ":" + o.group
	}
	args := []string{spec, "--", p}
	if noDeref {
		args = append([]string{"-h"}, args...)
	}
	_, err := r.Run(ctx, cm.CommandConfig{Command: "chown", Sudo: true, Args: args})
	return err
}

func validatePath(id item.ID) error {
	if !path.IsAbs(id.Name) {
		return fmt.Errorf("%s: path must be absolute", id)
	}
	if path.Clean(id.Name) == "/" {
		return fmt.Errorf("%s: '/' cannot be managed", id)
	}
	if path.Clean(id.Name) != id.Name {
		return fmt.Errorf("%s: invalid path, should be %q", id, path.Clean(id.Name))
	}
	return nil
}

// isSubdirectory reports whether child lies strictly below parent.
func isSubdirectory(parent, child string) bool {
	return strings.HasPrefix(child, strings.TrimSuffix(parent, "/")+"/")
}

// pathDeps returns the directories and symlinks above p and the user owning
// it. An owner that is set to be deleted is an error.
func pathDeps(self item.Item, o ownership, items []item.Item) ([]item.ID, error) {
	var deps []item.ID
	for _, other := range items {
		id := other.ID()
		if id == self.ID() {
			continue
		}
		switch id.Type {
		case TypeDirectory, TypeSymlink:
			if isSubdirectory(id.Name, self.ID().Name) {
				deps = append(deps, id)
			}
		case "user":
			if o.owner == "" || id.Name != o.owner {
				continue
			}
			deleted, err := other.Attributes().Bool("delete", false)
			if err != nil {
				return nil, err
			}
			if deleted {
				return nil, fmt.Errorf("%w: %s depends on %s which is set to be deleted", errdefs.ErrInvalidItem, self.ID(), id)
			}
			deps = append(deps, id)
		}
	}
	return deps, nil
}

// Types returns the path item types.
func Types() []item.Type {
	return []item.Type{directoryType(), symlinkType()}
}
