// Package packagemanager provides package item types backed by the native
// package manager of a node.
package packagemanager

import (
	"context"
	"strings"

	"github.com/steelcutops/converge/converge/item"
)

// PackageManager is what a package item needs from one package manager.
type PackageManager interface {
	Installed(ctx context.Context, r item.Runner, pkg string) (bool, error)
	AddPackage(ctx context.Context, r item.Runner, pkg string) error
	RemovePackage(ctx context.Context, r item.Runner, pkg string) error
	ListPackages(ctx context.Context, r item.Runner) ([]string, error)
}

// Package is an item ensuring a package is installed or absent.
type Package struct {
	item.Base
	installed bool
	manager   PackageManager
}

func (p *Package) Probe(ctx context.Context, r item.Runner) (bool, error) {
	installed, err := p.manager.Installed(ctx, r, p.ID().Name)
	if err != nil {
		return false, err
	}
	return installed == p.installed, nil
}

func (p *Package) Apply(ctx context.Context, r item.Runner) error {
	if p.installed {
		return p.manager.AddPackage(ctx, r, p.ID().Name)
	}
	return p.manager.RemovePackage(ctx, r, p.ID().Name)
}

// Existing lists every package installed on the node as items of this type.
func (p *Package) Existing(ctx context.Context, r item.Runner) ([]item.ID, error) {
	names, err := p.manager.ListPackages(ctx, r)
	if err != nil {
		return nil, err
	}
	ids := make([]item.ID, 0, len(names))
	for _, name := range names {
		ids = append(ids, item.ID{Type: p.ID().Type, Name: name})
	}
	return ids, nil
}

func newType(name string, manager PackageManager, blocks ...string) item.Type {
	return item.Type{
		Name:       name,
		Attributes: map[string]interface{}{"installed": true},
		New: func(base item.Base) (item.Item, error) {
			installed, err := base.Attributes().Bool("installed", true)
			if err != nil {
				return nil, err
			}
			return &Package{Base: base, installed: installed, manager: manager}, nil
		},
		BlockConcurrent: item.Blocks(blocks...),
	}
}

// Types returns the package item types for every supported manager.
func Types() []item.Type {
	return []item.Type{
		newType("pkg_apt", &AptPackageManager{}, "pkg_apt"),
		newType("pkg_dnf", &DnfPackageManager{}, "pkg_dnf", "pkg_yum"),
		newType("pkg_yum", &YumPackageManager{}, "pkg_dnf", "pkg_yum"),
		newType("pkg_apk", &ApkPackageManager{}, "pkg_apk"),
		newType("pkg_brew", &BrewPackageManager{}, "pkg_brew"),
	}
}

// firstColumn returns the first field of every non-empty line.
func firstColumn(output string) []string {
	var out []string
	for _, line := range strings.Split(output, "\n") {
		parts := strings.Fields(line)
		if len(parts) > 0 {
			out = append(out, parts[0])
		}
	}
	return out
}

// rpmNames parses "name.arch version repo" listings as printed by dnf and
// yum. Lines whose first column carries no arch suffix are headers.
// Only the last dot is cut, unlike bundlewrap, so "python3.12" stays whole.
func rpmNames(output string) []string {
	var out []string
	for _, field := range firstColumn(output) {
		i := strings.LastIndex(field, ".")
		if i <= 0 {
			continue
		}
		out = append(out, field[:i])
	}
	return out
}
