// Package catalog assembles the registry of every built-in item type.
package catalog

import (
	"github.com/steelcutops/converge/converge/filemanager"
	"github.com/steelcutops/converge/converge/item"
	"github.com/steelcutops/converge/converge/packagemanager"
	"github.com/steelcutops/converge/converge/servicemanager"
	"github.com/steelcutops/converge/converge/usermanager"
)

// Registry returns a new registry holding all built-in item types.
func Registry() *item.Registry {
	reg := item.NewRegistry()
	reg.MustRegister(packagemanager.Types()...)
	reg.MustRegister(servicemanager.Types()...)
	reg.MustRegister(filemanager.Types()...)
	reg.MustRegister(usermanager.Types()...)
	return reg
}
