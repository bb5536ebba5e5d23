package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{
		"directory",
		"pkg_apk", "pkg_apt", "pkg_brew", "pkg_dnf", "pkg_yum",
		"svc_launchd", "svc_systemd",
		"symlink",
		"user",
	}, Registry().Names())
}
