package hostmanager

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	cm "github.com/steelcutops/converge/converge/commandmanager"
)

type OSType string

const (
	LinuxUbuntu   OSType = "ubuntu"
	LinuxDebian   OSType = "debian"
	LinuxFedora   OSType = "fedora"
	LinuxRedHat   OSType = "rhel"
	LinuxCentOS   OSType = "centos"
	LinuxArch     OSType = "arch"
	LinuxOpenSUSE OSType = "opensuse"
	LinuxAlpine   OSType = "alpine"
	Linux         OSType = "linux"
	Darwin        OSType = "darwin"
)

// Facts describes the operating system of a node as seen during one run.
type Facts struct {
	OS        OSType `json:"os,omitempty"`
	OSVersion string `json:"os_version,omitempty"`
	Kernel    string `json:"kernel,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
}

// Known reports whether the facts name a concrete operating system.
func (f Facts) Known() bool {
	return f.OS != ""
}

// IsLinux reports whether OS belongs to the Linux family.
func (f Facts) IsLinux() bool {
	return f.OS != "" && f.OS != Darwin
}

// HostManager gathers facts about a host.
type HostManager interface {
	Facts(ctx context.Context) (Facts, error)
}

type UnixHostManager struct {
	CommandManager cm.CommandManager
}

// Facts runs uname and, on Linux, reads /etc/os-release.
func (uhm *UnixHostManager) Facts(ctx context.Context) (Facts, error) {
	kernelName, err := uhm.output(ctx, "uname -s")
	if err != nil {
		return Facts{}, err
	}
	kernel, err := uhm.output(ctx, "uname -r")
	if err != nil {
		return Facts{}, err
	}
	hostname, err := uhm.output(ctx, "hostname")
	if err != nil {
		return Facts{}, err
	}

	facts := Facts{Kernel: kernel, Hostname: hostname}

	switch kernelName {
	case "Darwin":
		facts.OS = Darwin
		version, err := uhm.output(ctx, "sw_vers -productVersion")
		if err != nil {
			return Facts{}, err
		}
		facts.OSVersion = version
	case "Linux":
		release, err := uhm.CommandManager.Run(ctx, cm.CommandConfig{Command: "cat /etc/os-release"})
		if err != nil {
			return Facts{}, err
		}
		facts.OS = Linux
		if release.ExitCode == 0 {
			id, version := ParseOSRelease(release.STDOUT)
			if os := normalizeID(id); os != "" {
				facts.OS = os
			}
			facts.OSVersion = version
		}
	default:
		return Facts{}, fmt.Errorf("unsupported operating system: %s", kernelName)
	}

	return facts, nil
}

func (uhm *UnixHostManager) output(ctx context.Context, command string) (string, error) {
	result, err := uhm.CommandManager.Run(ctx, cm.CommandConfig{Command: command})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", result.Failed()
	}
	return strings.TrimSpace(result.STDOUT), nil
}

// ParseOSRelease extracts ID and VERSION_ID from os-release content.
func ParseOSRelease(content string) (id, version string) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		switch key {
		case "ID":
			id = value
		case "VERSION_ID":
			version = value
		}
	}
	return id, version
}

func normalizeID(id string) OSType {
	switch id {
	case "ubuntu":
		return LinuxUbuntu
	case "debian", "raspbian":
		return LinuxDebian
	case "fedora":
		return LinuxFedora
	case "rhel", "redhat", "rocky", "almalinux", "ol":
		return LinuxRedHat
	case "centos":
		return LinuxCentOS
	case "arch", "manjaro":
		return LinuxArch
	case "opensuse", "opensuse-leap", "opensuse-tumbleweed", "sles":
		return LinuxOpenSUSE
	case "alpine":
		return LinuxAlpine
	}
	return ""
}

// ParseOSType maps a declared OS name, an os-release ID or one of the
// OSType values, to its OSType.
func ParseOSType(name string) (OSType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case string(Linux):
		return Linux, true
	case string(Darwin), "macos", "osx":
		return Darwin, true
	}
	if os := normalizeID(name); os != "" {
		return os, true
	}
	return "", false
}
