package host

import (
	"time"

	"github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/hostmanager"
	"github.com/steelcutops/converge/logger"
)

type HostOption func(*Host)

// WithHostname sets the address used to reach the host.
func WithHostname(hostname string) HostOption {
	return func(host *Host) {
		host.Hostname = hostname
	}
}

func WithPort(port int) HostOption {
	return func(host *Host) {
		host.Port = port
	}
}

// WithUser returns a HostOption that sets the user for a Host.
func WithUser(user string) HostOption {
	return func(host *Host) {
		host.User = user
	}
}

// WithPassword returns a HostOption that sets the password for a Host.
func WithPassword(password string) HostOption {
	return func(host *Host) {
		host.Password = password
	}
}

// WithKeyPassphrase returns a HostOption that sets the key passphrase for a Host.
func WithKeyPassphrase(keyPassphrase string) HostOption {
	return func(host *Host) {
		host.KeyPassphrase = keyPassphrase
	}
}

// WithSudoPassword returns a HostOption that sets the sudo password for a Host.
func WithSudoPassword(password string) HostOption {
	return func(host *Host) {
		host.SudoPassword = password
	}
}

func WithKnownHosts(path string) HostOption {
	return func(host *Host) {
		host.KnownHostsFile = path
	}
}

// WithOS declares the operating system so it is not detected.
func WithOS(os hostmanager.OSType, version string) HostOption {
	return func(host *Host) {
		host.OS = os
		host.OSVersion = version
	}
}

// WithCommandTimeout bounds every single command run on the host.
func WithCommandTimeout(timeout time.Duration) HostOption {
	return func(host *Host) {
		if timeout > 0 {
			host.CommandTimeout = timeout
		}
	}
}

// WithRateLimit caps commands per second sent to the host.
func WithRateLimit(perSecond float64) HostOption {
	return func(host *Host) {
		host.RateLimit = perSecond
	}
}

func WithBreaker(breaker *commandmanager.Breaker) HostOption {
	return func(host *Host) {
		host.Breaker = breaker
	}
}

func WithCommandManager(manager commandmanager.CommandManager) HostOption {
	return func(host *Host) {
		host.CommandManager = manager
	}
}

func WithSSHClient(client commandmanager.SSHDialer) HostOption {
	return func(host *Host) {
		host.SSHClient = client
	}
}

func WithLogger(log logger.Logger) HostOption {
	return func(host *Host) {
		host.Logger = log
	}
}
