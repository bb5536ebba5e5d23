// Package host describes managed nodes. A Host is the long-lived descriptor
// built from the inventory; a Session is the per-run context that owns the
// node's command channel and caches its facts for that run only.
package host

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/hostmanager"
	"github.com/steelcutops/converge/logger"
)

const DefaultCommandTimeout = 10 * time.Minute

var validHostname = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.\-_:]*[A-Za-z0-9])?$`)

type Host struct {
	Name     string
	Hostname string
	Port     int
	commandmanager.Credentials

	// Facts declared in configuration; detection fills in whatever is empty.
	OS        hostmanager.OSType
	OSVersion string

	CommandTimeout time.Duration
	RateLimit      float64
	Breaker        *commandmanager.Breaker
	Logger         logger.Logger

	// CommandManager replaces the default UnixCommandManager.
	CommandManager commandmanager.CommandManager
	SSHClient      commandmanager.SSHDialer
}

// NewHost returns a host named name. Unless WithHostname is given the name
// is also the address.
func NewHost(name string, options ...HostOption) (*Host, error) {
	if name == "" {
		return nil, errors.New("host name must not be empty")
	}

	h := &Host{
		Name:           name,
		Hostname:       name,
		CommandTimeout: DefaultCommandTimeout,
	}
	for _, option := range options {
		option(h)
	}

	if !validHostname.MatchString(h.Hostname) {
		return nil, fmt.Errorf("invalid hostname %q for host %s", h.Hostname, name)
	}
	if h.Logger == nil {
		h.Logger = logger.Nop()
	}
	if h.SSHClient == nil {
		h.SSHClient = commandmanager.DefaultSSHDialer{}
	}
	return h, nil
}

// Open starts a run against the host. The returned session is owned by the
// caller and must be closed. No connection is made until the first command.
func (h *Host) Open() *Session {
	log := h.Logger.With("host", h.Name)

	var base commandmanager.CommandManager
	var closer func() error
	if h.CommandManager != nil {
		base = h.CommandManager
	} else {
		unix := &commandmanager.UnixCommandManager{
			Hostname:    h.Hostname,
			Port:        h.Port,
			SSHClient:   h.SSHClient,
			Logger:      log,
			Credentials: h.Credentials,
		}
		base = unix
		closer = unix.Close
	}

	channel := base
	if h.Breaker != nil {
		channel = h.Breaker.Wrap(channel)
	}
	channel = commandmanager.NewRateLimited(channel, h.RateLimit, 1)

	return &Session{
		host:     h,
		channel:  channel,
		closer:   closer,
		timeout:  h.CommandTimeout,
		logger:   log,
		declared: hostmanager.Facts{OS: h.OS, OSVersion: h.OSVersion},
	}
}
