package commandmanager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/logger"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultDialTimeout = 30 * time.Second

type SSHDialer interface {
	Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error)
}

// DefaultSSHDialer dials with golang.org/x/crypto/ssh.
type DefaultSSHDialer struct{}

func (DefaultSSHDialer) Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	config.Timeout = timeout
	return ssh.Dial(network, addr, config)
}

// UnixCommandManager runs commands through /bin/sh, locally for localhost and
// over a single long-lived SSH connection otherwise. It is owned by exactly
// one node worker.
type UnixCommandManager struct {
	Hostname    string
	Port        int
	SSHClient   SSHDialer
	KeyManager  SSHKeyManager
	DialTimeout time.Duration
	Logger      logger.Logger
	Credentials

	mu     sync.Mutex
	client *ssh.Client
}

func (u *UnixCommandManager) log() logger.Logger {
	if u.Logger == nil {
		return logger.Nop()
	}
	return u.Logger
}

func (u *UnixCommandManager) Run(ctx context.Context, config CommandConfig) (CommandResult, error) {
	if u.isLocal() {
		u.log().Debug("Running local command", "hostname", u.Hostname, "command", config.Command)
		return u.RunLocal(ctx, config)
	}

	u.log().Debug("Running remote command", "hostname", u.Hostname, "command", config.Command)
	return u.RunRemote(ctx, config)
}

func (u *UnixCommandManager) RunLocal(ctx context.Context, config CommandConfig) (CommandResult, error) {
	line := config.Line()
	start := time.Now()

	cmd := exec.CommandContext(ctx, "sh", "-c", line)
	if config.Sudo {
		cmd.Stdin = strings.NewReader(u.SudoPassword + "\n")
	}
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := CommandResult{
		Command:   line,
		STDOUT:    stdout.String(),
		STDERR:    stderr.String(),
		Duration:  time.Since(start),
		Timestamp: start,
	}
	if err != nil {
		if ctx.Err() != nil {
			return result, contextError(ctx, line)
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, &errdefs.TransportError{Host: u.Hostname, Err: err}
		}
		result.ExitCode = exitErr.ExitCode()
	}
	if config.Sudo && result.ExitCode != 0 {
		if err := sudoFailure(result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (u *UnixCommandManager) RunRemote(ctx context.Context, config CommandConfig) (CommandResult, error) {
	client, err := u.Connect(ctx)
	if err != nil {
		return CommandResult{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		// The connection is gone; drop it so the next run redials.
		u.reset(client)
		return CommandResult{}, &errdefs.TransportError{Host: u.Hostname, Err: err}
	}
	defer session.Close()

	line := config.Line()
	if config.Sudo {
		session.Stdin = strings.NewReader(u.SudoPassword + "\n")
	}
	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(line)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		u.log().Error("Remote command aborted", "hostname", u.Hostname, "command", line, "error", ctx.Err())
		return CommandResult{Command: line, Timestamp: start, Duration: time.Since(start)}, contextError(ctx, line)
	}

	result := CommandResult{
		Command:   line,
		STDOUT:    stdout.String(),
		STDERR:    stderr.String(),
		Duration:  time.Since(start),
		Timestamp: start,
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			u.reset(client)
			return result, &errdefs.TransportError{Host: u.Hostname, Err: err}
		}
		result.ExitCode = exitErr.ExitStatus()
	}
	if config.Sudo && result.ExitCode != 0 {
		if err := sudoFailure(result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Connect dials the host if no connection is open yet. Local hosts need no
// connection and return a nil client.
func (u *UnixCommandManager) Connect(ctx context.Context) (*ssh.Client, error) {
	if u.isLocal() {
		return nil, nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.client != nil {
		return u.client, nil
	}
	if u.SSHClient == nil {
		return nil, &errdefs.TransportError{Host: u.Hostname, Err: errors.New("SSHClient is not initialized")}
	}

	sshConfig, err := u.getSSHConfig()
	if err != nil {
		return nil, &errdefs.TransportError{Host: u.Hostname, Err: err}
	}

	timeout := u.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}

	client, err := u.SSHClient.Dial("tcp", u.address(), sshConfig, timeout)
	if err != nil {
		return nil, &errdefs.TransportError{Host: u.Hostname, Err: err}
	}
	u.client = client
	return client, nil
}

// Close releases the SSH connection and any agent connection.
func (u *UnixCommandManager) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	var err error
	if u.client != nil {
		err = u.client.Close()
		u.client = nil
	}
	if c, ok := u.KeyManager.(interface{ Close() error }); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (u *UnixCommandManager) reset(client *ssh.Client) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.client == client {
		u.client.Close()
		u.client = nil
	}
}

func (u *UnixCommandManager) getSSHConfig() (*ssh.ClientConfig, error) {
	var authMethod ssh.AuthMethod

	if u.Password != "" {
		u.log().Debug("Using password authentication", "hostname", u.Hostname)
		authMethod = ssh.Password(u.Password)
	} else {
		u.log().Debug("Using public key authentication", "hostname", u.Hostname)
		keyManager := u.KeyManager
		if keyManager == nil {
			if u.KeyPassphrase != "" {
				keyManager = &FileSSHKeyManager{}
			} else {
				keyManager = &AgentSSHKeyManager{}
			}
			u.KeyManager = keyManager
		}

		keys, err := keyManager.ReadPrivateKeys(u.KeyPassphrase)
		if err != nil {
			return nil, err
		}

		authMethod = ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			return keys, nil
		})
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if u.KnownHostsFile != "" {
		cb, err := knownhosts.New(u.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            u.User,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: hostKeyCallback,
	}, nil
}

func (u *UnixCommandManager) address() string {
	port := u.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(u.Hostname, strconv.Itoa(port))
}

func (u *UnixCommandManager) isLocal() bool {
	return u.Hostname == "localhost" || u.Hostname == "127.0.0.1"
}

func contextError(ctx context.Context, line string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", errdefs.ErrTimeout, line)
	}
	return fmt.Errorf("%w: %s", errdefs.ErrCancelled, line)
}
