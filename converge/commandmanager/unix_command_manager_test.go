package commandmanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type MockSSHClient struct {
	dialError error
	dials     int
}

func (m *MockSSHClient) Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	m.dials++
	return nil, m.dialError
}

func TestRunLocal(t *testing.T) {
	manager := UnixCommandManager{Hostname: "localhost"}

	result, err := manager.RunLocal(context.Background(), CommandConfig{
		Command: "echo",
		Args:    []string{"hello world"},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello world\n", result.STDOUT)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "echo 'hello world'", result.Command)
}

func TestRunLocalExitStatusIsData(t *testing.T) {
	manager := UnixCommandManager{Hostname: "localhost"}

	result, err := manager.Run(context.Background(), CommandConfig{Command: "echo oops >&2; exit 3"})

	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "oops\n", result.STDERR)
}

func TestRunLocalTimeout(t *testing.T) {
	manager := UnixCommandManager{Hostname: "localhost"}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := manager.Run(ctx, CommandConfig{Command: "sleep 5"})

	assert.ErrorIs(t, err, errdefs.ErrTimeout)
}

// expiredContext reports an expired deadline without ever closing Done, as
// when the deadline passes between the command exiting and the check.
type expiredContext struct{ context.Context }

func (expiredContext) Err() error { return context.DeadlineExceeded }

func TestRunLocalKeepsResultOfFinishedCommand(t *testing.T) {
	manager := UnixCommandManager{Hostname: "localhost"}

	result, err := manager.RunLocal(expiredContext{context.Background()}, CommandConfig{Command: "echo done"})

	require.NoError(t, err)
	assert.Equal(t, "done\n", result.STDOUT)
	assert.Equal(t, 0, result.ExitCode)
}

func TestIsLocal(t *testing.T) {
	manager := UnixCommandManager{
		Hostname: "localhost",
	}

	if !manager.isLocal() {
		t.Errorf("Expected isLocal to return true for localhost")
	}

	manager.Hostname = "example.com"
	if manager.isLocal() {
		t.Errorf("Expected isLocal to return false for example.com")
	}
}

func TestRunRemoteDialError(t *testing.T) {
	dialer := &MockSSHClient{dialError: errors.New("mock dial error")}
	manager := UnixCommandManager{
		Hostname:  "remote",
		SSHClient: dialer,
		Credentials: Credentials{
			User:     "user",
			Password: "password",
		},
	}

	_, err := manager.RunRemote(context.Background(), CommandConfig{Command: "ls"})

	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrTransportUnreachable)
	assert.Contains(t, err.Error(), "mock dial error")
	assert.Equal(t, 1, dialer.dials)
}

func TestRunRemoteWithoutDialer(t *testing.T) {
	manager := UnixCommandManager{Hostname: "remote", Credentials: Credentials{Password: "x"}}

	_, err := manager.Run(context.Background(), CommandConfig{Command: "true"})

	assert.ErrorIs(t, err, errdefs.ErrTransportUnreachable)
}

func TestAddressDefaultsToPort22(t *testing.T) {
	manager := UnixCommandManager{Hostname: "example.com"}
	assert.Equal(t, "example.com:22", manager.address())

	manager.Port = 2222
	assert.Equal(t, "example.com:2222", manager.address())
}

func TestCommandLine(t *testing.T) {
	tests := []struct {
		name   string
		config CommandConfig
		want   string
	}{
		{"plain", CommandConfig{Command: "dnf -y install", Args: []string{"git"}}, "dnf -y install git"},
		{"quoted arg", CommandConfig{Command: "rm -rf --", Args: []string{"/tmp/a b"}}, "rm -rf -- '/tmp/a b'"},
		{"sudo", CommandConfig{Command: "yum -y install git", Sudo: true}, "sudo -S -p '' sh -c 'yum -y install git'"},
		{"env", CommandConfig{Command: "apt-get -qy install vim", Env: []string{"DEBIAN_FRONTEND=noninteractive"}},
			"env DEBIAN_FRONTEND=noninteractive sh -c 'apt-get -qy install vim'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.Line())
		})
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "''", Quote(""))
	assert.Equal(t, "git", Quote("git"))
	assert.Equal(t, "/usr/bin/x-1.2", Quote("/usr/bin/x-1.2"))
	assert.Equal(t, "'a b'", Quote("a b"))
	assert.Equal(t, `'it'"'"'s'`, Quote("it's"))
	assert.Equal(t, "'$(reboot)'", Quote("$(reboot)"))
}

func TestSudoFailure(t *testing.T) {
	result := CommandResult{Command: "sudo true", ExitCode: 1, STDERR: "Sorry, try again.\nsudo: 1 incorrect password attempt"}
	err := sudoFailure(result)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrCommandFailed)

	assert.NoError(t, sudoFailure(CommandResult{ExitCode: 1, STDERR: "no such package"}))
}
