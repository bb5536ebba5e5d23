package commandmanager

import (
	"context"
	"strings"
	"time"

	"github.com/steelcutops/converge/converge/errdefs"
)

// CommandConfig describes a single command invocation. Command is passed to
// the shell verbatim and must already be quoted; Args are quoted and
// appended.
type CommandConfig struct {
	Command string
	Args    []string
	Sudo    bool
	Env     []string
}

// Line renders the exact shell line sent to the host.
func (c CommandConfig) Line() string {
	line := c.Command
	if len(c.Args) > 0 {
		line += " " + Join(c.Args)
	}
	if len(c.Env) == 0 && !c.Sudo {
		return line
	}
	line = "sh -c " + Quote(line)
	if len(c.Env) > 0 {
		line = "env " + Join(c.Env) + " " + line
	}
	if c.Sudo {
		line = "sudo -S -p '' " + line
	}
	return line
}

// CommandResult encapsulates the results from a command execution.
type CommandResult struct {
	Command   string
	STDOUT    string
	STDERR    string
	ExitCode  int
	Duration  time.Duration
	Timestamp time.Time
}

// Failed converts a non-zero result into the error recorded on an item.
func (r CommandResult) Failed() *errdefs.CommandFailedError {
	return &errdefs.CommandFailedError{Output: errdefs.Output{
		Command:  r.Command,
		ExitCode: r.ExitCode,
		Stdout:   r.STDOUT,
		Stderr:   r.STDERR,
	}}
}

// CommandManager executes commands on one host. A non-zero exit status is
// reported through CommandResult.ExitCode, not as an error; errors mean the
// command could not be run at all (transport failure, timeout).
type CommandManager interface {
	Run(ctx context.Context, config CommandConfig) (CommandResult, error)
}

// Credentials holds what is needed to log into a host and escalate.
type Credentials struct {
	User           string
	Password       string
	KeyPassphrase  string
	SudoPassword   string
	KnownHostsFile string
}

// sudoFailure maps well-known sudo complaints to a failed command so that a
// misconfigured escalation is never mistaken for an ordinary exit status.
func sudoFailure(result CommandResult) error {
	out := result.STDOUT + result.STDERR
	if strings.Contains(out, "incorrect password") {
		f := result.Failed()
		f.Stderr = "sudo: incorrect password provided\n" + f.Stderr
		return f
	}
	if strings.Contains(out, "is not in the sudoers file") {
		f := result.Failed()
		f.Stderr = "sudo: user is not in the sudoers file\n" + f.Stderr
		return f
	}
	return nil
}
