// Package errdefs defines the error taxonomy shared by every layer of the
// convergence engine. Callers classify failures with errors.Is and errors.As.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCommandFailed        = errors.New("command failed")
	ErrProbeFailed          = errors.New("probe failed")
	ErrTimeout              = errors.New("timeout")
	ErrDependencyCycle      = errors.New("dependency cycle")
	ErrDependencyFailed     = errors.New("dependency failed")
	ErrTransportUnreachable = errors.New("transport unreachable")

	ErrCancelled         = errors.New("cancelled")
	ErrNotConverged      = errors.New("item still not in desired state after apply")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDuplicateItem     = errors.New("duplicate item")
	ErrInvalidItem       = errors.New("invalid item")
)

// Output is the captured result of a command that CommandFailedError carries.
// It mirrors the fields of commandmanager.CommandResult without importing it.
type Output struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

// CommandFailedError reports a required command that exited non-zero.
type CommandFailedError struct {
	Output
}

func (e *CommandFailedError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *CommandFailedError) Is(target error) bool { return target == ErrCommandFailed }

// DependencyCycleError lists the item identifiers that form a cycle, in
// dependency order, with the first element repeated at the end.
type DependencyCycleError struct {
	Cycle []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

func (e *DependencyCycleError) Is(target error) bool { return target == ErrDependencyCycle }

// DependencyFailedError is recorded on an item whose predecessor failed.
type DependencyFailedError struct {
	Dependency string
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("dependency %s failed", e.Dependency)
}

func (e *DependencyFailedError) Is(target error) bool { return target == ErrDependencyFailed }

// TransportError wraps a failure to reach a host at all.
type TransportError struct {
	Host string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("host %s unreachable: %v", e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransportUnreachable }

// ProbeError wraps an error raised by a read-only probe.
type ProbeError struct {
	Item string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe of %s failed: %v", e.Item, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

func (e *ProbeError) Is(target error) bool { return target == ErrProbeFailed }

// Diagnostic returns the captured command output attached to err, if any.
func Diagnostic(err error) string {
	var cf *CommandFailedError
	if !errors.As(err, &cf) {
		return ""
	}
	var b strings.Builder
	b.WriteString(cf.Stdout)
	if cf.Stdout != "" && cf.Stderr != "" && !strings.HasSuffix(cf.Stdout, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(cf.Stderr)
	return b.String()
}

// Aborts reports whether err must abort a whole node run rather than a
// single item.
func Aborts(err error) bool {
	return errors.Is(err, ErrDependencyCycle) || errors.Is(err, ErrTransportUnreachable)
}
