package host

import (
	"context"
	"sync"
	"time"

	"github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/hostmanager"
	"github.com/steelcutops/converge/logger"
	"golang.org/x/sync/singleflight"
)

// Session is the per-run view of a host handed to items. It is safe for
// concurrent use by the items of one node.
type Session struct {
	host    *Host
	channel commandmanager.CommandManager
	closer  func() error
	timeout time.Duration
	logger  logger.Logger

	declared hostmanager.Facts
	group    singleflight.Group
	mu       sync.Mutex
	facts    *hostmanager.Facts
}

func (s *Session) Name() string { return s.host.Name }

func (s *Session) Logger() logger.Logger { return s.logger }

// Check runs a command whose exit status is meaningful data, such as an
// existence test. Only transport failures and timeouts are errors.
func (s *Session) Check(ctx context.Context, config commandmanager.CommandConfig) (commandmanager.CommandResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	result, err := s.channel.Run(ctx, config)
	if err != nil {
		return result, err
	}
	s.logger.Debug("Command finished", "command", result.Command, "exit", result.ExitCode, "duration", result.Duration)
	return result, nil
}

// Run runs a command that must succeed; a non-zero exit status is returned
// as *errdefs.CommandFailedError carrying the captured output.
func (s *Session) Run(ctx context.Context, config commandmanager.CommandConfig) (commandmanager.CommandResult, error) {
	result, err := s.Check(ctx, config)
	if err != nil {
		return result, err
	}
	if result.ExitCode != 0 {
		return result, result.Failed()
	}
	return result, nil
}

// Facts returns the node's OS facts, detecting them once per session.
// Declared facts win over detection; concurrent callers share one probe.
func (s *Session) Facts(ctx context.Context) (hostmanager.Facts, error) {
	s.mu.Lock()
	if s.facts != nil {
		f := *s.facts
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	if s.declared.Known() {
		s.store(s.declared)
		return s.declared, nil
	}

	v, err, _ := s.group.Do("facts", func() (interface{}, error) {
		s.mu.Lock()
		cached := s.facts
		s.mu.Unlock()
		if cached != nil {
			return *cached, nil
		}
		hm := &hostmanager.UnixHostManager{CommandManager: checker{s}}
		facts, err := hm.Facts(ctx)
		if err != nil {
			return nil, err
		}
		s.store(facts)
		return facts, nil
	})
	if err != nil {
		return hostmanager.Facts{}, err
	}
	return v.(hostmanager.Facts), nil
}

func (s *Session) store(f hostmanager.Facts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = &f
}

// Close releases the session's connection.
func (s *Session) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// checker adapts a session to commandmanager.CommandManager so that fact
// probes get the session's timeout and rate limit.
type checker struct{ s *Session }

func (c checker) Run(ctx context.Context, config commandmanager.CommandConfig) (commandmanager.CommandResult, error) {
	return c.s.Check(ctx, config)
}
