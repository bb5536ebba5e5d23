package commandmanager

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/logger"
)

const (
	defaultBreakerMaxFailures uint32        = 3
	defaultBreakerTimeout     time.Duration = time.Minute
)

// BreakerSettings configures a transport circuit breaker.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive transport failures that open
	// the circuit.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before one probe is let
	// through.
	Timeout time.Duration
}

// Breaker tracks transport health for one host. It outlives single runs so
// that a host that keeps failing is skipped quickly on later runs.
type Breaker struct {
	host string
	cb   *gobreaker.CircuitBreaker[CommandResult]
}

func NewBreaker(host string, settings BreakerSettings, log logger.Logger) *Breaker {
	maxFailures := settings.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := settings.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	cb := gobreaker.NewCircuitBreaker[CommandResult](gobreaker.Settings{
		Name:        "transport:" + host,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Transport circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		// Only failures to reach the host count against it.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, errdefs.ErrTransportUnreachable)
		},
	})
	return &Breaker{host: host, cb: cb}
}

// Open reports whether the circuit currently rejects commands.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Wrap returns a CommandManager that runs through the breaker.
func (b *Breaker) Wrap(inner CommandManager) CommandManager {
	return &BreakerCommandManager{Inner: inner, Breaker: b}
}

type BreakerCommandManager struct {
	Inner   CommandManager
	Breaker *Breaker
}

func (m *BreakerCommandManager) Run(ctx context.Context, config CommandConfig) (CommandResult, error) {
	result, err := m.Breaker.cb.Execute(func() (CommandResult, error) {
		return m.Inner.Run(ctx, config)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return result, &errdefs.TransportError{Host: m.Breaker.host, Err: err}
	}
	return result, err
}
