package commandmanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/steelcutops/converge/converge/errdefs"
	"golang.org/x/time/rate"
)

// RateLimitedCommandManager spaces out commands sent to one host so a burst
// of parallel items cannot flood its shell.
type RateLimitedCommandManager struct {
	Inner   CommandManager
	Limiter *rate.Limiter
}

// NewRateLimited returns inner unchanged when perSecond is not positive.
func NewRateLimited(inner CommandManager, perSecond float64, burst int) CommandManager {
	if perSecond <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedCommandManager{Inner: inner, Limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (m *RateLimitedCommandManager) Run(ctx context.Context, config CommandConfig) (CommandResult, error) {
	if err := m.Limiter.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return CommandResult{}, fmt.Errorf("%w: waiting to run %s", errdefs.ErrCancelled, config.Command)
		}
		// Wait also fails early when the deadline is too close to be met.
		return CommandResult{}, fmt.Errorf("%w: waiting to run %s: %v", errdefs.ErrTimeout, config.Command, err)
	}
	return m.Inner.Run(ctx, config)
}
