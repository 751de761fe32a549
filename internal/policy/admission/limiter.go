// Package admission implements progressive-delay admission control for the
// metered scrape dependency. Instead of rejecting over-quota clients it
// computes a delay the caller must await, derived from trailing-window sums
// over an append-only call log. Trailing windows avoid the reset-boundary
// gaming a fixed-bucket counter invites while keeping the read path to two
// aggregate sums.
package admission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nwhited/characterimg/internal/character"
)

const (
	clientWindow    = 5 * time.Minute
	globalWindow    = time.Minute
	clientFreeCalls = 20
	globalFreeCalls = 100
	clientStep      = 10 * time.Second
	globalStep      = 5 * time.Second
	maxDelay        = 60 * time.Second
)

// Controller computes admission delays and records completed call batches.
type Controller struct {
	log    character.RateLimitLog
	clock  character.Clock
	logger *zap.Logger
}

// New constructs a Controller.
func New(log character.RateLimitLog, clock character.Clock, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{log: log, clock: clock, logger: logger}
}

// ComputeDelay returns how long the given client must wait before its next
// batch of remote calls. A store read failure degrades to zero delay so the
// user-facing request still proceeds.
func (c *Controller) ComputeDelay(ctx context.Context, clientIdentity string) time.Duration {
	now := c.clock.Now()

	clientTotal, err := c.log.SumForClient(ctx, clientIdentity, now.Add(-clientWindow))
	if err != nil {
		c.logger.Warn("rate limit client sum failed, assuming zero usage",
			zap.String("client", clientIdentity), zap.Error(err))
		clientTotal = 0
	}
	globalTotal, err := c.log.SumGlobal(ctx, now.Add(-globalWindow))
	if err != nil {
		c.logger.Warn("rate limit global sum failed, assuming zero usage", zap.Error(err))
		globalTotal = 0
	}

	delay := time.Duration(max(0, clientTotal-clientFreeCalls))*clientStep +
		time.Duration(max(0, globalTotal-globalFreeCalls))*globalStep
	if delay > maxDelay {
		delay = maxDelay
	}
	if delay > 0 {
		c.logger.Info("admission delay imposed",
			zap.String("client", clientIdentity),
			zap.Int("client_total", clientTotal),
			zap.Int("global_total", globalTotal),
			zap.Duration("delay", delay))
	}
	return delay
}

// Record appends one log row covering a batch of callCount successful remote
// calls for the client. Append failures are logged and swallowed: losing a
// row under-counts usage, which only makes the limiter more permissive.
func (c *Controller) Record(ctx context.Context, clientIdentity string, callCount int) {
	if callCount <= 0 {
		return
	}
	event := character.RateLimitEvent{
		ID:             uuid.NewString(),
		ClientIdentity: clientIdentity,
		CallCount:      callCount,
		OccurredAt:     c.clock.Now(),
	}
	if err := c.log.Append(ctx, event); err != nil {
		c.logger.Warn("rate limit append failed",
			zap.String("client", clientIdentity), zap.Error(err))
	}
}
