// Package ratelimit enforces per-domain request windows and retry backoff
// around individual fetch attempts.
package ratelimit

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/patchtrace/patchtrace/internal/advisory"
)

// Config holds controller tuning knobs.
type Config struct {
	// MinInterval is the minimum gap between two requests to one domain.
	MinInterval time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

const (
	defaultMinInterval = 2 * time.Second
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 8 * time.Second
)

// Controller serializes access to each source domain and retries transient
// failures with jittered exponential backoff. All waits honor the context.
type Controller struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      Config
	logger   *zap.Logger
}

// New builds a Controller, filling zero config values with defaults.
func New(cfg Config, logger *zap.Logger) *Controller {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
		logger:   logger,
	}
}

// Attempt is a single strategy invocation wrapped by the controller.
type Attempt func(ctx context.Context) (advisory.FetchResponse, error)

// Execute waits for the domain window, runs the attempt, and retries it on
// retryable failures up to the configured bound. The last response is
// returned together with its classification; err is non-nil only when no
// response at all could be produced.
func (c *Controller) Execute(
	ctx context.Context,
	domain string,
	attempt Attempt,
) (advisory.FetchResponse, advisory.ErrorKind, error) {
	var (
		resp    advisory.FetchResponse
		kind    advisory.ErrorKind
		lastErr error
	)

	for i := 0; i < c.cfg.MaxAttempts; i++ {
		if err := c.waitWindow(ctx, domain); err != nil {
			return resp, advisory.ErrorNetworkTransient, err
		}

		resp, lastErr = attempt(ctx)
		kind = advisory.Classify(resp, lastErr)
		if kind == advisory.ErrorNone {
			return resp, kind, nil
		}
		if !advisory.Retryable(kind) {
			c.logger.Debug("terminal fetch failure",
				zap.String("domain", domain),
				zap.String("kind", string(kind)),
				zap.Int("attempt", i+1),
			)
			return resp, kind, lastErr
		}
		if i+1 < c.cfg.MaxAttempts {
			delay := c.backoff(i)
			c.logger.Debug("retrying after transient failure",
				zap.String("domain", domain),
				zap.Duration("backoff", delay),
				zap.Int("attempt", i+1),
			)
			if err := sleepCtx(ctx, delay); err != nil {
				return resp, kind, err
			}
		}
	}
	return resp, kind, lastErr
}

// waitWindow blocks until the domain's window opens, creating the limiter on
// first contact.
func (c *Controller) waitWindow(ctx context.Context, domain string) error {
	c.mu.Lock()
	limiter, ok := c.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(c.cfg.MinInterval), 1)
		c.limiters[domain] = limiter
	}
	c.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// backoff returns the base*2^attempt delay capped at MaxDelay, with half the
// value replaced by random jitter to avoid aligned retries across domains.
func (c *Controller) backoff(attempt int) time.Duration {
	delay := float64(c.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(c.cfg.MaxDelay) {
		delay = float64(c.cfg.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
