package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tordrt/seedkit/internal/logging"
	"github.com/tordrt/seedkit/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type PacerOptions struct {
	// RequestsPerMinute <= 0 disables pacing.
	RequestsPerMinute float64
	Burst             int
	MaxRetries        int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
}

// Pacer spaces calls with a token bucket. A rate-limit answer halves the
// bucket rate (never below a tenth of the configured rate) and the call is
// retried after max(backoff, Retry-After). Each success gives back a tenth of
// the configured rate until it is reached again.
type Pacer struct {
	lim     *rate.Limiter
	base    rate.Limit
	floor   rate.Limit
	opts    PacerOptions
	log     *zap.Logger
	metrics *metrics.Metrics

	sleep func(ctx context.Context, d time.Duration) error
}

func NewPacer(opts PacerOptions, log *zap.Logger, m *metrics.Metrics) (*Pacer, error) {
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0, got %d", opts.MaxRetries)
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = time.Second
	}
	if opts.BackoffMax < opts.BackoffInitial {
		opts.BackoffMax = opts.BackoffInitial
	}

	base := rate.Inf
	if opts.RequestsPerMinute > 0 {
		base = rate.Limit(opts.RequestsPerMinute / 60)
	}
	return &Pacer{
		lim:     rate.NewLimiter(base, opts.Burst),
		base:    base,
		floor:   base / 10,
		opts:    opts,
		log:     logging.OrNop(log),
		metrics: m,
		sleep:   sleepCtx,
	}, nil
}

// RequestsPerMinute is the current, possibly reduced, rate.
func (p *Pacer) RequestsPerMinute() float64 {
	if p.lim.Limit() == rate.Inf {
		return 0
	}
	return float64(p.lim.Limit()) * 60
}

// Do runs fn once the bucket allows it, retrying on *RateLimitError.
// Any other error is returned immediately.
func (p *Pacer) Do(ctx context.Context, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.BackoffInitial
	b.MaxInterval = p.opts.BackoffMax
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()

	for attempt := 0; ; attempt++ {
		if err := p.lim.Wait(ctx); err != nil {
			return fmt.Errorf("failed waiting for rate limiter: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			p.speedUp()
			return nil
		}

		var rl *RateLimitError
		if !errors.As(err, &rl) {
			return err
		}
		p.metrics.Throttled()
		p.slowDown()
		if attempt >= p.opts.MaxRetries {
			return fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
		}

		delay := b.NextBackOff()
		if rl.RetryAfter > delay {
			delay = rl.RetryAfter
		}
		p.log.Warn("rate limited, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Float64("requests_per_minute", p.RequestsPerMinute()))
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (p *Pacer) slowDown() {
	if p.base == rate.Inf {
		return
	}
	next := p.lim.Limit() / 2
	if next < p.floor {
		next = p.floor
	}
	p.lim.SetLimit(next)
}

func (p *Pacer) speedUp() {
	if p.base == rate.Inf {
		return
	}
	next := p.lim.Limit() + p.base/10
	if next > p.base {
		next = p.base
	}
	p.lim.SetLimit(next)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
