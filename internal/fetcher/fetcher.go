package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"eventRelay/internal/source"
)

// Defaults matching the upstream block API's latency profile.
const (
	DefaultAttempts     = 10
	DefaultTimeoutStart = 2 * time.Second
	DefaultTimeoutStep  = 500 * time.Millisecond
	DefaultSleepStart   = 100 * time.Millisecond
)

// BlockGetter is the slice of the source client the fetcher needs.
type BlockGetter interface {
	Block(ctx context.Context, height uint64) (*source.RawBlock, error)
	FinalBlock(ctx context.Context) (*source.RawBlock, error)
}

// Config bounds the per-height retry schedule. Each failed attempt grows the
// next attempt's timeout by TimeoutStep and doubles the inter-attempt sleep;
// both reset for every new height.
type Config struct {
	Attempts     int
	TimeoutStart time.Duration
	TimeoutStep  time.Duration
	SleepStart   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.TimeoutStart <= 0 {
		c.TimeoutStart = DefaultTimeoutStart
	}
	if c.TimeoutStep <= 0 {
		c.TimeoutStep = DefaultTimeoutStep
	}
	if c.SleepStart <= 0 {
		c.SleepStart = DefaultSleepStart
	}
	return c
}

// Fetcher acquires raw blocks by height, absorbing transient source failures.
type Fetcher struct {
	source BlockGetter
	cfg    Config
	logger *zap.Logger
}

func New(src BlockGetter, cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{source: src, cfg: cfg.withDefaults(), logger: logger}
}

// Fetch attempts to retrieve the block at height. A nil block with nil error
// means the chain skipped the height. After the attempt budget is spent the
// last error is returned; the caller retries the same height on its next
// cycle.
func (f *Fetcher) Fetch(ctx context.Context, height uint64) (*source.RawBlock, error) {
	timeout := f.cfg.TimeoutStart
	sleep := f.cfg.SleepStart

	var lastErr error
	for attempt := 0; attempt < f.cfg.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		block, err := f.source.Block(attemptCtx, height)
		cancel()
		if err == nil {
			return block, nil
		}
		lastErr = err
		f.logger.Warn("block fetch failed",
			zap.Uint64("height", height),
			zap.Int("attempt", attempt+1),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		timeout += f.cfg.TimeoutStep
		sleep *= 2
	}
	return nil, fmt.Errorf("fetch block %d: %w", height, lastErr)
}

// FinalHeight queries the source for the current finalized head height.
func (f *Fetcher) FinalHeight(ctx context.Context) (uint64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.TimeoutStart)
	defer cancel()

	block, err := f.source.FinalBlock(attemptCtx)
	if err != nil {
		return 0, err
	}
	if block == nil {
		return 0, fmt.Errorf("final block unavailable")
	}
	return block.Block.Header.Height, nil
}
