package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"eventRelay/internal/decoder"
	"eventRelay/internal/dispatch"
	"eventRelay/internal/fetcher"
	"eventRelay/internal/history"
	"eventRelay/internal/metrics"
	"eventRelay/internal/model"
	"eventRelay/internal/store"
)

// DefaultPollDelay paces the loop between heights.
const DefaultPollDelay = time.Second

// RunConfig holds runtime settings for the ingestion loop.
type RunConfig struct {
	// StartHeight overrides the resume point when non-zero.
	StartHeight uint64
	PollDelay   time.Duration
}

// Runner follows the chain head one block at a time: fetch, decode, append to
// history, fan out, advance the cursor. It never stops on a transient error;
// a height that did not decode is retried on the next cycle.
type Runner struct {
	cfg        RunConfig
	fetcher    *fetcher.Fetcher
	decoder    *decoder.Decoder
	events     *history.Buffer
	actions    *history.Buffer
	dispatcher *dispatch.Dispatcher
	store      store.Store
	logger     *zap.Logger

	cursor uint64
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(
	cfg RunConfig,
	blockFetcher *fetcher.Fetcher,
	dec *decoder.Decoder,
	events, actions *history.Buffer,
	dispatcher *dispatch.Dispatcher,
	st store.Store,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = DefaultPollDelay
	}
	return &Runner{
		cfg:        cfg,
		fetcher:    blockFetcher,
		decoder:    dec,
		events:     events,
		actions:    actions,
		dispatcher: dispatcher,
		store:      st,
		logger:     logger,
	}
}

// Run resolves the starting cursor and loops until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if r.fetcher == nil {
		return fmt.Errorf("fetcher is nil")
	}
	if err := r.resolveCursor(ctx); err != nil {
		return err
	}
	r.logger.Info("ingestion start", zap.Uint64("last_block", r.cursor))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.cycle(ctx)

		timer := time.NewTimer(r.cfg.PollDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// cycle processes exactly one height. The cursor advances only when the block
// was fetched and decoded, or when the source reports the height as skipped.
func (r *Runner) cycle(ctx context.Context) {
	height := r.cursor + 1

	start := time.Now()
	block, err := r.fetcher.Fetch(ctx, height)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BlocksProcessed.WithLabelValues("error").Inc()
		r.logger.Warn("height unavailable, will retry", zap.Uint64("height", height), zap.Error(err))
		return
	}
	if block == nil {
		metrics.BlocksProcessed.WithLabelValues("skipped").Inc()
		r.logger.Debug("height skipped by chain", zap.Uint64("height", height))
		r.advance(height)
		return
	}

	events, actions := r.decoder.Decode(block)
	metrics.RowsDecoded.WithLabelValues(string(model.KindEvents)).Add(float64(len(events)))
	metrics.RowsDecoded.WithLabelValues(string(model.KindActions)).Add(float64(len(actions)))

	r.events.Append(events)
	r.actions.Append(actions)

	batch := make([]model.Row, 0, len(events)+len(actions))
	batch = append(batch, events...)
	batch = append(batch, actions...)
	r.dispatcher.Dispatch(batch)

	metrics.BlocksProcessed.WithLabelValues("ok").Inc()
	r.logger.Info("block processed",
		zap.Uint64("height", height),
		zap.Int("events", len(events)),
		zap.Int("actions", len(actions)),
	)
	r.advance(height)
}

func (r *Runner) advance(height uint64) {
	r.cursor = height
	if r.store == nil {
		return
	}
	if err := r.store.Put(store.KeyLastBlock, height); err != nil {
		r.logger.Error("save cursor", zap.Uint64("height", height), zap.Error(err))
	}
}

func (r *Runner) resolveCursor(ctx context.Context) error {
	if r.cfg.StartHeight > 0 {
		r.cursor = r.cfg.StartHeight
		return nil
	}
	if r.store != nil {
		var saved uint64
		found, err := r.store.Get(store.KeyLastBlock, &saved)
		if err != nil {
			return err
		}
		if found && saved > 0 {
			r.cursor = saved
			r.logger.Info("resume from saved cursor", zap.Uint64("last_block", saved))
			return nil
		}
	}
	head, err := r.fetcher.FinalHeight(ctx)
	if err != nil {
		return fmt.Errorf("resolve start height: %w", err)
	}
	r.cursor = head
	return nil
}
