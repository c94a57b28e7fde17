package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"eventRelay/internal/dispatch"
	"eventRelay/internal/history"
	"eventRelay/internal/metrics"
	"eventRelay/internal/model"
	"eventRelay/internal/source"
	"eventRelay/internal/store"
)

// PageLimit bounds one poll of the events table.
const PageLimit = 10000

// TableRunner polls an indexer-maintained events table instead of following
// blocks over HTTP. Only event rows exist in this mode.
type TableRunner struct {
	cfg        RunConfig
	source     *source.PGSource
	events     *history.Buffer
	dispatcher *dispatch.Dispatcher
	store      store.Store
	logger     *zap.Logger

	cursor uint64
}

func NewTableRunner(
	cfg RunConfig,
	src *source.PGSource,
	events *history.Buffer,
	dispatcher *dispatch.Dispatcher,
	st store.Store,
	logger *zap.Logger,
) *TableRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = DefaultPollDelay
	}
	return &TableRunner{
		cfg:        cfg,
		source:     src,
		events:     events,
		dispatcher: dispatcher,
		store:      st,
		logger:     logger,
	}
}

// Run resolves the starting cursor and polls until ctx is cancelled.
func (r *TableRunner) Run(ctx context.Context) error {
	if r.source == nil {
		return fmt.Errorf("source is nil")
	}
	if err := r.resolveCursor(ctx); err != nil {
		return err
	}
	r.logger.Info("table ingestion start", zap.Uint64("last_block", r.cursor))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rows, maxHeight, err := r.source.EventsAfter(ctx, r.cursor, PageLimit)
		if err != nil {
			metrics.BlocksProcessed.WithLabelValues("error").Inc()
			r.logger.Warn("poll events failed, will retry", zap.Error(err))
		} else if len(rows) > 0 {
			metrics.RowsDecoded.WithLabelValues(string(model.KindEvents)).Add(float64(len(rows)))
			r.events.Append(rows)
			r.dispatcher.Dispatch(rows)
			r.cursor = maxHeight
			if r.store != nil {
				if err := r.store.Put(store.KeyLastBlock, maxHeight); err != nil {
					r.logger.Error("save cursor", zap.Error(err))
				}
			}
			metrics.BlocksProcessed.WithLabelValues("ok").Inc()
			r.logger.Info("rows ingested", zap.Int("events", len(rows)), zap.Uint64("last_block", maxHeight))
		}

		timer := time.NewTimer(r.cfg.PollDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *TableRunner) resolveCursor(ctx context.Context) error {
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
	head, err := r.source.LastHeight(ctx)
	if err != nil {
		return fmt.Errorf("resolve start height: %w", err)
	}
	r.cursor = head
	return nil
}
