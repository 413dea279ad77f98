package worker

import (
	"context"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/service"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// Sweeper runs the two background reconciliation passes:
//
//  1. fulfillment sweep — completed orders whose inventory decrement
//     never confirmed get the decrement retried;
//  2. stale-pending sweep — pending orders whose buyer paid and then
//     closed the tab get re-reconciled against the gateway, so a
//     successful payment is never stranded waiting for a client call.
type Sweeper struct {
	store      service.OrderStore
	reconciler *service.Reconciler
	interval   time.Duration
	staleAge   time.Duration
	batchSize  int
	logger     *zap.Logger
	done       chan struct{}
}

// NewSweeper creates a new background sweeper.
func NewSweeper(store service.OrderStore, reconciler *service.Reconciler, interval, staleAge time.Duration, batchSize int) *Sweeper {
	return &Sweeper{
		store:      store,
		reconciler: reconciler,
		interval:   interval,
		staleAge:   staleAge,
		batchSize:  batchSize,
		logger:     util.GetLogger(),
		done:       make(chan struct{}),
	}
}

// Start runs the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting reconciliation sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("stale_age", s.staleAge))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			s.sweepUnfulfilled(ctx)
			s.sweepStalePending(ctx)
		}
	}
}

// Done is closed when the sweep loop has exited.
func (s *Sweeper) Done() <-chan struct{} {
	return s.done
}

func (s *Sweeper) sweepUnfulfilled(ctx context.Context) {
	util.SweepRunsTotal.WithLabelValues("fulfillment").Inc()

	orders, err := s.store.ListUnfulfilledCompleted(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("Fulfillment sweep query failed", zap.Error(err))
		return
	}

	for _, order := range orders {
		s.logger.Info("Retrying deferred fulfillment", zap.Int64("order_id", order.ID))
		s.reconciler.RetryFulfillment(ctx, order.ID)
	}
}

func (s *Sweeper) sweepStalePending(ctx context.Context) {
	util.SweepRunsTotal.WithLabelValues("stale_pending").Inc()

	orders, err := s.store.ListStalePending(ctx, s.staleAge, s.batchSize)
	if err != nil {
		s.logger.Error("Stale-pending sweep query failed", zap.Error(err))
		return
	}

	for i := range orders {
		order := &orders[i]
		if _, err := s.reconciler.ReconcileSession(ctx, order); err != nil {
			if apperr.Retryable(err) {
				s.logger.Warn("Stale order reconciliation failed, will retry next sweep",
					zap.Int64("order_id", order.ID), zap.Error(err))
			} else {
				s.logger.Error("Stale order reconciliation failed",
					zap.Int64("order_id", order.ID), zap.Error(err))
			}
		}
	}
}
