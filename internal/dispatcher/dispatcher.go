// Package dispatcher runs the producer and the worker pool as one unit.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner is a pipeline stage that blocks until its work is done.
type Runner interface {
	Run(ctx context.Context) error
}

// Dispatcher fans out queue work to a pool of workers fed by one producer.
type Dispatcher struct {
	producer Runner
	workers  []Runner
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(producer Runner, workers []Runner, logger *zap.Logger) (*Dispatcher, error) {
	if producer == nil {
		return nil, errors.New("dispatcher: producer is required")
	}
	if len(workers) == 0 {
		return nil, errors.New("dispatcher: at least one worker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		producer: producer,
		workers:  workers,
		logger:   logger,
	}, nil
}

// Run starts the producer and every worker, then blocks until all of them
// have returned. The first fatal error cancels the others and is returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := d.producer.Run(gctx); err != nil {
			return fmt.Errorf("producer: %w", err)
		}
		return nil
	})
	for i, w := range d.workers {
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			return nil
		})
	}
	d.logger.Info("pool started", zap.Int("workers", len(d.workers)))
	if err := g.Wait(); err != nil {
		d.logger.Error("pool stopped with error", zap.Error(err))
		return err
	}
	d.logger.Info("pool finished")
	return nil
}
