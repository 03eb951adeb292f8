// Package producer enumerates subreddit listings and feeds posts into the
// work queue.
package producer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/subreddit-archiver/internal/crawler"
	"github.com/JakeFAU/subreddit-archiver/internal/metrics"
)

// Producer walks each configured view to exhaustion, then signals the workers
// to stop.
type Producer struct {
	lister  crawler.Lister
	queue   crawler.Queue
	views   []crawler.View
	workers int
	logger  *zap.Logger
}

// New constructs a Producer. workers is the number of shutdown markers
// enqueued once every view is exhausted.
func New(lister crawler.Lister, queue crawler.Queue, views []crawler.View, workers int, logger *zap.Logger) (*Producer, error) {
	if lister == nil {
		return nil, errors.New("producer: lister is required")
	}
	if queue == nil {
		return nil, errors.New("producer: queue is required")
	}
	if workers <= 0 {
		return nil, fmt.Errorf("producer: workers must be positive, got %d", workers)
	}
	if len(views) == 0 {
		views = crawler.DefaultViews()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		lister:  lister,
		queue:   queue,
		views:   append([]crawler.View(nil), views...),
		workers: workers,
		logger:  logger.Named("producer"),
	}, nil
}

// Run enqueues every post of every view, in view order, followed by one
// shutdown marker per worker. A listing error aborts the run and no markers
// are enqueued; callers cancel the workers through the context instead.
func (p *Producer) Run(ctx context.Context) error {
	p.logger.Info("Started getting posts", zap.Int("views", len(p.views)))
	total := 0
	for _, view := range p.views {
		n, err := p.drainView(ctx, view)
		if err != nil {
			return err
		}
		total += n
	}
	p.logger.Info("Finished getting posts", zap.Int("posts", total))

	for i := 0; i < p.workers; i++ {
		if err := p.queue.Enqueue(ctx, crawler.Shutdown()); err != nil {
			return fmt.Errorf("enqueue shutdown marker: %w", err)
		}
	}
	return nil
}

func (p *Producer) drainView(ctx context.Context, view crawler.View) (int, error) {
	count := 0
	after := ""
	for {
		page, err := p.lister.Listing(ctx, view, after)
		if err != nil {
			return count, fmt.Errorf("listing %s: %w", view, err)
		}
		for _, post := range page.Posts {
			if err := p.queue.Enqueue(ctx, crawler.Work(post)); err != nil {
				return count, fmt.Errorf("enqueue post %s: %w", post.ID, err)
			}
			metrics.ObservePostEnqueued(string(view))
			count++
		}
		// A repeated cursor would loop forever; treat it as the end.
		if page.After == "" || page.After == after || len(page.Posts) == 0 {
			break
		}
		after = page.After
	}
	p.logger.Info("view exhausted", zap.String("view", string(view)), zap.Int("posts", count))
	return count, nil
}
