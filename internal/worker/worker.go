// Package worker implements the per-post processing loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/subreddit-archiver/internal/crawler"
	"github.com/JakeFAU/subreddit-archiver/internal/metrics"
)

// commentErrorPrefix replaces the comment list when expansion fails.
const commentErrorPrefix = "Error fetching comments: "

// Deps groups the collaborators a Worker needs.
type Deps struct {
	Queue    crawler.Queue
	Claimer  crawler.Claimer
	Comments crawler.CommentExpander
	Titles   crawler.TitleResolver
	Sink     crawler.RecordSink
}

func (d Deps) validate() error {
	switch {
	case d.Queue == nil:
		return errors.New("worker: queue is required")
	case d.Claimer == nil:
		return errors.New("worker: claimer is required")
	case d.Comments == nil:
		return errors.New("worker: comment expander is required")
	case d.Titles == nil:
		return errors.New("worker: title resolver is required")
	case d.Sink == nil:
		return errors.New("worker: record sink is required")
	}
	return nil
}

// Worker consumes queue items and turns each claimed post into an archived
// record.
type Worker struct {
	deps   Deps
	index  int
	logger *zap.Logger
}

// New constructs a Worker. index only labels log output.
func New(index int, deps Deps, logger *zap.Logger) (*Worker, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		deps:   deps,
		index:  index,
		logger: logger.Named("worker").With(zap.Int("index", index)),
	}, nil
}

// Run blocks, processing items until a shutdown marker arrives, the context
// finishes, or the sink fails. Only sink and queue failures are returned;
// per-post upstream failures end up inside the record.
func (w *Worker) Run(ctx context.Context) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	processed := 0
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Debug("worker canceled", zap.Int("processed", processed))
				return nil
			}
			return fmt.Errorf("worker %d dequeue: %w", w.index, err)
		}
		if item.IsShutdown() {
			w.deps.Queue.Done()
			w.logger.Info("worker finished", zap.Int("processed", processed))
			return nil
		}

		post, _ := item.Post()
		wrote, err := w.handle(ctx, post)
		w.deps.Queue.Done()
		if err != nil {
			return err
		}
		if wrote {
			processed++
		}
	}
}

// handle processes a single post. It reports whether a record was written.
func (w *Worker) handle(ctx context.Context, post crawler.Post) (bool, error) {
	claimed := w.deps.Claimer.Claim(post.ID)
	metrics.ObserveClaim(claimed)
	if !claimed {
		w.logger.Debug("post already claimed", zap.String("post_id", post.ID))
		return false, nil
	}

	start := time.Now()
	comments := w.comments(ctx, post.ID)

	urls := crawler.ExtractURLs(post.SelfText)
	titles := w.titles(ctx, urls)
	if ctx.Err() != nil {
		// Enrichment was cut short, so its errors describe the shutdown rather
		// than the post. Leave the post unwritten.
		w.logger.Debug("post abandoned on cancel", zap.String("post_id", post.ID))
		return false, nil
	}

	record := crawler.NewRecord(post, comments, urls, titles)
	if err := w.deps.Sink.Write(ctx, record); err != nil {
		return false, fmt.Errorf("write record %s: %w", post.ID, err)
	}
	w.logger.Debug("post archived",
		zap.String("post_id", post.ID),
		zap.Int("comments", len(comments)),
		zap.Int("urls", len(urls)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return true, nil
}

func (w *Worker) comments(ctx context.Context, postID string) []string {
	comments, err := w.deps.Comments.Comments(ctx, postID)
	metrics.ObserveCommentExpansion(err == nil)
	if err != nil {
		w.logger.Warn("comment expansion failed", zap.String("post_id", postID), zap.Error(err))
		return []string{commentErrorPrefix + err.Error()}
	}
	return comments
}

func (w *Worker) titles(ctx context.Context, urls []string) crawler.TitleMap {
	var titles crawler.TitleMap
	for _, url := range crawler.UniqueURLs(urls) {
		titles.Set(url, w.deps.Titles.Resolve(ctx, url))
	}
	return titles
}
