// Package app wires the archiver components into a runnable job.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/subreddit-archiver/internal/api"
	"github.com/JakeFAU/subreddit-archiver/internal/config"
	"github.com/JakeFAU/subreddit-archiver/internal/crawler"
	"github.com/JakeFAU/subreddit-archiver/internal/dedup"
	"github.com/JakeFAU/subreddit-archiver/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/subreddit-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/subreddit-archiver/internal/logging"
	"github.com/JakeFAU/subreddit-archiver/internal/metrics"
	"github.com/JakeFAU/subreddit-archiver/internal/producer"
	"github.com/JakeFAU/subreddit-archiver/internal/queue/memory"
	"github.com/JakeFAU/subreddit-archiver/internal/source/reddit"
	"github.com/JakeFAU/subreddit-archiver/internal/storage/local"
	"github.com/JakeFAU/subreddit-archiver/internal/worker"
)

const shutdownTimeout = 5 * time.Second

// Source is the upstream the run reads posts and comments from.
type Source interface {
	crawler.Lister
	crawler.CommentExpander
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	source   Source
	resolver crawler.TitleResolver
}

// WithSource replaces the Reddit API client.
func WithSource(src Source) Option {
	return func(o *options) {
		o.source = src
	}
}

// WithTitleResolver replaces the Colly title resolver.
func WithTitleResolver(r crawler.TitleResolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// App is one archive run of a single subreddit.
type App struct {
	cfg        config.Config
	runID      string
	startedAt  time.Time
	logger     *zap.Logger
	queue      *memory.Queue
	claims     *dedup.Set
	writer     *local.ArchiveWriter
	dispatcher *dispatcher.Dispatcher
	server     *http.Server
	listener   net.Listener
	finished   atomic.Bool
}

// Build constructs every component of a run. It creates the archive files,
// so the output directory must be writable.
func Build(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	logger = logging.ForRun(logger, runID.String(), cfg.Source.Subreddit)
	metrics.Init()

	if o.source == nil {
		client, err := reddit.New(cfg.RedditConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("init reddit client: %w", err)
		}
		o.source = client
	}
	if o.resolver == nil {
		o.resolver = collyfetcher.New(cfg.TitleResolverConfig(), logger.Named("titles"))
	}

	views, err := cfg.Views()
	if err != nil {
		return nil, err
	}

	writer, err := local.NewArchiveWriter(cfg.ArchiveWriterConfig(), logger.Named("archive"))
	if err != nil {
		return nil, fmt.Errorf("init archive writer: %w", err)
	}

	queue := memory.NewQueue()
	claims := dedup.New()
	prod, err := producer.New(o.source, queue, views, cfg.Pipeline.Workers, logger)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	workers := make([]dispatcher.Runner, 0, cfg.Pipeline.Workers)
	for i := 0; i < cfg.Pipeline.Workers; i++ {
		w, err := worker.New(i, worker.Deps{
			Queue:    queue,
			Claimer:  claims,
			Comments: o.source,
			Titles:   o.resolver,
			Sink:     writer,
		}, logger)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		workers = append(workers, w)
	}
	dispatch, err := dispatcher.New(prod, workers, logger)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		runID:      runID.String(),
		logger:     logger,
		queue:      queue,
		claims:     claims,
		writer:     writer,
		dispatcher: dispatch,
	}
	if cfg.Server.Addr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.NewServer(a, logger).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a, nil
}

// RunID returns the identifier attached to every log entry of this run.
func (a *App) RunID() string {
	return a.runID
}

// Run executes the pipeline to completion, then closes the archive files and
// stops the status server. Files are closed even when ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	a.startedAt = time.Now()
	if err := a.startServer(); err != nil {
		_ = a.writer.Close()
		return err
	}

	a.logger.Info("archive run started",
		zap.Int("workers", a.cfg.Pipeline.Workers),
		zap.Strings("views", a.cfg.Source.Views),
		zap.String("dir", a.cfg.Archive.Dir),
	)
	runErr := a.dispatcher.Run(ctx)
	a.finished.Store(true)
	a.queue.Close()

	closeErr := a.writer.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("close archive: %w", closeErr)
	}
	a.stopServer()

	stats := a.writer.Stats()
	a.logger.Info("archive run finished",
		zap.Int64("records", stats.Records),
		zap.Int64("bytes", stats.Bytes),
		zap.Int("files", stats.Segment+1),
		zap.Int("claimed", a.claims.Len()),
		zap.Duration("elapsed", time.Since(a.startedAt)),
		zap.Bool("interrupted", ctx.Err() != nil),
	)
	return errors.Join(runErr, closeErr)
}

// Status implements api.StatusProvider.
func (a *App) Status() api.Status {
	return api.Status{
		RunID:     a.runID,
		Subreddit: a.cfg.Source.Subreddit,
		StartedAt: a.startedAt,
		Finished:  a.finished.Load(),
		Claimed:   a.claims.Len(),
		Queued:    a.queue.Len(),
		Archive:   a.writer.Stats(),
	}
}

// StatusAddr returns the bound address of the status server, or "" when it
// is disabled or not yet started.
func (a *App) StatusAddr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

func (a *App) startServer() error {
	if a.server == nil {
		return nil
	}
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
	}
	a.listener = ln
	go func() {
		a.logger.Info("status server started", zap.String("addr", ln.Addr().String()))
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("status server error", zap.Error(err))
		}
	}()
	return nil
}

func (a *App) stopServer() {
	if a.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("status server shutdown error", zap.Error(err))
	}
}
