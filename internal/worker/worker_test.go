package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/subreddit-archiver/internal/crawler"
	"github.com/JakeFAU/subreddit-archiver/internal/dedup"
	"github.com/JakeFAU/subreddit-archiver/internal/queue/memory"
)

type fakeComments struct {
	mu     sync.Mutex
	bodies map[string][]string
	err    error
	calls  []string
	onCall func()
}

func (f *fakeComments) Comments(_ context.Context, postID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, postID)
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.bodies[postID], nil
}

type fakeTitles struct {
	mu     sync.Mutex
	titles map[string]crawler.TitleResult
	calls  []string
}

func (f *fakeTitles) Resolve(_ context.Context, url string) crawler.TitleResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if r, ok := f.titles[url]; ok {
		return r
	}
	return crawler.TitleOK("")
}

type fakeSink struct {
	mu      sync.Mutex
	records []crawler.Record
	err     error
}

func (f *fakeSink) Write(_ context.Context, record crawler.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeSink) snapshot() []crawler.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.Record(nil), f.records...)
}

type fixture struct {
	queue    *memory.Queue
	claims   *dedup.Set
	comments *fakeComments
	titles   *fakeTitles
	sink     *fakeSink
}

func newFixture() *fixture {
	return &fixture{
		queue:    memory.NewQueue(),
		claims:   dedup.New(),
		comments: &fakeComments{bodies: map[string][]string{}},
		titles:   &fakeTitles{titles: map[string]crawler.TitleResult{}},
		sink:     &fakeSink{},
	}
}

func (f *fixture) worker(t *testing.T, index int) *Worker {
	t.Helper()
	w, err := New(index, Deps{
		Queue:    f.queue,
		Claimer:  f.claims,
		Comments: f.comments,
		Titles:   f.titles,
		Sink:     f.sink,
	}, zap.NewNop())
	require.NoError(t, err)
	return w
}

func (f *fixture) enqueue(t *testing.T, items ...crawler.QueueItem) {
	t.Helper()
	for _, item := range items {
		require.NoError(t, f.queue.Enqueue(context.Background(), item))
	}
}

func runWorker(t *testing.T, w *Worker) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
		return nil
	}
}

func TestWorkerBuildsRecord(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.comments.bodies["p1"] = []string{"first", "second"}
	f.titles.titles["https://a.example/x"] = crawler.TitleOK("A page")
	f.titles.titles["https://b.example"] = crawler.TitleFailed(errors.New("dial tcp: refused"))
	flair := "Discussion"
	post := crawler.Post{
		ID:            "p1",
		Author:        "alice",
		Title:         "hello",
		SelfText:      "see https://a.example/x and https://b.example then https://a.example/x",
		Score:         10,
		Ups:           12,
		LinkFlairText: &flair,
		CreatedUTC:    0,
		Permalink:     "/r/golang/comments/p1/hello/",
	}
	f.enqueue(t, crawler.Work(post), crawler.Shutdown())

	require.NoError(t, runWorker(t, f.worker(t, 0)))

	records := f.sink.snapshot()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "p1", rec.PostID)
	assert.Equal(t, "alice", rec.UserID)
	assert.Equal(t, []string{"first", "second"}, rec.Comments)
	assert.Equal(t, []string{"https://a.example/x", "https://b.example", "https://a.example/x"}, rec.PostURLs)
	assert.Equal(t, []string{"https://a.example/x", "https://b.example"}, rec.URLTitles.Keys())
	assert.Equal(t, []string{"https://a.example/x", "https://b.example"}, f.titles.calls, "one lookup per distinct url")
	failed, ok := rec.URLTitles.Get("https://b.example")
	require.True(t, ok)
	assert.Equal(t, "Error, couldn't get title: dial tcp: refused", failed.String())
	assert.Equal(t, "https://reddit.com/r/golang/comments/p1/hello/", rec.PostPermalink)
	assert.Equal(t, "1970-01-01T00:00:00+00:00", rec.CreatedDate)
	assert.Equal(t, 0, f.queue.Len())
	require.NoError(t, f.queue.Wait(context.Background()), "every item acknowledged")
}

func TestWorkerSkipsClaimedPosts(t *testing.T) {
	t.Parallel()

	f := newFixture()
	require.True(t, f.claims.Claim("dup"))
	f.enqueue(t,
		crawler.Work(crawler.Post{ID: "dup"}),
		crawler.Work(crawler.Post{ID: "fresh"}),
		crawler.Shutdown(),
	)

	require.NoError(t, runWorker(t, f.worker(t, 1)))

	records := f.sink.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "fresh", records[0].PostID)
	assert.Equal(t, []string{"fresh"}, f.comments.calls)
	require.NoError(t, f.queue.Wait(context.Background()))
}

func TestWorkerCommentFailureIsRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.comments.err = errors.New("429 too many requests")
	f.enqueue(t, crawler.Work(crawler.Post{ID: "p"}), crawler.Shutdown())

	require.NoError(t, runWorker(t, f.worker(t, 0)))

	records := f.sink.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, []string{"Error fetching comments: 429 too many requests"}, records[0].Comments)
	assert.Empty(t, records[0].PostURLs)
	assert.NotNil(t, records[0].PostURLs)
	assert.Equal(t, 0, records[0].URLTitles.Len())
}

func TestWorkerSinkErrorIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture()
	boom := errors.New("disk full")
	f.sink.err = boom
	f.enqueue(t,
		crawler.Work(crawler.Post{ID: "p1"}),
		crawler.Work(crawler.Post{ID: "p2"}),
		crawler.Shutdown(),
	)

	err := runWorker(t, f.worker(t, 0))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, f.queue.Len(), "worker stops at the first failed write")
}

func TestWorkerExitsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture()
	w := f.worker(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorkerDropsPostInterruptedByCancel(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.comments.onCall = cancel
	f.comments.err = context.Canceled
	f.enqueue(t, crawler.Work(crawler.Post{ID: "A", SelfText: "see https://a.io"}))

	done := make(chan error, 1)
	go func() { done <- f.worker(t, 0).Run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	assert.Empty(t, f.sink.snapshot(), "interrupted post must not be archived")
	assert.Equal(t, []string{"A"}, f.comments.calls)
	assert.Equal(t, 0, f.queue.Len())
}

func TestWorkerDequeueErrorIsReturned(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.queue.Close()
	err := runWorker(t, f.worker(t, 0))
	require.ErrorIs(t, err, memory.ErrQueueClosed)
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	f := newFixture()
	_, err := New(0, Deps{Queue: f.queue}, nil)
	assert.Error(t, err)
	_, err = New(0, Deps{
		Queue:    f.queue,
		Claimer:  f.claims,
		Comments: f.comments,
		Titles:   f.titles,
	}, nil)
	assert.Error(t, err)
}
