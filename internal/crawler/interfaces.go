package crawler

import "context"

// Lister enumerates one page of a listing view. Errors are fatal to the run.
type Lister interface {
	Listing(ctx context.Context, view View, after string) (ListingPage, error)
}

// CommentExpander resolves a post's full comment tree and flattens it into
// comment bodies in traversal order.
type CommentExpander interface {
	Comments(ctx context.Context, postID string) ([]string, error)
}

// TitleResolver looks up the title of a linked page. It never fails; errors
// are carried inside the result.
type TitleResolver interface {
	Resolve(ctx context.Context, url string) TitleResult
}

// Claimer answers whether a post id may be processed by the caller.
type Claimer interface {
	Claim(id string) bool
}

// Queue provides enqueue/dequeue semantics between producer and workers.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	// Done acknowledges one dequeued item.
	Done()
}

// RecordSink persists finished records. Errors are fatal to the run.
type RecordSink interface {
	Write(ctx context.Context, record Record) error
}
