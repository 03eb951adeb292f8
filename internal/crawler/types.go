package crawler

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// permalinkHost prefixes the site-relative permalink returned by the source.
const permalinkHost = "https://reddit.com"

// View is one enumeration ordering over the subreddit's posts.
type View string

// Supported listing views.
const (
	ViewHot    View = "hot"
	ViewNew    View = "new"
	ViewTop    View = "top"
	ViewRising View = "rising"
)

// DefaultViews returns the four overlapping orderings enumerated by default.
func DefaultViews() []View {
	return []View{ViewHot, ViewNew, ViewTop, ViewRising}
}

// ParseView converts a configured view name into a View.
func ParseView(raw string) (View, error) {
	v := View(strings.ToLower(strings.TrimSpace(raw)))
	switch v {
	case ViewHot, ViewNew, ViewTop, ViewRising:
		return v, nil
	default:
		return "", fmt.Errorf("unknown view %q", raw)
	}
}

// Post is an upstream post handle. It is read-only to the pipeline. Downs is
// whatever the source reports; most sources pin it to zero.
type Post struct {
	ID            string
	Author        string
	Title         string
	SelfText      string
	Score         int
	Ups           int
	Downs         int
	LinkFlairText *string
	CreatedUTC    float64
	Permalink     string
}

// PermalinkURL returns the absolute permalink of the post.
func (p Post) PermalinkURL() string {
	if strings.HasPrefix(p.Permalink, "http://") || strings.HasPrefix(p.Permalink, "https://") {
		return p.Permalink
	}
	return permalinkHost + p.Permalink
}

// ListingPage is one page of a view enumeration. An empty After means the view
// is exhausted.
type ListingPage struct {
	Posts []Post
	After string
}

// Record is the durable unit written once per distinct post.
type Record struct {
	PostID        string   `json:"post_id"`
	UserID        string   `json:"user_id"`
	PostTitle     string   `json:"post_title"`
	PostBody      string   `json:"post_body"`
	NumUpvotes    int      `json:"num_upvotes"`
	NumDownvotes  int      `json:"num_downvotes"`
	PostScore     int      `json:"post_score"`
	Tags          *string  `json:"tags"`
	CreatedDate   string   `json:"created_date"`
	Comments      []string `json:"comments"`
	PostPermalink string   `json:"post_permalink"`
	PostURLs      []string `json:"post_urls"`
	URLTitles     TitleMap `json:"url_titles"`
}

// NewRecord assembles the record for an enriched post.
func NewRecord(post Post, comments []string, urls []string, titles TitleMap) Record {
	if comments == nil {
		comments = []string{}
	}
	if urls == nil {
		urls = []string{}
	}
	return Record{
		PostID:        post.ID,
		UserID:        post.Author,
		PostTitle:     post.Title,
		PostBody:      post.SelfText,
		NumUpvotes:    post.Ups,
		NumDownvotes:  post.Downs,
		PostScore:     post.Score,
		Tags:          post.LinkFlairText,
		CreatedDate:   CreatedDate(post.CreatedUTC),
		Comments:      comments,
		PostPermalink: post.PermalinkURL(),
		PostURLs:      urls,
		URLTitles:     titles,
	}
}

// CreatedDate renders epoch seconds as an ISO-8601 UTC timestamp with an
// explicit +00:00 offset. Sub-second precision is kept to the microsecond and
// only printed when non-zero.
func CreatedDate(epoch float64) string {
	sec, frac := math.Modf(epoch)
	micros := int64(math.Round(frac * 1e6))
	t := time.Unix(int64(sec), micros*int64(time.Microsecond)).UTC()
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02T15:04:05+00:00")
	}
	return t.Format("2006-01-02T15:04:05.000000+00:00")
}

type queueItemKind int

const (
	kindWork queueItemKind = iota + 1
	kindShutdown
)

// QueueItem carries either a post or a shutdown marker. The zero value is
// neither and is rejected by queues.
type QueueItem struct {
	kind queueItemKind
	post Post
}

// Work wraps a post for delivery to a worker.
func Work(post Post) QueueItem {
	return QueueItem{kind: kindWork, post: post}
}

// Shutdown returns the marker that tells one worker to exit.
func Shutdown() QueueItem {
	return QueueItem{kind: kindShutdown}
}

// IsShutdown reports whether the item is a shutdown marker.
func (q QueueItem) IsShutdown() bool {
	return q.kind == kindShutdown
}

// Post returns the wrapped post and whether the item carries one.
func (q QueueItem) Post() (Post, bool) {
	return q.post, q.kind == kindWork
}

// Valid reports whether the item was built with Work or Shutdown.
func (q QueueItem) Valid() bool {
	return q.kind == kindWork || q.kind == kindShutdown
}
