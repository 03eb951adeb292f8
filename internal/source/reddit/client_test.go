package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/subreddit-archiver/internal/crawler"
)

const testAgent = "archiver-test/1.0"

// fakeReddit serves the token endpoint and whatever API handlers a test adds.
type fakeReddit struct {
	t          *testing.T
	mux        *http.ServeMux
	srv        *httptest.Server
	tokenCalls atomic.Int32
	mu         sync.Mutex
	requests   []string
}

func newFakeReddit(t *testing.T) *fakeReddit {
	t.Helper()
	f := &fakeReddit{t: t, mux: http.NewServeMux()}
	f.mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "id" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.UserAgent() != testAgent {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
	})
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/access_token" {
			if r.Header.Get("Authorization") != "Bearer tok" || r.UserAgent() != testAgent {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			if r.URL.Query().Get("raw_json") != "1" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			f.requests = append(f.requests, r.URL.RequestURI())
			f.mu.Unlock()
		}
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeReddit) client() *Client {
	f.t.Helper()
	c, err := New(Config{
		Subreddit:    "golang",
		ClientID:     "id",
		ClientSecret: "secret",
		UserAgent:    testAgent,
		BaseURL:      f.srv.URL,
		TokenURL:     f.srv.URL + "/api/v1/access_token",
		PageSize:     2,
	}, nil)
	require.NoError(f.t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func linkThing(id string) map[string]any {
	return map[string]any{
		"kind": "t3",
		"data": map[string]any{
			"id":              id,
			"author":          "user-" + id,
			"title":           "Title " + id,
			"selftext":        "see https://example.com/" + id,
			"score":           5,
			"ups":             6,
			"downs":           0,
			"link_flair_text": nil,
			"created_utc":     1700000000.0,
			"permalink":       "/r/golang/comments/" + id + "/x/",
		},
	}
}

func commentThing(id, parent, body string, replies ...map[string]any) map[string]any {
	var rep any = ""
	if len(replies) > 0 {
		children := make([]any, 0, len(replies))
		for _, r := range replies {
			children = append(children, r)
		}
		rep = map[string]any{"kind": "Listing", "data": map[string]any{"children": children}}
	}
	return map[string]any{
		"kind": "t1",
		"data": map[string]any{
			"id":        id,
			"name":      "t1_" + id,
			"parent_id": parent,
			"body":      body,
			"replies":   rep,
		},
	}
}

func moreThing(id, parent string, children ...string) map[string]any {
	if children == nil {
		children = []string{}
	}
	return map[string]any{
		"kind": "more",
		"data": map[string]any{
			"id":        id,
			"name":      "t1_" + id,
			"parent_id": parent,
			"count":     len(children),
			"children":  children,
		},
	}
}

func listingOf(after any, things ...map[string]any) map[string]any {
	children := make([]any, 0, len(things))
	for _, th := range things {
		children = append(children, th)
	}
	return map[string]any{
		"kind": "Listing",
		"data": map[string]any{"after": after, "children": children},
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{ClientID: "id", ClientSecret: "s", UserAgent: "ua"}, nil)
	assert.Error(t, err)
	_, err = New(Config{Subreddit: "golang", ClientID: "id", UserAgent: "ua"}, nil)
	assert.Error(t, err)
}

func TestListingPaginates(t *testing.T) {
	t.Parallel()

	f := newFakeReddit(t)
	f.mux.HandleFunc("/r/golang/top", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("t"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		switch r.URL.Query().Get("after") {
		case "":
			writeJSON(w, listingOf("t3_b", linkThing("a"), linkThing("b")))
		case "t3_b":
			writeJSON(w, listingOf(nil, linkThing("c")))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	c := f.client()
	ctx := context.Background()

	page, err := c.Listing(ctx, crawler.ViewTop, "")
	require.NoError(t, err)
	require.Len(t, page.Posts, 2)
	assert.Equal(t, "t3_b", page.After)
	assert.Equal(t, "a", page.Posts[0].ID)
	assert.Equal(t, "user-a", page.Posts[0].Author)
	assert.Nil(t, page.Posts[0].LinkFlairText)
	assert.Equal(t, "https://reddit.com/r/golang/comments/a/x/", page.Posts[0].PermalinkURL())

	page, err = c.Listing(ctx, crawler.ViewTop, page.After)
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Empty(t, page.After)
	assert.EqualValues(t, 1, f.tokenCalls.Load(), "token is reused across requests")
}

func TestListingErrorStatus(t *testing.T) {
	t.Parallel()

	f := newFakeReddit(t)
	f.mux.HandleFunc("/r/golang/new", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := f.client().Listing(context.Background(), crawler.ViewNew, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestCommentsExpandsPlaceholdersBreadthFirst(t *testing.T) {
	t.Parallel()

	f := newFakeReddit(t)
	f.mux.HandleFunc("/comments/p1", func(w http.ResponseWriter, r *http.Request) {
		post := listingOf(nil, linkThing("p1"))
		switch r.URL.Query().Get("comment") {
		case "":
			writeJSON(w, []any{post, listingOf(nil,
				commentThing("c1", "t3_p1", "c1",
					commentThing("c1a", "t1_c1", "c1a",
						moreThing("_", "t1_c1a"),
					),
				),
				commentThing("c2", "t3_p1", "c2"),
				moreThing("m1", "t3_p1", "c3", "c2a"),
			)})
		case "c1a":
			writeJSON(w, []any{post, listingOf(nil,
				commentThing("c1a", "t1_c1", "c1a",
					commentThing("deep", "t1_c1a", "deep"),
				),
			)})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	f.mux.HandleFunc("/api/morechildren", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "t3_p1", q.Get("link_id"))
		assert.Equal(t, "json", q.Get("api_type"))
		assert.Equal(t, "c3,c2a", q.Get("children"))
		writeJSON(w, map[string]any{"json": map[string]any{
			"errors": []any{},
			"data": map[string]any{"things": []any{
				commentThing("c3", "t3_p1", "c3"),
				commentThing("c2a", "t1_c2", "c2a"),
			}},
		}})
	})

	comments, err := f.client().Comments(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3", "c1a", "c2a", "deep"}, comments)
}

func TestCommentsBatchesMoreChildren(t *testing.T) {
	t.Parallel()

	ids := make([]string, 150)
	for i := range ids {
		ids[i] = fmt.Sprintf("k%03d", i)
	}
	var batches atomic.Int32
	f := newFakeReddit(t)
	f.mux.HandleFunc("/comments/p2", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []any{listingOf(nil, linkThing("p2")), listingOf(nil, moreThing("m", "t3_p2", ids...))})
	})
	f.mux.HandleFunc("/api/morechildren", func(w http.ResponseWriter, r *http.Request) {
		batches.Add(1)
		requested := strings.Split(r.URL.Query().Get("children"), ",")
		assert.LessOrEqual(t, len(requested), moreChildrenBatch)
		things := make([]any, 0, len(requested))
		for _, id := range requested {
			things = append(things, commentThing(id, "t3_p2", id))
		}
		writeJSON(w, map[string]any{"json": map[string]any{"errors": []any{}, "data": map[string]any{"things": things}}})
	})

	comments, err := f.client().Comments(context.Background(), "p2")
	require.NoError(t, err)
	assert.Equal(t, ids, comments)
	assert.EqualValues(t, 2, batches.Load())
}

func TestCommentsErrorIsReturned(t *testing.T) {
	t.Parallel()

	f := newFakeReddit(t)
	f.mux.HandleFunc("/comments/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := f.client().Comments(context.Background(), "gone")
	assert.Error(t, err)
}

func TestCommentsNoComments(t *testing.T) {
	t.Parallel()

	f := newFakeReddit(t)
	f.mux.HandleFunc("/comments/quiet", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []any{listingOf(nil, linkThing("quiet")), listingOf(nil)})
	})
	comments, err := f.client().Comments(context.Background(), "quiet")
	require.NoError(t, err)
	assert.NotNil(t, comments)
	assert.Empty(t, comments)
}
