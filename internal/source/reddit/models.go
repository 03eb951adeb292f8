package reddit

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/subreddit-archiver/internal/crawler"
)

// Thing kinds used by the API.
const (
	kindComment = "t1"
	kindLink    = "t3"
	kindMore    = "more"
	kindListing = "Listing"
)

type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type listing struct {
	Kind string `json:"kind"`
	Data struct {
		After    *string `json:"after"`
		Children []thing `json:"children"`
	} `json:"data"`
}

type linkData struct {
	ID            string  `json:"id"`
	Author        string  `json:"author"`
	Title         string  `json:"title"`
	Selftext      string  `json:"selftext"`
	Score         int     `json:"score"`
	Ups           int     `json:"ups"`
	Downs         int     `json:"downs"`
	LinkFlairText *string `json:"link_flair_text"`
	CreatedUTC    float64 `json:"created_utc"`
	Permalink     string  `json:"permalink"`
}

// missingAuthor is archived for posts whose account was deleted, matching how
// existing archives render an absent author.
const missingAuthor = "None"

func (l linkData) post() crawler.Post {
	author := l.Author
	if author == "" || author == "[deleted]" {
		author = missingAuthor
	}
	return crawler.Post{
		ID:            l.ID,
		Author:        author,
		Title:         l.Title,
		SelfText:      l.Selftext,
		Score:         l.Score,
		Ups:           l.Ups,
		Downs:         l.Downs,
		LinkFlairText: l.LinkFlairText,
		CreatedUTC:    l.CreatedUTC,
		Permalink:     l.Permalink,
	}
}

type commentData struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	ParentID string          `json:"parent_id"`
	Body     string          `json:"body"`
	Replies  json.RawMessage `json:"replies"`
}

// replyThings returns the children of the nested replies listing. The API
// sends an empty string instead of a listing when there are no replies.
func (c commentData) replyThings() ([]thing, error) {
	raw := bytes.TrimSpace(c.Replies)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, nil
	}
	var l listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decode replies of %s: %w", c.Name, err)
	}
	return l.Data.Children, nil
}

type moreData struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	ParentID string   `json:"parent_id"`
	Count    int      `json:"count"`
	Children []string `json:"children"`
}

type moreChildrenResponse struct {
	JSON struct {
		Errors [][]any `json:"errors"`
		Data   struct {
			Things []thing `json:"things"`
		} `json:"data"`
	} `json:"json"`
}
