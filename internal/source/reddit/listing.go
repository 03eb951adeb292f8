package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/subreddit-archiver/internal/crawler"
)

// Listing fetches one page of the given view, starting after the cursor.
func (c *Client) Listing(ctx context.Context, view crawler.View, after string) (crawler.ListingPage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.pageSize))
	if after != "" {
		query.Set("after", after)
	}
	if view == crawler.ViewTop {
		query.Set("t", c.topTimeFilter)
	}

	var resp listing
	path := fmt.Sprintf("/r/%s/%s", url.PathEscape(c.subreddit), view)
	if err := c.getJSON(ctx, path, query, &resp); err != nil {
		return crawler.ListingPage{}, fmt.Errorf("list %s: %w", view, err)
	}
	if resp.Kind != kindListing {
		return crawler.ListingPage{}, fmt.Errorf("list %s: unexpected kind %q", view, resp.Kind)
	}

	page := crawler.ListingPage{Posts: make([]crawler.Post, 0, len(resp.Data.Children))}
	for _, child := range resp.Data.Children {
		if child.Kind != kindLink {
			continue
		}
		var link linkData
		if err := json.Unmarshal(child.Data, &link); err != nil {
			return crawler.ListingPage{}, fmt.Errorf("list %s: decode post: %w", view, err)
		}
		page.Posts = append(page.Posts, link.post())
	}
	if resp.Data.After != nil {
		page.After = *resp.Data.After
	}
	c.logger.Debug("fetched listing page",
		zap.String("view", string(view)),
		zap.String("after", after),
		zap.Int("posts", len(page.Posts)),
		zap.String("next", page.After),
	)
	return page, nil
}
