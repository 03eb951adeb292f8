package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// moreChildrenBatch is the most ids /api/morechildren accepts per call.
const moreChildrenBatch = 100

type commentNode struct {
	body    string
	replies []*commentNode
}

// commentTree rebuilds a post's comment forest while "more" placeholders are
// resolved, then flattens it breadth-first.
type commentTree struct {
	linkName string
	roots    []*commentNode
	byName   map[string]*commentNode
	pending  []moreData
	expanded map[string]bool
}

func newCommentTree(postID string) *commentTree {
	return &commentTree{
		linkName: kindLink + "_" + postID,
		byName:   make(map[string]*commentNode),
		expanded: make(map[string]bool),
	}
}

func (t *commentTree) attach(parentName string, node *commentNode) {
	if parent, ok := t.byName[parentName]; ok {
		parent.replies = append(parent.replies, node)
		return
	}
	// Top-level comments, and orphans whose parent was never delivered.
	t.roots = append(t.roots, node)
}

func (t *commentTree) add(things []thing) error {
	for _, th := range things {
		switch th.Kind {
		case kindComment:
			var data commentData
			if err := json.Unmarshal(th.Data, &data); err != nil {
				return fmt.Errorf("decode comment: %w", err)
			}
			if _, dup := t.byName[data.Name]; dup && data.Name != "" {
				continue
			}
			node := &commentNode{body: data.Body}
			t.attach(data.ParentID, node)
			if data.Name != "" {
				t.byName[data.Name] = node
			}
			replies, err := data.replyThings()
			if err != nil {
				return err
			}
			if err := t.add(replies); err != nil {
				return err
			}
		case kindMore:
			var data moreData
			if err := json.Unmarshal(th.Data, &data); err != nil {
				return fmt.Errorf("decode more placeholder: %w", err)
			}
			t.pending = append(t.pending, data)
		}
	}
	return nil
}

func (t *commentTree) next() (moreData, bool) {
	for len(t.pending) > 0 {
		m := t.pending[0]
		t.pending = t.pending[1:]
		key := m.Name + "|" + m.ParentID + "|" + strings.Join(m.Children, ",")
		if t.expanded[key] {
			continue
		}
		t.expanded[key] = true
		return m, true
	}
	return moreData{}, false
}

func (t *commentTree) flatten() []string {
	out := make([]string, 0, len(t.byName))
	queue := append([]*commentNode(nil), t.roots...)
	for i := 0; i < len(queue); i++ {
		out = append(out, queue[i].body)
		queue = append(queue, queue[i].replies...)
	}
	return out
}

// Comments returns every comment body of the post, breadth-first, after
// resolving all "load more comments" and "continue this thread" placeholders.
func (c *Client) Comments(ctx context.Context, postID string) ([]string, error) {
	tree := newCommentTree(postID)
	if err := c.loadThread(ctx, tree, postID, ""); err != nil {
		return nil, err
	}

	requests := 0
	for {
		more, ok := tree.next()
		if !ok {
			break
		}
		requests++
		if len(more.Children) == 0 {
			parent := strings.TrimPrefix(more.ParentID, kindComment+"_")
			if err := c.loadThread(ctx, tree, postID, parent); err != nil {
				return nil, err
			}
			continue
		}
		if err := c.loadMoreChildren(ctx, tree, more.Children); err != nil {
			return nil, err
		}
	}

	comments := tree.flatten()
	c.logger.Debug("expanded comments",
		zap.String("post_id", postID),
		zap.Int("comments", len(comments)),
		zap.Int("more_requests", requests),
	)
	return comments, nil
}

// loadThread fetches the comment page of a post, or the subtree rooted at
// focus when focus is set.
func (c *Client) loadThread(ctx context.Context, tree *commentTree, postID, focus string) error {
	query := url.Values{}
	query.Set("limit", "500")
	if focus != "" {
		query.Set("comment", focus)
	}

	var resp []listing
	if err := c.getJSON(ctx, "/comments/"+url.PathEscape(postID), query, &resp); err != nil {
		return fmt.Errorf("fetch comments of %s: %w", postID, err)
	}
	if len(resp) < 2 {
		return fmt.Errorf("fetch comments of %s: expected post and comment listings, got %d", postID, len(resp))
	}
	children := resp[1].Data.Children
	if focus == "" {
		return tree.add(children)
	}

	// The focused comment is already in the tree; only its replies are new.
	for _, th := range children {
		if th.Kind != kindComment {
			continue
		}
		var data commentData
		if err := json.Unmarshal(th.Data, &data); err != nil {
			return fmt.Errorf("decode focused comment: %w", err)
		}
		if _, known := tree.byName[data.Name]; !known {
			if err := tree.add([]thing{th}); err != nil {
				return err
			}
			continue
		}
		replies, err := data.replyThings()
		if err != nil {
			return err
		}
		if err := tree.add(replies); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) loadMoreChildren(ctx context.Context, tree *commentTree, ids []string) error {
	for start := 0; start < len(ids); start += moreChildrenBatch {
		end := min(start+moreChildrenBatch, len(ids))
		query := url.Values{}
		query.Set("api_type", "json")
		query.Set("link_id", tree.linkName)
		query.Set("children", strings.Join(ids[start:end], ","))
		query.Set("limit_children", "false")

		var resp moreChildrenResponse
		if err := c.getJSON(ctx, "/api/morechildren", query, &resp); err != nil {
			return fmt.Errorf("fetch more comments: %w", err)
		}
		if len(resp.JSON.Errors) > 0 {
			return fmt.Errorf("fetch more comments: api errors %v", resp.JSON.Errors)
		}
		if err := tree.add(resp.JSON.Data.Things); err != nil {
			return err
		}
	}
	return nil
}
