package forum

import (
	"context"
	"errors"
)

// Reader reconstructs the post → reply → sub-reply hierarchy in three
// batched passes, deliberately avoiding per-post and per-reply round trips.
type Reader struct {
	store Store
}

// NewReader constructs a Reader.
func NewReader(store Store) (*Reader, error) {
	if store == nil {
		return nil, errors.New("forum store is required")
	}
	return &Reader{store: store}, nil
}

// Page returns one listing page. Donation-linked posts never appear; their
// replies are excluded transitively because the reply fetches only ever see
// post ids that survived the exclusion filter. limit is clamped to at least
// one and offset to at least zero.
func (r *Reader) Page(ctx context.Context, limit, offset int) (Page, error) {
	if limit < 1 {
		limit = 1
	}
	if offset < 0 {
		offset = 0
	}

	// Pass 0: the exclusion set, computed once per request.
	excluded, err := r.store.DonationLinkedPostIDs(ctx)
	if err != nil {
		return Page{}, err
	}

	// Pass 1: one page of posts with author projection.
	posts, err := r.store.ListPosts(ctx, excluded, limit, offset)
	if err != nil {
		return Page{}, err
	}
	page := Page{Posts: posts, HasMore: len(posts) == limit}
	if len(posts) == 0 {
		page.Posts = []Post{}
		return page, nil
	}

	postIDs := make([]string, len(posts))
	for i := range posts {
		postIDs[i] = posts[i].ID
	}

	// Pass 2: all top-level replies for the page, one query.
	topLevel, err := r.store.ListTopLevelReplies(ctx, postIDs)
	if err != nil {
		return Page{}, err
	}

	// Pass 3: all sub-replies of those replies, one query.
	var subReplies []Reply
	if len(topLevel) > 0 {
		parentIDs := make([]string, len(topLevel))
		for i := range topLevel {
			parentIDs[i] = topLevel[i].ID
		}
		subReplies, err = r.store.ListSubReplies(ctx, parentIDs)
		if err != nil {
			return Page{}, err
		}
	}

	// Group in memory: sub-replies under their parent, replies under their
	// post. Store ordering (oldest first) is preserved by the grouping.
	childrenByParent := make(map[string][]Reply, len(topLevel))
	for _, sub := range subReplies {
		sub.SubReplies = []Reply{}
		childrenByParent[sub.ParentReplyID] = append(childrenByParent[sub.ParentReplyID], sub)
	}
	repliesByPost := make(map[string][]Reply, len(posts))
	for _, reply := range topLevel {
		reply.SubReplies = childrenByParent[reply.ID]
		if reply.SubReplies == nil {
			reply.SubReplies = []Reply{}
		}
		repliesByPost[reply.PostID] = append(repliesByPost[reply.PostID], reply)
	}
	for i := range page.Posts {
		page.Posts[i].Replies = repliesByPost[page.Posts[i].ID]
		if page.Posts[i].Replies == nil {
			page.Posts[i].Replies = []Reply{}
		}
	}
	return page, nil
}
