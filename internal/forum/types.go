package forum

import (
	"context"
	"errors"
	"time"

	"dobro.org/internal/auth"
)

var (
	ErrNotFound     = errors.New("forum: not found")
	ErrInvalidInput = errors.New("forum: invalid input")
)

// DefaultPageSize is used when the caller supplies no usable limit.
const DefaultPageSize = 50

// Author is the subject projection embedded in listing responses.
type Author struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Tier  auth.Tier `json:"tier"`
}

// Post is a fully assembled forum entry with its reply tree attached.
type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Author    Author    `json:"author"`
	Replies   []Reply   `json:"replies"`
}

// Reply is one node of the reply tree. Depth is capped at two beneath the
// post: a sub-reply never has children of its own.
type Reply struct {
	ID            string    `json:"id"`
	PostID        string    `json:"post_id"`
	ParentReplyID string    `json:"parent_reply_id,omitempty"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
	Author        Author    `json:"author"`
	SubReplies    []Reply   `json:"sub_replies"`
}

// Page is one listing page.
type Page struct {
	Posts   []Post `json:"posts"`
	HasMore bool   `json:"has_more"`
}

// PostRecord is the raw stored row, without author projection or replies.
type PostRecord struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// ReplyRecord is the raw stored row. ParentReplyID is empty for top-level
// replies.
type ReplyRecord struct {
	ID            string    `json:"id"`
	PostID        string    `json:"post_id"`
	ParentReplyID string    `json:"parent_reply_id,omitempty"`
	AuthorID      string    `json:"author_id"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store describes persistence operations required by the forum subsystem.
// Listing methods return author projections joined in; ordering contracts
// are part of the interface: posts newest-first, replies oldest-first, both
// with the record id as tie-breaker so identical pages are byte-identical.
type Store interface {
	// DonationLinkedPostIDs returns every post id with at least one
	// donation tag link.
	DonationLinkedPostIDs(ctx context.Context) ([]string, error)
	// ListPosts returns one page of posts excluding the given ids, ordered
	// by creation time descending.
	ListPosts(ctx context.Context, excludeIDs []string, limit, offset int) ([]Post, error)
	// ListTopLevelReplies batch-fetches parentless replies for the given
	// posts, ordered by creation time ascending.
	ListTopLevelReplies(ctx context.Context, postIDs []string) ([]Reply, error)
	// ListSubReplies batch-fetches children of the given replies, ordered
	// by creation time ascending.
	ListSubReplies(ctx context.Context, parentReplyIDs []string) ([]Reply, error)

	InsertPost(ctx context.Context, p *PostRecord) error
	InsertReply(ctx context.Context, r *ReplyRecord) error
	FindPostRecord(ctx context.Context, id string) (*PostRecord, error)
	FindReplyRecord(ctx context.Context, id string) (*ReplyRecord, error)
	InsertDonationLink(ctx context.Context, postID, tagID string) error
	HasDonationLink(ctx context.Context, postID string) (bool, error)
}
