package forum

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dobro.org/internal/ids"
)

const (
	maxTitleLen   = 200
	maxBodyLen    = 10000
	maxMessageLen = 4000
)

// Service executes forum write operations.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs a Service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("forum store is required")
	}
	return &Service{store: store, now: time.Now}, nil
}

// CreatePost creates a root forum entry.
func (s *Service) CreatePost(ctx context.Context, authorID, title, body string) (*PostRecord, error) {
	authorID = strings.TrimSpace(authorID)
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if authorID == "" {
		return nil, fmt.Errorf("%w: author id is required", ErrInvalidInput)
	}
	if title == "" || len(title) > maxTitleLen {
		return nil, fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidInput, maxTitleLen)
	}
	if body == "" || len(body) > maxBodyLen {
		return nil, fmt.Errorf("%w: body must be 1-%d characters", ErrInvalidInput, maxBodyLen)
	}

	post := &PostRecord{
		ID:        ids.New(),
		AuthorID:  authorID,
		Title:     title,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertPost(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// CreateReply attaches a reply to a post, or a sub-reply to an existing
// top-level reply. Nesting is capped at two levels beneath the post: a
// sub-reply can never become a parent.
func (s *Service) CreateReply(ctx context.Context, authorID, postID, parentReplyID, message string) (*ReplyRecord, error) {
	authorID = strings.TrimSpace(authorID)
	postID = strings.TrimSpace(postID)
	parentReplyID = strings.TrimSpace(parentReplyID)
	message = strings.TrimSpace(message)
	if authorID == "" {
		return nil, fmt.Errorf("%w: author id is required", ErrInvalidInput)
	}
	if message == "" || len(message) > maxMessageLen {
		return nil, fmt.Errorf("%w: message must be 1-%d characters", ErrInvalidInput, maxMessageLen)
	}

	if _, err := s.store.FindPostRecord(ctx, postID); err != nil {
		return nil, err
	}
	if parentReplyID != "" {
		parent, err := s.store.FindReplyRecord(ctx, parentReplyID)
		if err != nil {
			return nil, err
		}
		if parent.PostID != postID {
			return nil, fmt.Errorf("%w: parent reply belongs to a different post", ErrInvalidInput)
		}
		if parent.ParentReplyID != "" {
			return nil, fmt.Errorf("%w: replies nest at most two levels beneath a post", ErrInvalidInput)
		}
	}

	reply := &ReplyRecord{
		ID:            ids.New(),
		PostID:        postID,
		ParentReplyID: parentReplyID,
		AuthorID:      authorID,
		Message:       message,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.InsertReply(ctx, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// LinkDonation marks a post as belonging to the donation subsystem. Linked
// posts disappear from forum listings and become immutable through the
// moderation delete path.
func (s *Service) LinkDonation(ctx context.Context, postID, tagID string) error {
	postID = strings.TrimSpace(postID)
	tagID = strings.TrimSpace(tagID)
	if postID == "" || tagID == "" {
		return fmt.Errorf("%w: post id and tag id are required", ErrInvalidInput)
	}
	if _, err := s.store.FindPostRecord(ctx, postID); err != nil {
		return err
	}
	return s.store.InsertDonationLink(ctx, postID, tagID)
}
