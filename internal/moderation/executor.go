package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dobro.org/internal/audit"
	"dobro.org/internal/forum"
	"dobro.org/internal/ids"
	"dobro.org/internal/notify"
	"dobro.org/internal/obs"
)

const (
	ContentTypePost  = "post"
	ContentTypeReply = "reply"

	ActionContentDelete = "moderation.content.delete"
)

var (
	ErrNotFound     = errors.New("moderation: not found")
	ErrInvalidInput = errors.New("moderation: invalid input")
	// ErrDonationLinked marks a post entangled with donation records.
	// Unwinding donations is a separate workflow; this path must refuse
	// without side effects.
	ErrDonationLinked = errors.New("moderation: post has donation links")
)

// SideEffects carries the records that must land in the same transaction as
// the deletion itself.
type SideEffects struct {
	Notification *notify.Notification
	Audit        *audit.Entry
}

// Store describes the transactional persistence surface the executor needs.
// The cascade methods delete the target together with its descendants and
// apply the side effects as a single unit where the store supports it.
type Store interface {
	FindPostRecord(ctx context.Context, id string) (*forum.PostRecord, error)
	FindReplyRecord(ctx context.Context, id string) (*forum.ReplyRecord, error)
	HasDonationLink(ctx context.Context, postID string) (bool, error)
	// DeletePostCascade removes the post, its replies and their sub-replies.
	// Returns the number of replies removed alongside the post.
	DeletePostCascade(ctx context.Context, postID string, fx SideEffects) (int, error)
	// DeleteReplyCascade removes the reply and any children it has.
	// Returns the number of children removed alongside the reply.
	DeleteReplyCascade(ctx context.Context, replyID string, fx SideEffects) (int, error)
}

// Result summarizes a completed moderation action.
type Result struct {
	ContentType string `json:"content_type"`
	ContentID   string `json:"content_id"`
	AuthorID    string `json:"author_id"`
	Summary     string `json:"message"`
}

// Executor performs moderation deletions: cascade delete, notify the true
// author, record an audit entry.
type Executor struct {
	store Store
	now   func() time.Time
}

// NewExecutor constructs an Executor.
func NewExecutor(store Store) (*Executor, error) {
	if store == nil {
		return nil, errors.New("moderation store is required")
	}
	return &Executor{store: store, now: time.Now}, nil
}

// Delete removes the identified content. claimedAuthorID is a client hint
// only; the notification always targets the author resolved from the stored
// record when one is present.
func (e *Executor) Delete(ctx context.Context, actorID, contentType, contentID, claimedAuthorID string) (Result, error) {
	actorID = strings.TrimSpace(actorID)
	contentType = strings.TrimSpace(contentType)
	contentID = strings.TrimSpace(contentID)
	if actorID == "" {
		return Result{}, fmt.Errorf("%w: actor id is required", ErrInvalidInput)
	}
	if contentID == "" {
		return Result{}, fmt.Errorf("%w: content id is required", ErrInvalidInput)
	}

	switch contentType {
	case ContentTypePost:
		return e.deletePost(ctx, actorID, contentID, claimedAuthorID)
	case ContentTypeReply:
		return e.deleteReply(ctx, actorID, contentID, claimedAuthorID)
	default:
		return Result{}, fmt.Errorf("%w: content_type must be %q or %q", ErrInvalidInput, ContentTypePost, ContentTypeReply)
	}
}

func (e *Executor) deletePost(ctx context.Context, actorID, postID, claimedAuthorID string) (Result, error) {
	post, err := e.store.FindPostRecord(ctx, postID)
	if errors.Is(err, forum.ErrNotFound) {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, err
	}

	linked, err := e.store.HasDonationLink(ctx, postID)
	if err != nil {
		return Result{}, err
	}
	if linked {
		return Result{}, ErrDonationLinked
	}

	authorID := resolveAuthor(post.AuthorID, claimedAuthorID)
	captured := post.Body

	fx := e.sideEffects(actorID, authorID, ContentTypePost, postID, captured)
	removed, err := e.store.DeletePostCascade(ctx, postID, fx)
	if err != nil {
		return Result{}, err
	}

	obs.ModerationDeletesTotal.WithLabelValues(ContentTypePost).Inc()
	return Result{
		ContentType: ContentTypePost,
		ContentID:   postID,
		AuthorID:    authorID,
		Summary:     fmt.Sprintf("post %q deleted along with %d replies", post.Title, removed),
	}, nil
}

func (e *Executor) deleteReply(ctx context.Context, actorID, replyID, claimedAuthorID string) (Result, error) {
	reply, err := e.store.FindReplyRecord(ctx, replyID)
	if errors.Is(err, forum.ErrNotFound) {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, err
	}

	authorID := resolveAuthor(reply.AuthorID, claimedAuthorID)
	captured := reply.Message

	fx := e.sideEffects(actorID, authorID, ContentTypeReply, replyID, captured)
	removed, err := e.store.DeleteReplyCascade(ctx, replyID, fx)
	if err != nil {
		return Result{}, err
	}

	obs.ModerationDeletesTotal.WithLabelValues(ContentTypeReply).Inc()
	summary := "reply deleted"
	if removed > 0 {
		summary = fmt.Sprintf("reply deleted along with %d sub-replies", removed)
	}
	return Result{
		ContentType: ContentTypeReply,
		ContentID:   replyID,
		AuthorID:    authorID,
		Summary:     summary,
	}, nil
}

func (e *Executor) sideEffects(actorID, authorID, contentType, contentID, captured string) SideEffects {
	n := notify.New(authorID, notify.KindContentRemoved,
		fmt.Sprintf("A moderator removed your %s. Removed content: %s", contentType, captured))
	entry := &audit.Entry{
		ID:         ids.New(),
		OccurredAt: e.now().UTC(),
		ActorID:    actorID,
		Action:     ActionContentDelete,
		TargetType: contentType,
		TargetID:   contentID,
		Payload:    map[string]string{"content": captured, "author_id": authorID},
	}
	return SideEffects{Notification: n, Audit: entry}
}

// resolveAuthor prefers the authoritative author recorded on the content row
// and degrades to the client-supplied hint only when the record carries no
// author. The precedence is deliberately a standalone function so it can be
// tested on its own.
func resolveAuthor(recordAuthorID, claimedAuthorID string) string {
	recordAuthorID = strings.TrimSpace(recordAuthorID)
	if recordAuthorID != "" {
		return recordAuthorID
	}
	return strings.TrimSpace(claimedAuthorID)
}
