package moderation_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"dobro.org/internal/forum"
	"dobro.org/internal/identity"
	"dobro.org/internal/moderation"
	"dobro.org/internal/notify"
	"dobro.org/internal/store/memory"
)

type fixture struct {
	store    *memory.Store
	executor *moderation.Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	executor, err := moderation.NewExecutor(store)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, name := range []string{"alice", "bob", "mod"} {
		err := store.CreateSubject(ctx, &identity.Subject{
			ID: name, Name: name, Email: name + "@example.org", Tier: 1, CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return &fixture{store: store, executor: executor}
}

func (f *fixture) seedThread(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := f.store.InsertPost(ctx, &forum.PostRecord{
		ID: "07", AuthorID: "alice", Title: "community meetup", Body: "details inside", CreatedAt: base,
	}); err != nil {
		t.Fatal(err)
	}
	replies := []forum.ReplyRecord{
		{ID: "10", PostID: "07", AuthorID: "bob", Message: "count me in", CreatedAt: base.Add(time.Minute)},
		{ID: "11", PostID: "07", AuthorID: "alice", Message: "great", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "100", PostID: "07", ParentReplyID: "10", AuthorID: "alice", Message: "see you there", CreatedAt: base.Add(3 * time.Minute)},
	}
	for i := range replies {
		if err := f.store.InsertReply(ctx, &replies[i]); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDeletePostCascades(t *testing.T) {
	f := newFixture(t)
	f.seedThread(t)
	ctx := context.Background()

	result, err := f.executor.Delete(ctx, "mod", moderation.ContentTypePost, "07", "")
	if err != nil {
		t.Fatal(err)
	}
	if result.AuthorID != "alice" {
		t.Fatalf("expected author alice, got %q", result.AuthorID)
	}
	if !strings.Contains(result.Summary, "3 replies") {
		t.Fatalf("summary should count cascaded replies: %q", result.Summary)
	}

	if _, err := f.store.FindPostRecord(ctx, "07"); !errors.Is(err, forum.ErrNotFound) {
		t.Fatalf("post should be gone, got %v", err)
	}
	for _, id := range []string{"10", "11", "100"} {
		if _, err := f.store.FindReplyRecord(ctx, id); !errors.Is(err, forum.ErrNotFound) {
			t.Fatalf("reply %s should be gone, got %v", id, err)
		}
	}
}

func TestDeleteReplyCascadesToChildren(t *testing.T) {
	f := newFixture(t)
	f.seedThread(t)
	ctx := context.Background()

	result, err := f.executor.Delete(ctx, "mod", moderation.ContentTypeReply, "10", "")
	if err != nil {
		t.Fatal(err)
	}
	if result.AuthorID != "bob" {
		t.Fatalf("expected author bob, got %q", result.AuthorID)
	}

	if _, err := f.store.FindReplyRecord(ctx, "10"); !errors.Is(err, forum.ErrNotFound) {
		t.Fatalf("reply 10 should be gone, got %v", err)
	}
	if _, err := f.store.FindReplyRecord(ctx, "100"); !errors.Is(err, forum.ErrNotFound) {
		t.Fatalf("sub-reply 100 should be gone, got %v", err)
	}
	// Siblings survive.
	if _, err := f.store.FindReplyRecord(ctx, "11"); err != nil {
		t.Fatalf("reply 11 should survive: %v", err)
	}
}

func TestDeleteNotifiesTrueAuthorIgnoringClaim(t *testing.T) {
	f := newFixture(t)
	f.seedThread(t)
	ctx := context.Background()

	// The client claims bob authored the post; the stored record says alice.
	if _, err := f.executor.Delete(ctx, "mod", moderation.ContentTypePost, "07", "bob"); err != nil {
		t.Fatal(err)
	}

	aliceInbox, err := f.store.ListNotifications(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(aliceInbox) != 1 {
		t.Fatalf("expected exactly one notification for alice, got %d", len(aliceInbox))
	}
	n := aliceInbox[0]
	if n.Kind != notify.KindContentRemoved {
		t.Fatalf("unexpected kind %q", n.Kind)
	}
	if !strings.Contains(n.Message, "details inside") {
		t.Fatalf("notification should quote the removed content: %q", n.Message)
	}

	bobInbox, _ := f.store.ListNotifications(ctx, "bob")
	if len(bobInbox) != 0 {
		t.Fatalf("claimed author must not be notified, got %d", len(bobInbox))
	}
}

func TestDeleteRecordsAuditEntry(t *testing.T) {
	f := newFixture(t)
	f.seedThread(t)

	if _, err := f.executor.Delete(context.Background(), "mod", moderation.ContentTypeReply, "11", ""); err != nil {
		t.Fatal(err)
	}

	entries := f.store.AuditEntries()
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != moderation.ActionContentDelete || e.ActorID != "mod" || e.TargetID != "11" {
		t.Fatalf("unexpected audit entry: %+v", e)
	}
	if e.Payload["content"] != "great" || e.Payload["author_id"] != "alice" {
		t.Fatalf("audit payload missing captured content: %+v", e.Payload)
	}
}

func TestDeleteRefusesDonationLinkedPost(t *testing.T) {
	f := newFixture(t)
	f.seedThread(t)
	ctx := context.Background()

	if err := f.store.InsertDonationLink(ctx, "07", "campaign-9"); err != nil {
		t.Fatal(err)
	}

	_, err := f.executor.Delete(ctx, "mod", moderation.ContentTypePost, "07", "")
	if !errors.Is(err, moderation.ErrDonationLinked) {
		t.Fatalf("expected ErrDonationLinked, got %v", err)
	}

	// Refusal leaves everything intact: the post, its replies, and zero
	// side effects.
	if _, err := f.store.FindPostRecord(ctx, "07"); err != nil {
		t.Fatalf("post should survive: %v", err)
	}
	if inbox, _ := f.store.ListNotifications(ctx, "alice"); len(inbox) != 0 {
		t.Fatalf("no notification expected, got %d", len(inbox))
	}
	if entries := f.store.AuditEntries(); len(entries) != 0 {
		t.Fatalf("no audit entry expected, got %d", len(entries))
	}
}

func TestDeleteUnknownContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.executor.Delete(ctx, "mod", moderation.ContentTypePost, "missing", ""); !errors.Is(err, moderation.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.executor.Delete(ctx, "mod", "page", "07", ""); !errors.Is(err, moderation.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown type, got %v", err)
	}
}
