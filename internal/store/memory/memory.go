// Package memory provides an in-process implementation of every store
// interface the core consumes. It backs handler and service tests and keeps
// the same ordering and error contracts as the postgres implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dobro.org/internal/audit"
	"dobro.org/internal/auth"
	"dobro.org/internal/ban"
	"dobro.org/internal/forum"
	"dobro.org/internal/identity"
	"dobro.org/internal/moderation"
	"dobro.org/internal/notify"
)

// Store holds all state behind one mutex. Cascade deletes and their side
// effects are atomic by construction.
type Store struct {
	mu sync.RWMutex

	subjects        map[string]identity.Subject
	subjectsByEmail map[string]string

	infractions map[string][]ban.Infraction

	posts         map[string]forum.PostRecord
	replies       map[string]forum.ReplyRecord
	donationLinks map[string]map[string]struct{}

	notifications map[string]notify.Notification

	auditEntries []audit.Entry
}

var (
	_ identity.Store   = (*Store)(nil)
	_ ban.Store        = (*Store)(nil)
	_ forum.Store      = (*Store)(nil)
	_ moderation.Store = (*Store)(nil)
	_ notify.Store     = (*Store)(nil)
	_ audit.Appender   = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		subjects:        make(map[string]identity.Subject),
		subjectsByEmail: make(map[string]string),
		infractions:     make(map[string][]ban.Infraction),
		posts:           make(map[string]forum.PostRecord),
		replies:         make(map[string]forum.ReplyRecord),
		donationLinks:   make(map[string]map[string]struct{}),
		notifications:   make(map[string]notify.Notification),
	}
}

// --- identity.Store ---

func (s *Store) CreateSubject(ctx context.Context, sub *identity.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjectsByEmail[sub.Email]; ok {
		return identity.ErrAlreadyExists
	}
	s.subjects[sub.ID] = *sub
	s.subjectsByEmail[sub.Email] = sub.ID
	return nil
}

func (s *Store) FindSubject(ctx context.Context, id string) (*identity.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subjects[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	out := sub
	return &out, nil
}

func (s *Store) FindSubjectByEmail(ctx context.Context, email string) (*identity.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.subjectsByEmail[email]
	if !ok {
		return nil, identity.ErrNotFound
	}
	sub := s.subjects[id]
	out := sub
	return &out, nil
}

// --- ban.Store ---

func (s *Store) AppendInfraction(ctx context.Context, inf *ban.Infraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infractions[inf.SubjectID] = append(s.infractions[inf.SubjectID], *inf)
	return nil
}

func (s *Store) ActiveBans(ctx context.Context, subjectID string, now time.Time) ([]ban.Infraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []ban.Infraction
	for _, inf := range s.infractions[subjectID] {
		if inf.Kind == ban.KindBan && inf.ActiveAt(now) {
			active = append(active, inf)
		}
	}
	return active, nil
}

func (s *Store) ListInfractions(ctx context.Context, subjectID string) ([]ban.Infraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := append([]ban.Infraction(nil), s.infractions[subjectID]...)
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
	return list, nil
}

// --- forum.Store ---

func (s *Store) DonationLinkedPostIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.donationLinks))
	for postID, tags := range s.donationLinks {
		if len(tags) > 0 {
			out = append(out, postID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) ListPosts(ctx context.Context, excludeIDs []string, limit, offset int) ([]forum.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}

	records := make([]forum.PostRecord, 0, len(s.posts))
	for _, p := range s.posts {
		if _, skip := excluded[p.ID]; skip {
			continue
		}
		records = append(records, p)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})

	if offset >= len(records) {
		return []forum.Post{}, nil
	}
	records = records[offset:]
	if len(records) > limit {
		records = records[:limit]
	}

	out := make([]forum.Post, 0, len(records))
	for _, p := range records {
		out = append(out, forum.Post{
			ID:        p.ID,
			Title:     p.Title,
			Body:      p.Body,
			CreatedAt: p.CreatedAt,
			Author:    s.authorProjection(p.AuthorID),
		})
	}
	return out, nil
}

func (s *Store) ListTopLevelReplies(ctx context.Context, postIDs []string) ([]forum.Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]struct{}, len(postIDs))
	for _, id := range postIDs {
		wanted[id] = struct{}{}
	}
	var out []forum.Reply
	for _, r := range s.replies {
		if r.ParentReplyID != "" {
			continue
		}
		if _, ok := wanted[r.PostID]; !ok {
			continue
		}
		out = append(out, s.replyProjection(r))
	}
	sortRepliesAsc(out)
	return out, nil
}

func (s *Store) ListSubReplies(ctx context.Context, parentReplyIDs []string) ([]forum.Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]struct{}, len(parentReplyIDs))
	for _, id := range parentReplyIDs {
		wanted[id] = struct{}{}
	}
	var out []forum.Reply
	for _, r := range s.replies {
		if r.ParentReplyID == "" {
			continue
		}
		if _, ok := wanted[r.ParentReplyID]; !ok {
			continue
		}
		out = append(out, s.replyProjection(r))
	}
	sortRepliesAsc(out)
	return out, nil
}

func (s *Store) InsertPost(ctx context.Context, p *forum.PostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[p.ID] = *p
	return nil
}

func (s *Store) InsertReply(ctx context.Context, r *forum.ReplyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[r.ID] = *r
	return nil
}

func (s *Store) FindPostRecord(ctx context.Context, id string) (*forum.PostRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, forum.ErrNotFound
	}
	out := p
	return &out, nil
}

func (s *Store) FindReplyRecord(ctx context.Context, id string) (*forum.ReplyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.replies[id]
	if !ok {
		return nil, forum.ErrNotFound
	}
	out := r
	return &out, nil
}

func (s *Store) InsertDonationLink(ctx context.Context, postID, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[postID]; !ok {
		return forum.ErrNotFound
	}
	if s.donationLinks[postID] == nil {
		s.donationLinks[postID] = make(map[string]struct{})
	}
	s.donationLinks[postID][tagID] = struct{}{}
	return nil
}

func (s *Store) HasDonationLink(ctx context.Context, postID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.donationLinks[postID]) > 0, nil
}

// --- moderation.Store ---

func (s *Store) DeletePostCascade(ctx context.Context, postID string, fx moderation.SideEffects) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[postID]; !ok {
		return 0, forum.ErrNotFound
	}
	removed := 0
	for id, r := range s.replies {
		if r.PostID == postID {
			delete(s.replies, id)
			removed++
		}
	}
	delete(s.posts, postID)
	delete(s.donationLinks, postID)
	s.applySideEffects(fx)
	return removed, nil
}

func (s *Store) DeleteReplyCascade(ctx context.Context, replyID string, fx moderation.SideEffects) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.replies[replyID]; !ok {
		return 0, forum.ErrNotFound
	}
	removed := 0
	for id, r := range s.replies {
		if r.ParentReplyID == replyID {
			delete(s.replies, id)
			removed++
		}
	}
	delete(s.replies, replyID)
	s.applySideEffects(fx)
	return removed, nil
}

func (s *Store) applySideEffects(fx moderation.SideEffects) {
	if fx.Notification != nil {
		s.notifications[fx.Notification.ID] = *fx.Notification
	}
	if fx.Audit != nil {
		s.auditEntries = append(s.auditEntries, *fx.Audit)
	}
}

// --- notify.Store ---

func (s *Store) InsertNotification(ctx context.Context, n *notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.ID] = *n
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string) ([]notify.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]notify.Notification, 0)
	for _, n := range s.notifications {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, recipientID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return notify.ErrNotFound
	}
	n.Read = true
	s.notifications[id] = n
	return nil
}

// --- audit.Appender ---

func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditEntries = append(s.auditEntries, *entry)
	return nil
}

// AuditEntries returns a snapshot of the appended entries, oldest first.
func (s *Store) AuditEntries() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Entry(nil), s.auditEntries...)
}

// --- helpers ---

func (s *Store) authorProjection(subjectID string) forum.Author {
	sub, ok := s.subjects[subjectID]
	if !ok {
		return forum.Author{ID: subjectID, Tier: auth.TierPerson}
	}
	return forum.Author{ID: sub.ID, Name: sub.Name, Email: sub.Email, Tier: sub.Tier}
}

func (s *Store) replyProjection(r forum.ReplyRecord) forum.Reply {
	return forum.Reply{
		ID:            r.ID,
		PostID:        r.PostID,
		ParentReplyID: r.ParentReplyID,
		Message:       r.Message,
		CreatedAt:     r.CreatedAt,
		Author:        s.authorProjection(r.AuthorID),
	}
}

func sortRepliesAsc(list []forum.Reply) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
