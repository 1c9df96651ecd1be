package pg

import (
	"context"
	"database/sql"
	"errors"

	"dobro.org/internal/forum"
	"dobro.org/internal/moderation"
)

var (
	_ forum.Store      = (*Store)(nil)
	_ moderation.Store = (*Store)(nil)
)

const replyColumns = `
	r.id, r.post_id, coalesce(r.parent_reply_id, ''), r.message, r.created_at,
	s.id, s.name, s.email, s.tier`

// --- forum.Store ---

func (s *Store) DonationLinkedPostIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct post_id from post_donation_links
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) ListPosts(ctx context.Context, excludeIDs []string, limit, offset int) ([]forum.Post, error) {
	if excludeIDs == nil {
		excludeIDs = []string{}
	}
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.title, p.body, p.created_at,
		       s.id, s.name, s.email, s.tier
		from posts p
		join subjects s on s.id = p.author_id
		where not (p.id = any($1))
		order by p.created_at desc, p.id desc
		limit $2 offset $3
	`, excludeIDs, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []forum.Post{}
	for rows.Next() {
		var p forum.Post
		var tier int
		if err := rows.Scan(&p.ID, &p.Title, &p.Body, &p.CreatedAt,
			&p.Author.ID, &p.Author.Name, &p.Author.Email, &tier); err != nil {
			return nil, err
		}
		p.Author.Tier = tierFromInt(tier)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListTopLevelReplies(ctx context.Context, postIDs []string) ([]forum.Reply, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+replyColumns+`
		from replies r
		join subjects s on s.id = r.author_id
		where r.parent_reply_id is null and r.post_id = any($1)
		order by r.created_at asc, r.id asc
	`, postIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReplies(rows)
}

func (s *Store) ListSubReplies(ctx context.Context, parentReplyIDs []string) ([]forum.Reply, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+replyColumns+`
		from replies r
		join subjects s on s.id = r.author_id
		where r.parent_reply_id = any($1)
		order by r.created_at asc, r.id asc
	`, parentReplyIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReplies(rows)
}

func scanReplies(rows *sql.Rows) ([]forum.Reply, error) {
	var out []forum.Reply
	for rows.Next() {
		var r forum.Reply
		var tier int
		if err := rows.Scan(&r.ID, &r.PostID, &r.ParentReplyID, &r.Message, &r.CreatedAt,
			&r.Author.ID, &r.Author.Name, &r.Author.Email, &tier); err != nil {
			return nil, err
		}
		r.Author.Tier = tierFromInt(tier)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) InsertPost(ctx context.Context, p *forum.PostRecord) error {
	_, err := s.db.ExecContext(ctx, `
		insert into posts(id, author_id, title, body, created_at)
		values ($1,$2,$3,$4,$5)
	`, p.ID, p.AuthorID, p.Title, p.Body, p.CreatedAt)
	return err
}

func (s *Store) InsertReply(ctx context.Context, r *forum.ReplyRecord) error {
	_, err := s.db.ExecContext(ctx, `
		insert into replies(id, post_id, parent_reply_id, author_id, message, created_at)
		values ($1,$2,nullif($3,''),$4,$5,$6)
	`, r.ID, r.PostID, r.ParentReplyID, r.AuthorID, r.Message, r.CreatedAt)
	return err
}

func (s *Store) FindPostRecord(ctx context.Context, id string) (*forum.PostRecord, error) {
	var p forum.PostRecord
	err := s.db.QueryRowContext(ctx, `
		select id, author_id, title, body, created_at from posts where id=$1
	`, id).Scan(&p.ID, &p.AuthorID, &p.Title, &p.Body, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, forum.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) FindReplyRecord(ctx context.Context, id string) (*forum.ReplyRecord, error) {
	var r forum.ReplyRecord
	err := s.db.QueryRowContext(ctx, `
		select id, post_id, coalesce(parent_reply_id, ''), author_id, message, created_at
		from replies where id=$1
	`, id).Scan(&r.ID, &r.PostID, &r.ParentReplyID, &r.AuthorID, &r.Message, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, forum.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) InsertDonationLink(ctx context.Context, postID, tagID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into post_donation_links(post_id, tag_id, created_at)
		values ($1,$2,now()) on conflict do nothing
	`, postID, tagID)
	return err
}

func (s *Store) HasDonationLink(ctx context.Context, postID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from post_donation_links where post_id=$1)
	`, postID).Scan(&exists)
	return exists, err
}

// --- moderation.Store ---

// DeletePostCascade removes the post, every reply beneath it, and applies
// the side effects in one transaction: the deletion never commits without
// its notification and audit entry.
func (s *Store) DeletePostCascade(ctx context.Context, postID string, fx moderation.SideEffects) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `delete from replies where post_id=$1`, postID)
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx, `delete from posts where id=$1`, postID)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, forum.ErrNotFound
	}

	if err := applySideEffects(ctx, tx, fx); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(removed), nil
}

// DeleteReplyCascade removes the reply and its children, with the same
// single-transaction side-effect guarantee as DeletePostCascade.
func (s *Store) DeleteReplyCascade(ctx context.Context, replyID string, fx moderation.SideEffects) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `delete from replies where parent_reply_id=$1`, replyID)
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx, `delete from replies where id=$1`, replyID)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, forum.ErrNotFound
	}

	if err := applySideEffects(ctx, tx, fx); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(removed), nil
}

func applySideEffects(ctx context.Context, tx *sql.Tx, fx moderation.SideEffects) error {
	if fx.Notification != nil {
		n := fx.Notification
		if _, err := tx.ExecContext(ctx, `
			insert into notifications(id, recipient_id, kind, message, read, created_at)
			values ($1,$2,$3,$4,$5,$6)
		`, n.ID, n.RecipientID, n.Kind, n.Message, n.Read, n.CreatedAt); err != nil {
			return err
		}
	}
	if fx.Audit != nil {
		if err := insertAuditEntry(ctx, tx, fx.Audit); err != nil {
			return err
		}
	}
	return nil
}
