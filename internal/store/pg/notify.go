package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"dobro.org/internal/audit"
	"dobro.org/internal/notify"
)

var (
	_ notify.Store   = (*Store)(nil)
	_ audit.Appender = (*Store)(nil)
)

// --- notify.Store ---

func (s *Store) InsertNotification(ctx context.Context, n *notify.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		insert into notifications(id, recipient_id, kind, message, read, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, n.ID, n.RecipientID, n.Kind, n.Message, n.Read, n.CreatedAt)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string) ([]notify.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, recipient_id, kind, message, read, created_at
		from notifications
		where recipient_id=$1
		order by created_at desc, id desc
	`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []notify.Notification{}
	for rows.Next() {
		var n notify.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Kind, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, recipientID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update notifications set read=true where id=$1 and recipient_id=$2
	`, id, recipientID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notify.ErrNotFound
	}
	return nil
}

// --- audit.Appender ---

func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertAuditEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func insertAuditEntry(ctx context.Context, tx *sql.Tx, entry *audit.Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		insert into audit_entries(id, occurred_at, actor_id, action, target_type, target_id, payload)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.OccurredAt, entry.ActorID, entry.Action, entry.TargetType, entry.TargetID, payload)
	return err
}
