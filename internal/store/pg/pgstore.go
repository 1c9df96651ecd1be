// Package pg implements every store interface the core consumes on top of
// PostgreSQL via database/sql and the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"dobro.org/internal/auth"
	"dobro.org/internal/ban"
	"dobro.org/internal/identity"
)

type Store struct {
	db *sql.DB
}

var (
	_ identity.Store = (*Store)(nil)
	_ ban.Store      = (*Store)(nil)
)

// Open connects to the database and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection pool (used by tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- identity.Store ---

func (s *Store) CreateSubject(ctx context.Context, sub *identity.Subject) error {
	_, err := s.db.ExecContext(ctx, `
		insert into subjects(id, name, email, password_hash, tier, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, sub.ID, sub.Name, sub.Email, sub.PasswordHash, int(sub.Tier), sub.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return identity.ErrAlreadyExists
	}
	return err
}

func (s *Store) FindSubject(ctx context.Context, id string) (*identity.Subject, error) {
	return s.scanSubject(s.db.QueryRowContext(ctx, `
		select id, name, email, password_hash, tier, created_at
		from subjects where id=$1
	`, id))
}

func (s *Store) FindSubjectByEmail(ctx context.Context, email string) (*identity.Subject, error) {
	return s.scanSubject(s.db.QueryRowContext(ctx, `
		select id, name, email, password_hash, tier, created_at
		from subjects where email=$1
	`, email))
}

func (s *Store) scanSubject(row *sql.Row) (*identity.Subject, error) {
	var sub identity.Subject
	var tier int
	err := row.Scan(&sub.ID, &sub.Name, &sub.Email, &sub.PasswordHash, &tier, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.Tier = tierFromInt(tier)
	return &sub, nil
}

// --- ban.Store ---

func (s *Store) AppendInfraction(ctx context.Context, inf *ban.Infraction) error {
	_, err := s.db.ExecContext(ctx, `
		insert into infractions(id, subject_id, kind, severity, reason, created_at, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, inf.ID, inf.SubjectID, inf.Kind, inf.Severity, inf.Reason, inf.CreatedAt, inf.ExpiresAt)
	return err
}

func (s *Store) ActiveBans(ctx context.Context, subjectID string, now time.Time) ([]ban.Infraction, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, subject_id, kind, severity, reason, created_at, expires_at
		from infractions
		where subject_id=$1 and kind=$2 and (expires_at is null or expires_at > $3)
	`, subjectID, ban.KindBan, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInfractions(rows)
}

func (s *Store) ListInfractions(ctx context.Context, subjectID string) ([]ban.Infraction, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, subject_id, kind, severity, reason, created_at, expires_at
		from infractions
		where subject_id=$1
		order by created_at desc, id desc
	`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInfractions(rows)
}

func scanInfractions(rows *sql.Rows) ([]ban.Infraction, error) {
	var out []ban.Infraction
	for rows.Next() {
		var inf ban.Infraction
		var expires sql.NullTime
		if err := rows.Scan(&inf.ID, &inf.SubjectID, &inf.Kind, &inf.Severity, &inf.Reason, &inf.CreatedAt, &expires); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time
			inf.ExpiresAt = &t
		}
		out = append(out, inf)
	}
	return out, rows.Err()
}

// --- helpers ---

func tierFromInt(v int) auth.Tier {
	return auth.Tier(v)
}

func isUniqueViolation(err error) bool {
	// pgx surfaces SQLSTATE in the error text through database/sql; 23505 is
	// unique_violation.
	return err != nil && strings.Contains(err.Error(), "23505")
}
