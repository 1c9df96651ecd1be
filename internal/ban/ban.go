package ban

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dobro.org/internal/ids"
)

// KindBan is the reserved infraction kind marking an account suspension.
// Ordinary content infractions share the same relation but are never
// consulted for admission control. This constant is the single source of
// truth for the sentinel; seeding and migrations must reference it.
const KindBan = "ban"

// BanSeverity is recorded on suspension entries so they sort above ordinary
// content infractions in admin views.
const BanSeverity = 100

var (
	ErrNotFound     = errors.New("ban: not found")
	ErrInvalidInput = errors.New("ban: invalid input")
)

// Infraction is one append-only ledger record. ExpiresAt == nil means the
// record never expires.
type Infraction struct {
	ID        string     `json:"id"`
	SubjectID string     `json:"subject_id"`
	Kind      string     `json:"kind"`
	Severity  int        `json:"severity"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the infraction is in force at the given instant.
func (i Infraction) ActiveAt(now time.Time) bool {
	return i.ExpiresAt == nil || i.ExpiresAt.After(now)
}

// Status is the answer to "is this subject currently banned".
type Status struct {
	Banned    bool       `json:"banned"`
	Permanent bool       `json:"permanent"`
	Until     *time.Time `json:"until,omitempty"`
}

// Store describes persistence operations required by the ledger.
type Store interface {
	AppendInfraction(ctx context.Context, inf *Infraction) error
	// ActiveBans returns every ban-kind infraction for the subject that is
	// still in force at the given instant.
	ActiveBans(ctx context.Context, subjectID string, now time.Time) ([]Infraction, error)
	ListInfractions(ctx context.Context, subjectID string) ([]Infraction, error)
}

// Ledger answers suspension queries against live store state. Decisions are
// re-derived on every call: a cache here would reopen the staleness window
// this component exists to close.
type Ledger struct {
	store Store
	now   func() time.Time
}

// Option configures Ledger behavior.
type Option func(*Ledger)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLedger constructs a Ledger.
func NewLedger(store Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ban store is required")
	}
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// IsBanned reports whether the subject has any currently-active suspension,
// evaluated against store state at call time. When several suspensions are
// active the most restrictive wins: permanent over temporary, and among
// temporaries the one expiring last.
func (l *Ledger) IsBanned(ctx context.Context, subjectID string) (Status, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return Status{}, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	active, err := l.store.ActiveBans(ctx, subjectID, l.now().UTC())
	if err != nil {
		return Status{}, err
	}
	if len(active) == 0 {
		return Status{}, nil
	}

	status := Status{Banned: true}
	for _, inf := range active {
		if inf.ExpiresAt == nil {
			return Status{Banned: true, Permanent: true}, nil
		}
		if status.Until == nil || inf.ExpiresAt.After(*status.Until) {
			until := *inf.ExpiresAt
			status.Until = &until
		}
	}
	return status, nil
}

// CreateBan appends a suspension. Existing active bans are not deduplicated;
// several may coexist and IsBanned only needs to find one.
func (l *Ledger) CreateBan(ctx context.Context, subjectID, reason string, until *time.Time) (*Infraction, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	if until != nil && !until.After(l.now()) {
		return nil, fmt.Errorf("%w: ban expiry must be in the future", ErrInvalidInput)
	}
	inf := &Infraction{
		ID:        ids.New(),
		SubjectID: subjectID,
		Kind:      KindBan,
		Severity:  BanSeverity,
		Reason:    strings.TrimSpace(reason),
		CreatedAt: l.now().UTC(),
	}
	if until != nil {
		u := until.UTC()
		inf.ExpiresAt = &u
	}
	if err := l.store.AppendInfraction(ctx, inf); err != nil {
		return nil, err
	}
	return inf, nil
}

// CreateInfraction appends an ordinary content infraction. The reserved ban
// kind must go through CreateBan so suspension entries carry the right
// severity.
func (l *Ledger) CreateInfraction(ctx context.Context, subjectID, kind string, severity int, reason string, expiresAt *time.Time) (*Infraction, error) {
	subjectID = strings.TrimSpace(subjectID)
	kind = strings.TrimSpace(kind)
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	if kind == "" {
		return nil, fmt.Errorf("%w: kind is required", ErrInvalidInput)
	}
	if kind == KindBan {
		return nil, fmt.Errorf("%w: use CreateBan for suspension entries", ErrInvalidInput)
	}
	if severity < 0 {
		return nil, fmt.Errorf("%w: severity must be >= 0", ErrInvalidInput)
	}
	inf := &Infraction{
		ID:        ids.New(),
		SubjectID: subjectID,
		Kind:      kind,
		Severity:  severity,
		Reason:    strings.TrimSpace(reason),
		CreatedAt: l.now().UTC(),
	}
	if expiresAt != nil {
		u := expiresAt.UTC()
		inf.ExpiresAt = &u
	}
	if err := l.store.AppendInfraction(ctx, inf); err != nil {
		return nil, err
	}
	return inf, nil
}

// Infractions lists the subject's full ledger history, newest first.
func (l *Ledger) Infractions(ctx context.Context, subjectID string) ([]Infraction, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	return l.store.ListInfractions(ctx, subjectID)
}
