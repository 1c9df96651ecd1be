package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dobro.org/internal/auth"
	"dobro.org/internal/ids"
)

var (
	ErrNotFound           = errors.New("identity: not found")
	ErrAlreadyExists      = errors.New("identity: already exists")
	ErrInvalidInput       = errors.New("identity: invalid input")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
)

// Subject is a registered participant: a person, an organization or an
// administrator, distinguished by the ordered tier.
type Subject struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Tier         auth.Tier `json:"tier"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store describes persistence operations required by the identity subsystem.
type Store interface {
	CreateSubject(ctx context.Context, s *Subject) error
	FindSubject(ctx context.Context, id string) (*Subject, error)
	FindSubjectByEmail(ctx context.Context, email string) (*Subject, error)
}

// Service validates and executes subject lifecycle operations.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs a Service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	return &Service{store: store, now: time.Now}, nil
}

// Register creates a subject with a hashed credential.
func (s *Service) Register(ctx context.Context, name, email, password string, tier auth.Tier) (*Subject, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %d", ErrInvalidInput, tier)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	subject := &Subject{
		ID:           ids.New(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Tier:         tier,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateSubject(ctx, subject); err != nil {
		return nil, err
	}
	return subject, nil
}

// Authenticate verifies a credential pair and returns the matching subject.
// A missing subject and a bad password are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Subject, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	subject, err := s.store.FindSubjectByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := auth.VerifyPassword(subject.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return subject, nil
}

// Find loads a subject by id.
func (s *Service) Find(ctx context.Context, id string) (*Subject, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	return s.store.FindSubject(ctx, id)
}
