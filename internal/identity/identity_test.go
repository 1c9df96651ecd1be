package identity_test

import (
	"context"
	"errors"
	"testing"

	"dobro.org/internal/auth"
	"dobro.org/internal/identity"
	"dobro.org/internal/store/memory"
)

func newService(t *testing.T) *identity.Service {
	t.Helper()
	svc, err := identity.NewService(memory.New())
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	subject, err := svc.Register(ctx, "Alice", "Alice@Example.org", "correct horse", auth.TierPerson)
	if err != nil {
		t.Fatal(err)
	}
	if subject.ID == "" || subject.Email != "alice@example.org" {
		t.Fatalf("unexpected subject: %+v", subject)
	}
	if subject.PasswordHash == "correct horse" {
		t.Fatal("password stored in clear")
	}

	got, err := svc.Authenticate(ctx, "alice@example.org", "correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != subject.ID {
		t.Fatalf("authenticated wrong subject: %s != %s", got.ID, subject.ID)
	}
}

func TestAuthenticateBadPassword(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "Alice", "alice@example.org", "correct horse", auth.TierPerson); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Authenticate(ctx, "alice@example.org", "wrong"); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	// Unknown email produces the same error as a bad password.
	if _, err := svc.Authenticate(ctx, "nobody@example.org", "whatever"); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	cases := []struct {
		name, email, password string
		tier                  auth.Tier
	}{
		{"", "a@b.org", "longenough", auth.TierPerson},
		{"Alice", "not-an-email", "longenough", auth.TierPerson},
		{"Alice", "a@b.org", "short", auth.TierPerson},
		{"Alice", "a@b.org", "longenough", auth.Tier(9)},
	}
	for _, tc := range cases {
		if _, err := svc.Register(ctx, tc.name, tc.email, tc.password, tc.tier); !errors.Is(err, identity.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", tc, err)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "Alice", "alice@example.org", "longenough", auth.TierPerson); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register(ctx, "Other", "alice@example.org", "longenough", auth.TierOrganization); !errors.Is(err, identity.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestFindMissing(t *testing.T) {
	svc := newService(t)
	if _, err := svc.Find(context.Background(), "missing"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
