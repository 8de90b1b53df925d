package account

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/user/ventana-link/store"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.OpenMigrated(filepath.Join(t.TempDir(), "accounts.db"))
	if err != nil {
		t.Fatalf("OpenMigrated: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestHashPasswordIsSHA256Hex(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashPassword("abc"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestRegisterThenLogin(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u, err := s.Register(ctx, " maria ", "secreto")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Username != "maria" {
		t.Errorf("Username should be trimmed, got %q", u.Username)
	}

	got, err := s.Login(ctx, "maria", "secreto")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("Expected id %d, got %d", u.ID, got.ID)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.Register(ctx, "maria", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Register(ctx, "maria", "b"); err != ErrUserExists {
		t.Fatalf("Expected ErrUserExists, got %v", err)
	}
}

func TestLoginFailures(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.Register(ctx, "maria", "secreto")

	if _, err := s.Login(ctx, "maria", "wrong"); err != ErrInvalidCredentials {
		t.Errorf("Wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.Login(ctx, "nadie", "secreto"); err != ErrInvalidCredentials {
		t.Errorf("Unknown user: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.Login(ctx, "", ""); err != ErrEmptyCredentials {
		t.Errorf("Empty: expected ErrEmptyCredentials, got %v", err)
	}
}

func TestList(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.Register(ctx, "zoe", "x")
	s.Register(ctx, "ana", "y")

	users, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0].Username != "ana" {
		t.Errorf("Unexpected users %+v", users)
	}
}
