package auth

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"lunastream/internal/database"
)

func newTestService(t *testing.T, ttl time.Duration) *Service {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewService(db.Users, "test-secret", ttl)
}

func TestRegisterLoginVerifyRoundTrip(t *testing.T) {
	svc := newTestService(t, time.Hour)

	user, token, err := svc.Register("alice", "hunter22")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !user.IsAdmin {
		t.Fatal("first user should be admin")
	}
	if token == "" {
		t.Fatal("expected a token")
	}

	_, loginToken, err := svc.Login("alice", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	verified, err := svc.Verify(loginToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.ID != user.ID || verified.Username != "alice" {
		t.Fatalf("verified wrong user: %+v", verified)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc := newTestService(t, time.Hour)
	if _, _, err := svc.Register("alice", "hunter22"); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, _, wrongPass := svc.Login("alice", "wrong")
	_, _, missingUser := svc.Login("nobody", "wrong")

	if !errors.Is(wrongPass, ErrInvalidCredentials) || !errors.Is(missingUser, ErrInvalidCredentials) {
		t.Fatalf("expected identical credential errors, got %v / %v", wrongPass, missingUser)
	}
}

func TestDuplicateUsername(t *testing.T) {
	svc := newTestService(t, time.Hour)
	if _, _, err := svc.Register("alice", "hunter22"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := svc.Register("alice", "other-pass"); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := newTestService(t, time.Hour)
	svc.ttl = -time.Minute

	_, token, err := svc.Register("alice", "hunter22")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	svc := newTestService(t, time.Hour)
	_, token, err := svc.Register("alice", "hunter22")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	tampered := token[:len(token)-2] + "xx"
	if _, err := svc.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
