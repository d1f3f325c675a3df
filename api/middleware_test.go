package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"lunastream/handlers"
	"lunastream/models"
)

type fakeVerifier struct {
	valid map[string]models.User
}

func (f *fakeVerifier) Verify(token string) (models.User, error) {
	user, ok := f.valid[token]
	if !ok {
		return models.User{}, errors.New("bad token")
	}
	return user, nil
}

type fakeUserLookup struct {
	users map[int64]models.User
}

func (f *fakeUserLookup) GetByID(id int64) (models.User, error) {
	user, ok := f.users[id]
	if !ok {
		return models.User{}, errors.New("not found")
	}
	return user, nil
}

// echoUser writes the authenticated username, or 500 if missing.
func echoUser(w http.ResponseWriter, r *http.Request) {
	user, ok := handlers.UserFrom(r)
	if !ok {
		http.Error(w, "no user on context", http.StatusInternalServerError)
		return
	}
	w.Write([]byte(user.Username))
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	mw := authMiddleware(&fakeVerifier{})
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(echoUser)).ServeHTTP(rec, httptest.NewRequest("GET", "/api/library/movies", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewareRejectsInvalidToken(t *testing.T) {
	mw := authMiddleware(&fakeVerifier{})
	req := httptest.NewRequest("GET", "/api/library/movies", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(echoUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestAuthMiddlewareAcceptsHeaderToken(t *testing.T) {
	verifier := &fakeVerifier{valid: map[string]models.User{"good": {ID: 1, Username: "viewer"}}}
	mw := authMiddleware(verifier)

	req := httptest.NewRequest("GET", "/api/library/movies", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(echoUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "viewer" {
		t.Errorf("body = %q, want viewer", rec.Body.String())
	}
}

// Media elements cannot set headers, so the token may ride the query string.
func TestAuthMiddlewareAcceptsQueryToken(t *testing.T) {
	verifier := &fakeVerifier{valid: map[string]models.User{"good": {ID: 1, Username: "viewer"}}}
	mw := authMiddleware(verifier)

	req := httptest.NewRequest("GET", "/api/stream/1?token=good", nil)
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(echoUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAuthMiddlewarePassesPreflight(t *testing.T) {
	mw := authMiddleware(&fakeVerifier{})
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest("OPTIONS", "/api/library/movies", nil)
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	if !called {
		t.Error("preflight request did not reach the handler")
	}
}

func TestAdminMiddlewareChecksStoredFlag(t *testing.T) {
	users := &fakeUserLookup{users: map[int64]models.User{
		1: {ID: 1, Username: "root", IsAdmin: true},
		2: {ID: 2, Username: "viewer", IsAdmin: false},
	}}
	mw := adminMiddleware(users)

	tests := []struct {
		name string
		user models.User
		want int
	}{
		{name: "admin", user: models.User{ID: 1, Username: "root"}, want: http.StatusOK},
		{name: "non-admin", user: models.User{ID: 2, Username: "viewer"}, want: http.StatusForbidden},
		{name: "deleted account", user: models.User{ID: 9, Username: "ghost"}, want: http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/admin/users", nil)
			req = req.WithContext(handlers.WithUser(req.Context(), tc.user))
			rec := httptest.NewRecorder()
			mw(http.HandlerFunc(echoUser)).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

// A token whose claims said admin must still be rejected once the stored
// flag is cleared.
func TestAdminMiddlewareIgnoresStaleClaims(t *testing.T) {
	users := &fakeUserLookup{users: map[int64]models.User{
		3: {ID: 3, Username: "demoted", IsAdmin: false},
	}}
	mw := adminMiddleware(users)

	req := httptest.NewRequest("GET", "/api/admin/users", nil)
	req = req.WithContext(handlers.WithUser(req.Context(), models.User{ID: 3, Username: "demoted", IsAdmin: true}))
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(echoUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}
