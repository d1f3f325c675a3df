package protocols

import (
	"context"
	"sync"
	"testing"
	"time"

	"lunastream/models"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	cipher, err := NewCredentialCipher("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	return NewPool(cipher)
}

func TestPool_ReusesClientPerSource(t *testing.T) {
	pool := newTestPool(t)
	src := models.Source{ID: 1, Kind: models.SourceKindLocal}
	ctx := context.Background()

	c1, release1, err := pool.Acquire(ctx, src)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	c2, release2, err := pool.Acquire(ctx, src)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if c1 != c2 {
		t.Fatal("expected the same cached client")
	}
	release1()
	release2()
}

func TestPool_InvalidateWaitsForDrain(t *testing.T) {
	pool := newTestPool(t)
	src := models.Source{ID: 2, Kind: models.SourceKindLocal}
	ctx := context.Background()

	_, release, err := pool.Acquire(ctx, src)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	done := make(chan struct{})
	go func() {
		pool.Invalidate(src.Kind, src.ID)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("invalidate returned while an operation was outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("invalidate did not return after drain")
	}

	// A fresh acquire after invalidation builds a new client.
	_, release2, err := pool.Acquire(ctx, src)
	if err != nil {
		t.Fatalf("acquire after invalidate: %v", err)
	}
	release2()
}

func TestPool_ReleaseIsIdempotent(t *testing.T) {
	pool := newTestPool(t)
	src := models.Source{ID: 3, Kind: models.SourceKindLocal}

	_, release, err := pool.Acquire(context.Background(), src)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release()
		}()
	}
	wg.Wait()

	// Refcount must not have gone negative; invalidate should return promptly.
	done := make(chan struct{})
	go func() {
		pool.Invalidate(src.Kind, src.ID)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("invalidate hung after idempotent releases")
	}
}

func TestSplitSharePath(t *testing.T) {
	cases := []struct {
		in, share, rest string
	}{
		{"media/tv", "media", "tv"},
		{"/media/tv/shows", "media", "tv/shows"},
		{"media", "media", ""},
		{"", "", ""},
	}
	for _, tc := range cases {
		share, rest := SplitSharePath(tc.in)
		if share != tc.share || rest != tc.rest {
			t.Errorf("SplitSharePath(%q) = (%q, %q), want (%q, %q)", tc.in, share, rest, tc.share, tc.rest)
		}
	}
}
