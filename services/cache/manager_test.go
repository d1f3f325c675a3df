package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T, maxSizeMB, ttlHours int) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), maxSizeMB, ttlHours, 6)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func writeArtifact(t *testing.T, m *Manager, name string, size int, age time.Duration) string {
	t.Helper()
	path := filepath.Join(m.Root(), name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStatsRecompute(t *testing.T) {
	m := newTestManager(t, 100, 0)
	writeArtifact(t, m, "1_720p.mp4", 1000, 0)
	writeArtifact(t, m, "2_720p.mp4", 500, 0)

	// Stats were never computed, so the first call walks the disk.
	stats := m.Stats()
	if stats.TotalBytes != 1500 || stats.FileCount != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	// Cached until invalidated.
	writeArtifact(t, m, "3_720p.mp4", 250, 0)
	if got := m.Stats(); got.TotalBytes != 1500 {
		t.Fatalf("stats should be cached, got %+v", got)
	}
	m.invalidateStats()
	if got := m.Stats(); got.TotalBytes != 1750 || got.FileCount != 3 {
		t.Fatalf("stats after invalidate = %+v", got)
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	m := newTestManager(t, 0, 24)
	old := writeArtifact(t, m, "1_720p.mp4", 100, 48*time.Hour)
	fresh := writeArtifact(t, m, "2_720p.mp4", 100, time.Hour)

	m.Sweep()

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expired artifact must be evicted")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh artifact must survive")
	}
}

func TestSweepSizeCapEvictsOldestFirst(t *testing.T) {
	// Cap 3 MiB, four 1 MiB artifacts, A oldest. Only A goes.
	m := newTestManager(t, 3, 0)
	const mib = 1024 * 1024
	a := writeArtifact(t, m, "1_480p.mp4", mib, 4*time.Hour)
	b := writeArtifact(t, m, "2_480p.mp4", mib, 3*time.Hour)
	c := writeArtifact(t, m, "3_480p.mp4", mib, 2*time.Hour)
	d := writeArtifact(t, m, "4_480p.mp4", mib, time.Hour)

	m.Sweep()

	if _, err := os.Stat(a); !os.IsNotExist(err) {
		t.Fatal("oldest artifact must be evicted under size pressure")
	}
	for _, path := range []string{b, c, d} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("artifact %s must survive: %v", filepath.Base(path), err)
		}
	}
	if stats := m.Stats(); stats.TotalBytes != 3*mib {
		t.Fatalf("post-sweep total = %d", stats.TotalBytes)
	}
}

func TestSweepSkipsInFlight(t *testing.T) {
	m := newTestManager(t, 0, 24)
	busy := writeArtifact(t, m, "1_720p.mp4", 100, 48*time.Hour)
	m.MarkInFlight(busy)

	m.Sweep()
	if _, err := os.Stat(busy); err != nil {
		t.Fatal("in-flight artifact must never be evicted")
	}

	m.UnmarkInFlight(busy)
	m.Sweep()
	if _, err := os.Stat(busy); !os.IsNotExist(err) {
		t.Fatal("released artifact must be evictable again")
	}
}

func TestSweepTreatsHLSTreeAsOneArtifact(t *testing.T) {
	m := newTestManager(t, 0, 24)
	dir := filepath.Join(m.Root(), "hls_9")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"playlist.m3u8", "segment000.ts", "segment001.ts"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mtime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(dir, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	m.Sweep()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("expired HLS tree must be removed whole")
	}
}

func TestSweepRemovesEmptyDirs(t *testing.T) {
	m := newTestManager(t, 0, 0)
	dir := filepath.Join(m.Root(), "hls_3")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	m.Sweep()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("empty HLS directory must be cleaned up")
	}
}

func TestTouchRefreshesRecency(t *testing.T) {
	m := newTestManager(t, 0, 24)
	path := writeArtifact(t, m, "1_720p.mp4", 100, 48*time.Hour)

	m.Touch(path)
	m.Sweep()
	if _, err := os.Stat(path); err != nil {
		t.Fatal("touched artifact must survive the TTL sweep")
	}
}

func TestClearMedia(t *testing.T) {
	m := newTestManager(t, 0, 0)
	mp4 := writeArtifact(t, m, "5_1080p.mp4", 100, 0)
	other := writeArtifact(t, m, "6_1080p.mp4", 100, 0)
	dir := filepath.Join(m.Root(), "hls_5")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "playlist.m3u8"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := m.ClearMedia(5); err != nil {
		t.Fatalf("ClearMedia: %v", err)
	}
	if _, err := os.Stat(mp4); !os.IsNotExist(err) {
		t.Fatal("media MP4 must be removed")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("media HLS tree must be removed")
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatal("other media's artifacts must survive")
	}
}
