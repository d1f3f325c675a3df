package cache

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"lunastream/internal/metrics"
)

// Stats summarizes the on-disk artifact cache.
type Stats struct {
	TotalBytes int64 `json:"total_bytes"`
	FileCount  int   `json:"file_count"`
	MaxBytes   int64 `json:"max_bytes"`
	TTLHours   int   `json:"ttl_hours"`
}

// Manager owns the transcode artifact directory: it tracks size, evicts by
// age and by size pressure, and protects artifacts the encoder is still
// writing. Recency is carried by file mtime, refreshed through Touch, so it
// survives restarts.
type Manager struct {
	root     string
	maxBytes int64
	ttl      time.Duration
	sweep    time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}

	statsMu    sync.Mutex
	statsValid bool
	stats      Stats
}

// NewManager prepares the cache directory. maxSizeMB <= 0 disables the size
// cap, ttlHours <= 0 disables age eviction.
func NewManager(root string, maxSizeMB, ttlHours, sweepHours int) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if sweepHours <= 0 {
		sweepHours = 6
	}
	return &Manager{
		root:     root,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		ttl:      time.Duration(ttlHours) * time.Hour,
		sweep:    time.Duration(sweepHours) * time.Hour,
		inFlight: make(map[string]struct{}),
	}, nil
}

// Root returns the cache directory.
func (m *Manager) Root() string { return m.root }

// Run sweeps on an interval until ctx is cancelled. One sweep runs
// immediately so a restart with a full cache does not wait hours.
func (m *Manager) Run(ctx context.Context) {
	m.Sweep()
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// MarkInFlight shields path (a file or a directory subtree) from eviction.
func (m *Manager) MarkInFlight(path string) {
	m.mu.Lock()
	m.inFlight[path] = struct{}{}
	m.mu.Unlock()
}

// UnmarkInFlight releases the shield and invalidates cached stats, since the
// job just changed the directory contents.
func (m *Manager) UnmarkInFlight(path string) {
	m.mu.Lock()
	delete(m.inFlight, path)
	m.mu.Unlock()
	m.invalidateStats()
}

func (m *Manager) isInFlight(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range m.inFlight {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Touch refreshes the access time of an artifact. HLS trees are touched at
// the directory so the whole tree ages together.
func (m *Manager) Touch(path string) {
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil && !os.IsNotExist(err) {
		log.Printf("[cache] touch %s: %v", path, err)
	}
	// Segments inherit the manifest's recency.
	if dir := filepath.Dir(path); strings.HasPrefix(filepath.Base(dir), "hls_") {
		_ = os.Chtimes(dir, now, now)
	}
}

// Stats returns cache totals, recomputing from disk when stale.
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	if !m.statsValid {
		m.stats = m.computeStats()
		m.statsValid = true
	}
	return m.stats
}

func (m *Manager) invalidateStats() {
	m.statsMu.Lock()
	m.statsValid = false
	m.statsMu.Unlock()
}

func (m *Manager) computeStats() Stats {
	stats := Stats{
		MaxBytes: m.maxBytes,
		TTLHours: int(m.ttl / time.Hour),
	}
	_ = filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			stats.TotalBytes += info.Size()
			stats.FileCount++
		}
		return nil
	})
	metrics.CacheBytes.Set(float64(stats.TotalBytes))
	return stats
}

// ClearMedia removes every cached artifact belonging to one media item: its
// HLS tree and any quality-labelled MP4 outputs.
func (m *Manager) ClearMedia(mediaID int64) error {
	hlsDir := filepath.Join(m.root, fmt.Sprintf("hls_%d", mediaID))
	if err := os.RemoveAll(hlsDir); err != nil {
		return err
	}
	matches, err := filepath.Glob(filepath.Join(m.root, fmt.Sprintf("%d_*.mp4", mediaID)))
	if err != nil {
		return err
	}
	for _, match := range matches {
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	m.invalidateStats()
	return nil
}

// Clear empties the whole cache, sparing in-flight artifacts.
func (m *Manager) Clear() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(m.root, entry.Name())
		if m.isInFlight(path) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	m.invalidateStats()
	return nil
}

// artifact is one evictable unit: a single MP4 file or a whole HLS tree.
type artifact struct {
	path  string
	size  int64
	mtime time.Time
	isDir bool
}

// listArtifacts enumerates the cache's top-level entries. An HLS tree counts
// as one artifact whose size is the subtree total and whose mtime is the
// directory mtime (kept fresh by Touch).
func (m *Manager) listArtifacts() []artifact {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil
	}
	var artifacts []artifact
	for _, entry := range entries {
		path := filepath.Join(m.root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		a := artifact{path: path, mtime: info.ModTime(), isDir: entry.IsDir()}
		if entry.IsDir() {
			a.size = dirSize(path)
		} else {
			a.size = info.Size()
		}
		artifacts = append(artifacts, a)
	}
	return artifacts
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// Sweep evicts expired artifacts, then evicts least-recently-used artifacts
// until the cache fits under the size cap. In-flight artifacts are never
// evicted.
func (m *Manager) Sweep() {
	artifacts := m.listArtifacts()
	now := time.Now()

	var live []artifact
	for _, a := range artifacts {
		if m.isInFlight(a.path) {
			live = append(live, a)
			continue
		}
		if m.ttl > 0 && now.Sub(a.mtime) > m.ttl {
			m.evict(a, "expired")
			continue
		}
		// A failed job can leave an empty HLS directory behind.
		if a.isDir && a.size == 0 {
			m.evict(a, "empty")
			continue
		}
		live = append(live, a)
	}

	if m.maxBytes > 0 {
		var total int64
		for _, a := range live {
			total += a.size
		}
		if total > m.maxBytes {
			// Oldest first.
			sort.Slice(live, func(i, j int) bool { return live[i].mtime.Before(live[j].mtime) })
			for _, a := range live {
				if total <= m.maxBytes {
					break
				}
				if m.isInFlight(a.path) {
					continue
				}
				m.evict(a, "size cap")
				total -= a.size
			}
		}
	}

	m.invalidateStats()
}

func (m *Manager) evict(a artifact, reason string) {
	var err error
	if a.isDir {
		err = os.RemoveAll(a.path)
	} else {
		err = os.Remove(a.path)
	}
	if err != nil {
		log.Printf("[cache] evict %s (%s): %v", a.path, reason, err)
		return
	}
	metrics.CacheEvictions.WithLabelValues(reason).Inc()
	log.Printf("[cache] evicted %s (%s, %d bytes)", filepath.Base(a.path), reason, a.size)
}
