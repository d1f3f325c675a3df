package transcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"lunastream/internal/metrics"
)

var (
	// ErrEncodeFailed surfaces a non-zero encoder exit.
	ErrEncodeFailed = errors.New("encode failed")
	// ErrUnavailable means the ffmpeg binary could not be found. Fatal to the
	// job, not to the server.
	ErrUnavailable = errors.New("transcoder unavailable")
	// ErrUnknownQuality rejects labels outside the profile table.
	ErrUnknownQuality = errors.New("unknown quality label")
)

// ArtifactTracker lets the cache manager protect files the encoder is still
// writing and keep access times fresh for LRU eviction.
type ArtifactTracker interface {
	MarkInFlight(path string)
	UnmarkInFlight(path string)
	Touch(path string)
}

type job struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Service spawns and supervises external encoder processes. At most one job
// runs per key; concurrent callers for the same key observe the single job's
// outcome.
type Service struct {
	ffmpegPath     string
	cacheDir       string
	segmentSeconds int
	tracker        ArtifactTracker

	mu   sync.Mutex
	jobs map[string]*job

	// Serializes HLS generation per media item; adaptive variants share one
	// output tree.
	hlsMu    sync.Mutex
	hlsLocks map[int64]*sync.Mutex
}

// NewService resolves the encoder binary and prepares the job table. A
// missing binary is tolerated: jobs fail with ErrUnavailable.
func NewService(ffmpegPath, cacheDir string, segmentSeconds int, tracker ArtifactTracker) *Service {
	resolved := strings.TrimSpace(ffmpegPath)
	if resolved == "" {
		resolved = "ffmpeg"
	}
	if path, err := exec.LookPath(resolved); err == nil {
		resolved = path
	} else {
		log.Printf("[transcoder] ffmpeg not found at %q: %v (transcode jobs will fail)", resolved, err)
		resolved = ""
	}
	if segmentSeconds <= 0 {
		segmentSeconds = 10
	}
	return &Service{
		ffmpegPath:     resolved,
		cacheDir:       cacheDir,
		segmentSeconds: segmentSeconds,
		tracker:        tracker,
		jobs:           make(map[string]*job),
		hlsLocks:       make(map[int64]*sync.Mutex),
	}
}

// Available reports whether the encoder binary was found.
func (s *Service) Available() bool { return s.ffmpegPath != "" }

// OutputPath returns the cache location of a file transcode.
func (s *Service) OutputPath(mediaID int64, label string) string {
	return filepath.Join(s.cacheDir, fmt.Sprintf("%d_%s.mp4", mediaID, strings.ToLower(label)))
}

// HLSDir returns the HLS tree for a media item.
func (s *Service) HLSDir(mediaID int64) string {
	return filepath.Join(s.cacheDir, fmt.Sprintf("hls_%d", mediaID))
}

// HLSManifestPath returns the media playlist location for a media item.
func (s *Service) HLSManifestPath(mediaID int64) string {
	return filepath.Join(s.HLSDir(mediaID), "playlist.m3u8")
}

// acquireJob registers a job under key or joins the running one. The second
// return is true when the caller owns the new job and must run it.
func (s *Service) acquireJob(ctx context.Context, key string) (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[key]; ok {
		return existing, false
	}
	// The job context is detached from the caller: other callers may join the
	// job, so the first caller's disconnect must not kill it. Cancellation
	// goes through Cancel or finishJob.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &job{ctx: jobCtx, cancel: cancel, done: make(chan struct{})}
	s.jobs[key] = j
	return j, true
}

func (s *Service) finishJob(key string, j *job, err error) {
	s.mu.Lock()
	delete(s.jobs, key)
	s.mu.Unlock()
	j.err = err
	close(j.done)
	j.cancel()
}

// Cancel kills the running job for key, if any.
func (s *Service) Cancel(key string) {
	s.mu.Lock()
	j, ok := s.jobs[key]
	s.mu.Unlock()
	if ok {
		j.cancel()
	}
}

// RunningJobs returns the keys of currently running jobs.
func (s *Service) RunningJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.jobs))
	for k := range s.jobs {
		keys = append(keys, k)
	}
	return keys
}

// IsRunning reports whether a job for key is in flight.
func (s *Service) IsRunning(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	return ok
}

// TranscodeToMP4 produces a seekable MP4 file at output. A caller joining an
// in-flight job for the same output waits for that job's outcome.
func (s *Service) TranscodeToMP4(ctx context.Context, input, output string, profile Profile) error {
	if s.ffmpegPath == "" {
		return ErrUnavailable
	}

	j, owner := s.acquireJob(ctx, output)
	if !owner {
		return waitJob(ctx, j)
	}

	go func() {
		err := s.runFileJob(j.ctx, input, output, profile)
		s.finishJob(output, j, err)
	}()
	return waitJob(ctx, j)
}

func (s *Service) runFileJob(ctx context.Context, input, output string, profile Profile) error {
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return err
	}
	if s.tracker != nil {
		s.tracker.MarkInFlight(output)
		defer s.tracker.UnmarkInFlight(output)
	}

	cmd := exec.CommandContext(ctx, s.ffmpegPath, profile.mp4FileArgs(input, output)...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	metrics.TranscodeJobs.WithLabelValues("file").Inc()
	log.Printf("[transcoder] mp4 job start: %s -> %s (%s)", input, output, profile.Label)
	if err := cmd.Run(); err != nil {
		_ = os.Remove(output)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v: %s", ErrEncodeFailed, err, tail(stderr.String()))
	}
	if s.tracker != nil {
		s.tracker.Touch(output)
	}
	log.Printf("[transcoder] mp4 job done: %s", output)
	return nil
}

// TranscodeQuality transcodes a media item to the given quality, returning
// the cached output immediately when it already exists.
func (s *Service) TranscodeQuality(ctx context.Context, input, label string, mediaID int64) (string, error) {
	profile, ok := ProfileFor(label)
	if !ok {
		return "", ErrUnknownQuality
	}
	output := s.OutputPath(mediaID, profile.Label)

	if _, err := os.Stat(output); err == nil {
		if s.tracker != nil {
			s.tracker.Touch(output)
		}
		return output, nil
	}

	if err := s.TranscodeToMP4(ctx, input, output, profile); err != nil {
		return "", err
	}
	return output, nil
}

// StreamTranscode pipes a realtime fragmented MP4 into w. Cancellation of ctx
// (the HTTP request context) kills the encoder; partial realtime output is
// never kept.
func (s *Service) StreamTranscode(ctx context.Context, input string, w io.Writer, profile Profile) error {
	if s.ffmpegPath == "" {
		return ErrUnavailable
	}

	cmd := exec.CommandContext(ctx, s.ffmpegPath, profile.mp4StreamArgs(input)...)
	cmd.Stdout = w
	var stderr strings.Builder
	cmd.Stderr = &stderr

	metrics.TranscodeJobs.WithLabelValues("stream").Inc()
	log.Printf("[transcoder] realtime job start: %s (%s)", input, profile.Label)
	err := cmd.Run()
	if ctx.Err() != nil {
		// Client went away; the kill is expected.
		log.Printf("[transcoder] realtime job cancelled: %s", input)
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v: %s", ErrEncodeFailed, err, tail(stderr.String()))
	}
	return nil
}

// GenerateHLS produces the segment tree and media playlist for a media item.
// Generation for one media item is serialized; concurrent callers for the
// same (media, quality) join the running job. A single client disconnect must
// not abort generation, so the job runs detached from the caller's context.
func (s *Service) GenerateHLS(ctx context.Context, input string, mediaID int64, profile Profile) (string, error) {
	if s.ffmpegPath == "" {
		return "", ErrUnavailable
	}

	manifest := s.HLSManifestPath(mediaID)
	if _, err := os.Stat(manifest); err == nil {
		if s.tracker != nil {
			s.tracker.Touch(manifest)
		}
		return manifest, nil
	}

	key := fmt.Sprintf("hls:%d:%s", mediaID, strings.ToLower(profile.Label))
	j, owner := s.acquireJob(ctx, key)
	if !owner {
		if err := waitJob(ctx, j); err != nil {
			return "", err
		}
		return manifest, nil
	}

	go func() {
		err := s.runHLSJob(j.ctx, input, mediaID, profile)
		s.finishJob(key, j, err)
	}()
	if err := waitJob(ctx, j); err != nil {
		return "", err
	}
	return manifest, nil
}

func (s *Service) runHLSJob(ctx context.Context, input string, mediaID int64, profile Profile) error {
	lock := s.hlsLock(mediaID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.HLSDir(mediaID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	manifest := s.HLSManifestPath(mediaID)
	if _, err := os.Stat(manifest); err == nil {
		return nil
	}

	if s.tracker != nil {
		s.tracker.MarkInFlight(dir)
		defer s.tracker.UnmarkInFlight(dir)
	}

	segments := filepath.Join(dir, "segment%03d.ts")
	cmd := exec.CommandContext(ctx, s.ffmpegPath, profile.hlsArgs(input, segments, manifest, s.segmentSeconds)...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	metrics.TranscodeJobs.WithLabelValues("hls").Inc()
	log.Printf("[transcoder] hls job start: media=%d quality=%s", mediaID, profile.Label)
	if err := cmd.Run(); err != nil {
		_ = os.RemoveAll(dir)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v: %s", ErrEncodeFailed, err, tail(stderr.String()))
	}
	if s.tracker != nil {
		s.tracker.Touch(manifest)
	}
	log.Printf("[transcoder] hls job done: media=%d", mediaID)
	return nil
}

func (s *Service) hlsLock(mediaID int64) *sync.Mutex {
	s.hlsMu.Lock()
	defer s.hlsMu.Unlock()
	lock, ok := s.hlsLocks[mediaID]
	if !ok {
		lock = &sync.Mutex{}
		s.hlsLocks[mediaID] = lock
	}
	return lock
}

func waitJob(ctx context.Context, j *job) error {
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tail trims encoder stderr down to its final lines for error messages.
func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) <= 3 {
		return s
	}
	return strings.Join(lines[len(lines)-3:], "\n")
}
