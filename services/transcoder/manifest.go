package transcoder

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// nominalWidth returns the 16:9 width for a ladder height, rounded to even.
func nominalWidth(height int) int {
	w := height * 16 / 9
	return w &^ 1
}

// masterPlaylist renders an adaptive master playlist referencing one variant
// playlist per profile, highest bandwidth first.
func masterPlaylist(variants []Profile) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, p := range variants {
		// BANDWIDTH is bits per second including audio overhead.
		bandwidth := (p.VideoBitrate + 128) * 1000
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n",
			bandwidth, nominalWidth(p.Height), p.Height)
		fmt.Fprintf(&b, "%s/playlist.m3u8\n", strings.ToLower(p.Label))
	}
	return b.String()
}

// MasterManifestPath returns the adaptive master playlist location.
func (s *Service) MasterManifestPath(mediaID int64) string {
	return filepath.Join(s.HLSDir(mediaID), "master.m3u8")
}

// GenerateAdaptiveHLS produces one variant tree per label under the media's
// HLS directory plus a master playlist. The whole generation is serialized
// per media item: all variants write under one hls_<id>/ tree.
func (s *Service) GenerateAdaptiveHLS(ctx context.Context, input string, mediaID int64, labels []string) (string, error) {
	if s.ffmpegPath == "" {
		return "", ErrUnavailable
	}

	var variants []Profile
	for _, label := range labels {
		p, ok := ProfileFor(label)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownQuality, label)
		}
		variants = append(variants, p)
	}
	if len(variants) == 0 {
		return "", fmt.Errorf("%w: empty ladder", ErrUnknownQuality)
	}

	master := s.MasterManifestPath(mediaID)
	if _, err := os.Stat(master); err == nil {
		if s.tracker != nil {
			s.tracker.Touch(master)
		}
		return master, nil
	}

	key := fmt.Sprintf("hls-master:%d", mediaID)
	j, owner := s.acquireJob(ctx, key)
	if !owner {
		if err := waitJob(ctx, j); err != nil {
			return "", err
		}
		return master, nil
	}

	go func() {
		err := s.runAdaptiveJob(j.ctx, input, mediaID, variants)
		s.finishJob(key, j, err)
	}()
	if err := waitJob(ctx, j); err != nil {
		return "", err
	}
	return master, nil
}

func (s *Service) runAdaptiveJob(ctx context.Context, input string, mediaID int64, variants []Profile) error {
	lock := s.hlsLock(mediaID)
	lock.Lock()
	defer lock.Unlock()

	root := s.HLSDir(mediaID)
	if s.tracker != nil {
		s.tracker.MarkInFlight(root)
		defer s.tracker.UnmarkInFlight(root)
	}

	for _, p := range variants {
		dir := filepath.Join(root, strings.ToLower(p.Label))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		playlist := filepath.Join(dir, "playlist.m3u8")
		if _, err := os.Stat(playlist); err == nil {
			continue
		}

		segments := filepath.Join(dir, "segment%03d.ts")
		cmd := exec.CommandContext(ctx, s.ffmpegPath, p.hlsArgs(input, segments, playlist, s.segmentSeconds)...)
		var stderr strings.Builder
		cmd.Stderr = &stderr
		log.Printf("[transcoder] adaptive variant start: media=%d quality=%s", mediaID, p.Label)
		if err := cmd.Run(); err != nil {
			_ = os.RemoveAll(dir)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: variant %s: %v: %s", ErrEncodeFailed, p.Label, err, tail(stderr.String()))
		}
	}

	master := s.MasterManifestPath(mediaID)
	if err := os.WriteFile(master, []byte(masterPlaylist(variants)), 0o644); err != nil {
		return err
	}
	if s.tracker != nil {
		s.tracker.Touch(master)
	}
	log.Printf("[transcoder] adaptive master written: media=%d variants=%d", mediaID, len(variants))
	return nil
}
