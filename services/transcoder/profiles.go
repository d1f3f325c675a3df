package transcoder

import (
	"fmt"
	"strings"
)

// Profile is a fixed encoder configuration for one quality label.
type Profile struct {
	Label        string
	Height       int
	VideoBitrate int // kbit/s
	FPS          int
	Preset       string
}

// profiles maps quality labels to encoder settings. Heights match the probe
// ladder so the two stay in lockstep.
var profiles = map[string]Profile{
	"4k":    {Label: "4K", Height: 2160, VideoBitrate: 8000, FPS: 30, Preset: "medium"},
	"1080p": {Label: "1080p", Height: 1080, VideoBitrate: 5000, FPS: 30, Preset: "fast"},
	"720p":  {Label: "720p", Height: 720, VideoBitrate: 2500, FPS: 30, Preset: "fast"},
	"480p":  {Label: "480p", Height: 480, VideoBitrate: 1000, FPS: 30, Preset: "veryfast"},
	"360p":  {Label: "360p", Height: 360, VideoBitrate: 600, FPS: 30, Preset: "veryfast"},
}

// ProfileFor resolves a quality label case-insensitively.
func ProfileFor(label string) (Profile, bool) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(label))]
	return p, ok
}

// baseVideoArgs are the encoder flags shared by every output mode.
func (p Profile) baseVideoArgs() []string {
	return []string{
		"-c:v", "libx264",
		"-preset", p.Preset,
		"-vf", fmt.Sprintf("scale=-2:%d", p.Height),
		"-b:v", fmt.Sprintf("%dk", p.VideoBitrate),
		"-maxrate", fmt.Sprintf("%dk", p.VideoBitrate*11/10),
		"-bufsize", fmt.Sprintf("%dk", p.VideoBitrate*2),
		"-c:a", "aac",
		"-b:a", "128k",
		"-ac", "2",
	}
}

// mp4FileArgs builds the argument list for a file transcode with the moov
// atom relocated to the head for instant playback start.
func (p Profile) mp4FileArgs(input, output string) []string {
	args := []string{"-i", input}
	args = append(args, p.baseVideoArgs()...)
	args = append(args,
		"-movflags", "+faststart",
		"-f", "mp4",
		"-y", output,
	)
	return args
}

// mp4StreamArgs builds the argument list for realtime fragmented MP4 written
// to stdout. Fragmented output needs no seekable destination.
func (p Profile) mp4StreamArgs(input string) []string {
	args := []string{"-i", input}
	args = append(args, p.baseVideoArgs()...)
	args = append(args,
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		"pipe:1",
	)
	return args
}

// hlsArgs builds the argument list for segmented HLS output. Scene-cut
// keyframes are disabled and the GOP pinned to the segment length so every
// segment starts on a keyframe.
func (p Profile) hlsArgs(input, segmentPattern, playlistPath string, segmentSeconds int) []string {
	if segmentSeconds <= 0 {
		segmentSeconds = 10
	}
	args := []string{"-i", input}
	args = append(args, p.baseVideoArgs()...)
	args = append(args,
		"-sc_threshold", "0",
		"-g", fmt.Sprintf("%d", segmentSeconds*p.FPS),
		"-keyint_min", fmt.Sprintf("%d", segmentSeconds*p.FPS),
		"-hls_time", fmt.Sprintf("%d", segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_segment_filename", segmentPattern,
		"-f", "hls",
		"-y", playlistPath,
	)
	return args
}
