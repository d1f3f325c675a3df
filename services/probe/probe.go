package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"lunastream/models"
)

// ErrProbeUnavailable means the ffprobe binary could not be found.
var ErrProbeUnavailable = errors.New("ffprobe unavailable")

const probeTimeout = 15 * time.Second

// webNativeContainers are containers browsers play directly.
var webNativeContainers = map[string]struct{}{
	"mp4":  {},
	"webm": {},
	"m4v":  {},
	"mov":  {},
}

// webNativeCodecs are video codecs browsers decode without transcoding.
var webNativeCodecs = map[string]struct{}{
	"h264": {},
	"vp8":  {},
	"vp9":  {},
}

// ladderRungs is the full output ladder, highest first. A file's available
// ladder is the subset whose height does not exceed the source height.
var ladderRungs = []models.QualityOption{
	{Label: "4K", Height: 2160, Bitrate: 8000},
	{Label: "1080p", Height: 1080, Bitrate: 5000},
	{Label: "720p", Height: 720, Bitrate: 2500},
	{Label: "480p", Height: 480, Bitrate: 1000},
	{Label: "360p", Height: 360, Bitrate: 600},
}

// Prober inspects video files with ffprobe.
type Prober struct {
	ffprobePath string
}

// NewProber resolves the ffprobe binary. A missing binary is remembered and
// surfaces as ErrProbeUnavailable per call rather than failing the boot.
func NewProber(ffprobePath string) *Prober {
	resolved := strings.TrimSpace(ffprobePath)
	if resolved == "" {
		resolved = "ffprobe"
	}
	if path, err := exec.LookPath(resolved); err == nil {
		resolved = path
	} else {
		resolved = ""
	}
	return &Prober{ffprobePath: resolved}
}

// ffprobeOutput mirrors the JSON emitted by `ffprobe -show_format -show_streams`.
type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Profile      string `json:"profile"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	BitRate      string `json:"bit_rate"`
	SampleRate   string `json:"sample_rate"`
	Channels     int    `json:"channels"`
}

// Probe inspects the file at path.
func (p *Prober) Probe(ctx context.Context, path string) (models.ProbeResult, error) {
	if p.ffprobePath == "" {
		return models.ProbeResult{}, ErrProbeUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path)
	output, err := cmd.Output()
	if err != nil {
		return models.ProbeResult{}, fmt.Errorf("ffprobe %q: %w", path, err)
	}
	return parseProbeOutput(output)
}

func parseProbeOutput(output []byte) (models.ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(output, &raw); err != nil {
		return models.ProbeResult{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	result := models.ProbeResult{
		Duration:  parseFloat(raw.Format.Duration),
		Size:      parseInt64(raw.Format.Size),
		Bitrate:   parseInt64(raw.Format.BitRate),
		Container: primaryFormatName(raw.Format.FormatName),
	}

	for _, stream := range raw.Streams {
		switch stream.CodecType {
		case "video":
			if result.Video.Codec != "" {
				continue // keep the first video stream
			}
			result.Video = models.VideoStream{
				Codec:   stream.CodecName,
				Width:   stream.Width,
				Height:  stream.Height,
				FPS:     parseFrameRate(stream.AvgFrameRate, stream.RFrameRate),
				Bitrate: parseInt64(stream.BitRate),
				Profile: stream.Profile,
			}
		case "audio":
			if result.Audio.Codec != "" {
				continue
			}
			result.Audio = models.AudioStream{
				Codec:      stream.CodecName,
				SampleRate: int(parseInt64(stream.SampleRate)),
				Channels:   stream.Channels,
				Bitrate:    parseInt64(stream.BitRate),
			}
		}
	}

	result.QualityLabel = QualityLabel(result.Video.Height)
	return result, nil
}

// QualityLabel derives the display label from the video height.
func QualityLabel(height int) string {
	switch {
	case height >= 2160:
		return "4K"
	case height >= 1440:
		return "2K"
	case height >= 1080:
		return "1080p"
	case height >= 720:
		return "720p"
	case height >= 480:
		return "480p"
	case height >= 360:
		return "360p"
	default:
		return "SD"
	}
}

// Ladder returns the output qualities available for a source of the given
// height.
func Ladder(sourceHeight int) []models.QualityOption {
	var rungs []models.QualityOption
	for _, rung := range ladderRungs {
		if rung.Height <= sourceHeight {
			rungs = append(rungs, rung)
		}
	}
	return rungs
}

// FindRung resolves a ladder label, case-insensitively.
func FindRung(label string) (models.QualityOption, bool) {
	for _, rung := range ladderRungs {
		if strings.EqualFold(rung.Label, label) {
			return rung, true
		}
	}
	return models.QualityOption{}, false
}

// NeedsTranscoding reports whether the file can be served to a browser as-is.
func NeedsTranscoding(result models.ProbeResult) bool {
	if _, ok := webNativeContainers[result.Container]; !ok {
		return true
	}
	if result.Video.Height > 1080 {
		return true
	}
	if _, ok := webNativeCodecs[result.Video.Codec]; !ok {
		return true
	}
	return false
}

// IsWebNativeContainer reports whether the container streams directly.
func IsWebNativeContainer(container string) bool {
	_, ok := webNativeContainers[container]
	return ok
}

// ContainerForExtension maps a file extension to its probe container name.
func ContainerForExtension(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "mp4", "m4v":
		return "mp4"
	case "webm":
		return "webm"
	case "mov":
		return "mov"
	case "mkv":
		return "matroska"
	case "avi":
		return "avi"
	case "ts", "m2ts", "mts":
		return "mpegts"
	default:
		return strings.ToLower(strings.TrimPrefix(ext, "."))
	}
}

// primaryFormatName picks a canonical name out of ffprobe's comma list
// ("mov,mp4,m4a,3gp,3g2,mj2" and friends).
func primaryFormatName(formatName string) string {
	names := strings.Split(formatName, ",")
	for _, name := range names {
		if name == "mp4" || name == "webm" || name == "matroska" {
			return name
		}
	}
	if len(names) > 0 {
		return names[0]
	}
	return formatName
}

func parseFrameRate(avg, r string) float64 {
	for _, v := range []string{avg, r} {
		if fps := parseRatio(v); fps > 0 {
			return fps
		}
	}
	return 0
}

func parseRatio(v string) float64 {
	num, den, ok := strings.Cut(v, "/")
	if !ok {
		return parseFloat(v)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func parseInt64(v string) int64 {
	i, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	return i
}
