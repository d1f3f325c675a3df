package probe

import (
	"math"
	"testing"
)

const sampleMKVProbe = `{
  "format": {
    "format_name": "matroska,webm",
    "duration": "2887.123000",
    "size": "2147483648",
    "bit_rate": "5950000"
  },
  "streams": [
    {
      "codec_type": "video",
      "codec_name": "hevc",
      "profile": "Main 10",
      "width": 3840,
      "height": 2160,
      "avg_frame_rate": "24000/1001",
      "bit_rate": "5500000"
    },
    {
      "codec_type": "audio",
      "codec_name": "ac3",
      "sample_rate": "48000",
      "channels": 6,
      "bit_rate": "448000"
    }
  ]
}`

const sampleMP4Probe = `{
  "format": {
    "format_name": "mov,mp4,m4a,3gp,3g2,mj2",
    "duration": "600.5",
    "size": "104857600",
    "bit_rate": "1400000"
  },
  "streams": [
    {
      "codec_type": "video",
      "codec_name": "h264",
      "profile": "High",
      "width": 1280,
      "height": 720,
      "avg_frame_rate": "30/1",
      "bit_rate": "1200000"
    },
    {
      "codec_type": "audio",
      "codec_name": "aac",
      "sample_rate": "44100",
      "channels": 2,
      "bit_rate": "128000"
    }
  ]
}`

func TestParseProbeOutput_MKV(t *testing.T) {
	result, err := parseProbeOutput([]byte(sampleMKVProbe))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.Container != "matroska" {
		t.Fatalf("container = %q", result.Container)
	}
	if math.Abs(result.Duration-2887.123) > 1e-6 {
		t.Fatalf("duration = %v", result.Duration)
	}
	if result.Video.Codec != "hevc" || result.Video.Height != 2160 {
		t.Fatalf("video = %+v", result.Video)
	}
	if math.Abs(result.Video.FPS-23.976) > 0.001 {
		t.Fatalf("fps = %v", result.Video.FPS)
	}
	if result.Audio.Channels != 6 {
		t.Fatalf("audio = %+v", result.Audio)
	}
	if result.QualityLabel != "4K" {
		t.Fatalf("quality = %q", result.QualityLabel)
	}
	if !NeedsTranscoding(result) {
		t.Fatal("4K HEVC matroska must need transcoding")
	}
}

func TestParseProbeOutput_MP4(t *testing.T) {
	result, err := parseProbeOutput([]byte(sampleMP4Probe))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.Container != "mp4" {
		t.Fatalf("container = %q", result.Container)
	}
	if result.QualityLabel != "720p" {
		t.Fatalf("quality = %q", result.QualityLabel)
	}
	if NeedsTranscoding(result) {
		t.Fatal("720p h264 mp4 must not need transcoding")
	}
}

func TestQualityLabelBoundaries(t *testing.T) {
	cases := []struct {
		height int
		label  string
	}{
		{2160, "4K"}, {2200, "4K"},
		{1440, "2K"},
		{1080, "1080p"},
		{720, "720p"},
		{480, "480p"},
		{360, "360p"},
		{240, "SD"}, {0, "SD"},
	}
	for _, tc := range cases {
		if got := QualityLabel(tc.height); got != tc.label {
			t.Errorf("QualityLabel(%d) = %q, want %q", tc.height, got, tc.label)
		}
	}
}

func TestLadderSubset(t *testing.T) {
	rungs := Ladder(1080)
	want := []string{"1080p", "720p", "480p", "360p"}
	if len(rungs) != len(want) {
		t.Fatalf("got %d rungs, want %d", len(rungs), len(want))
	}
	for i, rung := range rungs {
		if rung.Label != want[i] {
			t.Errorf("rung %d = %q, want %q", i, rung.Label, want[i])
		}
	}

	if got := Ladder(2160); len(got) != 5 {
		t.Fatalf("4K source should offer the full ladder, got %d", len(got))
	}
	if got := Ladder(300); got != nil {
		t.Fatalf("sub-360p source should offer nothing, got %+v", got)
	}
}

func TestNeedsTranscoding_HeightCap(t *testing.T) {
	result, err := parseProbeOutput([]byte(sampleMP4Probe))
	if err != nil {
		t.Fatal(err)
	}
	result.Video.Height = 1440
	if !NeedsTranscoding(result) {
		t.Fatal("heights above 1080 require transcoding even in mp4")
	}
}
