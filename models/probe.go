package models

// ProbeResult is the inspection summary for a video file.
type ProbeResult struct {
	Duration     float64     `json:"duration"` // seconds
	Size         int64       `json:"size"`
	Bitrate      int64       `json:"bitrate"` // bits per second
	Container    string      `json:"container"`
	Video        VideoStream `json:"video"`
	Audio        AudioStream `json:"audio"`
	QualityLabel string      `json:"qualityLabel"`
}

// VideoStream describes the primary video stream of a probed file.
type VideoStream struct {
	Codec   string  `json:"codec"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	FPS     float64 `json:"fps"`
	Bitrate int64   `json:"bitrate"`
	Profile string  `json:"profile,omitempty"`
}

// AudioStream describes the primary audio stream of a probed file.
type AudioStream struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Bitrate    int64  `json:"bitrate"`
}

// QualityOption is one rung of the transcode ladder offered for a file.
type QualityOption struct {
	Label   string `json:"label"`
	Height  int    `json:"height"`
	Bitrate int    `json:"bitrate"` // kbit/s
}
