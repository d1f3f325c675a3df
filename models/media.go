package models

import "time"

// MediaType distinguishes the three kinds of library entries.
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeTvShow  MediaType = "tv_show"
	MediaTypeEpisode MediaType = "episode"
)

// SourceKind identifies where a media file lives.
type SourceKind string

const (
	SourceKindLocal SourceKind = "local"
	SourceKindFTP   SourceKind = "ftp"
	SourceKindSMB   SourceKind = "smb"
	SourceKindUPnP  SourceKind = "upnp"
)

// MediaItem is a single file known to the library.
type MediaItem struct {
	ID           int64      `json:"id"`
	Type         MediaType  `json:"type"`
	Title        string     `json:"title"`
	Year         int        `json:"year,omitempty"`
	Duration     float64    `json:"duration,omitempty"` // seconds
	FilePath     string     `json:"filePath"`
	FileSize     int64      `json:"fileSize"`
	SourceKind   SourceKind `json:"sourceKind"`
	SourceID     int64      `json:"sourceId,omitempty"` // 0 for local files
	ProviderID   string     `json:"providerId,omitempty"`
	PosterURL    string     `json:"posterUrl,omitempty"`
	BackdropURL  string     `json:"backdropUrl,omitempty"`
	Overview     string     `json:"overview,omitempty"`
	Rating       float64    `json:"rating,omitempty"`
	Genres       string     `json:"genres,omitempty"` // comma-joined
	Cast         string     `json:"cast,omitempty"`   // comma-joined
	QualityLabel string     `json:"qualityLabel,omitempty"`
	AddedAt      time.Time  `json:"addedAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// TvShow is the parent container for episodes. It keeps a unique
// back-reference to its MediaItem row of type tv_show.
type TvShow struct {
	ID           int64     `json:"id"`
	MediaItemID  int64     `json:"mediaItemId"`
	ProviderID   string    `json:"providerId,omitempty"`
	Title        string    `json:"title"`
	Overview     string    `json:"overview,omitempty"`
	FirstAirDate string    `json:"firstAirDate,omitempty"`
	SeasonCount  int       `json:"seasonCount,omitempty"`
	EpisodeCount int       `json:"episodeCount,omitempty"`
	Status       string    `json:"status,omitempty"`
	PosterURL    string    `json:"posterUrl,omitempty"`
	BackdropURL  string    `json:"backdropUrl,omitempty"`
	Genres       string    `json:"genres,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Episode ties a media item to a (show, season, episode) slot.
type Episode struct {
	ID            int64     `json:"id"`
	TvShowID      int64     `json:"tvShowId"`
	SeasonNumber  int       `json:"seasonNumber"`
	EpisodeNumber int       `json:"episodeNumber"`
	MediaItemID   int64     `json:"mediaItemId"`
	Title         string    `json:"title,omitempty"`
	Overview      string    `json:"overview,omitempty"`
	AirDate       string    `json:"airDate,omitempty"`
	StillURL      string    `json:"stillUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Season groups episodes for the show detail response.
type Season struct {
	SeasonNumber int       `json:"seasonNumber"`
	Episodes     []Episode `json:"episodes"`
}

// SubtitleFormat is the on-disk subtitle container.
type SubtitleFormat string

const (
	SubtitleSRT SubtitleFormat = "srt"
	SubtitleVTT SubtitleFormat = "vtt"
	SubtitleASS SubtitleFormat = "ass"
)

// Subtitle is a sidecar subtitle file attached to a media item.
type Subtitle struct {
	ID          int64          `json:"id"`
	MediaItemID int64          `json:"mediaItemId"`
	Language    string         `json:"language"`
	Label       string         `json:"label"`
	FilePath    string         `json:"filePath"`
	Format      SubtitleFormat `json:"format"`
	IsDefault   bool           `json:"isDefault"`
}
