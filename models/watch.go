package models

import "time"

// CompletedThreshold is the progress fraction at which a watch record is
// considered finished.
const CompletedThreshold = 0.95

// WatchRecord is the per-(user, media item) playback state.
type WatchRecord struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	MediaItemID int64     `json:"mediaItemId"`
	Position    float64   `json:"position"` // seconds
	Duration    float64   `json:"duration"` // seconds
	Progress    float64   `json:"progress"` // fraction in [0,1]
	Completed   bool      `json:"completed"`
	WatchCount  int       `json:"watchCount"`
	LastWatched time.Time `json:"lastWatched"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WatchStats aggregates a user's history.
type WatchStats struct {
	TotalWatched   int     `json:"totalWatched"`
	InProgress     int     `json:"inProgress"`
	TotalSeconds   float64 `json:"totalSeconds"`
	MoviesWatched  int     `json:"moviesWatched"`
	EpisodesWatched int    `json:"episodesWatched"`
}

// ContinueWatchingItem joins a watch record with its media item for the
// continue-watching shelf.
type ContinueWatchingItem struct {
	Record WatchRecord `json:"record"`
	Item   MediaItem   `json:"item"`
}
