package watch

import (
	"errors"
	"fmt"
	"sync"

	"lunastream/internal/database"
	"lunastream/models"
)

// ErrInvalidProgress rejects playback reports outside sane bounds.
var ErrInvalidProgress = errors.New("invalid playback progress")

const defaultShelfSize = 20

// Service tracks per-user playback state. Updates for the same (user, media)
// pair are serialized so rapid progress reports from one player cannot
// interleave their read-modify-write cycles.
type Service struct {
	records *database.WatchRepository

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(records *database.WatchRepository) *Service {
	return &Service{
		records: records,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Service) pairLock(userID, mediaItemID int64) *sync.Mutex {
	key := fmt.Sprintf("%d:%d", userID, mediaItemID)
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// UpdateProgress records a playback position report. Progress is derived
// from position/duration; crossing the completion threshold marks the record
// watched.
func (s *Service) UpdateProgress(userID, mediaItemID int64, position, duration float64) (models.WatchRecord, error) {
	if position < 0 || duration < 0 || (duration > 0 && position > duration+1) {
		return models.WatchRecord{}, ErrInvalidProgress
	}

	progress := 0.0
	if duration > 0 {
		progress = position / duration
		if progress > 1 {
			progress = 1
		}
	}

	lock := s.pairLock(userID, mediaItemID)
	lock.Lock()
	defer lock.Unlock()

	return s.records.Upsert(models.WatchRecord{
		UserID:      userID,
		MediaItemID: mediaItemID,
		Position:    position,
		Duration:    duration,
		Progress:    progress,
		Completed:   progress >= models.CompletedThreshold,
	})
}

// MarkWatched force-completes a record regardless of position. Marking an
// already-completed item is the explicit rewatch path and bumps the count.
func (s *Service) MarkWatched(userID, mediaItemID int64) (models.WatchRecord, error) {
	lock := s.pairLock(userID, mediaItemID)
	lock.Lock()
	defer lock.Unlock()

	return s.records.MarkWatched(userID, mediaItemID)
}

// MarkUnwatched deletes the record entirely, resetting both progress and the
// watch count.
func (s *Service) MarkUnwatched(userID, mediaItemID int64) error {
	lock := s.pairLock(userID, mediaItemID)
	lock.Lock()
	defer lock.Unlock()

	err := s.records.Delete(userID, mediaItemID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	return err
}

// Get returns the record for one media item, or ErrNotFound.
func (s *Service) Get(userID, mediaItemID int64) (models.WatchRecord, error) {
	return s.records.Get(userID, mediaItemID)
}

// ContinueWatching lists partially watched items, most recent first.
func (s *Service) ContinueWatching(userID int64, limit int) ([]models.ContinueWatchingItem, error) {
	if limit <= 0 {
		limit = defaultShelfSize
	}
	return s.records.ContinueWatching(userID, limit)
}

// RecentlyWatched lists completed items, most recent first.
func (s *Service) RecentlyWatched(userID int64, limit int) ([]models.ContinueWatchingItem, error) {
	if limit <= 0 {
		limit = defaultShelfSize
	}
	return s.records.RecentlyWatched(userID, limit)
}

// History pages through the full watch history.
func (s *Service) History(userID int64, limit, offset int) ([]models.ContinueWatchingItem, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.records.History(userID, limit, offset)
}

// Stats aggregates the user's viewing totals.
func (s *Service) Stats(userID int64) (models.WatchStats, error) {
	return s.records.Stats(userID)
}
