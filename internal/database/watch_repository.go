package database

import (
	"database/sql"
	"errors"

	"lunastream/models"
)

// WatchRepository persists per-(user, media item) playback state.
type WatchRepository struct {
	db *sql.DB
}

const watchColumns = `id, user_id, media_item_id, position, duration, progress,
	completed, watch_count, last_watched, created_at`

func scanWatch(row interface{ Scan(...any) error }) (models.WatchRecord, error) {
	var w models.WatchRecord
	err := row.Scan(&w.ID, &w.UserID, &w.MediaItemID, &w.Position, &w.Duration,
		&w.Progress, &w.Completed, &w.WatchCount, &w.LastWatched, &w.CreatedAt)
	if err == nil && w.Progress > 1 {
		// Early builds stored progress as a 0-100 percentage.
		w.Progress = w.Progress / 100
		w.Completed = w.Progress >= models.CompletedThreshold
	}
	return w, err
}

// Upsert writes the playback state for (user, media item). watch_count is
// the number of completed watches: it bumps only when a report crosses the
// completion threshold. Reports that stay completed belong to the same
// sitting; a rewatch resets progress first, clearing the flag.
func (r *WatchRepository) Upsert(rec models.WatchRecord) (models.WatchRecord, error) {
	existing, err := r.Get(rec.UserID, rec.MediaItemID)
	switch {
	case errors.Is(err, ErrNotFound):
		watchCount := 0
		if rec.Completed {
			watchCount = 1
		}
		_, err = r.db.Exec(`INSERT INTO watch_records
			(user_id, media_item_id, position, duration, progress, completed, watch_count, last_watched)
			VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
			rec.UserID, rec.MediaItemID, rec.Position, rec.Duration, rec.Progress, rec.Completed, watchCount)
		if err != nil {
			return models.WatchRecord{}, err
		}
	case err != nil:
		return models.WatchRecord{}, err
	default:
		watchCount := existing.WatchCount
		if rec.Completed && !existing.Completed {
			watchCount++
		}
		_, err = r.db.Exec(`UPDATE watch_records SET position = ?, duration = ?,
			progress = ?, completed = ?, watch_count = ?, last_watched = CURRENT_TIMESTAMP
			WHERE user_id = ? AND media_item_id = ?`,
			rec.Position, rec.Duration, rec.Progress, rec.Completed, watchCount,
			rec.UserID, rec.MediaItemID)
		if err != nil {
			return models.WatchRecord{}, err
		}
	}
	return r.Get(rec.UserID, rec.MediaItemID)
}

// MarkWatched force-completes the record. Unlike Upsert, marking a record
// that is already completed counts as another watch.
func (r *WatchRepository) MarkWatched(userID, mediaItemID int64) (models.WatchRecord, error) {
	existing, err := r.Get(userID, mediaItemID)
	switch {
	case errors.Is(err, ErrNotFound):
		_, err = r.db.Exec(`INSERT INTO watch_records
			(user_id, media_item_id, position, duration, progress, completed, watch_count, last_watched)
			VALUES (?, ?, 0, 0, 1, 1, 1, CURRENT_TIMESTAMP)`, userID, mediaItemID)
		if err != nil {
			return models.WatchRecord{}, err
		}
	case err != nil:
		return models.WatchRecord{}, err
	default:
		position := existing.Position
		if existing.Duration > 0 {
			position = existing.Duration
		}
		_, err = r.db.Exec(`UPDATE watch_records SET position = ?, progress = 1,
			completed = 1, watch_count = ?, last_watched = CURRENT_TIMESTAMP
			WHERE user_id = ? AND media_item_id = ?`,
			position, existing.WatchCount+1, userID, mediaItemID)
		if err != nil {
			return models.WatchRecord{}, err
		}
	}
	return r.Get(userID, mediaItemID)
}

// Get returns the record for (user, media item) or ErrNotFound.
func (r *WatchRepository) Get(userID, mediaItemID int64) (models.WatchRecord, error) {
	row := r.db.QueryRow(`SELECT `+watchColumns+` FROM watch_records
		WHERE user_id = ? AND media_item_id = ?`, userID, mediaItemID)
	w, err := scanWatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.WatchRecord{}, ErrNotFound
	}
	return w, err
}

// Delete removes the record for (user, media item).
func (r *WatchRepository) Delete(userID, mediaItemID int64) error {
	res, err := r.db.Exec(`DELETE FROM watch_records WHERE user_id = ? AND media_item_id = ?`,
		userID, mediaItemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ContinueWatching returns in-progress, non-completed records joined with
// their media items, most recent first.
func (r *WatchRepository) ContinueWatching(userID int64, limit int) ([]models.ContinueWatchingItem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`SELECT w.id, w.user_id, w.media_item_id, w.position,
		w.duration, w.progress, w.completed, w.watch_count, w.last_watched, w.created_at,
		`+prefixedMediaColumns("m")+`
		FROM watch_records w JOIN media_items m ON m.id = w.media_item_id
		WHERE w.user_id = ? AND w.completed = 0 AND w.progress > 0
		ORDER BY w.last_watched DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJoined(rows)
}

// RecentlyWatched returns completed records, most recent first.
func (r *WatchRepository) RecentlyWatched(userID int64, limit int) ([]models.ContinueWatchingItem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`SELECT w.id, w.user_id, w.media_item_id, w.position,
		w.duration, w.progress, w.completed, w.watch_count, w.last_watched, w.created_at,
		`+prefixedMediaColumns("m")+`
		FROM watch_records w JOIN media_items m ON m.id = w.media_item_id
		WHERE w.user_id = ? AND w.completed = 1
		ORDER BY w.last_watched DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJoined(rows)
}

// History pages through every record for a user, most recent first.
func (r *WatchRepository) History(userID int64, limit, offset int) ([]models.ContinueWatchingItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`SELECT w.id, w.user_id, w.media_item_id, w.position,
		w.duration, w.progress, w.completed, w.watch_count, w.last_watched, w.created_at,
		`+prefixedMediaColumns("m")+`
		FROM watch_records w JOIN media_items m ON m.id = w.media_item_id
		WHERE w.user_id = ?
		ORDER BY w.last_watched DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJoined(rows)
}

// Stats aggregates a user's watch history.
func (r *WatchRepository) Stats(userID int64) (models.WatchStats, error) {
	var stats models.WatchStats
	err := r.db.QueryRow(`SELECT
		COUNT(CASE WHEN completed = 1 THEN 1 END),
		COUNT(CASE WHEN completed = 0 AND progress > 0 THEN 1 END),
		COALESCE(SUM(position), 0)
		FROM watch_records WHERE user_id = ?`, userID).
		Scan(&stats.TotalWatched, &stats.InProgress, &stats.TotalSeconds)
	if err != nil {
		return models.WatchStats{}, err
	}

	err = r.db.QueryRow(`SELECT
		COUNT(CASE WHEN m.type = 'movie' THEN 1 END),
		COUNT(CASE WHEN m.type = 'episode' THEN 1 END)
		FROM watch_records w JOIN media_items m ON m.id = w.media_item_id
		WHERE w.user_id = ? AND w.completed = 1`, userID).
		Scan(&stats.MoviesWatched, &stats.EpisodesWatched)
	return stats, err
}

func prefixedMediaColumns(alias string) string {
	return alias + `.id, ` + alias + `.type, ` + alias + `.title, ` + alias + `.year, ` +
		alias + `.duration, ` + alias + `.file_path, ` + alias + `.file_size, ` +
		alias + `.source_kind, ` + alias + `.source_id, ` + alias + `.provider_id, ` +
		alias + `.poster_url, ` + alias + `.backdrop_url, ` + alias + `.overview, ` +
		alias + `.rating, ` + alias + `.genres, ` + alias + `.cast_list, ` +
		alias + `.quality_label, ` + alias + `.added_at, ` + alias + `.updated_at`
}

func collectJoined(rows *sql.Rows) ([]models.ContinueWatchingItem, error) {
	var items []models.ContinueWatchingItem
	for rows.Next() {
		var w models.WatchRecord
		var m models.MediaItem
		err := rows.Scan(&w.ID, &w.UserID, &w.MediaItemID, &w.Position, &w.Duration,
			&w.Progress, &w.Completed, &w.WatchCount, &w.LastWatched, &w.CreatedAt,
			&m.ID, &m.Type, &m.Title, &m.Year, &m.Duration, &m.FilePath, &m.FileSize,
			&m.SourceKind, &m.SourceID, &m.ProviderID, &m.PosterURL, &m.BackdropURL,
			&m.Overview, &m.Rating, &m.Genres, &m.Cast, &m.QualityLabel,
			&m.AddedAt, &m.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if w.Progress > 1 {
			w.Progress = w.Progress / 100
			w.Completed = w.Progress >= models.CompletedThreshold
		}
		items = append(items, models.ContinueWatchingItem{Record: w, Item: m})
	}
	return items, rows.Err()
}
