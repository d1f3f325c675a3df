package database

import (
	"database/sql"
	"errors"

	"lunastream/models"
)

// SubtitleRepository persists sidecar subtitle rows.
type SubtitleRepository struct {
	db *sql.DB
}

const subtitleColumns = `id, media_item_id, language, label, file_path, format, is_default`

func scanSubtitle(row interface{ Scan(...any) error }) (models.Subtitle, error) {
	var s models.Subtitle
	err := row.Scan(&s.ID, &s.MediaItemID, &s.Language, &s.Label, &s.FilePath, &s.Format, &s.IsDefault)
	return s, err
}

// Insert stores a subtitle. The first subtitle attached to a media item
// becomes the default unless the row already asks for it.
func (r *SubtitleRepository) Insert(sub models.Subtitle) (models.Subtitle, error) {
	if !sub.IsDefault {
		var existing int
		if err := r.db.QueryRow(`SELECT COUNT(1) FROM subtitles WHERE media_item_id = ?`,
			sub.MediaItemID).Scan(&existing); err != nil {
			return models.Subtitle{}, err
		}
		sub.IsDefault = existing == 0
	}

	res, err := r.db.Exec(`INSERT INTO subtitles
		(media_item_id, language, label, file_path, format, is_default)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sub.MediaItemID, sub.Language, sub.Label, sub.FilePath, sub.Format, sub.IsDefault)
	if err != nil {
		return models.Subtitle{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Subtitle{}, err
	}
	return r.GetByID(id)
}

// GetByID returns the subtitle row or ErrNotFound.
func (r *SubtitleRepository) GetByID(id int64) (models.Subtitle, error) {
	row := r.db.QueryRow(`SELECT `+subtitleColumns+` FROM subtitles WHERE id = ?`, id)
	s, err := scanSubtitle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Subtitle{}, ErrNotFound
	}
	return s, err
}

// ListByMediaItem returns subtitles for a media item, default first.
func (r *SubtitleRepository) ListByMediaItem(mediaItemID int64) ([]models.Subtitle, error) {
	rows, err := r.db.Query(`SELECT `+subtitleColumns+` FROM subtitles
		WHERE media_item_id = ? ORDER BY is_default DESC, language`, mediaItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []models.Subtitle
	for rows.Next() {
		s, err := scanSubtitle(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// ExistsForPath reports whether the subtitle file is already attached.
func (r *SubtitleRepository) ExistsForPath(mediaItemID int64, filePath string) (bool, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(1) FROM subtitles WHERE media_item_id = ? AND file_path = ?`,
		mediaItemID, filePath).Scan(&n)
	return n > 0, err
}
