package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"lunastream/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// MediaRepository persists media items.
type MediaRepository struct {
	db *sql.DB
}

const mediaColumns = `id, type, title, year, duration, file_path, file_size,
	source_kind, source_id, provider_id, poster_url, backdrop_url, overview,
	rating, genres, cast_list, quality_label, added_at, updated_at`

func scanMediaItem(row interface{ Scan(...any) error }) (models.MediaItem, error) {
	var m models.MediaItem
	err := row.Scan(&m.ID, &m.Type, &m.Title, &m.Year, &m.Duration, &m.FilePath,
		&m.FileSize, &m.SourceKind, &m.SourceID, &m.ProviderID, &m.PosterURL,
		&m.BackdropURL, &m.Overview, &m.Rating, &m.Genres, &m.Cast,
		&m.QualityLabel, &m.AddedAt, &m.UpdatedAt)
	return m, err
}

// Insert stores a new media item and returns it with its assigned ID.
func (r *MediaRepository) Insert(item models.MediaItem) (models.MediaItem, error) {
	res, err := r.db.Exec(`INSERT INTO media_items
		(type, title, year, duration, file_path, file_size, source_kind, source_id,
		 provider_id, poster_url, backdrop_url, overview, rating, genres, cast_list, quality_label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Type, item.Title, item.Year, item.Duration, item.FilePath, item.FileSize,
		item.SourceKind, item.SourceID, item.ProviderID, item.PosterURL, item.BackdropURL,
		item.Overview, item.Rating, item.Genres, item.Cast, item.QualityLabel)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return models.MediaItem{}, ErrDuplicate
		}
		return models.MediaItem{}, fmt.Errorf("insert media item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.MediaItem{}, err
	}
	return r.GetByID(id)
}

// GetByID returns the media item with the given ID or ErrNotFound.
func (r *MediaRepository) GetByID(id int64) (models.MediaItem, error) {
	row := r.db.QueryRow(`SELECT `+mediaColumns+` FROM media_items WHERE id = ?`, id)
	item, err := scanMediaItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MediaItem{}, ErrNotFound
	}
	return item, err
}

// Exists reports whether a file at (kind, sourceID, path) is already indexed.
func (r *MediaRepository) Exists(kind models.SourceKind, sourceID int64, path string) (bool, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(1) FROM media_items
		WHERE source_kind = ? AND source_id = ? AND file_path = ?`, kind, sourceID, path).Scan(&n)
	return n > 0, err
}

// ListByType returns all media items of the given type ordered by title.
func (r *MediaRepository) ListByType(t models.MediaType) ([]models.MediaItem, error) {
	rows, err := r.db.Query(`SELECT `+mediaColumns+` FROM media_items WHERE type = ? ORDER BY title COLLATE NOCASE`, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMediaItems(rows)
}

func collectMediaItems(rows *sql.Rows) ([]models.MediaItem, error) {
	var items []models.MediaItem
	for rows.Next() {
		item, err := scanMediaItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Search finds items whose title matches the query. Results are ranked
// prefix matches first, then by rating, then by year.
func (r *MediaRepository) Search(query string, mediaType models.MediaType, limit int) ([]models.MediaItem, error) {
	if limit <= 0 {
		limit = 50
	}
	q := strings.TrimSpace(query)
	prefix := q + "%"
	contains := "%" + q + "%"

	stmt := `SELECT ` + mediaColumns + ` FROM media_items
		WHERE title LIKE ? COLLATE NOCASE`
	args := []any{contains}
	if mediaType != "" {
		stmt += ` AND type = ?`
		args = append(args, mediaType)
	}
	stmt += ` ORDER BY CASE WHEN title LIKE ? COLLATE NOCASE THEN 0 ELSE 1 END, rating DESC, year DESC LIMIT ?`
	args = append(args, prefix, limit)

	rows, err := r.db.Query(stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMediaItems(rows)
}

// UpdateMetadata applies enrichment results to an item.
func (r *MediaRepository) UpdateMetadata(id int64, providerID, posterURL, backdropURL, overview string, rating float64, genres, cast string, year int) error {
	_, err := r.db.Exec(`UPDATE media_items SET provider_id = ?, poster_url = ?,
		backdrop_url = ?, overview = ?, rating = ?, genres = ?, cast_list = ?,
		year = CASE WHEN ? > 0 THEN ? ELSE year END,
		updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		providerID, posterURL, backdropURL, overview, rating, genres, cast, year, year, id)
	return err
}

// UpdateProbeInfo stores duration and quality discovered by the prober.
func (r *MediaRepository) UpdateProbeInfo(id int64, duration float64, qualityLabel string) error {
	_, err := r.db.Exec(`UPDATE media_items SET duration = ?, quality_label = ?,
		updated_at = CURRENT_TIMESTAMP WHERE id = ?`, duration, qualityLabel, id)
	return err
}

// Delete removes a media item. Episodes, subtitles and watch records cascade.
func (r *MediaRepository) Delete(id int64) error {
	res, err := r.db.Exec(`DELETE FROM media_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByType returns library size per media type.
func (r *MediaRepository) CountByType() (map[models.MediaType]int, error) {
	rows, err := r.db.Query(`SELECT type, COUNT(1) FROM media_items GROUP BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[models.MediaType]int)
	for rows.Next() {
		var t models.MediaType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// TotalSize returns the summed file size of the library in bytes.
func (r *MediaRepository) TotalSize() (int64, error) {
	var total sql.NullInt64
	err := r.db.QueryRow(`SELECT SUM(file_size) FROM media_items`).Scan(&total)
	return total.Int64, err
}

// ListAll returns every media item, used by the admin endpoints.
func (r *MediaRepository) ListAll() ([]models.MediaItem, error) {
	rows, err := r.db.Query(`SELECT ` + mediaColumns + ` FROM media_items ORDER BY added_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMediaItems(rows)
}

// CountBySource reports how many items reference the given source.
func (r *MediaRepository) CountBySource(sourceID int64) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(1) FROM media_items WHERE source_id = ?`, sourceID).Scan(&n)
	return n, err
}
