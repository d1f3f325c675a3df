package database

import (
	"database/sql"
	"errors"
	"fmt"

	"lunastream/models"
)

const showColumns = `id, media_item_id, provider_id, title, overview,
	first_air_date, season_count, episode_count, status, poster_url,
	backdrop_url, genres, created_at`

const episodeColumns = `id, tv_show_id, season_number, episode_number,
	media_item_id, title, overview, air_date, still_url, created_at`

func scanShow(row interface{ Scan(...any) error }) (models.TvShow, error) {
	var s models.TvShow
	err := row.Scan(&s.ID, &s.MediaItemID, &s.ProviderID, &s.Title, &s.Overview,
		&s.FirstAirDate, &s.SeasonCount, &s.EpisodeCount, &s.Status,
		&s.PosterURL, &s.BackdropURL, &s.Genres, &s.CreatedAt)
	return s, err
}

func scanEpisode(row interface{ Scan(...any) error }) (models.Episode, error) {
	var e models.Episode
	err := row.Scan(&e.ID, &e.TvShowID, &e.SeasonNumber, &e.EpisodeNumber,
		&e.MediaItemID, &e.Title, &e.Overview, &e.AirDate, &e.StillURL, &e.CreatedAt)
	return e, err
}

// GetShowByTitle looks a show up by its exact title.
func (r *MediaRepository) GetShowByTitle(title string) (models.TvShow, error) {
	row := r.db.QueryRow(`SELECT `+showColumns+` FROM tv_shows WHERE title = ? COLLATE NOCASE`, title)
	show, err := scanShow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TvShow{}, ErrNotFound
	}
	return show, err
}

// GetShowByID returns the show row or ErrNotFound.
func (r *MediaRepository) GetShowByID(id int64) (models.TvShow, error) {
	row := r.db.QueryRow(`SELECT `+showColumns+` FROM tv_shows WHERE id = ?`, id)
	show, err := scanShow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TvShow{}, ErrNotFound
	}
	return show, err
}

// ListShows returns all shows ordered by title.
func (r *MediaRepository) ListShows() ([]models.TvShow, error) {
	rows, err := r.db.Query(`SELECT ` + showColumns + ` FROM tv_shows ORDER BY title COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var shows []models.TvShow
	for rows.Next() {
		show, err := scanShow(rows)
		if err != nil {
			return nil, err
		}
		shows = append(shows, show)
	}
	return shows, rows.Err()
}

// UpsertShow returns the existing show with the given title or creates it
// together with its container media item.
func (r *MediaRepository) UpsertShow(title string, kind models.SourceKind, sourceID int64, dirPath string) (models.TvShow, error) {
	if show, err := r.GetShowByTitle(title); err == nil {
		return show, nil
	} else if !errors.Is(err, ErrNotFound) {
		return models.TvShow{}, err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return models.TvShow{}, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO media_items (type, title, file_path, source_kind, source_id)
		VALUES (?, ?, ?, ?, ?)`, models.MediaTypeTvShow, title, dirPath, kind, sourceID)
	if err != nil {
		return models.TvShow{}, fmt.Errorf("insert show media item: %w", err)
	}
	itemID, err := res.LastInsertId()
	if err != nil {
		return models.TvShow{}, err
	}

	res, err = tx.Exec(`INSERT INTO tv_shows (media_item_id, title) VALUES (?, ?)`, itemID, title)
	if err != nil {
		return models.TvShow{}, fmt.Errorf("insert tv show: %w", err)
	}
	showID, err := res.LastInsertId()
	if err != nil {
		return models.TvShow{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.TvShow{}, err
	}
	return r.GetShowByID(showID)
}

// InsertEpisode stores an episode row. A duplicate (show, season, episode)
// resolves to the existing row.
func (r *MediaRepository) InsertEpisode(ep models.Episode) (models.Episode, error) {
	res, err := r.db.Exec(`INSERT INTO episodes
		(tv_show_id, season_number, episode_number, media_item_id, title)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tv_show_id, season_number, episode_number) DO NOTHING`,
		ep.TvShowID, ep.SeasonNumber, ep.EpisodeNumber, ep.MediaItemID, ep.Title)
	if err != nil {
		return models.Episode{}, fmt.Errorf("insert episode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.GetEpisodeBySlot(ep.TvShowID, ep.SeasonNumber, ep.EpisodeNumber)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Episode{}, err
	}
	return r.GetEpisodeByID(id)
}

// GetEpisodeByID returns an episode or ErrNotFound.
func (r *MediaRepository) GetEpisodeByID(id int64) (models.Episode, error) {
	row := r.db.QueryRow(`SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Episode{}, ErrNotFound
	}
	return ep, err
}

// GetEpisodeByMediaItem resolves the episode paired with a media item.
func (r *MediaRepository) GetEpisodeByMediaItem(mediaItemID int64) (models.Episode, error) {
	row := r.db.QueryRow(`SELECT `+episodeColumns+` FROM episodes WHERE media_item_id = ?`, mediaItemID)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Episode{}, ErrNotFound
	}
	return ep, err
}

// GetEpisodeBySlot returns the episode at (show, season, episode).
func (r *MediaRepository) GetEpisodeBySlot(showID int64, season, episode int) (models.Episode, error) {
	row := r.db.QueryRow(`SELECT `+episodeColumns+` FROM episodes
		WHERE tv_show_id = ? AND season_number = ? AND episode_number = ?`, showID, season, episode)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Episode{}, ErrNotFound
	}
	return ep, err
}

// ListEpisodes returns all episodes of a show ordered by season then episode.
func (r *MediaRepository) ListEpisodes(showID int64) ([]models.Episode, error) {
	rows, err := r.db.Query(`SELECT `+episodeColumns+` FROM episodes
		WHERE tv_show_id = ? ORDER BY season_number, episode_number`, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var eps []models.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}

// NextEpisode returns the episode after the given one, crossing season
// boundaries: next in season, otherwise the first episode of the next season
// that has any episodes. ErrNotFound past the final episode.
func (r *MediaRepository) NextEpisode(ep models.Episode) (models.Episode, error) {
	row := r.db.QueryRow(`SELECT `+episodeColumns+` FROM episodes
		WHERE tv_show_id = ?
		  AND (season_number > ? OR (season_number = ? AND episode_number > ?))
		ORDER BY season_number, episode_number LIMIT 1`,
		ep.TvShowID, ep.SeasonNumber, ep.SeasonNumber, ep.EpisodeNumber)
	next, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Episode{}, ErrNotFound
	}
	return next, err
}

// PreviousEpisode is the mirror of NextEpisode.
func (r *MediaRepository) PreviousEpisode(ep models.Episode) (models.Episode, error) {
	row := r.db.QueryRow(`SELECT `+episodeColumns+` FROM episodes
		WHERE tv_show_id = ?
		  AND (season_number < ? OR (season_number = ? AND episode_number < ?))
		ORDER BY season_number DESC, episode_number DESC LIMIT 1`,
		ep.TvShowID, ep.SeasonNumber, ep.SeasonNumber, ep.EpisodeNumber)
	prev, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Episode{}, ErrNotFound
	}
	return prev, err
}

// UpdateShowMetadata applies enrichment results to a show.
func (r *MediaRepository) UpdateShowMetadata(id int64, providerID, overview, firstAirDate, status, posterURL, backdropURL, genres string, seasons, episodes int) error {
	_, err := r.db.Exec(`UPDATE tv_shows SET provider_id = ?, overview = ?,
		first_air_date = ?, status = ?, poster_url = ?, backdrop_url = ?,
		genres = ?, season_count = ?, episode_count = ? WHERE id = ?`,
		providerID, overview, firstAirDate, status, posterURL, backdropURL,
		genres, seasons, episodes, id)
	return err
}

// UpdateEpisodeMetadata fills provider details for an episode.
func (r *MediaRepository) UpdateEpisodeMetadata(id int64, title, overview, airDate, stillURL string) error {
	_, err := r.db.Exec(`UPDATE episodes SET title = ?, overview = ?, air_date = ?,
		still_url = ? WHERE id = ?`, title, overview, airDate, stillURL, id)
	return err
}
