package database

import (
	"database/sql"
	"errors"

	"lunastream/models"
)

// SourceRepository persists remote and local media sources.
type SourceRepository struct {
	db *sql.DB
}

const sourceColumns = `id, name, kind, host, port, username, credential,
	base_path, domain, enabled, created_at`

func scanSource(row interface{ Scan(...any) error }) (models.Source, error) {
	var s models.Source
	err := row.Scan(&s.ID, &s.Name, &s.Kind, &s.Host, &s.Port, &s.Username,
		&s.Credential, &s.BasePath, &s.Domain, &s.Enabled, &s.CreatedAt)
	return s, err
}

// Insert stores a new source.
func (r *SourceRepository) Insert(src models.Source) (models.Source, error) {
	res, err := r.db.Exec(`INSERT INTO sources
		(name, kind, host, port, username, credential, base_path, domain, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.Name, src.Kind, src.Host, src.Port, src.Username, src.Credential,
		src.BasePath, src.Domain, src.Enabled)
	if err != nil {
		return models.Source{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Source{}, err
	}
	return r.GetByID(id)
}

// GetByID returns the source or ErrNotFound.
func (r *SourceRepository) GetByID(id int64) (models.Source, error) {
	row := r.db.QueryRow(`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Source{}, ErrNotFound
	}
	return src, err
}

// List returns all sources ordered by creation time.
func (r *SourceRepository) List() ([]models.Source, error) {
	rows, err := r.db.Query(`SELECT ` + sourceColumns + ` FROM sources ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sources []models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// Update rewrites the mutable fields of a source. A nil credential leaves the
// stored blob untouched.
func (r *SourceRepository) Update(src models.Source) (models.Source, error) {
	var err error
	if src.Credential != nil {
		_, err = r.db.Exec(`UPDATE sources SET name = ?, kind = ?, host = ?, port = ?,
			username = ?, credential = ?, base_path = ?, domain = ?, enabled = ? WHERE id = ?`,
			src.Name, src.Kind, src.Host, src.Port, src.Username, src.Credential,
			src.BasePath, src.Domain, src.Enabled, src.ID)
	} else {
		_, err = r.db.Exec(`UPDATE sources SET name = ?, kind = ?, host = ?, port = ?,
			username = ?, base_path = ?, domain = ?, enabled = ? WHERE id = ?`,
			src.Name, src.Kind, src.Host, src.Port, src.Username,
			src.BasePath, src.Domain, src.Enabled, src.ID)
	}
	if err != nil {
		return models.Source{}, err
	}
	return r.GetByID(src.ID)
}

// Disable soft-disables a source, keeping its media items intact.
func (r *SourceRepository) Disable(id int64) error {
	res, err := r.db.Exec(`UPDATE sources SET enabled = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a source outright. Callers must check for referencing media
// items first; sources with indexed items are soft-disabled instead.
func (r *SourceRepository) Delete(id int64) error {
	res, err := r.db.Exec(`DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
