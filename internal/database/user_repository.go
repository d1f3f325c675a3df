package database

import (
	"database/sql"
	"errors"
	"strings"

	"lunastream/models"
)

// ErrDuplicate is returned when a uniqueness constraint rejects an insert.
var ErrDuplicate = errors.New("duplicate")

// UserRepository persists server accounts.
type UserRepository struct {
	db *sql.DB
}

const userColumns = `id, username, password_hash, is_admin, created_at`

func scanUser(row interface{ Scan(...any) error }) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	return u, err
}

// Insert creates a user. The first account on the server becomes admin.
func (r *UserRepository) Insert(username, passwordHash string) (models.User, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(1) FROM users`).Scan(&count); err != nil {
		return models.User{}, err
	}

	res, err := r.db.Exec(`INSERT INTO users (username, password_hash, is_admin) VALUES (?, ?, ?)`,
		username, passwordHash, count == 0)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return models.User{}, ErrDuplicate
		}
		return models.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.User{}, err
	}
	return r.GetByID(id)
}

// GetByID returns the user or ErrNotFound.
func (r *UserRepository) GetByID(id int64) (models.User, error) {
	row := r.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	return u, err
}

// GetByUsername returns the user or ErrNotFound.
func (r *UserRepository) GetByUsername(username string) (models.User, error) {
	row := r.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	return u, err
}

// List returns all users ordered by creation time.
func (r *UserRepository) List() ([]models.User, error) {
	rows, err := r.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Delete removes a user and their watch records.
func (r *UserRepository) Delete(id int64) error {
	res, err := r.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
