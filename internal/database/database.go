package database

import (
	"database/sql"
	"embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the sqlite connection and exposes typed repositories.
type DB struct {
	conn *sql.DB

	Media     *MediaRepository
	Sources   *SourceRepository
	Users     *UserRepository
	Subtitles *SubtitleRepository
	Watch     *WatchRepository
}

// Open opens (creating if necessary) the sqlite database at path and runs
// pending migrations. Migration failure aborts the boot.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// sqlite allows a single writer; keep the pool small so writes queue in
	// Go instead of returning SQLITE_BUSY.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	db.Media = &MediaRepository{db: conn}
	db.Sources = &SourceRepository{db: conn}
	db.Users = &UserRepository{db: conn}
	db.Subtitles = &SubtitleRepository{db: conn}
	db.Watch = &WatchRepository{db: conn}
	return db, nil
}

func migrate(conn *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Printf("[database] migrations up to date")
	return nil
}

// Connection exposes the raw handle for callers that need it (tests, admin
// stats).
func (d *DB) Connection() *sql.DB { return d.conn }

// Close closes the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }
