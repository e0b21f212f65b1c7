package core

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yay-sys-tray/yst/pkg/api"
)

// SQLiteStore keeps the config as a single JSON row in SQLite.
type SQLiteStore struct {
	db       *sql.DB
	defaults func() api.AppConfig
}

//go:embed migrations/*.sql
var migrationFS embed.FS

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = filepath.Join(ConfigDir(), "config.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigIO, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrConfigIO, path, err)
	}
	// one writer; the daemon serialises saves anyway
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db, defaults: Defaults}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("%w: apply migration: %w", ErrConfigIO, err)
	}
	return nil
}

func (s *SQLiteStore) Load() (api.AppConfig, error) {
	cfg := s.defaults()
	var data string
	err := s.db.QueryRow(`SELECT data FROM app_config WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, nil
	}
	if err != nil {
		return api.AppConfig{}, fmt.Errorf("%w: query: %w", ErrConfigIO, err)
	}
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return api.AppConfig{}, fmt.Errorf("%w: decode: %w", ErrConfigIO, err)
	}
	return sanitize(cfg), nil
}

func (s *SQLiteStore) Save(cfg api.AppConfig) error {
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrConfigIO, err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrConfigIO, err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO app_config (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: upsert: %w", ErrConfigIO, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrConfigIO, err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
