package db

import (
	"embed"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/dhakir-app/dhakir/models"

	_ "modernc.org/sqlite"
)

type SqliteStore struct {
	DB *sqlx.DB
}

func NewSqliteStore(dsn string) (*SqliteStore, error) {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteStore{
		DB: db,
	}, nil
}

func (s *SqliteStore) ApplyMigrations(migrations embed.FS) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		return err
	}

	if err := goose.Up(s.DB.DB, "."); err != nil {
		return err
	}

	return nil
}

func (s *SqliteStore) GetDownloadRecord(reciterID, itemID string) (models.DownloadRecord, error) {
	r := models.DownloadRecord{}
	err := s.DB.Get(&r,
		"SELECT reciter_id, item_id, local_path, size_bytes, downloaded_at FROM download_records WHERE reciter_id = ? AND item_id = ?",
		reciterID, itemID)
	return r, err
}

func (s *SqliteStore) UpsertDownloadRecord(record models.DownloadRecord) error {
	_, err := s.DB.Exec(`
	  INSERT INTO download_records (reciter_id, item_id, local_path, size_bytes, downloaded_at)
	  VALUES (?, ?, ?, ?, ?)
	  ON CONFLICT (reciter_id, item_id) DO UPDATE
	  SET local_path = excluded.local_path, size_bytes = excluded.size_bytes, downloaded_at = excluded.downloaded_at`,
		record.ReciterID, record.ItemID, record.LocalPath, record.SizeBytes, record.DownloadedAt)
	return err
}

func (s *SqliteStore) DeleteDownloadRecord(reciterID, itemID string) error {
	_, err := s.DB.Exec("DELETE FROM download_records WHERE reciter_id = ? AND item_id = ?", reciterID, itemID)
	return err
}

func (s *SqliteStore) ListDownloadRecords(reciterID string) ([]models.DownloadRecord, error) {
	records := []models.DownloadRecord{}
	err := s.DB.Select(&records,
		"SELECT reciter_id, item_id, local_path, size_bytes, downloaded_at FROM download_records WHERE reciter_id = ? ORDER BY item_id",
		reciterID)
	return records, err
}

func (s *SqliteStore) DeleteReciterRecords(reciterID string) error {
	_, err := s.DB.Exec("DELETE FROM download_records WHERE reciter_id = ?", reciterID)
	return err
}

func (s *SqliteStore) GetStorageUsage() ([]models.StorageUsage, error) {
	usage := []models.StorageUsage{}
	err := s.DB.Select(&usage, `
	  SELECT reciter_id, SUM(size_bytes) as total_bytes, COUNT(*) as file_count
	  FROM download_records
	  GROUP BY reciter_id
	  ORDER BY reciter_id`)
	return usage, err
}

func (s *SqliteStore) GetCachedBlob(cacheKey string) (CachedBlob, error) {
	blob := CachedBlob{}
	err := s.DB.Get(&blob,
		"SELECT cache_key, version, payload, fetched_at FROM registry_cache WHERE cache_key = ?", cacheKey)
	return blob, err
}

func (s *SqliteStore) PutCachedBlob(cacheKey, version, payload string) error {
	_, err := s.DB.Exec(`
	  INSERT INTO registry_cache (cache_key, version, payload, fetched_at)
	  VALUES (?, ?, ?, ?)
	  ON CONFLICT (cache_key) DO UPDATE
	  SET version = excluded.version, payload = excluded.payload, fetched_at = excluded.fetched_at`,
		cacheKey, version, payload, time.Now().UTC())
	return err
}

func (s *SqliteStore) GetSetting(key string) (string, error) {
	var value string
	err := s.DB.Get(&value, "SELECT value FROM settings WHERE key = ?", key)
	return value, err
}

func (s *SqliteStore) SetSetting(key, value string) error {
	_, err := s.DB.Exec(`
	  INSERT INTO settings (key, value) VALUES (?, ?)
	  ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

func (s *SqliteStore) GetAvatar(reciterID string) (models.ReciterAvatar, error) {
	avatar := models.ReciterAvatar{}
	err := s.DB.Get(&avatar,
		"SELECT reciter_id, location, dominant_colours, cached_at FROM reciter_avatars WHERE reciter_id = ?", reciterID)
	return avatar, err
}

func (s *SqliteStore) UpsertAvatar(avatar models.ReciterAvatar) error {
	_, err := s.DB.Exec(`
	  INSERT INTO reciter_avatars (reciter_id, location, dominant_colours, cached_at)
	  VALUES (?, ?, ?, ?)
	  ON CONFLICT (reciter_id) DO UPDATE
	  SET location = excluded.location, dominant_colours = excluded.dominant_colours, cached_at = excluded.cached_at`,
		avatar.ReciterID, avatar.Location, avatar.DominantColours, avatar.CachedAt)
	return err
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
