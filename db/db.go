package db

import (
	"embed"
	"time"

	"github.com/dhakir-app/dhakir/models"
)

// Store is the persistence boundary for everything the engine keeps
// between restarts: the download index, cached registry blobs, reciter
// avatars and engine settings. Playback state itself is never persisted.
type Store interface {
	ApplyMigrations(migrations embed.FS) error

	GetDownloadRecord(reciterID, itemID string) (models.DownloadRecord, error)
	UpsertDownloadRecord(record models.DownloadRecord) error
	DeleteDownloadRecord(reciterID, itemID string) error
	ListDownloadRecords(reciterID string) ([]models.DownloadRecord, error)
	DeleteReciterRecords(reciterID string) error
	GetStorageUsage() ([]models.StorageUsage, error)

	GetCachedBlob(cacheKey string) (CachedBlob, error)
	PutCachedBlob(cacheKey, version, payload string) error

	GetSetting(key string) (string, error)
	SetSetting(key, value string) error

	GetAvatar(reciterID string) (models.ReciterAvatar, error)
	UpsertAvatar(avatar models.ReciterAvatar) error

	Close() error
}

// CachedBlob is a versioned JSON payload cached from the registry CDN.
type CachedBlob struct {
	CacheKey  string    `db:"cache_key"`
	Version   string    `db:"version"`
	Payload   string    `db:"payload"`
	FetchedAt time.Time `db:"fetched_at"`
}
