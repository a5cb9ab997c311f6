package db

import (
	"database/sql"
	"embed"
	"sort"
	"sync"

	"github.com/dhakir-app/dhakir/models"
)

// MemoryStore keeps everything in maps. It exists so the engine and
// downloads manager can be exercised without touching sqlite.
type MemoryStore struct {
	m         sync.Mutex
	downloads map[string]models.DownloadRecord
	blobs     map[string]CachedBlob
	settings  map[string]string
	avatars   map[string]models.ReciterAvatar
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		downloads: map[string]models.DownloadRecord{},
		blobs:     map[string]CachedBlob{},
		settings:  map[string]string{},
		avatars:   map[string]models.ReciterAvatar{},
	}
}

func downloadKey(reciterID, itemID string) string {
	return reciterID + "\x00" + itemID
}

func (ms *MemoryStore) ApplyMigrations(_ embed.FS) error {
	return nil
}

func (ms *MemoryStore) GetDownloadRecord(reciterID, itemID string) (models.DownloadRecord, error) {
	ms.m.Lock()
	defer ms.m.Unlock()
	record, ok := ms.downloads[downloadKey(reciterID, itemID)]
	if !ok {
		return models.DownloadRecord{}, sql.ErrNoRows
	}
	return record, nil
}

func (ms *MemoryStore) UpsertDownloadRecord(record models.DownloadRecord) error {
	ms.m.Lock()
	defer ms.m.Unlock()
	ms.downloads[downloadKey(record.ReciterID, record.ItemID)] = record
	return nil
}

func (ms *MemoryStore) DeleteDownloadRecord(reciterID, itemID string) error {
	ms.m.Lock()
	defer ms.m.Unlock()
	delete(ms.downloads, downloadKey(reciterID, itemID))
	return nil
}

func (ms *MemoryStore) ListDownloadRecords(reciterID string) ([]models.DownloadRecord, error) {
	ms.m.Lock()
	defer ms.m.Unlock()
	records := []models.DownloadRecord{}
	for _, record := range ms.downloads {
		if record.ReciterID == reciterID {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ItemID < records[j].ItemID })
	return records, nil
}

func (ms *MemoryStore) DeleteReciterRecords(reciterID string) error {
	ms.m.Lock()
	defer ms.m.Unlock()
	for key, record := range ms.downloads {
		if record.ReciterID == reciterID {
			delete(ms.downloads, key)
		}
	}
	return nil
}

func (ms *MemoryStore) GetStorageUsage() ([]models.StorageUsage, error) {
	ms.m.Lock()
	defer ms.m.Unlock()
	byReciter := map[string]*models.StorageUsage{}
	for _, record := range ms.downloads {
		usage, ok := byReciter[record.ReciterID]
		if !ok {
			usage = &models.StorageUsage{ReciterID: record.ReciterID}
			byReciter[record.ReciterID] = usage
		}
		usage.TotalBytes += record.SizeBytes
		usage.FileCount++
	}
	results := []models.StorageUsage{}
	for _, usage := range byReciter {
		results = append(results, *usage)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ReciterID < results[j].ReciterID })
	return results, nil
}

func (ms *MemoryStore) GetCachedBlob(cacheKey string) (CachedBlob, error) {
	ms.m.Lock()
	defer ms.m.Unlock()
	blob, ok := ms.blobs[cacheKey]
	if !ok {
		return CachedBlob{}, sql.ErrNoRows
	}
	return blob, nil
}

func (ms *MemoryStore) PutCachedBlob(cacheKey, version, payload string) error {
	ms.m.Lock()
	defer ms.m.Unlock()
	ms.blobs[cacheKey] = CachedBlob{CacheKey: cacheKey, Version: version, Payload: payload}
	return nil
}

func (ms *MemoryStore) GetSetting(key string) (string, error) {
	ms.m.Lock()
	defer ms.m.Unlock()
	value, ok := ms.settings[key]
	if !ok {
		return "", sql.ErrNoRows
	}
	return value, nil
}

func (ms *MemoryStore) SetSetting(key, value string) error {
	ms.m.Lock()
	defer ms.m.Unlock()
	ms.settings[key] = value
	return nil
}

func (ms *MemoryStore) GetAvatar(reciterID string) (models.ReciterAvatar, error) {
	ms.m.Lock()
	defer ms.m.Unlock()
	avatar, ok := ms.avatars[reciterID]
	if !ok {
		return models.ReciterAvatar{}, sql.ErrNoRows
	}
	return avatar, nil
}

func (ms *MemoryStore) UpsertAvatar(avatar models.ReciterAvatar) error {
	ms.m.Lock()
	defer ms.m.Unlock()
	ms.avatars[avatar.ReciterID] = avatar
	return nil
}

func (ms *MemoryStore) Close() error {
	return nil
}
