package downloads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/dhakir-app/dhakir/db"
	"github.com/dhakir-app/dhakir/models"
)

// Manager owns the download index and the audio files on disk. It never
// touches playback state; the engine re-reads local paths lazily instead.
type Manager struct {
	store      db.Store
	client     *http.Client
	storageDir string
}

// PackResult summarises a whole-pack download attempt.
type PackResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ProgressFunc receives (completed, total) after every pack item attempt.
type ProgressFunc func(completed, total int)

func NewManager(store db.Store, client *http.Client, storageDir string) *Manager {
	return &Manager{
		store:      store,
		client:     client,
		storageDir: storageDir,
	}
}

// reciterDir is where every file for one reciter lives, so deleting a
// pack is a single directory removal.
func (m *Manager) reciterDir(reciterID string) string {
	return filepath.Join(m.storageDir, "audio", reciterID)
}

// localFileName derives a stable name from the download identity so a
// re-download of the same item always lands on the same path.
func localFileName(reciterID, itemID, fileURL string) string {
	digest := xxhash.Sum64String(fmt.Sprintf("%s-%s-%s", reciterID, itemID, fileURL))
	return fmt.Sprintf("%016x%s", digest, fileExtension(fileURL))
}

func fileExtension(fileURL string) string {
	parsed, err := url.Parse(fileURL)
	if err != nil {
		return ".mp3"
	}
	if ext := path.Ext(parsed.Path); ext != "" {
		return ext
	}
	return ".mp3"
}

// DownloadFile fetches one audio file and records it in the index. It
// is idempotent: a record whose file still exists is returned as-is. A
// failed transfer leaves no record and no partial file behind.
func (m *Manager) DownloadFile(ctx context.Context, reciterID, itemID, fileURL string, expectedSize int64) (models.DownloadRecord, error) {
	if existing, err := m.store.GetDownloadRecord(reciterID, itemID); err == nil {
		if fileExists(existing.LocalPath) {
			return existing, nil
		}
		// Stale row pointing at a deleted file, heal before re-downloading.
		if err := m.store.DeleteDownloadRecord(reciterID, itemID); err != nil {
			return models.DownloadRecord{}, err
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return models.DownloadRecord{}, err
	}

	dir := m.reciterDir(reciterID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.DownloadRecord{}, err
	}

	size, tmpPath, err := m.transfer(ctx, dir, fileURL)
	if err != nil {
		return models.DownloadRecord{}, err
	}

	if expectedSize > 0 && size != expectedSize {
		os.Remove(tmpPath)
		return models.DownloadRecord{}, fmt.Errorf("size mismatch for %s: got %d, expected %d", itemID, size, expectedSize)
	}

	finalPath := filepath.Join(dir, localFileName(reciterID, itemID, fileURL))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return models.DownloadRecord{}, err
	}

	record := models.DownloadRecord{
		ReciterID:    reciterID,
		ItemID:       itemID,
		LocalPath:    finalPath,
		SizeBytes:    size,
		DownloadedAt: time.Now().UTC(),
	}
	if err := m.store.UpsertDownloadRecord(record); err != nil {
		os.Remove(finalPath)
		return models.DownloadRecord{}, err
	}

	slog.Debug("Downloaded audio file",
		slog.String("reciter_id", reciterID),
		slog.String("item_id", itemID),
		slog.Int64("size_bytes", size))

	return record, nil
}

// transfer streams the body into a temp file in the target directory so
// the final rename stays on one filesystem.
func (m *Manager) transfer(ctx context.Context, dir, fileURL string) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fileURL, nil)
	if err != nil {
		return 0, "", err
	}
	res, err := m.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("download %s returned %d", fileURL, res.StatusCode)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".partial-%s", uuid.NewString()))
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, "", err
	}

	size, err := io.Copy(out, res.Body)
	if err != nil {
		out.Close()
		os.Remove(tmpPath)
		return 0, "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, "", err
	}
	return size, tmpPath, nil
}

// DownloadPack fetches every file a manifest references. Individual
// failures are counted, not fatal; cancellation is honoured between items.
func (m *Manager) DownloadPack(ctx context.Context, reciterID string, manifest *models.ReciterManifest, onProgress ProgressFunc) (PackResult, error) {
	entries := manifest.DownloadEntries()
	result := PackResult{}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := m.DownloadFile(ctx, reciterID, entry.Key, entry.URL, entry.SizeBytes); err != nil {
			slog.Warn("Pack item failed to download",
				slog.String("reciter_id", reciterID),
				slog.String("item_id", entry.Key),
				slog.String("error", err.Error()))
			result.Failed++
		} else {
			result.Succeeded++
		}
		if onProgress != nil {
			onProgress(i+1, len(entries))
		}
	}
	return result, nil
}

// PrefetchUpcoming downloads the next count not-yet-resolved items after
// startIndex. Failures skip to the next candidate; this runs behind
// playback and must never surface errors into it.
func (m *Manager) PrefetchUpcoming(ctx context.Context, reciterID string, manifest *models.ReciterManifest, startIndex int, orderedItemIDs []string, count int) {
	fetched := 0
	for i := startIndex; i < len(orderedItemIDs) && fetched < count; i++ {
		if err := ctx.Err(); err != nil {
			return
		}
		clip, ok := manifest.ResolveClip(orderedItemIDs[i])
		if !ok {
			continue
		}
		if m.LocalPath(reciterID, clip.DownloadKey) != "" {
			continue
		}
		if _, err := m.DownloadFile(ctx, reciterID, clip.DownloadKey, clip.URL, 0); err != nil {
			slog.Debug("Prefetch skipped an item",
				slog.String("reciter_id", reciterID),
				slog.String("item_id", clip.DownloadKey),
				slog.String("error", err.Error()))
			continue
		}
		fetched++
	}
}

// LocalPath returns the on-disk path for a downloaded item, or "" when
// none exists. A record whose file has been deleted externally is
// removed on the spot so no caller ever sees a broken path.
func (m *Manager) LocalPath(reciterID, itemID string) string {
	record, err := m.store.GetDownloadRecord(reciterID, itemID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("Failed to read download index",
				slog.String("reciter_id", reciterID),
				slog.String("item_id", itemID),
				slog.String("error", err.Error()))
		}
		return ""
	}
	if !fileExists(record.LocalPath) {
		slog.Info("Healing stale download record",
			slog.String("reciter_id", reciterID),
			slog.String("item_id", itemID),
			slog.String("path", record.LocalPath))
		if err := m.store.DeleteDownloadRecord(reciterID, itemID); err != nil {
			slog.Error("Failed to heal download record", slog.String("error", err.Error()))
		}
		return ""
	}
	return record.LocalPath
}

// DeleteReciterPack removes a reciter's directory and all index rows.
// A missing directory is fine; on-disk state may already be gone.
func (m *Manager) DeleteReciterPack(reciterID string) error {
	if err := os.RemoveAll(m.reciterDir(reciterID)); err != nil {
		return err
	}
	return m.store.DeleteReciterRecords(reciterID)
}

// StorageBreakdown aggregates bytes from the index, never from a disk
// scan, so it always matches what the index believes exists.
func (m *Manager) StorageBreakdown() ([]models.StorageUsage, error) {
	return m.store.GetStorageUsage()
}

// VerifyIndex sweeps the whole index and heals any record whose file no
// longer exists. Returns how many rows were healed.
func (m *Manager) VerifyIndex() (int, error) {
	usage, err := m.store.GetStorageUsage()
	if err != nil {
		return 0, err
	}
	healed := 0
	for _, reciter := range usage {
		records, err := m.store.ListDownloadRecords(reciter.ReciterID)
		if err != nil {
			return healed, err
		}
		for _, record := range records {
			if fileExists(record.LocalPath) {
				continue
			}
			if err := m.store.DeleteDownloadRecord(record.ReciterID, record.ItemID); err != nil {
				return healed, err
			}
			healed++
		}
	}
	return healed, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
