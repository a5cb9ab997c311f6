package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/dhakir-app/dhakir/config"
	"github.com/dhakir-app/dhakir/db"
	"github.com/dhakir-app/dhakir/downloads"
	"github.com/dhakir-app/dhakir/models"
	"github.com/dhakir-app/dhakir/registry"
	"github.com/dhakir-app/dhakir/utils"
)

func SetupInBackground(
	cfg config.Config,
	reg *registry.Registry,
	manager *downloads.Manager,
	store db.Store,
	client *http.Client,
) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)

	s.Every(1).Hour().Do(RefreshCatalog, cfg, reg, store, client)
	s.Every(30).Minutes().Do(SweepDownloadIndex, manager)

	slog.Info("Background jobs scheduled")
	return s
}

// RefreshCatalog keeps the cached catalog current and re-caches any
// avatar that has not been stored yet.
func RefreshCatalog(cfg config.Config, reg *registry.Registry, store db.Store, client *http.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	catalog, err := reg.FetchCatalog(ctx)
	if err != nil {
		slog.Warn("Catalog refresh failed", slog.String("error", err.Error()))
		return
	}

	for _, entry := range catalog.Reciters {
		if entry.AvatarURL == "" {
			continue
		}
		if avatar, err := store.GetAvatar(entry.ID); err == nil {
			if avatarFileExists(cfg.Dhakir.StorageDir, avatar.Location) {
				continue
			}
		} else if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("Failed to read avatar cache", slog.String("error", err.Error()))
			continue
		}
		cacheAvatar(cfg, store, client, entry)
	}
}

func cacheAvatar(cfg config.Config, store db.Store, client *http.Client, entry models.ReciterCatalogEntry) {
	image, extension, colours, err := utils.ExtractImageContent(client, entry.AvatarURL)
	if err != nil {
		slog.Warn("Failed to fetch reciter avatar",
			slog.String("reciter_id", entry.ID),
			slog.String("error", err.Error()))
		return
	}

	location, _ := utils.AvatarLocation(image, extension)
	path := filepath.Join(cfg.Dhakir.StorageDir, strings.TrimPrefix(location, "/static/"))
	if err := os.MkdirAll(cfg.Dhakir.StorageDir, 0o755); err != nil {
		slog.Error("Failed to create storage dir", slog.String("error", err.Error()))
		return
	}
	if err := os.WriteFile(path, image, 0o644); err != nil {
		slog.Error("Failed to write avatar to disk", slog.String("error", err.Error()))
		return
	}

	err = store.UpsertAvatar(models.ReciterAvatar{
		ReciterID:       entry.ID,
		Location:        location,
		DominantColours: colours,
		CachedAt:        time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.Error("Failed to record avatar", slog.String("error", err.Error()))
	}
}

func avatarFileExists(storageDir, location string) bool {
	name := strings.TrimPrefix(location, "/static/")
	info, err := os.Stat(filepath.Join(storageDir, name))
	return err == nil && !info.IsDir()
}

// SweepDownloadIndex heals records whose files were deleted outside the
// app, in bulk, so stale rows never accumulate.
func SweepDownloadIndex(manager *downloads.Manager) {
	healed, err := manager.VerifyIndex()
	if err != nil {
		slog.Error("Download index sweep failed", slog.String("error", err.Error()))
		return
	}
	if healed > 0 {
		slog.Info("Healed stale download records", slog.Int("count", healed))
	}
}
