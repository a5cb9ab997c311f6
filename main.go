package main

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dhakir-app/dhakir/config"
	"github.com/dhakir-app/dhakir/db"
	"github.com/dhakir-app/dhakir/downloads"
	"github.com/dhakir-app/dhakir/events"
	"github.com/dhakir-app/dhakir/migrations"
	"github.com/dhakir-app/dhakir/playback"
	"github.com/dhakir-app/dhakir/registry"
	"github.com/dhakir-app/dhakir/shared"
	"github.com/dhakir-app/dhakir/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	setupLogging(cfg.Dhakir.LogLevel)

	store, err := db.NewSqliteStore(cfg.Dhakir.DbPath)
	if err != nil {
		slog.Error("Failed to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := store.ApplyMigrations(migrations.GetMigrations()); err != nil {
		slog.Error("Failed to apply migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	events.Init()

	client := utils.NewHTTPClient()
	reg := registry.New(store, client, cfg.Registry.CatalogURL)
	manager := downloads.NewManager(store, client, cfg.Dhakir.StorageDir)

	engine := playback.NewEngine(playback.NewTimerPlayer(), manager, playback.Options{
		PrefetchCount: cfg.Playback.PrefetchCount,
		LoadTimeout:   time.Duration(cfg.Playback.LoadTimeoutSec) * time.Second,
	})
	restoreEngineSettings(engine, store)

	scheduler := SetupInBackground(cfg, reg, manager, store, client)
	if cfg.Dhakir.BackgroundJobsEnabled {
		scheduler.StartAsync()
		slog.Info("Background jobs are running")
	} else {
		slog.Info("Background jobs are disabled")
	}

	router := RegisterRoutes(http.NewServeMux(), cfg, engine, reg, manager, store)

	slog.Info("Dhakir engine is running", slog.String("bind", cfg.Dhakir.BindAddress))

	if err := http.ListenAndServe(cfg.Dhakir.BindAddress, router); err != nil {
		slog.Error("Server stopped", slog.String("error", err.Error()))
		scheduler.Stop()
		os.Exit(1)
	}
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// restoreEngineSettings replays the persisted mode and repeat limit so
// a restart resumes where the user left the controls.
func restoreEngineSettings(engine *playback.Engine, store db.Store) {
	if value, err := store.GetSetting(shared.SETTING_PLAYBACK_MODE); err == nil {
		if err := engine.SetMode(playback.Mode(value)); err != nil {
			slog.Warn("Ignoring persisted playback mode", slog.String("value", value))
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		slog.Error("Failed to read playback mode", slog.String("error", err.Error()))
	}

	if value, err := store.GetSetting(shared.SETTING_REPEAT_LIMIT); err == nil {
		if limit, convErr := strconv.Atoi(value); convErr == nil {
			if err := engine.SetRepeatLimit(playback.RepeatLimit(limit)); err != nil {
				slog.Warn("Ignoring persisted repeat limit", slog.String("value", value))
			}
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		slog.Error("Failed to read repeat limit", slog.String("error", err.Error()))
	}
}
