package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	hmacext "github.com/alexellis/hmac/v2"
	"github.com/r3labs/sse/v2"
	"github.com/rs/cors"

	"github.com/dhakir-app/dhakir/config"
	"github.com/dhakir-app/dhakir/db"
	"github.com/dhakir-app/dhakir/downloads"
	"github.com/dhakir-app/dhakir/events"
	"github.com/dhakir-app/dhakir/models"
	"github.com/dhakir-app/dhakir/playback"
	"github.com/dhakir-app/dhakir/registry"
	"github.com/dhakir-app/dhakir/shared"
)

func renderJSONMessage(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}

func renderJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func renderJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

type buildQueueRequest struct {
	ReciterID   string                  `json:"reciter_id"`
	SessionType models.SessionType      `json:"session_type"`
	Items       []models.DevotionalItem `json:"items"`
	AutoPlay    bool                    `json:"auto_play"`
}

type reciterResponse struct {
	ID              string                     `json:"id"`
	Name            string                     `json:"name"`
	PackageType     models.PackageType         `json:"package_type"`
	TotalSizeBytes  int64                      `json:"total_size_bytes"`
	ItemCount       int                        `json:"item_count"`
	SampleURL       string                     `json:"sample_url"`
	IsDefault       bool                       `json:"is_default"`
	AvatarLocation  string                     `json:"avatar_location,omitempty"`
	DominantColours models.SerializableColours `json:"dominant_colours,omitempty"`
}

func RegisterRoutes(
	mux *http.ServeMux,
	cfg config.Config,
	engine *playback.Engine,
	reg *registry.Registry,
	manager *downloads.Manager,
	store db.Store,
) http.Handler {

	events.Server.CreateStream(shared.STREAM_PLAYBACK)
	events.Server.CreateStream(shared.STREAM_DOWNLOADS)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		renderJSONMessage(w, "Dhakir audio engine. See /api/v1/state for playback status.")
	})

	mux.HandleFunc("GET /events", events.Server.ServeHTTP)

	mux.HandleFunc("GET /static/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.ReplaceAll(r.URL.Path, "/static/", "")
		// Static names are generated hashes; anything with a path
		// separator is someone poking around.
		if strings.ContainsAny(name, "/\\") {
			renderJSONError(w, http.StatusBadRequest, errors.New("invalid asset name"))
			return
		}
		http.ServeFile(w, r, filepath.Join(cfg.Dhakir.StorageDir, name))
	})

	mux.HandleFunc("GET /api/v1/state", func(w http.ResponseWriter, r *http.Request) {
		renderJSON(w, engine.Snapshot())
	})

	mux.HandleFunc("POST /api/v1/queue/build", func(w http.ResponseWriter, r *http.Request) {
		var payload buildQueueRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			renderJSONError(w, http.StatusBadRequest, err)
			return
		}
		reciterID := payload.ReciterID
		if reciterID == "" {
			reciterID = selectedReciter(r.Context(), store, reg)
		}
		if reciterID == "" {
			renderJSONError(w, http.StatusBadRequest, errors.New("no reciter selected and no default available"))
			return
		}
		manifest, err := reg.FetchManifest(r.Context(), reciterID)
		if err != nil {
			renderJSONError(w, http.StatusBadGateway, err)
			return
		}
		engine.BuildQueue(payload.Items, manifest, reciterID, payload.SessionType)
		if err := store.SetSetting(shared.SETTING_SELECTED_RECITER, reciterID); err != nil {
			slog.Error("Failed to persist selected reciter", slog.String("error", err.Error()))
		}
		if payload.AutoPlay {
			if err := engine.Play(); err != nil {
				renderJSONError(w, commandStatus(err), err)
				return
			}
		}
		renderJSON(w, engine.Snapshot())
	})

	command := func(name string, run func() error) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if err := run(); err != nil {
				slog.Warn("Playback command rejected",
					slog.String("command", name),
					slog.String("error", err.Error()))
				renderJSONError(w, commandStatus(err), err)
				return
			}
			renderJSON(w, engine.Snapshot())
		}
	}

	mux.HandleFunc("POST /api/v1/play", command("play", engine.Play))
	mux.HandleFunc("POST /api/v1/pause", command("pause", engine.Pause))
	mux.HandleFunc("POST /api/v1/resume", command("resume", engine.Resume))
	mux.HandleFunc("POST /api/v1/next", command("next", engine.Next))
	mux.HandleFunc("POST /api/v1/previous", command("previous", engine.Previous))
	mux.HandleFunc("POST /api/v1/stop", command("stop", func() error { engine.Stop(); return nil }))
	mux.HandleFunc("POST /api/v1/dismiss", command("dismiss", func() error { engine.Dismiss(); return nil }))

	mux.HandleFunc("POST /api/v1/seek", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Seconds float64 `json:"seconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			renderJSONError(w, http.StatusBadRequest, err)
			return
		}
		command("seek", func() error { return engine.SeekTo(payload.Seconds) })(w, r)
	})

	mux.HandleFunc("POST /api/v1/jump", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			DevotionalItemID string `json:"devotional_item_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			renderJSONError(w, http.StatusBadRequest, err)
			return
		}
		command("jump", func() error { return engine.JumpTo(payload.DevotionalItemID) })(w, r)
	})

	mux.HandleFunc("POST /api/v1/mode", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Mode playback.Mode `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			renderJSONError(w, http.StatusBadRequest, err)
			return
		}
		command("mode", func() error {
			if err := engine.SetMode(payload.Mode); err != nil {
				return err
			}
			return store.SetSetting(shared.SETTING_PLAYBACK_MODE, string(payload.Mode))
		})(w, r)
	})

	mux.HandleFunc("POST /api/v1/repeat-limit", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Limit playback.RepeatLimit `json:"limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			renderJSONError(w, http.StatusBadRequest, err)
			return
		}
		command("repeat-limit", func() error {
			if err := engine.SetRepeatLimit(payload.Limit); err != nil {
				return err
			}
			return store.SetSetting(shared.SETTING_REPEAT_LIMIT, fmt.Sprintf("%d", payload.Limit))
		})(w, r)
	})

	mux.HandleFunc("GET /api/v1/reciters", func(w http.ResponseWriter, r *http.Request) {
		catalog, err := reg.FetchCatalog(r.Context())
		if err != nil {
			renderJSONError(w, http.StatusBadGateway, err)
			return
		}
		locale := r.URL.Query().Get("locale")
		if locale == "" {
			locale = cfg.Registry.Locale
		}
		response := make([]reciterResponse, 0, len(catalog.Reciters))
		for _, entry := range catalog.Reciters {
			item := reciterResponse{
				ID:             entry.ID,
				Name:           registry.LocalizedName(entry.Name, locale),
				PackageType:    entry.PackageType,
				TotalSizeBytes: entry.TotalSizeBytes,
				ItemCount:      entry.ItemCount,
				SampleURL:      entry.SampleURL,
				IsDefault:      entry.IsDefault,
			}
			if avatar, err := store.GetAvatar(entry.ID); err == nil {
				item.AvatarLocation = avatar.Location
				item.DominantColours = avatar.DominantColours
			}
			response = append(response, item)
		}
		renderJSON(w, response)
	})

	mux.HandleFunc("GET /api/v1/reciters/{id}/manifest", func(w http.ResponseWriter, r *http.Request) {
		manifest, err := reg.FetchManifest(r.Context(), r.PathValue("id"))
		if err != nil {
			renderJSONError(w, http.StatusBadGateway, err)
			return
		}
		renderJSON(w, manifest)
	})

	mux.HandleFunc("POST /api/v1/reciters/{id}/download", func(w http.ResponseWriter, r *http.Request) {
		reciterID := r.PathValue("id")
		manifest, err := reg.FetchManifest(r.Context(), reciterID)
		if err != nil {
			renderJSONError(w, http.StatusBadGateway, err)
			return
		}
		// The pack downloads in the background; progress streams over SSE.
		go func() {
			result, err := manager.DownloadPack(context.Background(), reciterID, manifest, func(completed, total int) {
				publishDownloadProgress(reciterID, completed, total)
			})
			if err != nil {
				slog.Error("Pack download aborted",
					slog.String("reciter_id", reciterID),
					slog.String("error", err.Error()))
				return
			}
			slog.Info("Pack download finished",
				slog.String("reciter_id", reciterID),
				slog.Int("succeeded", result.Succeeded),
				slog.Int("failed", result.Failed))
		}()
		w.WriteHeader(http.StatusAccepted)
		renderJSONMessage(w, fmt.Sprintf("downloading pack for %s", reciterID))
	})

	mux.HandleFunc("DELETE /api/v1/reciters/{id}", func(w http.ResponseWriter, r *http.Request) {
		reciterID := r.PathValue("id")
		signature := r.Header.Get("X-Dhakir-Signature")
		if err := hmacext.Validate([]byte(reciterID), fmt.Sprintf("sha256=%s", signature), cfg.Dhakir.AdminSecret); err != nil {
			slog.Warn("Rejected unsigned pack deletion", slog.String("reciter_id", reciterID))
			renderJSONError(w, http.StatusUnauthorized, errors.New("signature failed validation"))
			return
		}
		if err := manager.DeleteReciterPack(reciterID); err != nil {
			renderJSONError(w, http.StatusInternalServerError, err)
			return
		}
		renderJSONMessage(w, fmt.Sprintf("deleted pack for %s", reciterID))
	})

	mux.HandleFunc("GET /api/v1/storage", func(w http.ResponseWriter, r *http.Request) {
		usage, err := manager.StorageBreakdown()
		if err != nil {
			renderJSONError(w, http.StatusInternalServerError, err)
			return
		}
		renderJSON(w, usage)
	})

	mux.HandleFunc("GET /api/v1/settings", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{}
		for _, key := range settingsKeys {
			value, err := store.GetSetting(key)
			if err != nil {
				continue
			}
			response[key] = value
		}
		renderJSON(w, response)
	})

	mux.HandleFunc("POST /api/v1/settings", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			renderJSONError(w, http.StatusBadRequest, err)
			return
		}
		for key, value := range payload {
			if !isKnownSetting(key) {
				renderJSONError(w, http.StatusBadRequest, fmt.Errorf("unknown setting %q", key))
				return
			}
			if err := store.SetSetting(key, value); err != nil {
				renderJSONError(w, http.StatusInternalServerError, err)
				return
			}
		}
		renderJSONMessage(w, "settings saved")
	})

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"http://localhost:1420", "http://localhost:8080"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Origin, Content-Type, Accept, X-Dhakir-Signature"},
	})

	return c.Handler(mux)
}

// commandStatus maps engine errors onto HTTP: out-of-turn commands are
// conflicts, a queue item with nothing to play is unprocessable.
func commandStatus(err error) int {
	if errors.Is(err, playback.ErrNoAudioSource) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusConflict
}

var settingsKeys = []string{
	shared.SETTING_SELECTED_RECITER,
	shared.SETTING_PLAYBACK_MODE,
	shared.SETTING_REPEAT_LIMIT,
	shared.SETTING_ONBOARDING_COMPLETED,
}

func isKnownSetting(key string) bool {
	for _, known := range settingsKeys {
		if key == known {
			return true
		}
	}
	return false
}

// selectedReciter resolves the persisted choice, falling back to the
// catalog's default entry.
func selectedReciter(ctx context.Context, store db.Store, reg *registry.Registry) string {
	if value, err := store.GetSetting(shared.SETTING_SELECTED_RECITER); err == nil && value != "" {
		return value
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		slog.Error("Failed to read selected reciter", slog.String("error", err.Error()))
	}
	catalog, err := reg.FetchCatalog(ctx)
	if err != nil {
		return ""
	}
	for _, entry := range catalog.Reciters {
		if entry.IsDefault {
			return entry.ID
		}
	}
	return ""
}

func publishDownloadProgress(reciterID string, completed, total int) {
	if events.Server == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"reciter_id": reciterID,
		"completed":  completed,
		"total":      total,
	})
	events.Server.Publish(shared.STREAM_DOWNLOADS, &sse.Event{Data: payload})
}
