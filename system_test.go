package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhakir-app/dhakir/config"
	"github.com/dhakir-app/dhakir/db"
	"github.com/dhakir-app/dhakir/downloads"
	"github.com/dhakir-app/dhakir/events"
	"github.com/dhakir-app/dhakir/models"
	"github.com/dhakir-app/dhakir/playback"
	"github.com/dhakir-app/dhakir/registry"
	"github.com/dhakir-app/dhakir/shared"
)

var initEventsOnce sync.Once

type testSystem struct {
	api    *httptest.Server
	store  *db.MemoryStore
	engine *playback.Engine
}

// newTestSystem wires the whole engine against an in-memory store and a
// fake registry CDN, exactly as main does against the real ones.
func newTestSystem(t *testing.T) *testSystem {
	t.Helper()
	initEventsOnce.Do(events.Init)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/catalog.json":
			json.NewEncoder(w).Encode(models.ReciterCatalog{
				Version: "1",
				Reciters: []models.ReciterCatalogEntry{
					{
						ID:          "mishary",
						Name:        map[string]string{"ar": "مشاري", "en": "Mishary"},
						PackageType: models.PackageClips,
						ManifestURL: "http://" + r.Host + "/manifests/mishary.json",
						IsDefault:   true,
					},
				},
			})
		case "/manifests/mishary.json":
			json.NewEncoder(w).Encode(models.ReciterManifest{
				ReciterID:   "mishary",
				Version:     "1",
				PackageType: models.PackageClips,
				Files: map[string]models.AudioFileEntry{
					"ayat-alkursi": {URL: "http://" + r.Host + "/audio/a.mp3", DurationSeconds: 50, SizeBytes: 5},
					"ikhlas":       {URL: "http://" + r.Host + "/audio/b.mp3", DurationSeconds: 20, SizeBytes: 5},
				},
			})
		default:
			w.Write([]byte("audio"))
		}
	}))
	t.Cleanup(upstream.Close)

	cfg := config.Config{
		Dhakir: config.DhakirConfig{
			StorageDir:  t.TempDir(),
			AdminSecret: "test-secret",
		},
		Registry: config.RegistryConfig{
			CatalogURL: upstream.URL + "/catalog.json",
			Locale:     "en",
		},
	}

	store := db.NewMemoryStore()
	client := upstream.Client()
	reg := registry.New(store, client, cfg.Registry.CatalogURL)
	manager := downloads.NewManager(store, client, cfg.Dhakir.StorageDir)
	engine := playback.NewEngine(playback.NewTimerPlayer(), manager, playback.Options{})

	handler := RegisterRoutes(http.NewServeMux(), cfg, engine, reg, manager, store)
	api := httptest.NewServer(handler)
	t.Cleanup(api.Close)

	return &testSystem{api: api, store: store, engine: engine}
}

func (s *testSystem) post(t *testing.T, path string, payload interface{}) *http.Response {
	t.Helper()
	body := &bytes.Buffer{}
	if payload != nil {
		require.NoError(t, json.NewEncoder(body).Encode(payload))
	}
	res, err := http.Post(s.api.URL+path, "application/json", body)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func (s *testSystem) get(t *testing.T, path string, out interface{}) *http.Response {
	t.Helper()
	res, err := http.Get(s.api.URL + path)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res
}

func TestStateEndpoint_StartsIdle(t *testing.T) {
	system := newTestSystem(t)

	var snapshot playback.Snapshot
	res := system.get(t, "/api/v1/state", &snapshot)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, playback.StateIdle, snapshot.State)
	assert.Equal(t, playback.ModeAutopilot, snapshot.Mode)
}

func TestCommandsOutOfTurnAreRejected(t *testing.T) {
	system := newTestSystem(t)

	assert.Equal(t, http.StatusConflict, system.post(t, "/api/v1/play", nil).StatusCode)
	assert.Equal(t, http.StatusConflict, system.post(t, "/api/v1/resume", nil).StatusCode)
	assert.Equal(t, http.StatusConflict, system.post(t, "/api/v1/next", nil).StatusCode)

	var snapshot playback.Snapshot
	system.get(t, "/api/v1/state", &snapshot)
	assert.Equal(t, playback.StateIdle, snapshot.State, "rejected commands leave state untouched")
}

func TestBuildQueueAndPlay(t *testing.T) {
	system := newTestSystem(t)

	res := system.post(t, "/api/v1/queue/build", map[string]interface{}{
		"session_type": "morning",
		"items": []map[string]interface{}{
			{"id": "ayat-alkursi", "order": 1, "repeat_count": 1, "session_type": "morning"},
			{"id": "ikhlas", "order": 2, "repeat_count": 3, "session_type": "morning"},
		},
	})
	require.Equal(t, http.StatusOK, res.StatusCode)

	// No reciter named in the request: the catalog default is used and
	// persisted for next time.
	selected, err := system.store.GetSetting(shared.SETTING_SELECTED_RECITER)
	require.NoError(t, err)
	assert.Equal(t, "mishary", selected)

	res = system.post(t, "/api/v1/play", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	require.Eventually(t, func() bool {
		return system.engine.Snapshot().State == playback.StatePlaying
	}, 2*time.Second, 10*time.Millisecond)

	snapshot := system.engine.Snapshot()
	assert.Equal(t, "mishary", snapshot.ReciterID)
	assert.Equal(t, "ayat-alkursi", snapshot.CurrentItemID)
}

func TestBuildQueueAutoPlayWithNoAudioIsUnprocessable(t *testing.T) {
	system := newTestSystem(t)

	res := system.post(t, "/api/v1/mode", map[string]string{"mode": "manual"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = system.post(t, "/api/v1/queue/build", map[string]interface{}{
		"session_type": "morning",
		"auto_play":    true,
		"items": []map[string]interface{}{
			{"id": "not-in-manifest", "order": 1, "repeat_count": 1, "session_type": "morning"},
		},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
}

func TestRecitersEndpointLocalizesNames(t *testing.T) {
	system := newTestSystem(t)

	var reciters []reciterResponse
	res := system.get(t, "/api/v1/reciters", &reciters)

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, reciters, 1)
	assert.Equal(t, "mishary", reciters[0].ID)
	assert.Equal(t, "Mishary", reciters[0].Name, "configured locale picks the english name")
	assert.True(t, reciters[0].IsDefault)
}

func TestSettingsEndpointValidatesKeys(t *testing.T) {
	system := newTestSystem(t)

	res := system.post(t, "/api/v1/settings", map[string]string{"bogus": "nope"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = system.post(t, "/api/v1/settings", map[string]string{
		shared.SETTING_ONBOARDING_COMPLETED: "true",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var settings map[string]string
	system.get(t, "/api/v1/settings", &settings)
	assert.Equal(t, "true", settings[shared.SETTING_ONBOARDING_COMPLETED])
}

func TestDeletePackRequiresSignature(t *testing.T) {
	system := newTestSystem(t)

	req, err := http.NewRequest("DELETE", system.api.URL+"/api/v1/reciters/mishary", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte("mishary"))
	req, err = http.NewRequest("DELETE", system.api.URL+"/api/v1/reciters/mishary", nil)
	require.NoError(t, err)
	req.Header.Set("X-Dhakir-Signature", hex.EncodeToString(mac.Sum(nil)))
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestRepeatLimitEndpointValidates(t *testing.T) {
	system := newTestSystem(t)

	res := system.post(t, "/api/v1/repeat-limit", map[string]int{"limit": 4})
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res = system.post(t, "/api/v1/repeat-limit", map[string]int{"limit": 3})
	require.Equal(t, http.StatusOK, res.StatusCode)

	value, err := system.store.GetSetting(shared.SETTING_REPEAT_LIMIT)
	require.NoError(t, err)
	assert.Equal(t, "3", value)
}

func TestStorageEndpointReflectsDownloads(t *testing.T) {
	system := newTestSystem(t)

	var usage []models.StorageUsage
	res := system.get(t, "/api/v1/storage", &usage)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, usage)

	res = system.post(t, "/api/v1/reciters/mishary/download", nil)
	require.Equal(t, http.StatusAccepted, res.StatusCode)

	require.Eventually(t, func() bool {
		records, err := system.store.ListDownloadRecords("mishary")
		return err == nil && len(records) == 2
	}, 2*time.Second, 10*time.Millisecond)

	system.get(t, "/api/v1/storage", &usage)
	require.Len(t, usage, 1)
	assert.Equal(t, "mishary", usage[0].ReciterID)
	assert.Equal(t, 2, usage[0].FileCount)
}
