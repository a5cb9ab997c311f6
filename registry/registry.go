package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/dhakir-app/dhakir/db"
	"github.com/dhakir-app/dhakir/models"
	"github.com/dhakir-app/dhakir/shared"
)

const (
	catalogCacheKey   = "catalog"
	manifestKeyPrefix = "manifest:"
)

// ErrNoCatalog means the network was unreachable and nothing has ever
// been cached, so there is genuinely nothing to serve.
var ErrNoCatalog = errors.New("no catalog available")

// Registry resolves the versioned reciter catalog and per-reciter
// manifests, caching both in the store so a dead network never blocks
// playback of already-downloaded content.
type Registry struct {
	store      db.Store
	client     *http.Client
	catalogURL string
}

func New(store db.Store, client *http.Client, catalogURL string) *Registry {
	return &Registry{
		store:      store,
		client:     client,
		catalogURL: catalogURL,
	}
}

// FetchCatalog returns the current catalog, preferring a fresh copy but
// falling back to the cached one when the network fails.
func (r *Registry) FetchCatalog(ctx context.Context) (*models.ReciterCatalog, error) {
	payload, err := r.fetchJSON(ctx, r.catalogURL)
	if err != nil {
		slog.Warn("Catalog fetch failed, trying cache", slog.String("error", err.Error()))
		cached, cacheErr := r.store.GetCachedBlob(catalogCacheKey)
		if cacheErr != nil {
			if errors.Is(cacheErr, sql.ErrNoRows) {
				return nil, ErrNoCatalog
			}
			return nil, cacheErr
		}
		return decodeCatalog([]byte(cached.Payload))
	}

	catalog, err := decodeCatalog(payload)
	if err != nil {
		return nil, err
	}

	cached, cacheErr := r.store.GetCachedBlob(catalogCacheKey)
	if cacheErr == nil && cached.Version == catalog.Version {
		// Already stored at this version, nothing to persist.
		return catalog, nil
	}

	if err := r.store.PutCachedBlob(catalogCacheKey, catalog.Version, string(payload)); err != nil {
		slog.Error("Failed to cache catalog", slog.String("error", err.Error()))
	}
	return catalog, nil
}

// FetchManifest returns the manifest for one reciter under the same
// cache-by-version contract as FetchCatalog.
func (r *Registry) FetchManifest(ctx context.Context, reciterID string) (*models.ReciterManifest, error) {
	cacheKey := manifestKeyPrefix + reciterID

	catalog, err := r.FetchCatalog(ctx)
	if err != nil {
		return r.cachedManifest(cacheKey, err)
	}
	entry, ok := catalog.Entry(reciterID)
	if !ok {
		return nil, fmt.Errorf("reciter %s not present in catalog", reciterID)
	}

	payload, err := r.fetchJSON(ctx, entry.ManifestURL)
	if err != nil {
		slog.Warn("Manifest fetch failed, trying cache",
			slog.String("reciter_id", reciterID),
			slog.String("error", err.Error()))
		return r.cachedManifest(cacheKey, err)
	}

	manifest, err := decodeManifest(payload)
	if err != nil {
		return nil, err
	}

	cached, cacheErr := r.store.GetCachedBlob(cacheKey)
	if cacheErr == nil && cached.Version == manifest.Version {
		return manifest, nil
	}

	if err := r.store.PutCachedBlob(cacheKey, manifest.Version, string(payload)); err != nil {
		slog.Error("Failed to cache manifest",
			slog.String("reciter_id", reciterID),
			slog.String("error", err.Error()))
	}
	return manifest, nil
}

func (r *Registry) cachedManifest(cacheKey string, fetchErr error) (*models.ReciterManifest, error) {
	cached, err := r.store.GetCachedBlob(cacheKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("manifest unavailable: %w", fetchErr)
		}
		return nil, err
	}
	return decodeManifest([]byte(cached.Payload))
}

func (r *Registry) fetchJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s returned %d", url, res.StatusCode)
	}
	return io.ReadAll(res.Body)
}

func decodeCatalog(payload []byte) (*models.ReciterCatalog, error) {
	var catalog models.ReciterCatalog
	if err := json.Unmarshal(payload, &catalog); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &catalog, nil
}

func decodeManifest(payload []byte) (*models.ReciterManifest, error) {
	var manifest models.ReciterManifest
	if err := json.Unmarshal(payload, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &manifest, nil
}

// LocalizedName picks the best display name for a reciter: the asked-for
// locale, then the default locale, then whichever entry sorts first so
// the result is deterministic. Only an empty map yields an empty string.
func LocalizedName(name map[string]string, locale string) string {
	if value, ok := name[locale]; ok && value != "" {
		return value
	}
	if value, ok := name[shared.DEFAULT_LOCALE]; ok && value != "" {
		return value
	}
	locales := make([]string, 0, len(name))
	for key := range name {
		locales = append(locales, key)
	}
	sort.Strings(locales)
	for _, key := range locales {
		if name[key] != "" {
			return name[key]
		}
	}
	return ""
}
