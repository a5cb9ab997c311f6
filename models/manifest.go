package models

import "sort"

// AudioFileEntry describes one downloadable clip inside a manifest.
type AudioFileEntry struct {
	URL             string  `json:"url"`
	DurationSeconds float64 `json:"duration_seconds"`
	SizeBytes       int64   `json:"size_bytes"`
}

// SessionMarker locates a single thikr inside a session recording.
type SessionMarker struct {
	ItemID                string  `json:"item_id"`
	StartSeconds          float64 `json:"start_seconds"`
	EndSeconds            float64 `json:"end_seconds"`
	TotalRepeatsInSession int     `json:"total_repeats_in_session"`
}

// SessionFileEntry is one long recording covering multiple items.
type SessionFileEntry struct {
	URL             string          `json:"url"`
	DurationSeconds float64         `json:"duration_seconds"`
	SizeBytes       int64           `json:"size_bytes"`
	Markers         []SessionMarker `json:"markers"`
}

// ReciterManifest maps logical item ids to audio metadata for one reciter.
type ReciterManifest struct {
	ReciterID   string                      `json:"reciter_id"`
	Version     string                      `json:"version"`
	PackageType PackageType                 `json:"package_type"`
	Files       map[string]AudioFileEntry   `json:"files,omitempty"`
	Sessions    map[string]SessionFileEntry `json:"sessions,omitempty"`
}

// ResolvedClip is the playback-facing view of a manifest lookup. For
// clip packages Start/End are zero and DownloadKey names the clip itself.
// For session packages the clip is a window into the session file.
type ResolvedClip struct {
	ItemID          string
	URL             string
	DurationSeconds float64
	StartSeconds    float64
	EndSeconds      float64
	DownloadKey     string
}

// SessionDownloadKey namespaces session recordings inside the download
// index so they can't collide with per-item clips.
func SessionDownloadKey(sessionID string) string {
	return "session:" + sessionID
}

// ResolveClip locates the audio for a logical item id according to the
// package type. Clips packages only consult Files, session packages only
// consult markers, and hybrid packages prefer the dedicated clip.
func (m *ReciterManifest) ResolveClip(itemID string) (ResolvedClip, bool) {
	switch m.PackageType {
	case PackageClips:
		return m.resolveFile(itemID)
	case PackageSession:
		return m.resolveMarker(itemID)
	case PackageHybrid:
		if clip, ok := m.resolveFile(itemID); ok {
			return clip, true
		}
		return m.resolveMarker(itemID)
	}
	return ResolvedClip{}, false
}

func (m *ReciterManifest) resolveFile(itemID string) (ResolvedClip, bool) {
	entry, ok := m.Files[itemID]
	if !ok || entry.URL == "" {
		return ResolvedClip{}, false
	}
	return ResolvedClip{
		ItemID:          itemID,
		URL:             entry.URL,
		DurationSeconds: entry.DurationSeconds,
		DownloadKey:     itemID,
	}, true
}

func (m *ReciterManifest) resolveMarker(itemID string) (ResolvedClip, bool) {
	for sessionID, session := range m.Sessions {
		for _, marker := range session.Markers {
			if marker.ItemID != itemID {
				continue
			}
			return ResolvedClip{
				ItemID:          itemID,
				URL:             session.URL,
				DurationSeconds: marker.EndSeconds - marker.StartSeconds,
				StartSeconds:    marker.StartSeconds,
				EndSeconds:      marker.EndSeconds,
				DownloadKey:     SessionDownloadKey(sessionID),
			}, true
		}
	}
	return ResolvedClip{}, false
}

// DownloadEntry is one unit of work for a pack download.
type DownloadEntry struct {
	Key       string
	URL       string
	SizeBytes int64
}

// DownloadEntries lists every file the manifest references, clips first
// then session recordings, in stable order so pack progress is repeatable.
func (m *ReciterManifest) DownloadEntries() []DownloadEntry {
	entries := make([]DownloadEntry, 0, len(m.Files)+len(m.Sessions))
	for _, itemID := range sortedKeys(m.Files) {
		file := m.Files[itemID]
		entries = append(entries, DownloadEntry{Key: itemID, URL: file.URL, SizeBytes: file.SizeBytes})
	}
	for _, sessionID := range sortedKeys(m.Sessions) {
		session := m.Sessions[sessionID]
		entries = append(entries, DownloadEntry{Key: SessionDownloadKey(sessionID), URL: session.URL, SizeBytes: session.SizeBytes})
	}
	return entries
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
