package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveClip_ClipsPackage(t *testing.T) {
	manifest := &ReciterManifest{
		ReciterID:   "r1",
		PackageType: PackageClips,
		Files: map[string]AudioFileEntry{
			"ayat-alkursi": {URL: "https://cdn.example.com/ayat-alkursi.mp3", DurationSeconds: 50},
		},
	}

	clip, ok := manifest.ResolveClip("ayat-alkursi")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/ayat-alkursi.mp3", clip.URL)
	assert.Equal(t, 50.0, clip.DurationSeconds)
	assert.Equal(t, 0.0, clip.StartSeconds)
	assert.Equal(t, "ayat-alkursi", clip.DownloadKey)

	_, ok = manifest.ResolveClip("unknown")
	assert.False(t, ok)
}

func TestResolveClip_SessionPackage(t *testing.T) {
	manifest := &ReciterManifest{
		ReciterID:   "r1",
		PackageType: PackageSession,
		Sessions: map[string]SessionFileEntry{
			"morning": {
				URL:             "https://cdn.example.com/morning.mp3",
				DurationSeconds: 1800,
				Markers: []SessionMarker{
					{ItemID: "ayat-alkursi", StartSeconds: 12.5, EndSeconds: 63.5},
					{ItemID: "ikhlas", StartSeconds: 63.5, EndSeconds: 80},
				},
			},
		},
	}

	clip, ok := manifest.ResolveClip("ikhlas")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/morning.mp3", clip.URL)
	assert.Equal(t, 63.5, clip.StartSeconds)
	assert.Equal(t, 80.0, clip.EndSeconds)
	assert.Equal(t, 16.5, clip.DurationSeconds)
	assert.Equal(t, "session:morning", clip.DownloadKey)

	_, ok = manifest.ResolveClip("unknown")
	assert.False(t, ok)
}

func TestResolveClip_HybridPrefersDedicatedClip(t *testing.T) {
	manifest := &ReciterManifest{
		ReciterID:   "r1",
		PackageType: PackageHybrid,
		Files: map[string]AudioFileEntry{
			"ayat-alkursi": {URL: "https://cdn.example.com/ayat-alkursi.mp3", DurationSeconds: 50},
		},
		Sessions: map[string]SessionFileEntry{
			"morning": {
				URL: "https://cdn.example.com/morning.mp3",
				Markers: []SessionMarker{
					{ItemID: "ayat-alkursi", StartSeconds: 12.5, EndSeconds: 63.5},
					{ItemID: "ikhlas", StartSeconds: 63.5, EndSeconds: 80},
				},
			},
		},
	}

	clip, ok := manifest.ResolveClip("ayat-alkursi")
	require.True(t, ok)
	assert.Equal(t, "ayat-alkursi", clip.DownloadKey, "the dedicated clip wins over the session window")

	clip, ok = manifest.ResolveClip("ikhlas")
	require.True(t, ok)
	assert.Equal(t, "session:morning", clip.DownloadKey, "items without a clip fall back to the session")
}

func TestDownloadEntries_StableOrder(t *testing.T) {
	manifest := &ReciterManifest{
		ReciterID:   "r1",
		PackageType: PackageHybrid,
		Files: map[string]AudioFileEntry{
			"b": {URL: "https://cdn.example.com/b.mp3", SizeBytes: 2},
			"a": {URL: "https://cdn.example.com/a.mp3", SizeBytes: 1},
		},
		Sessions: map[string]SessionFileEntry{
			"morning": {URL: "https://cdn.example.com/morning.mp3", SizeBytes: 3},
		},
	}

	entries := manifest.DownloadEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, DownloadEntry{Key: "a", URL: "https://cdn.example.com/a.mp3", SizeBytes: 1}, entries[0])
	assert.Equal(t, DownloadEntry{Key: "b", URL: "https://cdn.example.com/b.mp3", SizeBytes: 2}, entries[1])
	assert.Equal(t, DownloadEntry{Key: "session:morning", URL: "https://cdn.example.com/morning.mp3", SizeBytes: 3}, entries[2])
}

func TestSerializableColours_RoundTrip(t *testing.T) {
	colours := SerializableColours{"#1a2b3c", "#ffffff"}

	value, err := colours.Value()
	require.NoError(t, err)

	var decoded SerializableColours
	require.NoError(t, decoded.Scan(value))
	assert.Equal(t, colours, decoded)
}
