package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dhakir-app/dhakir/models"
)

func clipManifest(reciterID string, durations map[string]float64) *models.ReciterManifest {
	files := map[string]models.AudioFileEntry{}
	for itemID, duration := range durations {
		files[itemID] = models.AudioFileEntry{
			URL:             "https://cdn.example.com/" + reciterID + "/" + itemID + ".mp3",
			DurationSeconds: duration,
			SizeBytes:       1024,
		}
	}
	return &models.ReciterManifest{
		ReciterID:   reciterID,
		Version:     "1",
		PackageType: models.PackageClips,
		Files:       files,
	}
}

func TestBuildQueueItems_OrdersAndFilters(t *testing.T) {
	manifest := clipManifest("r1", map[string]float64{"a": 10, "b": 10, "c": 10})
	items := []models.DevotionalItem{
		{ID: "b", Order: 2, RepeatCount: 1, SessionType: models.SessionMorning},
		{ID: "a", Order: 1, RepeatCount: 1, SessionType: models.SessionShared},
		{ID: "c", Order: 3, RepeatCount: 1, SessionType: models.SessionEvening},
	}

	queue := buildQueueItems(items, manifest, models.SessionMorning, RepeatAll)

	assert.Len(t, queue, 2)
	assert.Equal(t, "a", queue[0].ItemID)
	assert.Equal(t, "b", queue[1].ItemID)
}

func TestBuildQueueItems_GroupRotation(t *testing.T) {
	manifest := clipManifest("r1", map[string]float64{"x1": 5, "x2": 5, "x3": 5})
	items := []models.DevotionalItem{
		{
			ID:          "grouped",
			Order:       1,
			RepeatCount: 9,
			SessionType: models.SessionMorning,
			Group: &models.ItemGroup{
				RotatingTextIDs: []string{"x1", "x2", "x3"},
				ItemsPerRound:   3,
			},
		},
	}

	queue := buildQueueItems(items, manifest, models.SessionMorning, RepeatAll)

	assert.Len(t, queue, 9)
	for index, step := range queue {
		expected := []string{"x1", "x2", "x3"}[index%3]
		assert.Equal(t, expected, step.ItemID, "repeat %d", index)
		assert.Equal(t, 1, step.TotalRepeats)
		assert.Equal(t, "grouped", step.DevotionalItemID)
	}
}

func TestBuildQueueItems_GroupPartialRound(t *testing.T) {
	manifest := clipManifest("r1", map[string]float64{"x1": 5, "x2": 5, "x3": 5})
	items := []models.DevotionalItem{
		{
			ID:          "grouped",
			Order:       1,
			RepeatCount: 10,
			SessionType: models.SessionMorning,
			Group: &models.ItemGroup{
				RotatingTextIDs: []string{"x1", "x2", "x3"},
				ItemsPerRound:   3,
			},
		},
	}

	queue := buildQueueItems(items, manifest, models.SessionMorning, RepeatAll)

	assert.Len(t, queue, 10)
	assert.Equal(t, "x1", queue[9].ItemID)
}

func TestBuildQueueItems_GroupHonoursRepeatLimit(t *testing.T) {
	manifest := clipManifest("r1", map[string]float64{"x1": 5, "x2": 5, "x3": 5})
	items := []models.DevotionalItem{
		{
			ID:          "grouped",
			Order:       1,
			RepeatCount: 9,
			SessionType: models.SessionMorning,
			Group: &models.ItemGroup{
				RotatingTextIDs: []string{"x1", "x2", "x3"},
				ItemsPerRound:   3,
			},
		},
	}

	queue := buildQueueItems(items, manifest, models.SessionMorning, RepeatLimit(3))

	assert.Len(t, queue, 9)
	for index, step := range queue {
		if index < 3 {
			assert.Equal(t, 1, step.TotalRepeats, "repeat %d should be audible", index)
			assert.True(t, step.Resolvable())
		} else {
			assert.Equal(t, 0, step.TotalRepeats, "repeat %d should be silent", index)
		}
	}
}

func TestBuildQueueItems_UnresolvableItemKeepsNilClip(t *testing.T) {
	manifest := clipManifest("r1", map[string]float64{"a": 10})
	items := []models.DevotionalItem{
		{ID: "a", Order: 1, RepeatCount: 1, SessionType: models.SessionMorning},
		{ID: "missing", Order: 2, RepeatCount: 1, SessionType: models.SessionMorning},
	}

	queue := buildQueueItems(items, manifest, models.SessionMorning, RepeatAll)

	assert.Len(t, queue, 2)
	assert.True(t, queue[0].Resolvable())
	assert.False(t, queue[1].Resolvable())
}

func TestRepeatLimit_Effective(t *testing.T) {
	assert.Equal(t, 100, RepeatAll.Effective(100))
	assert.Equal(t, 3, RepeatLimit(3).Effective(100))
	assert.Equal(t, 7, RepeatLimit(10).Effective(7))
	assert.Equal(t, 1, RepeatLimit(1).Effective(33))
}

func TestRepeatLimit_Valid(t *testing.T) {
	for _, limit := range []RepeatLimit{RepeatAll, 1, 3, 5, 10} {
		assert.True(t, limit.Valid())
	}
	for _, limit := range []RepeatLimit{2, 4, 7, 100, -1} {
		assert.False(t, limit.Valid())
	}
}

func TestInterRepeatPause(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, interRepeatPause(3))
	assert.Equal(t, 500*time.Millisecond, interRepeatPause(5))
	assert.Equal(t, 500*time.Millisecond, interRepeatPause(10))
	assert.Equal(t, 500*time.Millisecond, interRepeatPause(30))
	assert.Equal(t, time.Duration(0), interRepeatPause(45))
}
