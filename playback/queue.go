package playback

import (
	"sort"

	"github.com/dhakir-app/dhakir/models"
)

// QueueItem is one audible step of a session. Grouped devotional items
// expand to one step per repeat so the rotating text advances every
// play; plain items keep their repeats inside a single step.
type QueueItem struct {
	DevotionalItemID string
	ItemID           string
	NaturalRepeats   int
	TotalRepeats     int
	Clip             *models.ResolvedClip
}

// Resolvable reports whether this step has any audio to play.
func (q QueueItem) Resolvable() bool {
	return q.Clip != nil && q.Clip.URL != ""
}

// buildQueueItems derives the playable queue from a devotional list.
// Items are taken in ascending Order; only the requested session type
// plus shared items participate. Grouped items cycle their rotating
// text ids by repeat index mod itemsPerRound; a repeat count that does
// not divide evenly simply ends on a partial round.
func buildQueueItems(items []models.DevotionalItem, manifest *models.ReciterManifest, sessionType models.SessionType, limit RepeatLimit) []QueueItem {
	ordered := make([]models.DevotionalItem, 0, len(items))
	for _, item := range items {
		if item.SessionType != sessionType && item.SessionType != models.SessionShared {
			continue
		}
		ordered = append(ordered, item)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	queue := []QueueItem{}
	for _, item := range ordered {
		if item.Group != nil && len(item.Group.RotatingTextIDs) > 0 && item.Group.ItemsPerRound > 0 {
			queue = append(queue, expandGroup(item, manifest, limit)...)
			continue
		}
		queue = append(queue, QueueItem{
			DevotionalItemID: item.ID,
			ItemID:           item.ID,
			NaturalRepeats:   item.RepeatCount,
			TotalRepeats:     limit.Effective(item.RepeatCount),
			Clip:             resolveClip(manifest, item.ID),
		})
	}
	return queue
}

// expandGroup emits one single-repeat step per rotation index. Steps
// past the effective repeat count stay in the queue with zero audible
// repeats so the manual counter can still walk them.
func expandGroup(item models.DevotionalItem, manifest *models.ReciterManifest, limit RepeatLimit) []QueueItem {
	audible := limit.Effective(item.RepeatCount)
	steps := make([]QueueItem, 0, item.RepeatCount)
	for index := 0; index < item.RepeatCount; index++ {
		textIndex := index % item.Group.ItemsPerRound
		if textIndex >= len(item.Group.RotatingTextIDs) {
			textIndex = textIndex % len(item.Group.RotatingTextIDs)
		}
		textID := item.Group.RotatingTextIDs[textIndex]
		step := QueueItem{
			DevotionalItemID: item.ID,
			ItemID:           textID,
			NaturalRepeats:   1,
		}
		if index < audible {
			step.TotalRepeats = 1
			step.Clip = resolveClip(manifest, textID)
		}
		steps = append(steps, step)
	}
	return steps
}

func resolveClip(manifest *models.ReciterManifest, itemID string) *models.ResolvedClip {
	if manifest == nil {
		return nil
	}
	clip, ok := manifest.ResolveClip(itemID)
	if !ok {
		return nil
	}
	return &clip
}

// remainingItemIDs lists the logical ids after index, in traversal
// order, for prefetching.
func remainingItemIDs(queue []QueueItem, index int) []string {
	ids := []string{}
	for i := index + 1; i < len(queue); i++ {
		ids = append(ids, queue[i].ItemID)
	}
	return ids
}
