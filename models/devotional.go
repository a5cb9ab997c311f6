package models

// SessionType scopes a devotional list to the time of day it is read.
type SessionType string

const (
	SessionMorning SessionType = "morning"
	SessionEvening SessionType = "evening"
	SessionShared  SessionType = "shared"
)

// DevotionalItem is a single thikr provided by the devotional list
// collaborator. The engine never stores these; it only derives queue
// items from them.
type DevotionalItem struct {
	ID          string      `json:"id"`
	Order       int         `json:"order"`
	RepeatCount int         `json:"repeat_count"`
	SessionType SessionType `json:"session_type"`
	Group       *ItemGroup  `json:"group,omitempty"`
}

// ItemGroup describes items whose recited text rotates every repeat,
// e.g. a 3-part recitation repeated 9 times cycles through 3 sub-texts.
type ItemGroup struct {
	RotatingTextIDs []string `json:"rotating_text_ids"`
	ItemsPerRound   int      `json:"items_per_round"`
}
