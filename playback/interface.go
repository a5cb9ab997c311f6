package playback

import (
	"context"
	"errors"
	"time"
)

// State is the engine's position in its lifecycle. idle doubles as the
// resting and session-complete state; there is no terminal state.
type State string

const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StatePlaying     State = "playing"
	StateCrossfading State = "crossfading"
	StatePaused      State = "paused"
	StateError       State = "error"
)

// legalTransitions is the whole state machine. Anything not listed here
// is a programming error and must be rejected, never clamped.
var legalTransitions = map[State][]State{
	StateIdle:        {StateLoading},
	StateLoading:     {StatePlaying, StateError, StateIdle},
	StatePlaying:     {StateCrossfading, StatePaused, StateIdle, StateError, StateLoading},
	StateCrossfading: {StatePlaying, StateError, StateIdle},
	StatePaused:      {StateLoading, StateIdle, StatePlaying},
	StateError:       {StateLoading, StateIdle},
}

func canTransition(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrIllegalTransition is returned when a command is issued from a state
// it cannot legally act on. State is left untouched.
var ErrIllegalTransition = errors.New("illegal playback transition")

// ErrNoAudioSource means the current queue item has neither a local file
// nor a usable remote URL.
var ErrNoAudioSource = errors.New("no resolvable audio source")

// Mode controls auto-advance behaviour.
type Mode string

const (
	ModeAutopilot Mode = "autopilot"
	ModeManual    Mode = "manual"
	ModeOff       Mode = "off"
)

// RepeatLimit caps how many of an item's natural repeats get audio.
// Zero means "all"; the remaining valid values are 1, 3, 5 and 10.
type RepeatLimit int

const RepeatAll RepeatLimit = 0

func (rl RepeatLimit) Valid() bool {
	switch rl {
	case RepeatAll, 1, 3, 5, 10:
		return true
	}
	return false
}

// Effective returns how many repeats of an item actually play audio.
// It never exceeds the natural repeat count.
func (rl RepeatLimit) Effective(naturalRepeats int) int {
	if rl == RepeatAll || int(rl) >= naturalRepeats {
		return naturalRepeats
	}
	return int(rl)
}

// interRepeatPause is the beat between consecutive plays of the same
// item in autopilot. Short phrases need a perceptible gap, long
// recitations none at all.
func interRepeatPause(durationSeconds float64) time.Duration {
	switch {
	case durationSeconds < 5:
		return 1500 * time.Millisecond
	case durationSeconds <= 30:
		return 500 * time.Millisecond
	default:
		return 0
	}
}

// Source tells the Player what to open. Local paths are preferred over
// remote URLs; session recordings carry a playback window.
type Source struct {
	URL             string
	IsLocal         bool
	StartSeconds    float64
	EndSeconds      float64
	DurationSeconds float64
}

// Player is the platform audio primitive. Opening may hit disk or the
// network and must respect the passed context.
type Player interface {
	Open(ctx context.Context, source Source) (Track, error)
}

// Track is one opened piece of audio. Done must unblock both when the
// track (or its session window) finishes naturally and when the track
// is closed.
type Track interface {
	Play() error
	Pause() error
	Resume() error
	SeekTo(seconds float64) error
	Position() float64
	Duration() float64
	Close() error
	Done() <-chan struct{}
}

// Progress is a current/total pair for repeat and session counters.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Snapshot is the read-only view collaborators consume; it is published
// over SSE on every state change and served from the state endpoint.
type Snapshot struct {
	State                 State       `json:"state"`
	Mode                  Mode        `json:"mode"`
	RepeatLimit           RepeatLimit `json:"repeat_limit"`
	ReciterID             string      `json:"reciter_id"`
	CurrentDevotionalItem string      `json:"current_devotional_item"`
	CurrentItemID         string      `json:"current_item_id"`
	RepeatProgress        Progress    `json:"repeat_progress"`
	SessionProgress       Progress    `json:"session_progress"`
	DurationSeconds       float64     `json:"duration_seconds"`
	PositionSeconds       float64     `json:"position_seconds"`
	Dismissed             bool        `json:"dismissed"`
}
