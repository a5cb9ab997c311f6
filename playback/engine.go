package playback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"

	"github.com/dhakir-app/dhakir/events"
	"github.com/dhakir-app/dhakir/models"
	"github.com/dhakir-app/dhakir/shared"
)

// Storage is the slice of the downloads manager the engine needs. It
// only ever reads local paths and fires prefetches; the download index
// is mutated exclusively by the manager itself.
type Storage interface {
	LocalPath(reciterID, itemID string) string
	PrefetchUpcoming(ctx context.Context, reciterID string, manifest *models.ReciterManifest, startIndex int, orderedItemIDs []string, count int)
}

// Options tune the engine; zero values fall back to sane defaults.
type Options struct {
	PrefetchCount int
	LoadTimeout   time.Duration
	RetryBackoff  time.Duration
}

const (
	defaultPrefetchCount = 3
	defaultLoadTimeout   = 15 * time.Second
	defaultRetryBackoff  = 300 * time.Millisecond
)

// Engine is the single active playback session. Every mutation funnels
// through its mutex so overlapping commands serialize rather than race;
// slow work (opening audio, waiting out inter-repeat pauses) happens on
// goroutines that re-enter under the lock and check the generation
// counter so a Stop issued meanwhile wins.
type Engine struct {
	m       sync.Mutex
	player  Player
	storage Storage

	prefetchCount int
	loadTimeout   time.Duration
	retryBackoff  time.Duration

	state       State
	mode        Mode
	repeatLimit RepeatLimit
	dismissed   bool

	reciterID   string
	sessionType models.SessionType
	manifest    *models.ReciterManifest

	queue       []QueueItem
	queueIndex  int
	repeatIndex int

	track      Track
	lastSource Source
	openCancel context.CancelFunc
	pauseTimer *time.Timer
	retried    bool
	generation uint64
}

func NewEngine(player Player, storage Storage, opts Options) *Engine {
	if opts.PrefetchCount <= 0 {
		opts.PrefetchCount = defaultPrefetchCount
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaultLoadTimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	return &Engine{
		player:        player,
		storage:       storage,
		prefetchCount: opts.PrefetchCount,
		loadTimeout:   opts.LoadTimeout,
		retryBackoff:  opts.RetryBackoff,
		state:         StateIdle,
		mode:          ModeAutopilot,
		repeatLimit:   RepeatAll,
	}
}

// transitionLocked applies a state change or rejects it. Callers hold
// the mutex.
func (e *Engine) transitionLocked(to State) error {
	if to == e.state {
		// Internal re-entry (e.g. reloading while already loading) is
		// not a transition; state is untouched.
		e.broadcastLocked()
		return nil
	}
	if !canTransition(e.state, to) {
		slog.Error("Rejected illegal playback transition",
			slog.String("from", string(e.state)),
			slog.String("to", string(to)))
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, e.state, to)
	}
	e.state = to
	e.broadcastLocked()
	return nil
}

func (e *Engine) broadcastLocked() {
	if events.Server == nil {
		return
	}
	jsonState, _ := json.Marshal(e.snapshotLocked())
	events.Server.Publish(shared.STREAM_PLAYBACK, &sse.Event{Data: jsonState})
}

// BuildQueue replaces the session wholesale. Building while anything is
// in flight performs an implicit Stop first so no state from the old
// reciter or list can leak into the new queue.
func (e *Engine) BuildQueue(items []models.DevotionalItem, manifest *models.ReciterManifest, reciterID string, sessionType models.SessionType) {
	e.m.Lock()
	defer e.m.Unlock()

	if e.state != StateIdle {
		e.stopLocked()
	}

	e.reciterID = reciterID
	e.sessionType = sessionType
	e.manifest = manifest
	e.queue = buildQueueItems(items, manifest, sessionType, e.repeatLimit)
	e.queueIndex = 0
	e.repeatIndex = 0
	e.dismissed = false

	slog.Info("Built playback queue",
		slog.String("reciter_id", reciterID),
		slog.String("session_type", string(sessionType)),
		slog.Int("items", len(e.queue)))

	e.broadcastLocked()
}

// Play starts (or retries) playback of the current queue item.
func (e *Engine) Play() error {
	e.m.Lock()
	defer e.m.Unlock()

	switch e.state {
	case StateIdle, StatePaused, StateError:
	default:
		return fmt.Errorf("%w: play from %s", ErrIllegalTransition, e.state)
	}
	if len(e.queue) == 0 {
		return fmt.Errorf("no queue has been built")
	}
	if e.queueIndex >= len(e.queue) {
		e.queueIndex = 0
		e.repeatIndex = 0
	}
	return e.startLoadLocked(false)
}

// JumpTo relocates the session to the first step of a devotional item.
func (e *Engine) JumpTo(devotionalItemID string) error {
	e.m.Lock()
	defer e.m.Unlock()

	target := -1
	for i, item := range e.queue {
		if item.DevotionalItemID == devotionalItemID {
			target = i
			break
		}
	}
	if target < 0 {
		return fmt.Errorf("devotional item %s not in queue", devotionalItemID)
	}

	switch e.state {
	case StateIdle, StatePaused, StateError, StatePlaying:
	default:
		return fmt.Errorf("%w: jump from %s", ErrIllegalTransition, e.state)
	}

	e.cancelCurrentLocked()
	e.queueIndex = target
	e.repeatIndex = 0
	e.triggerPrefetchLocked()
	return e.startLoadLocked(false)
}

// Pause suspends a playing track. Anywhere else it is a no-op.
func (e *Engine) Pause() error {
	e.m.Lock()
	defer e.m.Unlock()

	if e.state != StatePlaying {
		return nil
	}
	if e.track != nil {
		if err := e.track.Pause(); err != nil {
			return err
		}
	}
	return e.transitionLocked(StatePaused)
}

// Resume re-validates the audio source before continuing, since the
// file backing the paused track may have been pruned meanwhile.
func (e *Engine) Resume() error {
	e.m.Lock()
	defer e.m.Unlock()

	if e.state != StatePaused {
		return fmt.Errorf("%w: resume from %s", ErrIllegalTransition, e.state)
	}
	if err := e.transitionLocked(StateLoading); err != nil {
		return err
	}

	gen := e.generation
	go e.revalidateAndResume(gen)
	return nil
}

func (e *Engine) revalidateAndResume(gen uint64) {
	e.m.Lock()
	item, ok := e.currentItemLocked()
	reciterID := e.reciterID
	track := e.track
	last := e.lastSource
	e.m.Unlock()

	if !ok || !item.Resolvable() {
		e.m.Lock()
		defer e.m.Unlock()
		if gen != e.generation {
			return
		}
		if e.mode == ModeAutopilot {
			e.skipUnplayableLocked()
		} else {
			e.handleUnresolvableLocked()
		}
		return
	}

	source := e.resolveSource(reciterID, *item.Clip)

	e.m.Lock()
	defer e.m.Unlock()
	if gen != e.generation || e.state != StateLoading {
		return
	}
	if track != nil && source == last {
		if err := track.Resume(); err == nil {
			e.transitionLocked(StatePlaying)
			return
		}
	}
	// Source changed under us (or resume failed); reopen from scratch.
	if e.track != nil {
		e.track.Close()
		e.track = nil
	}
	e.retried = false
	e.beginOpenLocked()
}

// Next advances the repeat counter first, then the queue.
func (e *Engine) Next() error {
	return e.step(+1)
}

// Previous is symmetric to Next, and a no-op at the very start.
func (e *Engine) Previous() error {
	return e.step(-1)
}

func (e *Engine) step(direction int) error {
	e.m.Lock()
	defer e.m.Unlock()

	switch e.state {
	case StatePlaying, StatePaused:
	default:
		return fmt.Errorf("%w: step from %s", ErrIllegalTransition, e.state)
	}

	if direction > 0 {
		if !e.advanceLocked() {
			// Queue exhausted: the session is complete.
			e.cancelCurrentLocked()
			return e.transitionLocked(StateIdle)
		}
	} else {
		if !e.retreatLocked() {
			return nil
		}
	}

	crossfade := e.state == StatePlaying && e.mode == ModeAutopilot
	e.cancelCurrentLocked()
	return e.startLoadLocked(crossfade)
}

// advanceLocked moves one audible step forward. Returns false when the
// queue is exhausted.
func (e *Engine) advanceLocked() bool {
	if e.queueIndex >= len(e.queue) {
		return false
	}
	item := e.queue[e.queueIndex]
	if e.repeatIndex+1 < item.TotalRepeats {
		e.repeatIndex++
		return true
	}
	e.repeatIndex = 0
	e.queueIndex++
	e.triggerPrefetchLocked()
	return e.queueIndex < len(e.queue)
}

func (e *Engine) retreatLocked() bool {
	if e.repeatIndex > 0 {
		e.repeatIndex--
		return true
	}
	if e.queueIndex == 0 {
		return false
	}
	e.queueIndex--
	prev := e.queue[e.queueIndex]
	e.repeatIndex = 0
	if prev.TotalRepeats > 0 {
		e.repeatIndex = prev.TotalRepeats - 1
	}
	return true
}

// SeekTo clamps into the open track's duration. Only meaningful with
// something audible on deck.
func (e *Engine) SeekTo(seconds float64) error {
	e.m.Lock()
	defer e.m.Unlock()

	if e.state != StatePlaying && e.state != StatePaused {
		return fmt.Errorf("%w: seek from %s", ErrIllegalTransition, e.state)
	}
	if e.track == nil {
		return fmt.Errorf("no open track to seek")
	}
	if seconds < 0 {
		seconds = 0
	}
	if duration := e.track.Duration(); seconds > duration {
		seconds = duration
	}
	return e.track.SeekTo(seconds)
}

// Stop tears the session down from any state.
func (e *Engine) Stop() {
	e.m.Lock()
	defer e.m.Unlock()
	e.stopLocked()
}

// Dismiss is Stop plus a signal that the user closed the audio surface
// on purpose, so collaborators know not to resurface it.
func (e *Engine) Dismiss() {
	e.m.Lock()
	defer e.m.Unlock()
	e.stopLocked()
	e.dismissed = true
	e.broadcastLocked()
}

func (e *Engine) stopLocked() {
	e.cancelCurrentLocked()
	e.queue = nil
	e.queueIndex = 0
	e.repeatIndex = 0
	e.manifest = nil
	if e.state != StateIdle {
		e.state = StateIdle
	}
	e.broadcastLocked()
}

// SetMode changes auto-advance behaviour. Switching between autopilot
// and manual mid-track never interrupts the current audio; switching
// off implies Stop.
func (e *Engine) SetMode(mode Mode) error {
	e.m.Lock()
	defer e.m.Unlock()

	switch mode {
	case ModeAutopilot, ModeManual, ModeOff:
	default:
		return fmt.Errorf("unknown playback mode %q", mode)
	}
	if mode == ModeOff {
		e.stopLocked()
	}
	e.mode = mode
	e.broadcastLocked()
	return nil
}

// SetRepeatLimit applies to queues built from now on.
func (e *Engine) SetRepeatLimit(limit RepeatLimit) error {
	e.m.Lock()
	defer e.m.Unlock()

	if !limit.Valid() {
		return fmt.Errorf("unsupported repeat limit %d", limit)
	}
	e.repeatLimit = limit
	e.broadcastLocked()
	return nil
}

// Queue returns a copy of the current queue for display purposes.
func (e *Engine) Queue() []QueueItem {
	e.m.Lock()
	defer e.m.Unlock()
	queue := make([]QueueItem, len(e.queue))
	copy(queue, e.queue)
	return queue
}

// Snapshot is the read-only view for collaborators.
func (e *Engine) Snapshot() Snapshot {
	e.m.Lock()
	defer e.m.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	snapshot := Snapshot{
		State:       e.state,
		Mode:        e.mode,
		RepeatLimit: e.repeatLimit,
		ReciterID:   e.reciterID,
		Dismissed:   e.dismissed,
		SessionProgress: Progress{
			Current: e.queueIndex,
			Total:   len(e.queue),
		},
	}
	if item, ok := e.currentItemLocked(); ok {
		snapshot.CurrentDevotionalItem = item.DevotionalItemID
		snapshot.CurrentItemID = item.ItemID
		snapshot.RepeatProgress = Progress{Current: e.repeatIndex, Total: item.TotalRepeats}
	}
	if e.track != nil {
		snapshot.DurationSeconds = e.track.Duration()
		snapshot.PositionSeconds = e.track.Position()
	}
	return snapshot
}

func (e *Engine) currentItemLocked() (QueueItem, bool) {
	if e.queueIndex < 0 || e.queueIndex >= len(e.queue) {
		return QueueItem{}, false
	}
	return e.queue[e.queueIndex], true
}

// startLoadLocked parks the engine in loading (or crossfading) and
// kicks off the async open of the current item.
func (e *Engine) startLoadLocked(crossfade bool) error {
	item, ok := e.currentItemLocked()
	if !ok {
		return e.transitionLocked(StateIdle)
	}

	// Silent steps are skipped in every mode; broken steps are skipped
	// only in autopilot, otherwise the session parks in error.
	if item.TotalRepeats == 0 {
		return e.skipUnplayableLocked()
	}
	if !item.Resolvable() {
		if e.mode == ModeAutopilot {
			return e.skipUnplayableLocked()
		}
		e.handleUnresolvableLocked()
		return ErrNoAudioSource
	}

	to := StateLoading
	if crossfade && canTransition(e.state, StateCrossfading) {
		to = StateCrossfading
	}
	if err := e.transitionLocked(to); err != nil {
		return err
	}
	e.retried = false
	e.beginOpenLocked()
	return nil
}

// skipUnplayableLocked walks forward past silent or broken steps until
// something playable appears or the queue ends.
func (e *Engine) skipUnplayableLocked() error {
	for {
		item, ok := e.currentItemLocked()
		if !ok {
			return e.transitionLocked(StateIdle)
		}
		if item.TotalRepeats > 0 && item.Resolvable() {
			return e.startLoadLocked(false)
		}
		if item.TotalRepeats > 0 && !item.Resolvable() && e.mode != ModeAutopilot {
			e.handleUnresolvableLocked()
			return ErrNoAudioSource
		}
		slog.Info("Skipping unplayable queue step",
			slog.String("item_id", item.ItemID),
			slog.Bool("silent", item.TotalRepeats == 0))
		e.repeatIndex = 0
		e.queueIndex++
		e.triggerPrefetchLocked()
	}
}

// handleUnresolvableLocked walks the legal path into error: the command
// states all reach loading, and loading reaches error.
func (e *Engine) handleUnresolvableLocked() {
	if e.state != StateLoading && e.state != StateCrossfading {
		if err := e.transitionLocked(StateLoading); err != nil {
			return
		}
	}
	e.transitionLocked(StateError)
}

// beginOpenLocked hands the actual open to a goroutine. The generation
// snapshot lets a Stop or rebuild issued mid-open win cleanly.
func (e *Engine) beginOpenLocked() {
	item, ok := e.currentItemLocked()
	if !ok || item.Clip == nil {
		return
	}

	gen := e.generation
	ctx, cancel := context.WithTimeout(context.Background(), e.loadTimeout)
	e.openCancel = cancel

	clip := *item.Clip
	reciterID := e.reciterID

	go e.openAsync(ctx, cancel, gen, reciterID, clip)
}

// resolveSource prefers a verified local file, falling back to
// streaming the remote URL.
func (e *Engine) resolveSource(reciterID string, clip models.ResolvedClip) Source {
	source := Source{
		URL:             clip.URL,
		StartSeconds:    clip.StartSeconds,
		EndSeconds:      clip.EndSeconds,
		DurationSeconds: clip.DurationSeconds,
	}
	if local := e.storage.LocalPath(reciterID, clip.DownloadKey); local != "" {
		source.URL = local
		source.IsLocal = true
	}
	return source
}

func (e *Engine) openAsync(ctx context.Context, cancel context.CancelFunc, gen uint64, reciterID string, clip models.ResolvedClip) {
	defer cancel()

	source := e.resolveSource(reciterID, clip)
	track, err := e.player.Open(ctx, source)

	e.m.Lock()
	defer e.m.Unlock()

	if gen != e.generation {
		if track != nil {
			track.Close()
		}
		return
	}
	if e.state != StateLoading && e.state != StateCrossfading {
		if track != nil {
			track.Close()
		}
		return
	}

	if err != nil {
		e.handleOpenFailureLocked(gen, err)
		return
	}

	if e.track != nil {
		e.track.Close()
	}
	e.track = track
	e.lastSource = source
	if err := track.Play(); err != nil {
		e.track = nil
		track.Close()
		e.handleOpenFailureLocked(gen, err)
		return
	}
	e.transitionLocked(StatePlaying)
	go e.watchDone(track, gen)
}

// handleOpenFailureLocked retries exactly once after a short backoff,
// then surfaces the error state for the UI's retry affordance.
func (e *Engine) handleOpenFailureLocked(gen uint64, err error) {
	if !e.retried {
		e.retried = true
		slog.Warn("Audio open failed, retrying once", slog.String("error", err.Error()))
		time.AfterFunc(e.retryBackoff, func() {
			e.m.Lock()
			defer e.m.Unlock()
			if gen != e.generation {
				return
			}
			if e.state != StateLoading && e.state != StateCrossfading {
				return
			}
			e.beginOpenLocked()
		})
		return
	}

	slog.Error("Audio open failed after retry", slog.String("error", err.Error()))
	e.transitionLocked(StateError)
}

// watchDone waits for the track to finish naturally and feeds the
// completion back through the lock.
func (e *Engine) watchDone(track Track, gen uint64) {
	<-track.Done()

	e.m.Lock()
	defer e.m.Unlock()

	if gen != e.generation || e.track != track || e.state != StatePlaying {
		return
	}

	e.track.Close()
	e.track = nil

	if e.mode != ModeAutopilot {
		// Manual mode waits for the user between plays.
		e.transitionLocked(StatePaused)
		return
	}

	item, ok := e.currentItemLocked()
	if !ok {
		e.transitionLocked(StateIdle)
		return
	}

	if e.repeatIndex+1 < item.TotalRepeats {
		e.repeatIndex++
		e.scheduleRepeatLocked(gen, item)
		return
	}

	e.repeatIndex = 0
	e.queueIndex++
	e.triggerPrefetchLocked()

	if e.queueIndex >= len(e.queue) {
		// Session complete.
		e.transitionLocked(StateIdle)
		return
	}
	e.startLoadLocked(true)
}

// scheduleRepeatLocked inserts the duration-based beat between plays of
// the same item, parking in crossfading until it elapses.
func (e *Engine) scheduleRepeatLocked(gen uint64, item QueueItem) {
	if err := e.transitionLocked(StateCrossfading); err != nil {
		return
	}
	pause := time.Duration(0)
	if item.Clip != nil {
		pause = interRepeatPause(item.Clip.DurationSeconds)
	}
	e.pauseTimer = time.AfterFunc(pause, func() {
		e.m.Lock()
		defer e.m.Unlock()
		if gen != e.generation || e.state != StateCrossfading {
			return
		}
		e.retried = false
		e.beginOpenLocked()
	})
}

// cancelCurrentLocked invalidates every in-flight async continuation:
// pending opens, pause timers and done-watchers all observe a new
// generation and bail out.
func (e *Engine) cancelCurrentLocked() {
	e.generation++
	if e.openCancel != nil {
		e.openCancel()
		e.openCancel = nil
	}
	if e.pauseTimer != nil {
		e.pauseTimer.Stop()
		e.pauseTimer = nil
	}
	if e.track != nil {
		e.track.Close()
		e.track = nil
	}
}

// triggerPrefetchLocked fires and forgets; downloads never block a
// transition and never mutate playback state.
func (e *Engine) triggerPrefetchLocked() {
	if e.manifest == nil || e.storage == nil {
		return
	}
	ids := remainingItemIDs(e.queue, e.queueIndex)
	if len(ids) == 0 {
		return
	}
	manifest := e.manifest
	reciterID := e.reciterID
	count := e.prefetchCount
	go e.storage.PrefetchUpcoming(context.Background(), reciterID, manifest, 0, ids, count)
}
