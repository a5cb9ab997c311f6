package playback

import (
	"context"
	"sync"
	"time"
)

// TimerPlayer is a Player that models playback with wall-clock timers
// instead of a real audio device. The engine binary uses it when no
// platform primitive has been wired in; it keeps every state machine
// path (including natural track completion) exercisable end to end.
type TimerPlayer struct {
	// Scale compresses playback time; 1.0 plays in real time.
	Scale float64
}

func NewTimerPlayer() *TimerPlayer {
	return &TimerPlayer{Scale: 1.0}
}

func (p *TimerPlayer) Open(ctx context.Context, source Source) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	duration := source.DurationSeconds
	if source.EndSeconds > source.StartSeconds {
		duration = source.EndSeconds - source.StartSeconds
	}
	scale := p.Scale
	if scale <= 0 {
		scale = 1.0
	}
	return &timerTrack{
		duration: duration,
		scale:    scale,
		done:     make(chan struct{}),
	}, nil
}

type timerTrack struct {
	m         sync.Mutex
	duration  float64
	scale     float64
	position  float64
	playing   bool
	startedAt time.Time
	timer     *time.Timer
	done      chan struct{}
	closed    bool
}

func (t *timerTrack) Play() error {
	t.m.Lock()
	defer t.m.Unlock()
	t.startLocked()
	return nil
}

func (t *timerTrack) Pause() error {
	t.m.Lock()
	defer t.m.Unlock()
	t.haltLocked()
	return nil
}

func (t *timerTrack) Resume() error {
	t.m.Lock()
	defer t.m.Unlock()
	t.startLocked()
	return nil
}

func (t *timerTrack) SeekTo(seconds float64) error {
	t.m.Lock()
	defer t.m.Unlock()
	wasPlaying := t.playing
	t.haltLocked()
	t.position = seconds
	if t.position > t.duration {
		t.position = t.duration
	}
	if wasPlaying {
		t.startLocked()
	}
	return nil
}

func (t *timerTrack) Position() float64 {
	t.m.Lock()
	defer t.m.Unlock()
	if !t.playing {
		return t.position
	}
	elapsed := time.Since(t.startedAt).Seconds() / t.scale
	position := t.position + elapsed
	if position > t.duration {
		position = t.duration
	}
	return position
}

func (t *timerTrack) Duration() float64 {
	return t.duration
}

func (t *timerTrack) Close() error {
	t.m.Lock()
	defer t.m.Unlock()
	t.haltLocked()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

func (t *timerTrack) Done() <-chan struct{} {
	return t.done
}

func (t *timerTrack) startLocked() {
	if t.playing || t.closed {
		return
	}
	remaining := t.duration - t.position
	if remaining < 0 {
		remaining = 0
	}
	t.playing = true
	t.startedAt = time.Now()
	t.timer = time.AfterFunc(time.Duration(remaining*t.scale*float64(time.Second)), t.finish)
}

func (t *timerTrack) haltLocked() {
	if !t.playing {
		return
	}
	elapsed := time.Since(t.startedAt).Seconds() / t.scale
	t.position += elapsed
	if t.position > t.duration {
		t.position = t.duration
	}
	t.playing = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *timerTrack) finish() {
	t.m.Lock()
	defer t.m.Unlock()
	t.position = t.duration
	t.playing = false
	if !t.closed {
		t.closed = true
		close(t.done)
	}
}
