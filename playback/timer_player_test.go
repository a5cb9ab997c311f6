package playback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerTrack_FinishesNaturally(t *testing.T) {
	player := &TimerPlayer{Scale: 0.001}
	track, err := player.Open(context.Background(), Source{DurationSeconds: 2})
	require.NoError(t, err)

	require.NoError(t, track.Play())
	select {
	case <-track.Done():
	case <-time.After(time.Second):
		t.Fatal("track never finished")
	}
	assert.Equal(t, 2.0, track.Position())
}

func TestTimerTrack_SessionWindowSetsDuration(t *testing.T) {
	player := NewTimerPlayer()
	track, err := player.Open(context.Background(), Source{
		DurationSeconds: 1800,
		StartSeconds:    12.5,
		EndSeconds:      63.5,
	})
	require.NoError(t, err)
	assert.Equal(t, 51.0, track.Duration())
}

func TestTimerTrack_PauseHoldsPosition(t *testing.T) {
	player := NewTimerPlayer()
	track, err := player.Open(context.Background(), Source{DurationSeconds: 300})
	require.NoError(t, err)

	require.NoError(t, track.Play())
	require.NoError(t, track.Pause())
	position := track.Position()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, position, track.Position())

	require.NoError(t, track.SeekTo(500))
	assert.Equal(t, 300.0, track.Position(), "seeking clamps to duration")
}

func TestTimerTrack_CloseUnblocksDone(t *testing.T) {
	player := NewTimerPlayer()
	track, err := player.Open(context.Background(), Source{DurationSeconds: 300})
	require.NoError(t, err)

	require.NoError(t, track.Play())
	require.NoError(t, track.Close())
	select {
	case <-track.Done():
	case <-time.After(time.Second):
		t.Fatal("close must release done watchers")
	}
}

func TestTimerPlayer_RespectsCancelledContext(t *testing.T) {
	player := NewTimerPlayer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := player.Open(ctx, Source{DurationSeconds: 10})
	assert.ErrorIs(t, err, context.Canceled)
}
