package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRowRoundTrip(t *testing.T) {
	snap := &Snapshot{
		RoomID: "lobby",
		State:  &PlaybackState{Mode: PlayModePlaying, Loops: LoopInfinite, Position: 1500 * time.Millisecond, Volume: 0.8},
		Items: []EnqueuedItem{
			{Source: "a", AddedBy: "u1", AddedAt: time.UnixMilli(1000), Extracted: &ExtractedMetadata{Title: "A", Uploader: "X", Duration: time.Minute}},
			{Source: "b", AddedBy: "u2", AddedAt: time.UnixMilli(2000)},
		},
		SavedAt: time.UnixMilli(3000),
	}

	row := snap.ToRecord().ToRow()
	require.Len(t, row.Items, 2)
	assert.True(t, row.HasState)
	assert.Equal(t, "playing", row.Mode)
	assert.Equal(t, int64(1500), row.PositionMs)
	assert.Equal(t, 1, row.Items[1].Position)
	assert.Equal(t, "lobby", row.Items[1].RoomID)
	assert.Nil(t, row.Items[1].CachedTitle)

	assert.Equal(t, snap, row.ToRecord().ToSnapshot())
}

func TestSnapshotWithoutState(t *testing.T) {
	snap := &Snapshot{RoomID: "empty", Items: []EnqueuedItem{}, SavedAt: time.UnixMilli(0)}

	rec := snap.ToRecord()
	assert.Nil(t, rec.PlaybackState)
	row := rec.ToRow()
	assert.False(t, row.HasState)
	assert.Nil(t, row.ToRecord().ToSnapshot().State)
}

func TestTrackMinPlaceholders(t *testing.T) {
	tm := TrackMinFrom(2, nil)
	assert.Equal(t, TrackMin{Index: 2, Title: UnknownTitle, Artist: UnknownArtist}, tm)

	tm = TrackMinFrom(0, &ExtractedMetadata{Uploader: "someone", Duration: time.Second})
	assert.Equal(t, UnknownTitle, tm.Title)
	assert.Equal(t, "someone", tm.Artist)
	assert.Equal(t, time.Second, tm.Length)
}
