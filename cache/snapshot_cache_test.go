package cache

import (
	"context"
	"testing"
	"time"

	"QueueFM/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSnapshotCache(client, ttl), s
}

func sampleSnapshot(roomID string) *model.Snapshot {
	first := model.EnqueuedItem{
		Source:  "netease:186016",
		AddedBy: "alice",
		AddedAt: time.UnixMilli(1_700_000_000_000),
		Extracted: &model.ExtractedMetadata{
			Title:     "晴天",
			Uploader:  "周杰伦",
			Duration:  269 * time.Second,
			Thumbnail: "https://p1.music.126.net/cover.jpg",
		},
	}
	second := model.EnqueuedItem{
		Source:  "https://example.com/a.mp3",
		AddedBy: "bob",
		AddedAt: time.UnixMilli(1_700_000_060_000),
	}
	return &model.Snapshot{
		RoomID: roomID,
		State: &model.PlaybackState{
			Mode:     model.PlayModePaused,
			Loops:    2,
			Position: 42 * time.Second,
			Volume:   0.3,
		},
		Items:   []model.EnqueuedItem{first, second},
		SavedAt: time.UnixMilli(1_700_000_120_000),
	}
}

func TestSnapshotCacheRoundTrip(t *testing.T) {
	c, s := newTestCache(t, time.Hour)
	ctx := context.Background()
	snap := sampleSnapshot("lobby")

	require.NoError(t, c.Save(ctx, snap))
	assert.True(t, s.Exists("queue:snapshot:lobby"))
	assert.Equal(t, time.Hour, s.TTL("queue:snapshot:lobby"))

	got, err := c.Load(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestSnapshotCacheWireFormat(t *testing.T) {
	c, s := newTestCache(t, 0)
	require.NoError(t, c.Save(context.Background(), sampleSnapshot("lobby")))

	raw, err := s.Get("queue:snapshot:lobby")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"room_id": "lobby",
		"playback_state": {"mode": "paused", "loop_count": 2, "position_ms": 42000, "volume": 0.3},
		"items": [
			{
				"source": "netease:186016",
				"added_by": "alice",
				"added_at": 1700000000000,
				"cached_title": "晴天",
				"cached_uploader": "周杰伦",
				"cached_duration_ms": 269000,
				"cached_thumbnail_url": "https://p1.music.126.net/cover.jpg"
			},
			{"source": "https://example.com/a.mp3", "added_by": "bob", "added_at": 1700000060000}
		],
		"saved_at": 1700000120000
	}`, raw)
	assert.Equal(t, time.Duration(0), s.TTL("queue:snapshot:lobby"))
}

func TestSnapshotCacheEndedIsStoredAsStopped(t *testing.T) {
	c, _ := newTestCache(t, 0)
	ctx := context.Background()
	snap := sampleSnapshot("lobby")
	snap.State.Mode = model.PlayModeEnded

	require.NoError(t, c.Save(ctx, snap))
	got, err := c.Load(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, model.PlayModeStopped, got.State.Mode)
}

func TestSnapshotCacheMissing(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)

	got, err := c.Load(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotCacheExpires(t *testing.T) {
	c, s := newTestCache(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Save(ctx, sampleSnapshot("lobby")))

	s.FastForward(2 * time.Minute)

	got, err := c.Load(ctx, "lobby")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotCacheListAndDelete(t *testing.T) {
	c, s := newTestCache(t, time.Hour)
	ctx := context.Background()
	for _, room := range []string{"b", "a", "c"} {
		require.NoError(t, c.Save(ctx, sampleSnapshot(room)))
	}
	require.NoError(t, s.Set("unrelated", "x"))

	rooms, err := c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, rooms)

	require.NoError(t, c.Delete(ctx, "b"))
	rooms, err = c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, rooms)
}

func TestSnapshotCacheCorruptRecord(t *testing.T) {
	c, s := newTestCache(t, time.Hour)
	require.NoError(t, s.Set("queue:snapshot:broken", "{not json"))

	_, err := c.Load(context.Background(), "broken")
	assert.Error(t, err)
}

func TestCheckRedis(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	require.NoError(t, CheckRedis(context.Background(), client))
	assert.False(t, s.Exists("queue:probe"))
	assert.Error(t, CheckRedis(context.Background(), nil))
}
