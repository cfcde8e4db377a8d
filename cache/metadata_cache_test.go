package cache

import (
	"context"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	"QueueFM/core/extractor"
	"QueueFM/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExtractor struct {
	calls atomic.Int32
}

func (e *countingExtractor) Name() string { return "counting" }

func (e *countingExtractor) Resolve(_ context.Context, source string) (*extractor.Media, error) {
	e.calls.Add(1)
	if source == "broken" {
		return nil, extractor.ErrExtractionFailed
	}
	return &extractor.Media{
		Source:   "canonical:" + source,
		Metadata: model.ExtractedMetadata{Title: "Title " + source, Uploader: "someone", Duration: time.Minute},
	}, nil
}

func (e *countingExtractor) ResolvePlaylist(ctx context.Context, id string) (*extractor.Playlist, error) {
	var members iter.Seq2[*extractor.Media, error] = func(yield func(*extractor.Media, error) bool) {
		for _, src := range []string{"p1", "p2"} {
			media, err := e.Resolve(ctx, src)
			if !yield(media, err) {
				return
			}
		}
		yield(&extractor.Media{Source: "unresolved"}, nil)
	}
	return &extractor.Playlist{Info: model.PlaylistMin{Title: id}, Members: members}, nil
}

func newTestMetadataCache(t *testing.T) (*MetadataCache, *countingExtractor, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	next := &countingExtractor{}
	return NewMetadataCache(next, client, time.Hour), next, s
}

func TestMetadataCacheHit(t *testing.T) {
	c, next, s := newTestMetadataCache(t)
	ctx := context.Background()
	assert.Equal(t, "counting", c.Name())

	first, err := c.Resolve(ctx, "song")
	require.NoError(t, err)
	second, err := c.Resolve(ctx, "song")
	require.NoError(t, err)

	assert.Equal(t, int32(1), next.calls.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, "canonical:song", second.Source)
	assert.Equal(t, time.Minute, second.Metadata.Duration)

	// 规范化来源也能命中
	assert.True(t, s.Exists(GetMetadataKey("canonical:song")))
	assert.Equal(t, time.Hour, s.TTL(GetMetadataKey("song")))
	_, err = c.Resolve(ctx, "canonical:song")
	require.NoError(t, err)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestMetadataCacheSkipsFailures(t *testing.T) {
	c, next, s := newTestMetadataCache(t)
	ctx := context.Background()

	_, err := c.Resolve(ctx, "broken")
	assert.ErrorIs(t, err, extractor.ErrExtractionFailed)
	_, err = c.Resolve(ctx, "broken")
	assert.ErrorIs(t, err, extractor.ErrExtractionFailed)
	assert.Equal(t, int32(2), next.calls.Load())
	assert.False(t, s.Exists(GetMetadataKey("broken")))
}

func TestMetadataCacheIgnoresCorruptEntry(t *testing.T) {
	c, next, s := newTestMetadataCache(t)
	require.NoError(t, s.Set(GetMetadataKey("song"), "{not json"))

	media, err := c.Resolve(context.Background(), "song")
	require.NoError(t, err)
	assert.Equal(t, "Title song", media.Metadata.Title)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestMetadataCachePlaylistMembers(t *testing.T) {
	c, next, s := newTestMetadataCache(t)
	ctx := context.Background()

	pl, err := c.ResolvePlaylist(ctx, "mix")
	require.NoError(t, err)
	assert.Equal(t, "mix", pl.Info.Title)

	var sources []string
	for media, err := range pl.Members {
		require.NoError(t, err)
		sources = append(sources, media.Source)
	}
	assert.Equal(t, []string{"canonical:p1", "canonical:p2", "unresolved"}, sources)
	assert.True(t, s.Exists(GetMetadataKey("canonical:p1")))
	assert.False(t, s.Exists(GetMetadataKey("unresolved")))

	calls := next.calls.Load()
	media, err := c.Resolve(ctx, "canonical:p2")
	require.NoError(t, err)
	assert.Equal(t, "Title p2", media.Metadata.Title)
	assert.Equal(t, calls, next.calls.Load())
}
