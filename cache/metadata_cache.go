package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"QueueFM/core/extractor"
	"QueueFM/logger"
	"QueueFM/model"

	"github.com/go-redis/redis/v8"
)

const metadataKey = "queue:meta:%s" // String: cachedMedia JSON

// cachedMedia 缓存的解析结果
type cachedMedia struct {
	Source   string                  `json:"source"`
	Metadata model.ExtractedMetadata `json:"metadata"`
	CachedAt int64                   `json:"cachedAt"`
}

// MetadataCache 在 Redis 中缓存提取器的解析结果，多个房间和重启之间共享
type MetadataCache struct {
	next   extractor.Extractor
	client *redis.Client
	ttl    time.Duration
}

// NewMetadataCache 包装提取器。解析失败的结果不缓存。
func NewMetadataCache(next extractor.Extractor, client *redis.Client, ttl time.Duration) *MetadataCache {
	return &MetadataCache{next: next, client: client, ttl: ttl}
}

// GetMetadataKey 来源对应的 Redis 键
func GetMetadataKey(source string) string {
	return fmt.Sprintf(metadataKey, source)
}

// Name 与被包装的提取器相同
func (c *MetadataCache) Name() string {
	return c.next.Name()
}

func (c *MetadataCache) get(ctx context.Context, source string) (*extractor.Media, bool) {
	data, err := c.client.Get(ctx, GetMetadataKey(source)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("读取元数据缓存失败", logger.String("source", source), logger.ErrorField(err))
		}
		return nil, false
	}
	var cached cachedMedia
	if err := json.Unmarshal(data, &cached); err != nil {
		logger.Warn("元数据缓存格式错误", logger.String("source", source), logger.ErrorField(err))
		return nil, false
	}
	return &extractor.Media{Source: cached.Source, Metadata: cached.Metadata}, true
}

// put 以请求的来源和规范化来源两个键保存
func (c *MetadataCache) put(ctx context.Context, requested string, media *extractor.Media) {
	data, err := json.Marshal(cachedMedia{Source: media.Source, Metadata: media.Metadata, CachedAt: time.Now().Unix()})
	if err != nil {
		return
	}
	pipe := c.client.Pipeline()
	pipe.Set(ctx, GetMetadataKey(requested), data, c.ttl)
	if media.Source != "" && media.Source != requested {
		pipe.Set(ctx, GetMetadataKey(media.Source), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("写入元数据缓存失败", logger.String("source", requested), logger.ErrorField(err))
	}
}

// Resolve 先查缓存，未命中时调用提取器并写回
func (c *MetadataCache) Resolve(ctx context.Context, source string) (*extractor.Media, error) {
	if media, ok := c.get(ctx, source); ok {
		return media, nil
	}
	media, err := c.next.Resolve(ctx, source)
	if err != nil {
		return nil, err
	}
	c.put(ctx, source, media)
	return media, nil
}

// ResolvePlaylist 歌单本身不缓存，成员在解析时顺带写入缓存
func (c *MetadataCache) ResolvePlaylist(ctx context.Context, id string) (*extractor.Playlist, error) {
	pl, err := c.next.ResolvePlaylist(ctx, id)
	if err != nil {
		return nil, err
	}
	members := pl.Members
	pl.Members = func(yield func(*extractor.Media, error) bool) {
		for media, err := range members {
			if err == nil && media != nil && media.Metadata.Title != "" {
				c.put(ctx, media.Source, media)
			}
			if !yield(media, err) {
				return
			}
		}
	}
	return pl, nil
}
