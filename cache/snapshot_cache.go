package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"QueueFM/model"

	"github.com/go-redis/redis/v8"
)

const (
	snapshotKeyPrefix = "queue:snapshot:"
	snapshotKey       = snapshotKeyPrefix + "%s" // String: SnapshotRecord JSON
	scanBatch         = 100
)

// SnapshotCache 把房间快照以 JSON 形式保存在 Redis 中
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache 创建快照缓存，ttl <= 0 表示不过期
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl < 0 {
		ttl = 0
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

// Save 覆盖保存房间快照
func (c *SnapshotCache) Save(ctx context.Context, snap *model.Snapshot) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	data, err := json.Marshal(snap.ToRecord())
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	key := fmt.Sprintf(snapshotKey, snap.RoomID)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snap.RoomID, err)
	}
	return nil
}

// Load 读取房间快照，不存在时返回 nil, nil
func (c *SnapshotCache) Load(ctx context.Context, roomID string) (*model.Snapshot, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}
	data, err := c.client.Get(ctx, fmt.Sprintf(snapshotKey, roomID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load snapshot %s: %w", roomID, err)
	}

	var rec model.SnapshotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot %s: %w", roomID, err)
	}
	return rec.ToSnapshot(), nil
}

// Delete 删除房间快照
func (c *SnapshotCache) Delete(ctx context.Context, roomID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return c.client.Del(ctx, fmt.Sprintf(snapshotKey, roomID)).Err()
}

// List 列出所有保存了快照的房间
func (c *SnapshotCache) List(ctx context.Context) ([]string, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	var (
		rooms  []string
		cursor uint64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, snapshotKeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshots: %w", err)
		}
		for _, key := range keys {
			rooms = append(rooms, strings.TrimPrefix(key, snapshotKeyPrefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	// SCAN 可能返回重复的键
	slices.Sort(rooms)
	return slices.Compact(rooms), nil
}
