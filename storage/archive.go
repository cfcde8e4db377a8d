package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"QueueFM/model"

	"github.com/minio/minio-go/v7"
)

const archivePrefix = "snapshots/"

// ObjectInfo 归档文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// SnapshotArchive 把每次保存的快照归档到 MinIO，保留历史版本
type SnapshotArchive struct {
	client *minio.Client
	bucket string
}

// NewSnapshotArchive 创建快照归档
func NewSnapshotArchive(client *minio.Client, bucket string) *SnapshotArchive {
	return &SnapshotArchive{client: client, bucket: bucket}
}

// ArchiveKey 快照的对象名: snapshots/<room>/<unix>.json
func ArchiveKey(roomID string, savedAt time.Time) string {
	return fmt.Sprintf("%s%s/%d.json", archivePrefix, roomID, savedAt.Unix())
}

func roomPrefix(roomID string) string {
	if roomID == "" {
		return archivePrefix
	}
	return archivePrefix + roomID + "/"
}

// keyTime 从对象名解析保存时间
func keyTime(key string) (int64, bool) {
	base := strings.TrimSuffix(path.Base(key), ".json")
	ts, err := strconv.ParseInt(base, 10, 64)
	return ts, err == nil
}

// latest 返回保存时间最新的对象名
func latest(objects []ObjectInfo) (string, bool) {
	var (
		best  string
		bestT int64 = -1
	)
	for _, obj := range objects {
		ts, ok := keyTime(obj.Key)
		if !ok || ts <= bestT {
			continue
		}
		best, bestT = obj.Key, ts
	}
	return best, bestT >= 0
}

// Archive 上传快照，返回对象名
func (a *SnapshotArchive) Archive(ctx context.Context, snap *model.Snapshot) (string, error) {
	data, err := json.Marshal(snap.ToRecord())
	if err != nil {
		return "", fmt.Errorf("序列化快照失败: %w", err)
	}
	key := ArchiveKey(snap.RoomID, snap.SavedAt)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("上传快照失败: %w", err)
	}
	return key, nil
}

// List 列出归档对象，roomID 为空时列出全部
func (a *SnapshotArchive) List(ctx context.Context, roomID string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:    roomPrefix(roomID),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("列出归档失败: %w", obj.Err)
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return out, nil
}

// Latest 读取房间最近一次归档的快照，没有归档时返回 nil, nil
func (a *SnapshotArchive) Latest(ctx context.Context, roomID string) (*model.Snapshot, error) {
	objects, err := a.List(ctx, roomID)
	if err != nil {
		return nil, err
	}
	key, ok := latest(objects)
	if !ok {
		return nil, nil
	}
	return a.Get(ctx, key)
}

// Get 读取指定归档
func (a *SnapshotArchive) Get(ctx context.Context, key string) (*model.Snapshot, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取归档失败: %w", err)
	}
	defer obj.Close()

	var rec model.SnapshotRecord
	if err := json.NewDecoder(obj).Decode(&rec); err != nil {
		return nil, fmt.Errorf("解析归档 %s 失败: %w", key, err)
	}
	return rec.ToSnapshot(), nil
}

// Stats 统计归档数量和大小
func (a *SnapshotArchive) Stats(ctx context.Context, roomID string) (*BucketStats, error) {
	objects, err := a.List(ctx, roomID)
	if err != nil {
		return nil, err
	}
	stats := &BucketStats{}
	for _, obj := range objects {
		stats.TotalObjects++
		stats.TotalSize += obj.Size
		if obj.LastModified.After(stats.LastModified) {
			stats.LastModified = obj.LastModified
		}
	}
	return stats, nil
}

// Purge 删除房间的全部归档，返回删除数量
func (a *SnapshotArchive) Purge(ctx context.Context, roomID string) (int, error) {
	if roomID == "" {
		return 0, fmt.Errorf("room id is required")
	}
	objects, err := a.List(ctx, roomID)
	if err != nil {
		return 0, err
	}
	ch := make(chan minio.ObjectInfo, len(objects))
	for _, obj := range objects {
		ch <- minio.ObjectInfo{Key: obj.Key}
	}
	close(ch)

	// RemoveObjects 只返回失败的对象
	deleted := len(objects)
	var firstErr error
	for res := range a.client.RemoveObjects(ctx, a.bucket, ch, minio.RemoveObjectsOptions{}) {
		deleted--
		if firstErr == nil {
			firstErr = fmt.Errorf("删除归档 %s 失败: %w", res.ObjectName, res.Err)
		}
	}
	return deleted, firstErr
}

// FormatSize 以可读单位显示字节数
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
