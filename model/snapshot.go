package model

import (
	"time"
)

// ========== 快照持久化格式 ==========

// SnapshotRecord 快照的 JSON 存储格式（Redis / MinIO）
type SnapshotRecord struct {
	RoomID        string               `json:"room_id"`
	PlaybackState *PlaybackStateRecord `json:"playback_state,omitempty"`
	Items         []SnapshotItemRecord `json:"items"`
	SavedAt       int64                `json:"saved_at"` // Unix 毫秒
}

// PlaybackStateRecord 播放状态存储格式
type PlaybackStateRecord struct {
	Mode       string  `json:"mode"` // playing, paused, stopped
	LoopCount  int     `json:"loop_count"`
	PositionMs int64   `json:"position_ms"`
	Volume     float64 `json:"volume"`
}

// SnapshotItemRecord 队列项存储格式
type SnapshotItemRecord struct {
	Source             string  `json:"source"`
	AddedBy            string  `json:"added_by"`
	AddedAt            int64   `json:"added_at"` // Unix 毫秒
	CachedTitle        *string `json:"cached_title,omitempty"`
	CachedUploader     *string `json:"cached_uploader,omitempty"`
	CachedDurationMs   *int64  `json:"cached_duration_ms,omitempty"`
	CachedThumbnailURL *string `json:"cached_thumbnail_url,omitempty"`
}

// ToRecord 转换为存储格式
func (s *Snapshot) ToRecord() *SnapshotRecord {
	rec := &SnapshotRecord{
		RoomID:  s.RoomID,
		Items:   make([]SnapshotItemRecord, 0, len(s.Items)),
		SavedAt: s.SavedAt.UnixMilli(),
	}
	if s.State != nil {
		mode := s.State.Mode
		// ended 与 stopped 在恢复时等价
		if mode == PlayModeEnded {
			mode = PlayModeStopped
		}
		rec.PlaybackState = &PlaybackStateRecord{
			Mode:       string(mode),
			LoopCount:  s.State.Loops,
			PositionMs: s.State.Position.Milliseconds(),
			Volume:     s.State.Volume,
		}
	}
	for _, item := range s.Items {
		rec.Items = append(rec.Items, itemToRecord(item))
	}
	return rec
}

// ToSnapshot 从存储格式还原
func (r *SnapshotRecord) ToSnapshot() *Snapshot {
	s := &Snapshot{
		RoomID:  r.RoomID,
		Items:   make([]EnqueuedItem, 0, len(r.Items)),
		SavedAt: time.UnixMilli(r.SavedAt),
	}
	if r.PlaybackState != nil {
		s.State = &PlaybackState{
			Mode:     PlayMode(r.PlaybackState.Mode),
			Loops:    r.PlaybackState.LoopCount,
			Position: time.Duration(r.PlaybackState.PositionMs) * time.Millisecond,
			Volume:   r.PlaybackState.Volume,
		}
	}
	for _, item := range r.Items {
		s.Items = append(s.Items, item.toItem())
	}
	return s
}

func itemToRecord(item EnqueuedItem) SnapshotItemRecord {
	rec := SnapshotItemRecord{
		Source:  item.Source,
		AddedBy: item.AddedBy,
		AddedAt: item.AddedAt.UnixMilli(),
	}
	if m := item.Extracted; m != nil {
		title, uploader, ms := m.Title, m.Uploader, m.Duration.Milliseconds()
		rec.CachedTitle = &title
		rec.CachedUploader = &uploader
		rec.CachedDurationMs = &ms
		if m.Thumbnail != "" {
			thumb := m.Thumbnail
			rec.CachedThumbnailURL = &thumb
		}
	}
	return rec
}

func (r SnapshotItemRecord) toItem() EnqueuedItem {
	item := EnqueuedItem{
		Source:  r.Source,
		AddedBy: r.AddedBy,
		AddedAt: time.UnixMilli(r.AddedAt),
	}
	if r.CachedTitle == nil && r.CachedUploader == nil && r.CachedDurationMs == nil && r.CachedThumbnailURL == nil {
		return item
	}
	meta := &ExtractedMetadata{}
	if r.CachedTitle != nil {
		meta.Title = *r.CachedTitle
	}
	if r.CachedUploader != nil {
		meta.Uploader = *r.CachedUploader
	}
	if r.CachedDurationMs != nil {
		meta.Duration = time.Duration(*r.CachedDurationMs) * time.Millisecond
	}
	if r.CachedThumbnailURL != nil {
		meta.Thumbnail = *r.CachedThumbnailURL
	}
	item.Extracted = meta
	return item
}

// ========== GORM 模型 ==========

// QueueSnapshot 房间快照（每个房间一条）
type QueueSnapshot struct {
	RoomID     string              `json:"roomId" gorm:"primaryKey;size:64"`
	HasState   bool                `json:"hasState" gorm:"default:false"`
	Mode       string              `json:"mode" gorm:"size:20"`
	LoopCount  int                 `json:"loopCount"`
	PositionMs int64               `json:"positionMs"`
	Volume     float64             `json:"volume"`
	SavedAt    time.Time           `json:"savedAt" gorm:"index"`
	Items      []QueueSnapshotItem `json:"items" gorm:"foreignKey:RoomID;references:RoomID"`
}

// TableName 指定表名
func (QueueSnapshot) TableName() string {
	return "queue_snapshots"
}

// QueueSnapshotItem 快照中的队列项，按 Position 排序
type QueueSnapshotItem struct {
	ID                 int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomID             string    `json:"roomId" gorm:"size:64;index;not null"`
	Position           int       `json:"position" gorm:"not null"`
	Source             string    `json:"source" gorm:"type:text;not null"`
	AddedBy            string    `json:"addedBy" gorm:"size:64"`
	AddedAt            time.Time `json:"addedAt"`
	CachedTitle        *string   `json:"cachedTitle,omitempty" gorm:"size:255"`
	CachedUploader     *string   `json:"cachedUploader,omitempty" gorm:"size:255"`
	CachedDurationMs   *int64    `json:"cachedDurationMs,omitempty"`
	CachedThumbnailURL *string   `json:"cachedThumbnailUrl,omitempty" gorm:"size:512"`
}

// TableName 指定表名
func (QueueSnapshotItem) TableName() string {
	return "queue_snapshot_items"
}

// ToRow 转换为数据库行
func (r *SnapshotRecord) ToRow() *QueueSnapshot {
	row := &QueueSnapshot{
		RoomID:  r.RoomID,
		SavedAt: time.UnixMilli(r.SavedAt),
		Items:   make([]QueueSnapshotItem, 0, len(r.Items)),
	}
	if st := r.PlaybackState; st != nil {
		row.HasState = true
		row.Mode = st.Mode
		row.LoopCount = st.LoopCount
		row.PositionMs = st.PositionMs
		row.Volume = st.Volume
	}
	for i, item := range r.Items {
		row.Items = append(row.Items, QueueSnapshotItem{
			RoomID:             r.RoomID,
			Position:           i,
			Source:             item.Source,
			AddedBy:            item.AddedBy,
			AddedAt:            time.UnixMilli(item.AddedAt),
			CachedTitle:        item.CachedTitle,
			CachedUploader:     item.CachedUploader,
			CachedDurationMs:   item.CachedDurationMs,
			CachedThumbnailURL: item.CachedThumbnailURL,
		})
	}
	return row
}

// ToRecord 数据库行转换为存储格式，Items 需已按 Position 排序
func (q *QueueSnapshot) ToRecord() *SnapshotRecord {
	rec := &SnapshotRecord{
		RoomID:  q.RoomID,
		SavedAt: q.SavedAt.UnixMilli(),
		Items:   make([]SnapshotItemRecord, 0, len(q.Items)),
	}
	if q.HasState {
		rec.PlaybackState = &PlaybackStateRecord{
			Mode:       q.Mode,
			LoopCount:  q.LoopCount,
			PositionMs: q.PositionMs,
			Volume:     q.Volume,
		}
	}
	for _, item := range q.Items {
		rec.Items = append(rec.Items, SnapshotItemRecord{
			Source:             item.Source,
			AddedBy:            item.AddedBy,
			AddedAt:            item.AddedAt.UnixMilli(),
			CachedTitle:        item.CachedTitle,
			CachedUploader:     item.CachedUploader,
			CachedDurationMs:   item.CachedDurationMs,
			CachedThumbnailURL: item.CachedThumbnailURL,
		})
	}
	return rec
}
