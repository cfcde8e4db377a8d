package model

import (
	"encoding/json"
	"time"
)

// ExtractedMetadata 提取到的媒体元数据（尽力而为，可能为空）
type ExtractedMetadata struct {
	Title     string        `json:"title"`
	Uploader  string        `json:"uploader"`
	Duration  time.Duration `json:"-"` // JSON 中为 duration_ms
	Thumbnail string        `json:"thumbnail,omitempty"`
}

func (m ExtractedMetadata) MarshalJSON() ([]byte, error) {
	type plain ExtractedMetadata
	return json.Marshal(struct {
		plain
		DurationMs int64 `json:"duration_ms"`
	}{plain(m), m.Duration.Milliseconds()})
}

func (m *ExtractedMetadata) UnmarshalJSON(data []byte) error {
	type plain ExtractedMetadata
	aux := struct {
		*plain
		DurationMs int64 `json:"duration_ms"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Duration = time.Duration(aux.DurationMs) * time.Millisecond
	return nil
}

// EnqueuedItem 队列中的一项，未缓冲时只保存来源和点歌信息
type EnqueuedItem struct {
	Source    string             `json:"source"`
	AddedBy   string             `json:"addedBy"`
	AddedAt   time.Time          `json:"addedAt"`
	Extracted *ExtractedMetadata `json:"extracted,omitempty"`
}

// NewEnqueuedItem 创建点歌项，AddedAt 取当前时间
func NewEnqueuedItem(source, addedBy string) EnqueuedItem {
	return EnqueuedItem{
		Source:  source,
		AddedBy: addedBy,
		AddedAt: time.Now(),
	}
}

// TrackMin 返回给调用方的精简曲目信息
type TrackMin struct {
	Index     int           `json:"index"`
	Title     string        `json:"title"`
	Artist    string        `json:"artist"`
	Length    time.Duration `json:"-"` // JSON 中为 length_ms
	Thumbnail string        `json:"thumbnail,omitempty"`
}

func (t TrackMin) MarshalJSON() ([]byte, error) {
	type plain TrackMin
	return json.Marshal(struct {
		plain
		LengthMs int64 `json:"length_ms"`
	}{plain(t), t.Length.Milliseconds()})
}

func (t *TrackMin) UnmarshalJSON(data []byte) error {
	type plain TrackMin
	aux := struct {
		*plain
		LengthMs int64 `json:"length_ms"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.Length = time.Duration(aux.LengthMs) * time.Millisecond
	return nil
}

const (
	UnknownTitle    = "Unknown Title"
	UnknownArtist   = "Unknown Artist"
	UnknownUploader = "Unknown Uploader"
)

// TrackMinFrom 根据元数据构造 TrackMin，缺失字段使用占位符
func TrackMinFrom(index int, meta *ExtractedMetadata) TrackMin {
	t := TrackMin{Index: index, Title: UnknownTitle, Artist: UnknownArtist}
	if meta == nil {
		return t
	}
	if meta.Title != "" {
		t.Title = meta.Title
	}
	if meta.Uploader != "" {
		t.Artist = meta.Uploader
	}
	t.Length = meta.Duration
	t.Thumbnail = meta.Thumbnail
	return t
}

// PlaylistMin 歌单概要
type PlaylistMin struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Uploader    string `json:"uploader"`
	Unlisted    bool   `json:"unlisted"`
	Views       uint64 `json:"views"`
	VideoCount  int    `json:"videoCount"`
}

// QueueItem show 返回的一行：位置、内容和点歌人信息
type QueueItem struct {
	Index       int                `json:"index"`
	Buffered    bool               `json:"buffered"`
	Source      string             `json:"source"`
	Metadata    *ExtractedMetadata `json:"metadata,omitempty"`
	AddedBy     string             `json:"addedBy"`
	AddedByName string             `json:"addedByName"`
	Colour      string             `json:"colour"`
	AddedAt     time.Time          `json:"addedAt"`
}

// Listener 房间内的听众（仅用于展示）
type Listener struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Colour string `json:"colour"`
}

// PlayMode 曲目播放模式
type PlayMode string

const (
	PlayModePlaying PlayMode = "playing"
	PlayModePaused  PlayMode = "paused"
	PlayModeStopped PlayMode = "stopped"
	PlayModeEnded   PlayMode = "ended"
)

// LoopInfinite 表示无限循环
const LoopInfinite = -1

// PlaybackState 当前曲目的播放状态
type PlaybackState struct {
	Mode     PlayMode      `json:"mode"`
	Loops    int           `json:"loopCount"` // 0 = 不循环, -1 = 无限循环
	Position time.Duration `json:"position"`
	Volume   float64       `json:"volume"`
}

// Active 曲目是否仍可控制
func (s PlaybackState) Active() bool {
	return s.Mode == PlayModePlaying || s.Mode == PlayModePaused
}

// Snapshot 房间队列快照，用于重启后恢复
type Snapshot struct {
	RoomID  string         `json:"roomId"`
	State   *PlaybackState `json:"playbackState,omitempty"`
	Items   []EnqueuedItem `json:"items"`
	SavedAt time.Time      `json:"savedAt"`
}
