package playback

import (
	"context"
	"errors"
	"time"

	"QueueFM/model"

	"github.com/google/uuid"
)

var (
	// ErrTrackInactive 曲目已停止或已结束，无法再控制
	ErrTrackInactive = errors.New("track is no longer active")
	// ErrConnectionReleased 连接已释放
	ErrConnectionReleased = errors.New("playback connection released")
)

// TrackHandle 单个曲目的控制句柄，由队列在曲目位于缓冲区期间独占
type TrackHandle interface {
	ID() uuid.UUID
	Play() error
	Pause() error
	// Stop 停止曲目并释放资源，结束回调随后会被触发
	Stop() error
	Seek(position time.Duration) error
	SetVolume(volume float64) error
	EnableLoop() error
	DisableLoop() error
	// LoopFor 循环 n 次，n < 0 表示无限循环
	LoopFor(n int) error
	State() (model.PlaybackState, error)
	// OnEnd 注册结束回调。回调总是在驱动自己的 goroutine 中调用，
	// 不会在 Stop 等控制调用内同步执行。
	OnEnd(fn func())
}

// Member 语音房间内的成员
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MembershipKind 成员变更类型
type MembershipKind int

const (
	MemberJoined MembershipKind = iota
	MemberLeft
)

// MembershipEvent 成员变更事件
type MembershipEvent struct {
	Kind   MembershipKind
	Member Member
}

// Connection 一个房间的播放连接，整个生命周期归队列所有
type Connection interface {
	CreateTrack(ctx context.Context, source string, meta *model.ExtractedMetadata) (TrackHandle, error)
	Members(ctx context.Context) ([]Member, error)
	OnMembership(fn func(MembershipEvent))
	Release(ctx context.Context) error
}

// Connector 建立房间播放连接
type Connector interface {
	Connect(ctx context.Context, roomID string) (Connection, error)
}
