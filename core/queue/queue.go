package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"QueueFM/core/extractor"
	"QueueFM/core/playback"
	"QueueFM/logger"
	"QueueFM/model"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Options 队列参数
type Options struct {
	BufferLength       int     // 缓冲区长度 K
	MaxPlaylistLength  int     // 单个歌单最多入队的曲目数
	DefaultVolume      float64 // 新房间的默认音量
	InputBuffer        int     // 输入通道容量
	MetadataCacheSize  int
	HydrateConcurrency int
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		BufferLength:       3,
		MaxPlaylistLength:  1000,
		DefaultVolume:      0.5,
		InputBuffer:        16,
		MetadataCacheSize:  512,
		HydrateConcurrency: 4,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BufferLength <= 0 {
		o.BufferLength = d.BufferLength
	}
	if o.MaxPlaylistLength <= 0 {
		o.MaxPlaylistLength = d.MaxPlaylistLength
	}
	if o.DefaultVolume < 0 || o.DefaultVolume > 1 {
		o.DefaultVolume = d.DefaultVolume
	}
	if o.InputBuffer <= 0 {
		o.InputBuffer = d.InputBuffer
	}
	if o.MetadataCacheSize <= 0 {
		o.MetadataCacheSize = d.MetadataCacheSize
	}
	if o.HydrateConcurrency <= 0 {
		o.HydrateConcurrency = d.HydrateConcurrency
	}
	return o
}

// EnqueueRequest 点歌请求，Playlist 非空时按歌单处理
type EnqueueRequest struct {
	Source   string
	Playlist string
}

// EnqueueTrack 单曲
func EnqueueTrack(source string) EnqueueRequest {
	return EnqueueRequest{Source: source}
}

// EnqueuePlaylist 歌单
func EnqueuePlaylist(id string) EnqueueRequest {
	return EnqueueRequest{Playlist: id}
}

// RemovalKind 删除方式
type RemovalKind int

const (
	RemoveAll RemovalKind = iota
	RemoveDuplicates
	RemoveIndices
	RemoveFromUser
)

// RemovalCondition 删除条件
type RemovalCondition struct {
	Kind    RemovalKind
	Indices []int  // RemoveIndices: 播放顺序中的位置（与 show 一致）
	User    string // RemoveFromUser
}

// PlayStateChange 播放状态变更
type PlayStateChange int

const (
	Pause PlayStateChange = iota
	ResumePlayback
	ToggleLoop
)

// ParsePlayStateChange 解析 pause / resume / loop
func ParsePlayStateChange(s string) (PlayStateChange, error) {
	switch strings.ToLower(s) {
	case "pause":
		return Pause, nil
	case "resume", "play":
		return ResumePlayback, nil
	case "loop", "toggle_loop":
		return ToggleLoop, nil
	}
	return 0, fmt.Errorf("unknown play state %q", s)
}

// Queue 房间队列的句柄，所有操作都交给唯一的 actor goroutine 顺序处理
type Queue struct {
	roomID  string
	input   chan input
	closing chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// New 为房间创建新队列。ctx 控制队列的整个生命周期。
func New(ctx context.Context, roomID string, conn playback.Connection, ext extractor.Extractor, opts Options) (*Queue, error) {
	return start(ctx, roomID, conn, ext, opts, nil)
}

// Resume 从快照恢复队列
func Resume(ctx context.Context, snapshot *model.Snapshot, conn playback.Connection, ext extractor.Extractor, opts Options) (*Queue, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("resume: nil snapshot")
	}
	return start(ctx, snapshot.RoomID, conn, ext, opts, snapshot)
}

func start(ctx context.Context, roomID string, conn playback.Connection, ext extractor.Extractor, opts Options, snapshot *model.Snapshot) (*Queue, error) {
	opts = opts.withDefaults()
	cache, err := lru.New[string, model.ExtractedMetadata](opts.MetadataCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create metadata cache: %w", err)
	}

	actorCtx, cancel := context.WithCancel(ctx)
	q := &Queue{
		roomID:  roomID,
		input:   make(chan input, opts.InputBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	a := &actor{
		q:         q,
		roomID:    roomID,
		opts:      opts,
		conn:      conn,
		ext:       ext,
		log:       logger.With(logger.Room(roomID)),
		users:     make(roster),
		volume:    opts.DefaultVolume,
		meta:      cache,
		hydrating: make(map[string]struct{}),
		resume:    snapshot,
	}
	go a.run(actorCtx)
	return q, nil
}

// RoomID 房间 ID
func (q *Queue) RoomID() string {
	return q.roomID
}

// Done 队列退出后关闭
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// post 投递内部消息，队列退出后丢弃
func (q *Queue) post(in input) {
	select {
	case q.input <- in:
	case <-q.closing:
	}
}

func (q *Queue) send(ctx context.Context, in input) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return errNotConnected
	}
	select {
	case q.input <- in:
		return nil
	case <-q.closing:
		return errNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) submit(ctx context.Context, user string, op operation) (<-chan Event, error) {
	events := make(chan Event, eventBuffer)
	if err := q.send(ctx, &request{ctx: ctx, user: user, op: op, events: events}); err != nil {
		return nil, err
	}
	return events, nil
}

// Enqueue 点歌：单曲或歌单
func (q *Queue) Enqueue(ctx context.Context, user string, req EnqueueRequest) (<-chan Event, error) {
	return q.submit(ctx, user, opEnqueue{req: req})
}

// EnqueueTop 插到下一首
func (q *Queue) EnqueueTop(ctx context.Context, user, source string) (<-chan Event, error) {
	return q.submit(ctx, user, opEnqueueTop{source: source})
}

// PlayNow 立即播放，当前曲目暂停，插播结束后恢复
func (q *Queue) PlayNow(ctx context.Context, user, source string) (<-chan Event, error) {
	return q.submit(ctx, user, opPlayNow{source: source})
}

// Skip 跳过播放顺序中的前 n 首
func (q *Queue) Skip(ctx context.Context, user string, n int) (<-chan Event, error) {
	return q.submit(ctx, user, opSkip{n: n})
}

// Remove 按条件删除
func (q *Queue) Remove(ctx context.Context, user string, cond RemovalCondition) (<-chan Event, error) {
	return q.submit(ctx, user, opRemove{cond: cond})
}

// Shuffle 打乱除当前曲目外的所有曲目
func (q *Queue) Shuffle(ctx context.Context, user string) (<-chan Event, error) {
	return q.submit(ctx, user, opShuffle{})
}

// SetPlayState 暂停 / 继续 / 切换循环
func (q *Queue) SetPlayState(ctx context.Context, user string, change PlayStateChange) (<-chan Event, error) {
	return q.submit(ctx, user, opPlayState{change: change})
}

// SetVolume 设置音量，范围 [0, 1]
func (q *Queue) SetVolume(ctx context.Context, user string, volume float64) (<-chan Event, error) {
	return q.submit(ctx, user, opVolume{volume: volume})
}

// NowPlaying 当前曲目
func (q *Queue) NowPlaying(ctx context.Context, user string) (<-chan Event, error) {
	return q.submit(ctx, user, opNowPlaying{})
}

// Show 完整播放顺序
func (q *Queue) Show(ctx context.Context, user string) (<-chan Event, error) {
	return q.submit(ctx, user, opShow{})
}

// SaveAndExit 生成快照并让队列退出。ctx 只约束提交，提交后不会丢弃快照。
func (q *Queue) SaveAndExit(ctx context.Context) (*model.Snapshot, error) {
	reply := make(chan *model.Snapshot, 1)
	if err := q.send(ctx, saveRequest{reply: reply}); err != nil {
		return nil, err
	}
	// 请求一旦进入队列，actor 必定回复快照或在退出时关闭 reply
	snap, ok := <-reply
	if !ok {
		return nil, errNotConnected
	}
	return snap, nil
}

// Close 取消队列并等待退出
func (q *Queue) Close() {
	q.cancel()
	<-q.done
}

const eventBuffer = 16

type input interface{ isInput() }

type operation interface{ isOperation() }

type request struct {
	ctx    context.Context
	user   string
	op     operation
	events chan Event
	// work 在处理期间有效，请求或队列任一取消即取消
	work context.Context
}

type (
	trackEnded         struct{ id uuid.UUID }
	clientConnected    struct{ member playback.Member }
	clientDisconnected struct{ id string }
	metadataHydrated   struct {
		source string
		meta   *model.ExtractedMetadata
	}
	saveRequest struct{ reply chan *model.Snapshot }
)

func (*request) isInput()           {}
func (trackEnded) isInput()         {}
func (clientConnected) isInput()    {}
func (clientDisconnected) isInput() {}
func (metadataHydrated) isInput()   {}
func (saveRequest) isInput()        {}

type (
	opEnqueue    struct{ req EnqueueRequest }
	opEnqueueTop struct{ source string }
	opPlayNow    struct{ source string }
	opSkip       struct{ n int }
	opRemove     struct{ cond RemovalCondition }
	opShuffle    struct{}
	opPlayState  struct{ change PlayStateChange }
	opVolume     struct{ volume float64 }
	opNowPlaying struct{}
	opShow       struct{}
)

func (opEnqueue) isOperation()    {}
func (opEnqueueTop) isOperation() {}
func (opPlayNow) isOperation()    {}
func (opSkip) isOperation()       {}
func (opRemove) isOperation()     {}
func (opShuffle) isOperation()    {}
func (opPlayState) isOperation()  {}
func (opVolume) isOperation()     {}
func (opNowPlaying) isOperation() {}
func (opShow) isOperation()       {}

// emit 调用方取消或队列退出时放弃投递
func (r *request) emit(ev Event) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.work.Done():
		return false
	}
}

func (r *request) fail(err *QueueError) {
	r.emit(errorEvent(err))
}
