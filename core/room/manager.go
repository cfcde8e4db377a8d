package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"QueueFM/core/extractor"
	"QueueFM/core/playback"
	"QueueFM/core/queue"
	"QueueFM/logger"
	"QueueFM/model"
)

var (
	ErrRoomExists   = errors.New("room already has a queue")
	ErrRoomNotFound = errors.New("room has no queue")
	ErrNoSnapshot   = errors.New("no snapshot saved for room")
	// ErrSnapshotNotSaved 快照写入存储失败，房间已用该快照重新启动
	ErrSnapshotNotSaved = errors.New("snapshot not saved")
)

const persistTimeout = 10 * time.Second

// SnapshotStore 房间快照的持久化（Redis 或 MySQL）
type SnapshotStore interface {
	Save(ctx context.Context, snap *model.Snapshot) error
	// Load 没有快照时返回 nil, nil
	Load(ctx context.Context, roomID string) (*model.Snapshot, error)
	Delete(ctx context.Context, roomID string) error
	List(ctx context.Context) ([]string, error)
}

// Archiver 快照的历史归档，可选
type Archiver interface {
	Archive(ctx context.Context, snap *model.Snapshot) (string, error)
}

// Manager 房间 ID 到队列的注册表，负责队列的创建、保存和恢复
type Manager struct {
	ctx       context.Context
	connector playback.Connector
	ext       extractor.Extractor
	store     SnapshotStore
	archive   Archiver
	opts      queue.Options

	mu    sync.Mutex
	rooms map[string]*queue.Queue
}

// NewManager 创建房间管理器。ctx 是所有队列的父 context，archive 可以为 nil。
func NewManager(ctx context.Context, connector playback.Connector, ext extractor.Extractor, store SnapshotStore, archive Archiver, opts queue.Options) *Manager {
	return &Manager{
		ctx:       ctx,
		connector: connector,
		ext:       ext,
		store:     store,
		archive:   archive,
		opts:      opts,
		rooms:     make(map[string]*queue.Queue),
	}
}

// Create 为房间创建空队列
func (m *Manager) Create(ctx context.Context, roomID string) (*queue.Queue, error) {
	return m.start(ctx, roomID, nil)
}

// Load 用给定快照为房间创建队列
func (m *Manager) Load(ctx context.Context, snap *model.Snapshot) (*queue.Queue, error) {
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	return m.start(ctx, snap.RoomID, snap)
}

func (m *Manager) start(ctx context.Context, roomID string, snap *model.Snapshot) (*queue.Queue, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[roomID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomExists, roomID)
	}

	conn, err := m.connector.Connect(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("connect room %s: %w", roomID, err)
	}

	var q *queue.Queue
	if snap != nil {
		q, err = queue.Resume(m.ctx, snap, conn, m.ext, m.opts)
	} else {
		q, err = queue.New(m.ctx, roomID, conn, m.ext, m.opts)
	}
	if err != nil {
		_ = conn.Release(ctx)
		return nil, fmt.Errorf("start queue %s: %w", roomID, err)
	}
	m.rooms[roomID] = q
	go m.watch(roomID, q)

	logger.Info("房间队列已启动", logger.Room(roomID), logger.Bool("restored", snap != nil))
	return q, nil
}

// watch 队列自行退出后从注册表中移除
func (m *Manager) watch(roomID string, q *queue.Queue) {
	<-q.Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[roomID] == q {
		delete(m.rooms, roomID)
		logger.Info("房间队列已退出", logger.Room(roomID))
	}
}

// Get 获取房间队列
func (m *Manager) Get(roomID string) (*queue.Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.rooms[roomID]
	return q, ok
}

// Rooms 当前有队列的房间，按 ID 排序
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) take(roomID string) (*queue.Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.rooms[roomID]
	if ok {
		delete(m.rooms, roomID)
	}
	return q, ok
}

// SaveAndExit 保存房间快照并关闭队列。快照写入存储后再归档；归档失败只记录日志。
// 写入存储失败时房间会用快照重新启动，返回快照和 ErrSnapshotNotSaved。
func (m *Manager) SaveAndExit(ctx context.Context, roomID string) (*model.Snapshot, error) {
	q, ok := m.take(roomID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	snap, err := q.SaveAndExit(ctx)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("save queue %s: %w", roomID, err)
	}
	<-q.Done()

	// 队列已退出，调用方取消也要把快照落盘
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := m.store.Save(persistCtx, snap); err != nil {
		logger.Error("快照写入失败，重新启动房间", logger.Room(roomID), logger.ErrorField(err))
		if _, restartErr := m.Load(persistCtx, snap); restartErr != nil {
			return snap, fmt.Errorf("persist snapshot %s: %w (restart: %v)", roomID, err, restartErr)
		}
		return snap, fmt.Errorf("%w: %s: %w", ErrSnapshotNotSaved, roomID, err)
	}
	if m.archive != nil {
		key, err := m.archive.Archive(persistCtx, snap)
		if err != nil {
			logger.Warn("快照归档失败", logger.Room(roomID), logger.ErrorField(err))
		} else {
			logger.Debug("快照已归档", logger.Room(roomID), logger.String("key", key))
		}
	}

	logger.Info("房间快照已保存",
		logger.Room(roomID),
		logger.Int("items", len(snap.Items)),
		logger.Bool("hasState", snap.State != nil))
	return snap, nil
}

// Restore 从存储读取快照并恢复房间队列
func (m *Manager) Restore(ctx context.Context, roomID string) (*queue.Queue, error) {
	if _, ok := m.Get(roomID); ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomExists, roomID)
	}
	snap, err := m.store.Load(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", roomID, err)
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, roomID)
	}
	return m.Load(ctx, snap)
}

// RestoreAll 恢复存储中所有房间，单个房间失败不影响其它房间
func (m *Manager) RestoreAll(ctx context.Context) (int, error) {
	rooms, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}
	restored := 0
	for _, roomID := range rooms {
		if _, err := m.Restore(ctx, roomID); err != nil {
			logger.Warn("恢复房间失败", logger.Room(roomID), logger.ErrorField(err))
			continue
		}
		restored++
	}
	logger.Info("房间恢复完成", logger.Int("restored", restored), logger.Int("total", len(rooms)))
	return restored, nil
}

// Shutdown 保存所有房间并退出
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, roomID := range m.Rooms() {
		if _, err := m.SaveAndExit(ctx, roomID); err != nil && !errors.Is(err, ErrRoomNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
