package playback

import (
	"context"
	"sort"
	"sync"
	"time"

	"QueueFM/logger"
	"QueueFM/model"

	"github.com/google/uuid"
)

// DefaultTrackLength 元数据缺少时长时模拟的曲目长度
const DefaultTrackLength = 3 * time.Minute

// Simulated 基于定时器的播放驱动，不输出音频。
// 曲目在播放状态下推进位置，到达长度后结束；成员由 Join / Leave 驱动。
type Simulated struct {
	mu            sync.Mutex
	defaultLength time.Duration
	presence      map[string]map[string]Member
	conns         map[string]*simConnection
}

// NewSimulated 创建模拟驱动，defaultLength <= 0 时使用 DefaultTrackLength
func NewSimulated(defaultLength time.Duration) *Simulated {
	if defaultLength <= 0 {
		defaultLength = DefaultTrackLength
	}
	return &Simulated{
		defaultLength: defaultLength,
		presence:      make(map[string]map[string]Member),
		conns:         make(map[string]*simConnection),
	}
}

// Connect 获取房间连接，已释放的连接会被替换
func (s *Simulated) Connect(ctx context.Context, roomID string) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conns[roomID]; ok && !c.isReleased() {
		return c, nil
	}
	c := &simConnection{
		sim:    s,
		roomID: roomID,
		tracks: make(map[uuid.UUID]*simTrack),
	}
	s.conns[roomID] = c
	logger.Debug("模拟播放连接已建立", logger.Room(roomID))
	return c, nil
}

// Join 成员加入房间
func (s *Simulated) Join(roomID string, m Member) {
	s.mu.Lock()
	members, ok := s.presence[roomID]
	if !ok {
		members = make(map[string]Member)
		s.presence[roomID] = members
	}
	members[m.ID] = m
	conn := s.conns[roomID]
	s.mu.Unlock()

	if conn != nil {
		conn.notify(MembershipEvent{Kind: MemberJoined, Member: m})
	}
}

// Leave 成员离开房间
func (s *Simulated) Leave(roomID, memberID string) {
	s.mu.Lock()
	m, ok := s.presence[roomID][memberID]
	if ok {
		delete(s.presence[roomID], memberID)
		if len(s.presence[roomID]) == 0 {
			delete(s.presence, roomID)
		}
	}
	conn := s.conns[roomID]
	s.mu.Unlock()

	if ok && conn != nil {
		conn.notify(MembershipEvent{Kind: MemberLeft, Member: m})
	}
}

func (s *Simulated) members(roomID string) []Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Member, 0, len(s.presence[roomID]))
	for _, m := range s.presence[roomID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Simulated) drop(c *simConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[c.roomID] == c {
		delete(s.conns, c.roomID)
	}
}

type simConnection struct {
	sim    *Simulated
	roomID string

	mu        sync.Mutex
	released  bool
	listeners []func(MembershipEvent)
	tracks    map[uuid.UUID]*simTrack
}

func (c *simConnection) isReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func (c *simConnection) notify(ev MembershipEvent) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	listeners := append([]func(MembershipEvent){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

func (c *simConnection) CreateTrack(ctx context.Context, source string, meta *model.ExtractedMetadata) (TrackHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	length := c.sim.defaultLength
	if meta != nil && meta.Duration > 0 {
		length = meta.Duration
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, ErrConnectionReleased
	}
	t := &simTrack{
		id:     uuid.New(),
		conn:   c,
		source: source,
		length: length,
		mode:   model.PlayModePaused,
		volume: 1.0,
	}
	c.tracks[t.id] = t
	return t, nil
}

// forget 曲目停止或结束后不再由连接持有
func (c *simConnection) forget(id uuid.UUID) {
	c.mu.Lock()
	delete(c.tracks, id)
	c.mu.Unlock()
}

func (c *simConnection) Members(ctx context.Context) ([]Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.sim.members(c.roomID), nil
}

func (c *simConnection) OnMembership(fn func(MembershipEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Release 停止仍在运行的曲目并断开连接
func (c *simConnection) Release(ctx context.Context) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	c.released = true
	c.listeners = nil
	tracks := make([]*simTrack, 0, len(c.tracks))
	for _, t := range c.tracks {
		tracks = append(tracks, t)
	}
	c.tracks = nil
	c.mu.Unlock()

	for _, t := range tracks {
		_ = t.Stop()
	}
	c.sim.drop(c)
	logger.Debug("模拟播放连接已释放", logger.Room(c.roomID), logger.Int("tracks", len(tracks)))
	return nil
}

type simTrack struct {
	id     uuid.UUID
	conn   *simConnection
	source string
	length time.Duration

	mu        sync.Mutex
	mode      model.PlayMode
	loops     int
	position  time.Duration // 上次暂停 / 跳转时的位置
	startedAt time.Time
	volume    float64
	gen       int
	timer     *time.Timer
	onEnd     []func()
}

func (t *simTrack) ID() uuid.UUID { return t.id }

func (t *simTrack) active() bool {
	return t.mode == model.PlayModePlaying || t.mode == model.PlayModePaused
}

// current 调用方需持有锁
func (t *simTrack) current() time.Duration {
	pos := t.position
	if t.mode == model.PlayModePlaying {
		pos += time.Since(t.startedAt)
	}
	if pos > t.length {
		pos = t.length
	}
	return pos
}

// schedule 调用方需持有锁
func (t *simTrack) schedule() {
	t.cancelTimer()
	remaining := t.length - t.position
	if remaining < 0 {
		remaining = 0
	}
	gen := t.gen
	t.timer = time.AfterFunc(remaining, func() { t.reachedEnd(gen) })
}

func (t *simTrack) cancelTimer() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *simTrack) reachedEnd(gen int) {
	t.mu.Lock()
	if gen != t.gen || t.mode != model.PlayModePlaying {
		t.mu.Unlock()
		return
	}
	if t.loops != 0 {
		if t.loops > 0 {
			t.loops--
		}
		t.position = 0
		t.startedAt = time.Now()
		t.schedule()
		t.mu.Unlock()
		return
	}
	t.mode = model.PlayModeEnded
	t.position = t.length
	t.timer = nil
	callbacks := append([]func(){}, t.onEnd...)
	t.mu.Unlock()
	t.conn.forget(t.id)

	// 已在定时器 goroutine 中
	for _, fn := range callbacks {
		fn()
	}
}

func (t *simTrack) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active() {
		return ErrTrackInactive
	}
	if t.mode == model.PlayModePlaying {
		return nil
	}
	t.mode = model.PlayModePlaying
	t.startedAt = time.Now()
	t.schedule()
	return nil
}

func (t *simTrack) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active() {
		return ErrTrackInactive
	}
	if t.mode == model.PlayModePaused {
		return nil
	}
	t.position = t.current()
	t.mode = model.PlayModePaused
	t.cancelTimer()
	return nil
}

func (t *simTrack) Stop() error {
	t.mu.Lock()
	if !t.active() {
		t.mu.Unlock()
		return nil
	}
	t.position = t.current()
	t.mode = model.PlayModeStopped
	t.cancelTimer()
	callbacks := append([]func(){}, t.onEnd...)
	t.mu.Unlock()
	t.conn.forget(t.id)

	go func() {
		for _, fn := range callbacks {
			fn()
		}
	}()
	return nil
}

func (t *simTrack) Seek(position time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active() {
		return ErrTrackInactive
	}
	if position < 0 {
		position = 0
	}
	if position > t.length {
		position = t.length
	}
	t.position = position
	if t.mode == model.PlayModePlaying {
		t.startedAt = time.Now()
		t.schedule()
	}
	return nil
}

func (t *simTrack) SetVolume(volume float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active() {
		return ErrTrackInactive
	}
	t.volume = min(max(volume, 0), 1)
	return nil
}

func (t *simTrack) EnableLoop() error { return t.LoopFor(model.LoopInfinite) }

func (t *simTrack) DisableLoop() error { return t.LoopFor(0) }

func (t *simTrack) LoopFor(n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active() {
		return ErrTrackInactive
	}
	if n < 0 {
		n = model.LoopInfinite
	}
	t.loops = n
	return nil
}

func (t *simTrack) State() (model.PlaybackState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return model.PlaybackState{
		Mode:     t.mode,
		Loops:    t.loops,
		Position: t.current(),
		Volume:   t.volume,
	}, nil
}

func (t *simTrack) OnEnd(fn func()) {
	t.mu.Lock()
	if t.active() {
		t.onEnd = append(t.onEnd, fn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	go fn()
}
