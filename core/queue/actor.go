package queue

import (
	"context"
	"time"

	"QueueFM/core/extractor"
	"QueueFM/core/playback"
	"QueueFM/logger"
	"QueueFM/model"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

const releaseTimeout = 5 * time.Second

// actor 独占队列的全部状态，只在自己的 goroutine 中运行
type actor struct {
	q      *Queue
	roomID string
	opts   Options
	conn   playback.Connection
	ext    extractor.Extractor
	log    *logger.Logger
	resume *model.Snapshot

	buffer  trackBuffer
	backlog []model.EnqueuedItem
	users   roster
	volume  float64

	// forced 最近一次插播的曲目
	forced uuid.UUID
	// head 已作为当前曲目启动过的曲目，换成别的曲目时需要重新播放
	head uuid.UUID

	meta      *lru.Cache[string, model.ExtractedMetadata]
	hydrating map[string]struct{}
	ctx       context.Context
}

func (a *actor) run(ctx context.Context) {
	a.ctx = ctx
	defer a.shutdown()

	a.startup(ctx)
	for {
		select {
		case <-ctx.Done():
			a.log.Info("队列已取消，准备退出")
			return
		case in := <-a.q.input:
			// 每轮检查一次取消
			if ctx.Err() != nil {
				a.reject(in)
				a.log.Info("队列已取消，准备退出")
				return
			}
			if exit := a.handle(ctx, in); exit {
				return
			}
		}
	}
}

func (a *actor) startup(ctx context.Context) {
	members, err := a.conn.Members(ctx)
	if err != nil {
		a.log.Warn("获取房间成员失败", logger.ErrorField(err))
	}
	for _, m := range members {
		a.users.join(m)
	}
	a.conn.OnMembership(func(ev playback.MembershipEvent) {
		switch ev.Kind {
		case playback.MemberJoined:
			a.q.post(clientConnected{member: ev.Member})
		case playback.MemberLeft:
			a.q.post(clientDisconnected{id: ev.Member.ID})
		}
	})

	snap := a.resume
	a.resume = nil
	if snap == nil {
		a.log.Info("队列已创建", logger.Int("listeners", len(a.users)))
		return
	}

	a.backlog = append([]model.EnqueuedItem(nil), snap.Items...)
	for _, item := range a.backlog {
		if item.Extracted != nil {
			a.meta.Add(item.Source, *item.Extracted)
		}
	}
	if snap.State != nil {
		a.volume = clampVolume(snap.State.Volume)
	}
	a.refill(ctx)
	a.restoreState(ctx, snap.State)
	a.log.Info("队列已从快照恢复",
		logger.Int("items", len(snap.Items)),
		logger.Int("buffered", len(a.buffer)),
		logger.Float64("volume", a.volume))
}

// restoreState 把保存的播放状态应用到当前曲目
func (a *actor) restoreState(ctx context.Context, state *model.PlaybackState) {
	head := a.buffer.head()
	if state == nil || head == nil {
		return
	}

	var err error
	switch state.Mode {
	case model.PlayModePaused:
		err = head.Handle.Pause()
	case model.PlayModeStopped, model.PlayModeEnded:
		a.discard(0)
		a.refill(ctx)
		return
	default:
		err = head.Handle.Play()
	}
	if err == nil {
		switch {
		case state.Loops == model.LoopInfinite:
			err = head.Handle.EnableLoop()
		case state.Loops == 0:
			err = head.Handle.DisableLoop()
		default:
			err = head.Handle.LoopFor(state.Loops)
		}
	}
	if err == nil && state.Position > 0 {
		err = head.Handle.Seek(state.Position)
	}
	if err != nil {
		a.log.Error("恢复播放状态失败", logger.ErrorField(err))
	}
}

func (a *actor) handle(ctx context.Context, in input) bool {
	switch in := in.(type) {
	case *request:
		a.dispatch(ctx, in)
	case trackEnded:
		a.trackEnded(ctx, in.id)
	case clientConnected:
		a.users.join(in.member)
		a.log.Debug("听众加入", logger.String("user", in.member.ID))
	case clientDisconnected:
		if _, ok := a.users.leave(in.id); !ok {
			a.log.Warn("未登记的听众离开", logger.String("user", in.id))
		}
	case metadataHydrated:
		a.hydrated(in)
	case saveRequest:
		in.reply <- a.snapshot()
		a.log.Info("快照已生成，队列退出")
		return true
	}
	return false
}

func (a *actor) dispatch(ctx context.Context, r *request) {
	defer close(r.events)
	if r.ctx.Err() != nil {
		a.log.Debug("请求已被调用方取消", logger.String("user", r.user))
		return
	}

	work, cancel := context.WithCancel(r.ctx)
	stop := context.AfterFunc(ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()
	r.work = work

	switch op := r.op.(type) {
	case opEnqueue:
		a.enqueue(ctx, r, op.req)
	case opEnqueueTop:
		a.enqueueTop(ctx, r, op.source)
	case opPlayNow:
		a.playNow(ctx, r, op.source)
	case opSkip:
		a.skip(ctx, r, op.n)
	case opRemove:
		a.remove(ctx, r, op.cond)
	case opShuffle:
		a.shuffle(r)
	case opPlayState:
		a.setPlayState(r, op.change)
	case opVolume:
		a.setVolume(r, op.volume)
	case opNowPlaying:
		a.nowPlaying(r)
	case opShow:
		a.show(r)
	}
}

// reject 队列退出时回复尚未处理的请求
func (a *actor) reject(in input) {
	switch in := in.(type) {
	case *request:
		in.work = in.ctx
		in.fail(errNotConnected)
		close(in.events)
	case saveRequest:
		close(in.reply)
	}
}

func (a *actor) trackEnded(ctx context.Context, id uuid.UUID) {
	if i := a.buffer.indexOf(id); i >= 0 {
		t := a.discard(i)
		if id == a.forced {
			a.forced = uuid.Nil
			a.log.Info("插播曲目结束", logger.String("source", t.Item.Source))
		} else {
			a.log.Debug("曲目结束", logger.String("source", t.Item.Source))
		}
	}
	a.refill(ctx)
}

// startTrack 为条目创建曲目句柄，保持暂停，由 ensureHead 决定是否播放
func (a *actor) startTrack(ctx context.Context, item model.EnqueuedItem) (*BufferedTrack, error) {
	handle, err := a.conn.CreateTrack(ctx, item.Source, item.Extracted)
	if err != nil {
		return nil, err
	}
	if err := handle.SetVolume(a.volume); err != nil {
		a.log.Warn("设置音量失败", logger.ErrorField(err))
	}
	id := handle.ID()
	handle.OnEnd(func() { a.q.post(trackEnded{id: id}) })
	return &BufferedTrack{Handle: handle, Item: item}, nil
}

// stopTrack 离开缓冲区的曲目必须先停止
func (a *actor) stopTrack(t *BufferedTrack) {
	if err := t.Handle.Stop(); err != nil {
		a.log.Warn("停止曲目失败", logger.String("source", t.Item.Source), logger.ErrorField(err))
	}
	if t.ID() == a.forced {
		a.forced = uuid.Nil
	}
}

func (a *actor) discard(i int) *BufferedTrack {
	t := a.buffer.removeAt(i)
	a.stopTrack(t)
	return t
}

// fill 从积压队列头部补充缓冲区
func (a *actor) fill(ctx context.Context) {
	for len(a.buffer) < a.opts.BufferLength && len(a.backlog) > 0 {
		item := a.backlog[0]
		a.backlog = a.backlog[1:]
		if item.Extracted == nil {
			if meta, ok := a.meta.Get(item.Source); ok {
				item.Extracted = &meta
			}
		}
		t, err := a.startTrack(ctx, item)
		if err != nil {
			a.log.Error("补充缓冲区失败，丢弃该曲目", logger.String("source", item.Source), logger.ErrorField(err))
			continue
		}
		a.buffer = append(a.buffer, t)
	}
}

// ensureHead 让新的当前曲目开始播放，其余曲目保持暂停。
// 当前曲目启动失败视为已结束。
func (a *actor) ensureHead(ctx context.Context) {
	for {
		head := a.buffer.head()
		if head == nil {
			a.head = uuid.Nil
			return
		}
		if head.ID() == a.head {
			return
		}
		if err := head.Handle.Play(); err != nil {
			a.log.Error("当前曲目启动失败，视为已结束", logger.String("source", head.Item.Source), logger.ErrorField(err))
			a.discard(0)
			a.fill(ctx)
			continue
		}
		a.head = head.ID()
	}
}

func (a *actor) refill(ctx context.Context) {
	a.fill(ctx)
	a.ensureHead(ctx)
}

// enforceCap 超出 K 时把缓冲区末尾的曲目退回积压队列头部，
// 不动当前曲目和刚插入的曲目
func (a *actor) enforceCap(keep uuid.UUID) {
	for i := len(a.buffer) - 1; len(a.buffer) > a.opts.BufferLength && i > 0; i-- {
		if a.buffer[i].ID() == keep {
			continue
		}
		t := a.discard(i)
		a.backlog = append([]model.EnqueuedItem{t.Item}, a.backlog...)
		a.log.Debug("缓冲区已满，曲目退回积压队列", logger.String("source", t.Item.Source))
	}
}

func (a *actor) snapshot() *model.Snapshot {
	var state *model.PlaybackState
	if head := a.buffer.head(); head != nil {
		st, err := head.Handle.State()
		if err != nil {
			a.log.Error("获取播放状态失败", logger.ErrorField(err))
		} else {
			st.Volume = a.volume
			state = &st
		}
	}
	items := make([]model.EnqueuedItem, 0, len(a.buffer)+len(a.backlog))
	for _, t := range a.buffer {
		items = append(items, t.Item)
	}
	items = append(items, a.backlog...)
	return &model.Snapshot{
		RoomID:  a.roomID,
		State:   state,
		Items:   items,
		SavedAt: time.Now(),
	}
}

func (a *actor) shutdown() {
	close(a.q.closing)
	a.q.mu.Lock()
	a.q.closed = true
	a.q.mu.Unlock()

drain:
	for {
		select {
		case in := <-a.q.input:
			a.reject(in)
		default:
			break drain
		}
	}

	for _, t := range a.buffer {
		a.stopTrack(t)
	}
	a.buffer = nil
	a.backlog = nil
	a.meta.Purge()

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := a.conn.Release(ctx); err != nil {
		a.log.Error("释放播放连接失败", logger.ErrorField(err))
	}
	a.q.cancel()
	close(a.q.done)
	a.log.Info("队列已退出")
}

func clampVolume(v float64) float64 {
	return min(max(v, 0), 1)
}
