package queue

import (
	"context"
	"time"

	"QueueFM/logger"
	"QueueFM/model"

	"github.com/google/uuid"
)

// backlogEstimate 积压队列中每首曲目的预估时长
const backlogEstimate = 180 * time.Second

func trackMin(index int, item model.EnqueuedItem) model.TrackMin {
	return model.TrackMinFrom(index, item.Extracted)
}

func itemDuration(item model.EnqueuedItem) time.Duration {
	if item.Extracted == nil {
		return 0
	}
	return item.Extracted.Duration
}

// resolve 尽力获取元数据，失败时返回 nil，由调用方使用占位信息
func (a *actor) resolve(ctx context.Context, source string) (string, *model.ExtractedMetadata) {
	if meta, ok := a.meta.Get(source); ok {
		return source, &meta
	}
	media, err := a.ext.Resolve(ctx, source)
	if err != nil {
		a.log.Warn("获取元数据失败，使用占位信息", logger.String("source", source), logger.ErrorField(err))
		return source, nil
	}
	a.meta.Add(source, media.Metadata)
	if media.Source != "" && media.Source != source {
		a.meta.Add(media.Source, media.Metadata)
		source = media.Source
	}
	meta := media.Metadata
	return source, &meta
}

func (a *actor) newItem(r *request, source string) model.EnqueuedItem {
	source, meta := a.resolve(r.work, source)
	item := model.NewEnqueuedItem(source, r.user)
	item.Extracted = meta
	return item
}

func (a *actor) enqueue(ctx context.Context, r *request, req EnqueueRequest) {
	var items []model.EnqueuedItem
	if req.Playlist != "" {
		var ok bool
		if items, ok = a.resolvePlaylist(r, req.Playlist); !ok {
			return
		}
	} else {
		items = []model.EnqueuedItem{a.newItem(r, req.Source)}
	}

	eta := a.buffer.totalDuration() + time.Duration(len(a.backlog))*backlogEstimate
	for _, item := range items {
		if len(a.buffer) >= a.opts.BufferLength {
			a.backlog = append(a.backlog, item)
			r.emit(Event{Type: EventBacklogAdded, Source: item.Source})
			continue
		}

		idx, err := a.bufferItem(ctx, item)
		if err != nil {
			r.fail(err)
			continue
		}
		a.log.Debug("曲目已入队", logger.String("source", item.Source), logger.Int("index", idx))
		ev := trackEvent(EventTrackEnqueued, trackMin(idx, item))
		ev.ETA = eta
		r.emit(ev)
		eta += itemDuration(item)
	}
}

// bufferItem 追加到缓冲区末尾，返回所在位置
func (a *actor) bufferItem(ctx context.Context, item model.EnqueuedItem) (int, *QueueError) {
	t, err := a.startTrack(ctx, item)
	if err != nil {
		a.log.Error("创建曲目失败", logger.String("source", item.Source), logger.ErrorField(err))
		return -1, newError(ErrPlayback, "could not start track", err)
	}
	a.buffer = append(a.buffer, t)
	a.ensureHead(ctx)
	idx := a.buffer.indexOf(t.ID())
	if idx < 0 {
		return -1, newError(ErrPlayback, "track failed to start", nil)
	}
	return idx, nil
}

func (a *actor) resolvePlaylist(r *request, id string) ([]model.EnqueuedItem, bool) {
	pl, err := a.ext.ResolvePlaylist(r.work, id)
	if err != nil {
		a.log.Warn("获取歌单失败", logger.String("playlist", id), logger.ErrorField(err))
		r.fail(newError(ErrExtraction, "could not load playlist", err))
		return nil, false
	}
	info := pl.Info
	r.emit(Event{Type: EventPlaylistStart, Playlist: &info})

	var (
		items      []model.EnqueuedItem
		considered int
	)
	for media, err := range pl.Members {
		if considered >= a.opts.MaxPlaylistLength {
			break
		}
		considered++
		if err != nil {
			a.log.Warn("歌单曲目解析失败，跳过", logger.String("playlist", id), logger.ErrorField(err))
			continue
		}
		meta := media.Metadata
		a.meta.Add(media.Source, meta)
		item := model.NewEnqueuedItem(media.Source, r.user)
		item.Extracted = &meta
		items = append(items, item)
		r.emit(trackEvent(EventPlaylistProgress, model.TrackMinFrom(len(items)-1, &meta)))
	}
	r.emit(Event{Type: EventPlaylistEnd})
	a.log.Info("歌单解析完成",
		logger.String("playlist", id),
		logger.String("title", info.Title),
		logger.Int("resolved", len(items)),
		logger.Int("considered", considered))
	return items, true
}

func (a *actor) enqueueTop(ctx context.Context, r *request, source string) {
	item := a.newItem(r, source)
	idx, err := a.bufferItem(ctx, item)
	if err != nil {
		r.fail(err)
		return
	}
	// 已经在位置 0 / 1，不需要置顶，也不产生事件
	if idx <= 1 {
		a.enforceCap(a.buffer[idx].ID())
		return
	}
	a.buffer.move(idx, 1)
	a.enforceCap(a.buffer[1].ID())
	r.emit(trackEvent(EventTrackEnqueuedTop, trackMin(1, item)))
}

func (a *actor) playNow(ctx context.Context, r *request, source string) {
	item := a.newItem(r, source)

	for _, t := range a.buffer {
		if err := t.Handle.Pause(); err != nil {
			a.log.Warn("暂停曲目失败", logger.String("source", t.Item.Source), logger.ErrorField(err))
		}
	}
	// 缓冲区已全部暂停，无论结果如何都要重新启动当前曲目
	a.head = uuid.Nil

	t, err := a.startTrack(ctx, item)
	if err != nil {
		a.log.Error("创建插播曲目失败", logger.String("source", item.Source), logger.ErrorField(err))
		a.ensureHead(ctx)
		r.fail(newError(ErrPlayback, "could not start track", err))
		return
	}
	a.buffer.insertAt(0, t)
	a.forced = t.ID()
	a.ensureHead(ctx)
	if a.buffer.indexOf(t.ID()) != 0 {
		r.fail(newError(ErrPlayback, "track failed to start", nil))
		return
	}
	a.enforceCap(t.ID())
	a.log.Info("插播曲目", logger.String("source", item.Source), logger.String("user", r.user))
	r.emit(trackEvent(EventPlaying, trackMin(0, item)))
}
