package queue

import (
	"math"

	"QueueFM/logger"
	"QueueFM/model"

	"golang.org/x/sync/errgroup"
)

// volumeEpsilon 小于该差值的音量变化忽略
const volumeEpsilon = 0.01

func (a *actor) setPlayState(r *request, change PlayStateChange) {
	head := a.buffer.head()
	if head == nil {
		r.fail(newError(ErrRejected, "nothing is playing", nil))
		return
	}
	st, err := head.Handle.State()
	if err != nil {
		r.fail(newError(ErrPlayback, "could not read track state", err))
		return
	}
	if !st.Active() {
		r.fail(newError(ErrRejected, "inactive track", nil))
		return
	}

	track := trackMin(0, head.Item)
	var typ EventType
	switch {
	case change == ResumePlayback && st.Mode == model.PlayModePaused:
		err, typ = head.Handle.Play(), EventPlaying
	case change == Pause && st.Mode == model.PlayModePlaying:
		err, typ = head.Handle.Pause(), EventPaused
	case change == ToggleLoop && st.Loops == 0:
		err, typ = head.Handle.EnableLoop(), EventStartedLooping
	case change == ToggleLoop:
		err, typ = head.Handle.DisableLoop(), EventStoppedLooping
	default:
		typ = EventStateAlreadySet
	}
	if err != nil {
		a.log.Error("修改播放状态失败", logger.ErrorField(err))
		r.fail(newError(ErrPlayback, "could not change play state", err))
		return
	}
	r.emit(trackEvent(typ, track))
}

func (a *actor) setVolume(r *request, volume float64) {
	volume = clampVolume(volume)
	if math.Abs(volume-a.volume) <= volumeEpsilon {
		return
	}
	for _, t := range a.buffer {
		if err := t.Handle.SetVolume(volume); err != nil {
			a.log.Warn("设置音量失败", logger.String("source", t.Item.Source), logger.ErrorField(err))
		}
	}
	a.volume = volume
	r.emit(volumeEvent(volume))
}

func (a *actor) nowPlaying(r *request) {
	head := a.buffer.head()
	if head == nil {
		r.emit(Event{Type: EventNowPlaying})
		return
	}
	r.emit(trackEvent(EventNowPlaying, trackMin(0, head.Item)))
}

func (a *actor) queueItem(index int, buffered bool, item model.EnqueuedItem) model.QueueItem {
	l := a.users.lookup(item.AddedBy)
	return model.QueueItem{
		Index:       index,
		Buffered:    buffered,
		Source:      item.Source,
		Metadata:    item.Extracted,
		AddedBy:     item.AddedBy,
		AddedByName: l.Name,
		Colour:      l.Colour,
		AddedAt:     item.AddedAt,
	}
}

func (a *actor) show(r *request) {
	items := make([]model.QueueItem, 0, len(a.buffer)+len(a.backlog))
	for i, t := range a.buffer {
		items = append(items, a.queueItem(i, true, t.Item))
	}

	var missing []string
	for j := range a.backlog {
		item := &a.backlog[j]
		if item.Extracted == nil {
			if meta, ok := a.meta.Get(item.Source); ok {
				item.Extracted = &meta
			} else {
				missing = append(missing, item.Source)
			}
		}
		items = append(items, a.queueItem(len(a.buffer)+j, false, *item))
	}
	r.emit(Event{Type: EventCurrentQueue, Items: items})

	a.hydrate(missing)
}

// hydrate 在队列之外并发获取积压曲目的元数据，结果通过输入通道送回
func (a *actor) hydrate(sources []string) {
	var todo []string
	for _, src := range sources {
		if _, busy := a.hydrating[src]; busy {
			continue
		}
		a.hydrating[src] = struct{}{}
		todo = append(todo, src)
	}
	if len(todo) == 0 {
		return
	}

	ext, q := a.ext, a.q
	g, ctx := errgroup.WithContext(a.ctx)
	g.SetLimit(a.opts.HydrateConcurrency)
	go func() {
		for _, src := range todo {
			g.Go(func() error {
				media, err := ext.Resolve(ctx, src)
				if err != nil {
					q.post(metadataHydrated{source: src})
					return nil
				}
				meta := media.Metadata
				q.post(metadataHydrated{source: src, meta: &meta})
				return nil
			})
		}
		_ = g.Wait()
	}()
	a.log.Debug("后台获取积压曲目元数据", logger.Int("count", len(todo)))
}

func (a *actor) hydrated(in metadataHydrated) {
	delete(a.hydrating, in.source)
	if in.meta == nil {
		return
	}
	a.meta.Add(in.source, *in.meta)
	for j := range a.backlog {
		if a.backlog[j].Source == in.source && a.backlog[j].Extracted == nil {
			meta := *in.meta
			a.backlog[j].Extracted = &meta
		}
	}
}
