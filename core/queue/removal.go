package queue

import (
	"context"
	"math/rand/v2"

	"QueueFM/logger"
	"QueueFM/model"
)

// skip 跳过播放顺序中的前 n 首：先缓冲区，再积压队列
func (a *actor) skip(ctx context.Context, r *request, n int) {
	n = max(n, 0)
	fromBuffer := min(n, len(a.buffer))
	fromBacklog := min(n-fromBuffer, len(a.backlog))

	// 先删积压队列，避免补充时把要跳过的曲目拉进缓冲区
	a.backlog = a.backlog[fromBacklog:]
	for range fromBuffer {
		t := a.discard(0)
		a.log.Debug("跳过曲目", logger.String("source", t.Item.Source))
	}
	a.refill(ctx)

	r.emit(countEvent(EventTracksSkipped, fromBuffer+fromBacklog))
}

// removeWhere 按播放顺序逐项判断，缓冲区命中的曲目先停止再删除
func (a *actor) removeWhere(match func(pos int, item model.EnqueuedItem) bool) int {
	removed := 0
	kept := make(trackBuffer, 0, len(a.buffer))
	for i, t := range a.buffer {
		if match(i, t.Item) {
			a.stopTrack(t)
			removed++
			continue
		}
		kept = append(kept, t)
	}
	offset := len(a.buffer)
	a.buffer = kept

	rest := a.backlog[:0:0]
	for j, item := range a.backlog {
		if match(offset+j, item) {
			removed++
			continue
		}
		rest = append(rest, item)
	}
	a.backlog = rest
	return removed
}

func (a *actor) remove(ctx context.Context, r *request, cond RemovalCondition) {
	var (
		count int
		typ   EventType
	)
	switch cond.Kind {
	case RemoveAll:
		// 保留当前曲目
		count = a.removeWhere(func(pos int, _ model.EnqueuedItem) bool { return pos > 0 })
		typ = EventQueueCleared
	case RemoveDuplicates:
		seen := make(map[string]struct{})
		count = a.removeWhere(func(_ int, item model.EnqueuedItem) bool {
			if _, dup := seen[item.Source]; dup {
				return true
			}
			seen[item.Source] = struct{}{}
			return false
		})
		typ = EventDuplicatesRemoved
	case RemoveIndices:
		targets := make(map[int]struct{}, len(cond.Indices))
		for _, i := range cond.Indices {
			targets[i] = struct{}{}
		}
		count = a.removeWhere(func(pos int, _ model.EnqueuedItem) bool {
			_, ok := targets[pos]
			return ok
		})
		typ = EventTracksRemoved
	case RemoveFromUser:
		count = a.removeWhere(func(_ int, item model.EnqueuedItem) bool { return item.AddedBy == cond.User })
		typ = EventUserPurged
	default:
		r.fail(newError(ErrRejected, "unknown removal condition", nil))
		return
	}
	a.refill(ctx)

	a.log.Info("删除曲目", logger.String("type", string(typ)), logger.Int("count", count), logger.String("user", r.user))
	r.emit(countEvent(typ, count))
}

// shuffle 缓冲区不超过两首时不做任何事；当前曲目不动
func (a *actor) shuffle(r *request) {
	if len(a.buffer) <= 2 {
		return
	}
	rand.Shuffle(len(a.backlog), func(i, j int) {
		a.backlog[i], a.backlog[j] = a.backlog[j], a.backlog[i]
	})
	rest := a.buffer[1:]
	rand.Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})
	r.emit(Event{Type: EventQueueShuffled})
}
