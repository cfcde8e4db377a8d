package queue

import (
	"time"

	"QueueFM/core/playback"
	"QueueFM/model"

	"github.com/google/uuid"
)

// BufferedTrack 已交给播放驱动的曲目及其点歌信息
type BufferedTrack struct {
	Handle playback.TrackHandle
	Item   model.EnqueuedItem
}

// ID 曲目句柄 ID
func (b *BufferedTrack) ID() uuid.UUID {
	return b.Handle.ID()
}

// trackBuffer 有序缓冲区，下标 0 为当前曲目
type trackBuffer []*BufferedTrack

func (b trackBuffer) head() *BufferedTrack {
	if len(b) == 0 {
		return nil
	}
	return b[0]
}

func (b trackBuffer) indexOf(id uuid.UUID) int {
	for i, t := range b {
		if t.ID() == id {
			return i
		}
	}
	return -1
}

func (b *trackBuffer) removeAt(i int) *BufferedTrack {
	t := (*b)[i]
	*b = append((*b)[:i], (*b)[i+1:]...)
	return t
}

func (b *trackBuffer) insertAt(i int, t *BufferedTrack) {
	*b = append(*b, nil)
	copy((*b)[i+1:], (*b)[i:])
	(*b)[i] = t
}

// move 把 from 位置的曲目移动到 to，其余顺序不变
func (b *trackBuffer) move(from, to int) {
	if from == to {
		return
	}
	t := b.removeAt(from)
	b.insertAt(to, t)
}

// totalDuration 缓冲区内曲目时长之和，未知时长按 0 计
func (b trackBuffer) totalDuration() time.Duration {
	var total time.Duration
	for _, t := range b {
		if t.Item.Extracted != nil {
			total += t.Item.Extracted.Duration
		}
	}
	return total
}
