package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"QueueFM/core/queue"
	"QueueFM/logger"

	"github.com/gorilla/mux"
)

// EnqueueRequest 点歌：source 和 playlist 二选一
type EnqueueRequest struct {
	Source   string `json:"source" validate:"required_without=Playlist,excluded_with=Playlist"`
	Playlist string `json:"playlist"`
}

// SourceRequest 插播和置顶
type SourceRequest struct {
	Source string `json:"source" validate:"required"`
}

// SkipRequest 跳过，count 缺省为 1
type SkipRequest struct {
	Count *int `json:"count" validate:"omitempty,gte=1"`
}

// RemoveRequest 删除条件，kind=user 且 user 为空时删除自己的点歌
type RemoveRequest struct {
	Kind    string `json:"kind" validate:"required,oneof=all duplicates indices user"`
	Indices []int  `json:"indices" validate:"required_if=Kind indices,dive,gte=0"`
	User    string `json:"user"`
}

// StateRequest 播放状态
type StateRequest struct {
	State string `json:"state" validate:"required,oneof=pause resume play loop toggle_loop"`
}

// VolumeRequest 音量，超出 [0, 1] 的值会被截断
type VolumeRequest struct {
	Volume *float64 `json:"volume" validate:"required"`
}

// roomQueue 取出路由中的房间队列，不存在时已写好 404
func (h *APIHandler) roomQueue(w http.ResponseWriter, r *http.Request) (*queue.Queue, bool) {
	roomID := mux.Vars(r)["room"]
	q, ok := h.manager.Get(roomID)
	if !ok {
		writeError(w, http.StatusNotFound, "Room has no queue")
		return nil, false
	}
	return q, true
}

// published 需要同步给房间内其他听众的事件，只读结果和错误只发给调用方
func published(ev queue.Event) bool {
	switch ev.Type {
	case queue.EventError, queue.EventNowPlaying, queue.EventCurrentQueue:
		return false
	}
	return true
}

// stream 以 NDJSON 逐条写出本次调用的事件
func (h *APIHandler) stream(w http.ResponseWriter, r *http.Request, q *queue.Queue, events <-chan queue.Event, err error) {
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrNotConnected):
			writeJSON(w, http.StatusConflict, errorResponse{Error: "Queue is not connected", Kind: queue.KindName(err)})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusServiceUnavailable, "Request cancelled")
		default:
			logger.Error("提交队列操作失败", logger.Room(q.RoomID()), logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	listener := listenerFrom(r.Context())
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	broken := false
	for ev := range events {
		if published(ev) {
			h.hub.Publish(q.RoomID(), listener.ListenerID, ev)
		}
		if broken {
			continue
		}
		if err := enc.Encode(ev); err != nil {
			logger.Debug("写出事件失败", logger.Room(q.RoomID()), logger.ErrorField(err))
			broken = true
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// EnqueueHandler 点歌
func (h *APIHandler) EnqueueHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := h.roomQueue(w, r)
	if !ok {
		return
	}
	var req EnqueueRequest
	if !h.decode(w, r, &req) {
		return
	}

	enq := queue.EnqueueTrack(req.Source)
	if req.Playlist != "" {
		enq = queue.EnqueuePlaylist(req.Playlist)
	}
	events, err := q.Enqueue(r.Context(), listenerFrom(r.Context()).ListenerID, enq)
	h.stream(w, r, q, events, err)
}

// EnqueueTopHandler 插到下一首
func (h *APIHandler) EnqueueTopHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := h.roomQueue(w, r)
	if !ok {
		return
	}
	var req SourceRequest
	if !h.decode(w, r, &req) {
		return
	}
	events, err := q.EnqueueTop(r.Context(), listenerFrom(r.Context()).ListenerID, req.Source)
	h.stream(w, r, q, events, err)
}

// PlayNowHandler 立即播放
func (h *APIHandler) PlayNowHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := h.roomQueue(w, r)
	if !ok {
		return
	}
	var req SourceRequest
	if !h.decode(w, r, &req) {
		return
	}
	events, err := q.PlayNow(r.Context(), listenerFrom(r.Context()).ListenerID, req.Source)
	h.stream(w, r, q, events, err)
}

// SkipHandler 跳过
func (h *APIHandler) SkipHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := h.roomQueue(w, r)
	if !ok {
		return
	}
	var req SkipRequest
	if !h.decode(w, r, &req) {
		return
	}
	n := 1
	if req.Count != nil {
		n = *req.Count
	}
	events, err := q.Skip(r.Context(), listenerFrom(r.Context()).ListenerID, n)
	h.stream(w, r, q, events, err)
}

// RemoveHandler 按条件删除
func (h *APIHandler) RemoveHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := h.roomQueue(w, r)
	if !ok {
		return
	}
	var req RemoveRequest
	if !h.decode(w, r, &req) {
		return
	}

	listener := listenerFrom(r.Context())
	var cond queue.RemovalCondition
	switch req.Kind {
	case "all":
		cond.Kind = queue.RemoveAll
	case "duplicates":
		cond.Kind = queue.RemoveDuplicates
	case "indices":
		cond = queue.RemovalCondition{Kind: queue.RemoveIndices, Indices: req.Indices}
	case "user":
		cond = queue.RemovalCondition{Kind: queue.RemoveFromUser, User: req.User}
		if cond.User == "" {
			cond.User = listener.ListenerID
		}
	}
	events, err := q.Remove(r.Context(), listener.ListenerID, cond)
	h.stream(w, r, q, events, err)
}

// ShuffleHandler 打乱
func (h *APIHandler) ShuffleHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := h.roomQueue(w, r)
	if !ok {
		return
	}
	events, err := q.Shuffle(r.Context(), listenerFrom(r.Context()).ListenerID)
	h.stream(w, r, q, events, err)
}

// StateHandler 暂停 / 继续 / 循环
func (h *APIHandler) StateHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := h.roomQueue(w, r)
	if !ok {
		return
	}
	var req StateRequest
	if !h.decode(w, r, &req) {
		return
	}
	change, err := queue.ParsePlayStateChange(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := q.SetPlayState(r.Context(), listenerFrom(r.Context()).ListenerID, change)
	h.stream(w, r, q, events, err)
}

// VolumeHandler 音量
func (h *APIHandler) VolumeHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := h.roomQueue(w, r)
	if !ok {
		return
	}
	var req VolumeRequest
	if !h.decode(w, r, &req) {
		return
	}
	events, err := q.SetVolume(r.Context(), listenerFrom(r.Context()).ListenerID, *req.Volume)
	h.stream(w, r, q, events, err)
}

// NowPlayingHandler 当前曲目
func (h *APIHandler) NowPlayingHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := h.roomQueue(w, r)
	if !ok {
		return
	}
	events, err := q.NowPlaying(r.Context(), listenerFrom(r.Context()).ListenerID)
	h.stream(w, r, q, events, err)
}

// ShowQueueHandler 完整播放顺序
func (h *APIHandler) ShowQueueHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := h.roomQueue(w, r)
	if !ok {
		return
	}
	events, err := q.Show(r.Context(), listenerFrom(r.Context()).ListenerID)
	h.stream(w, r, q, events, err)
}
