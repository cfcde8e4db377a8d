package server

import (
	"errors"
	"net/http"

	"QueueFM/core/room"
	"QueueFM/logger"

	"github.com/gorilla/mux"
)

// RoomInfo 房间概况
type RoomInfo struct {
	RoomID    string `json:"roomId"`
	Listeners int    `json:"listeners"`
}

// ListRoomsHandler 列出有队列的房间
func (h *APIHandler) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms := h.manager.Rooms()
	out := make([]RoomInfo, 0, len(rooms))
	for _, id := range rooms {
		out = append(out, RoomInfo{RoomID: id, Listeners: h.hub.RoomClientCount(id)})
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateRoomHandler 为房间创建空队列
func (h *APIHandler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room"]
	if _, err := h.manager.Create(r.Context(), roomID); err != nil {
		h.roomError(w, roomID, err)
		return
	}
	writeJSON(w, http.StatusCreated, RoomInfo{RoomID: roomID, Listeners: h.hub.RoomClientCount(roomID)})
}

// SaveRoomHandler 保存快照并关闭房间队列，返回保存的快照
func (h *APIHandler) SaveRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room"]
	snap, err := h.manager.SaveAndExit(r.Context(), roomID)
	if err != nil && snap != nil {
		// 快照已生成但未落盘，随响应返回
		logger.Error("快照未保存", logger.Room(roomID), logger.ErrorField(err))
		status, msg := http.StatusInternalServerError, "Snapshot could not be saved"
		if errors.Is(err, room.ErrSnapshotNotSaved) {
			status, msg = http.StatusServiceUnavailable, "Snapshot could not be saved, room is still running"
		}
		writeJSON(w, status, errorResponse{Error: msg, Snapshot: snap.ToRecord()})
		return
	}
	if err != nil {
		h.roomError(w, roomID, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.ToRecord())
}

// RestoreRoomHandler 从已保存的快照恢复房间队列
func (h *APIHandler) RestoreRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room"]
	if _, err := h.manager.Restore(r.Context(), roomID); err != nil {
		h.roomError(w, roomID, err)
		return
	}
	writeJSON(w, http.StatusOK, RoomInfo{RoomID: roomID, Listeners: h.hub.RoomClientCount(roomID)})
}

func (h *APIHandler) roomError(w http.ResponseWriter, roomID string, err error) {
	switch {
	case errors.Is(err, room.ErrRoomExists):
		writeError(w, http.StatusConflict, "Room already has a queue")
	case errors.Is(err, room.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "Room has no queue")
	case errors.Is(err, room.ErrNoSnapshot):
		writeError(w, http.StatusNotFound, "No snapshot saved for room")
	default:
		logger.Error("房间操作失败", logger.Room(roomID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// WebSocketHandler 听众连接房间，连接期间计入房间成员
func (h *APIHandler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room"]
	if _, ok := h.manager.Get(roomID); !ok {
		writeError(w, http.StatusNotFound, "Room has no queue")
		return
	}
	listener := listenerFrom(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket 升级失败", logger.Room(roomID), logger.ErrorField(err))
		return
	}

	client := room.NewClient(h.hub, conn, roomID, listener.ListenerID, listener.Name)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump(r.Context())
}
