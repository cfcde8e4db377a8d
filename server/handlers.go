package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"QueueFM/core/auth"
	"QueueFM/core/room"
	"QueueFM/logger"
	"QueueFM/model"

	"github.com/gorilla/websocket"
)

// maxBodySize 请求体上限
const maxBodySize = 64 << 10

// APIHandler 持有处理请求需要的依赖
type APIHandler struct {
	manager   *room.Manager
	hub       *room.Hub
	issuer    *auth.Issuer
	validator *Validator
	upgrader  websocket.Upgrader
}

// NewAPIHandler 创建 API 处理器
func NewAPIHandler(manager *room.Manager, hub *room.Hub, issuer *auth.Issuer) *APIHandler {
	return &APIHandler{
		manager:   manager,
		hub:       hub,
		issuer:    issuer,
		validator: NewValidator(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源，生产环境应该限制
			},
		},
	}
}

// errorResponse 错误响应体
type errorResponse struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind,omitempty"`
	Fields []ValidationError `json:"fields,omitempty"`
	// Snapshot 快照未落盘时附带，房间仍在运行
	Snapshot *model.SnapshotRecord `json:"snapshot,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decode 解析并校验请求体，失败时已写好响应。空请求体按零值处理。
func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		logger.Debug("解析请求体失败", logger.String("path", r.URL.Path), logger.ErrorField(err))
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if fields, ok := h.validator.Validate(dst); !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Validation failed", Fields: fields})
		return false
	}
	return true
}
