package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"QueueFM/core/playback"
	"QueueFM/core/queue"
	"QueueFM/logger"

	"github.com/gorilla/websocket"
)

// MessageType 消息类型
type MessageType string

const (
	MsgTypeJoin       MessageType = "join"        // 加入房间
	MsgTypeLeave      MessageType = "leave"       // 离开房间
	MsgTypeError      MessageType = "error"       // 错误消息
	MsgTypePing       MessageType = "ping"        // 心跳
	MsgTypePong       MessageType = "pong"        // 心跳响应
	MsgTypeQueueEvent MessageType = "queue_event" // 队列操作结果
)

const (
	sendBuffer   = 64
	readLimit    = 4096
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType     `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Username  string          `json:"username,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Presence 接收听众上下线，由播放驱动转成成员事件
type Presence interface {
	Join(roomID string, m playback.Member)
	Leave(roomID, memberID string)
}

// Client WebSocket 客户端
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	RoomID   string
	UserID   string
	Username string
}

// NewClient 创建客户端
func NewClient(hub *Hub, conn *websocket.Conn, roomID, userID, username string) *Client {
	return &Client{
		Hub:      hub,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		RoomID:   roomID,
		UserID:   userID,
		Username: username,
	}
}

// Hub 房间 WebSocket 管理中心：维护在线听众，并广播队列事件
type Hub struct {
	presence Presence

	// 房间 -> 客户端集合
	rooms map[string]map[*Client]bool
	// 一个用户在一个房间只能有一个连接
	userClients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu   sync.RWMutex
	done chan struct{}
	once sync.Once
}

// BroadcastMessage 广播消息
type BroadcastMessage struct {
	RoomID    string
	Message   []byte
	ExcludeID string // 不向发送者回发
}

// NewHub 创建 Hub
func NewHub(presence Presence) *Hub {
	return &Hub{
		presence:    presence,
		rooms:       make(map[string]map[*Client]bool),
		userClients: make(map[string]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *BroadcastMessage, 256),
		done:        make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.mu.Lock()
			left := h.removeClient(client)
			h.mu.Unlock()
			if left {
				h.left(client)
			}
		case msg := <-h.broadcast:
			h.broadcastToRoom(msg)
		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

func userKey(roomID, userID string) string {
	return roomID + ":" + userID
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	key := userKey(client.RoomID, client.UserID)
	// 同一用户重复连接时踢掉旧连接，但不算离开
	if old, exists := h.userClients[key]; exists {
		h.dropClient(old)
	}
	if h.rooms[client.RoomID] == nil {
		h.rooms[client.RoomID] = make(map[*Client]bool)
	}
	h.rooms[client.RoomID][client] = true
	h.userClients[key] = client
	h.mu.Unlock()

	h.presence.Join(client.RoomID, playback.Member{ID: client.UserID, Name: client.Username})
	h.deliver(&WSMessage{Type: MsgTypeJoin, RoomID: client.RoomID, UserID: client.UserID, Username: client.Username}, client.UserID)

	logger.Info("client registered",
		logger.Room(client.RoomID),
		logger.String("user", client.UserID),
		logger.String("username", client.Username))
}

// dropClient 关闭连接并从房间中移除，需要持有锁
func (h *Hub) dropClient(client *Client) bool {
	clients, ok := h.rooms[client.RoomID]
	if !ok || !clients[client] {
		return false
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.rooms, client.RoomID)
	}
	return true
}

// removeClient 移除客户端，需要持有锁。返回该用户是否已离开房间
func (h *Hub) removeClient(client *Client) bool {
	if !h.dropClient(client) {
		return false
	}
	key := userKey(client.RoomID, client.UserID)
	if h.userClients[key] != client {
		return false
	}
	delete(h.userClients, key)
	return true
}

// left 通知播放驱动和其他听众，只在 Run 中调用且不能持有锁
func (h *Hub) left(client *Client) {
	h.presence.Leave(client.RoomID, client.UserID)
	h.deliver(&WSMessage{Type: MsgTypeLeave, RoomID: client.RoomID, UserID: client.UserID}, "")

	logger.Info("client unregistered",
		logger.Room(client.RoomID),
		logger.String("user", client.UserID))
}

func (h *Hub) broadcastToRoom(msg *BroadcastMessage) {
	var gone []*Client
	h.mu.Lock()
	for client := range h.rooms[msg.RoomID] {
		if msg.ExcludeID != "" && client.UserID == msg.ExcludeID {
			continue
		}
		select {
		case client.Send <- msg.Message:
		default:
			// 发送缓冲区满，移除客户端
			logger.Warn("client send buffer full, dropping", logger.Room(msg.RoomID), logger.String("user", client.UserID))
			if h.removeClient(client) {
				gone = append(gone, client)
			}
		}
	}
	h.mu.Unlock()

	for _, client := range gone {
		h.left(client)
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.rooms {
		for client := range clients {
			close(client.Send)
			h.presence.Leave(client.RoomID, client.UserID)
		}
	}
	h.rooms = make(map[string]map[*Client]bool)
	h.userClients = make(map[string]*Client)
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast 向房间广播原始消息
func (h *Hub) Broadcast(roomID string, message []byte, excludeID string) {
	select {
	case h.broadcast <- &BroadcastMessage{RoomID: roomID, Message: message, ExcludeID: excludeID}:
	case <-h.done:
	}
}

func encode(msg *WSMessage) ([]byte, bool) {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("failed to marshal ws message", logger.ErrorField(err))
		return nil, false
	}
	return data, true
}

// deliver 在 Run 中直接广播，不经过 broadcast 通道
func (h *Hub) deliver(msg *WSMessage, excludeID string) {
	if data, ok := encode(msg); ok {
		h.broadcastToRoom(&BroadcastMessage{RoomID: msg.RoomID, Message: data, ExcludeID: excludeID})
	}
}

func (h *Hub) notify(msg *WSMessage, excludeID string) {
	if data, ok := encode(msg); ok {
		h.Broadcast(msg.RoomID, data, excludeID)
	}
}

// Publish 把某个用户的队列操作结果广播给房间内其他听众
func (h *Hub) Publish(roomID, userID string, ev queue.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("failed to marshal queue event", logger.ErrorField(err))
		return
	}
	h.notify(&WSMessage{Type: MsgTypeQueueEvent, RoomID: roomID, UserID: userID, Data: data}, userID)
}

// SendTo 直接发给某个客户端，客户端已移除或缓冲区满时丢弃
func (h *Hub) SendTo(client *Client, msg *WSMessage) {
	data, ok := encode(msg)
	if !ok {
		return
	}
	// 持有读锁期间 Send 不会被关闭
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.rooms[client.RoomID][client] {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

// RoomClientCount 房间在线连接数
func (h *Hub) RoomClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// ========== Client 方法 ==========

// ReadPump 读取消息循环，只处理心跳
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(readLimit)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error",
					logger.ErrorField(err),
					logger.Room(c.RoomID),
					logger.String("user", c.UserID))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("invalid message format", logger.ErrorField(err), logger.Room(c.RoomID))
			continue
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		if msg.Type == MsgTypePing {
			c.Hub.SendTo(c, &WSMessage{Type: MsgTypePong})
		}
	}
}

// WritePump 写入消息循环
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了通道
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
