package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源 (生产环境应限制)
	},
}

// MessageType 消息类型
type MessageType string

const (
	MessageTypeEvent       MessageType = "event"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeError       MessageType = "error"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
)

// WSMessage WebSocket 消息
type WSMessage struct {
	Type      MessageType `json:"type"`
	Channel   string      `json:"channel,omitempty"`
	Channels  []string    `json:"channels,omitempty"`
	Event     string      `json:"event,omitempty"`
	Data      any         `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Client WebSocket 客户端
type Client struct {
	ID       string
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	logger   *zap.Logger
	mu       sync.RWMutex
	channels map[string]struct{}
}

// Subscribe 加入频道
func (c *Client) Subscribe(channels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if ch = strings.TrimSpace(ch); ch != "" {
			c.channels[ch] = struct{}{}
		}
	}
}

// Unsubscribe 离开频道
func (c *Client) Unsubscribe(channels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		delete(c.channels, strings.TrimSpace(ch))
	}
}

// InChannel 是否订阅了频道
func (c *Client) InChannel(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

type channelMessage struct {
	channel string
	data    []byte
}

// Hub fans realtime events out to the clients subscribed to their channel.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan channelMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewHub 创建连接中心
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan channelMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("component", "realtime-hub")),
	}
}

// Attach subscribes the hub to realtime events on the bus.
func (h *Hub) Attach(bus eventbus.Bus) eventbus.SubscriptionID {
	return bus.Subscribe(eventbus.EventTypeRealtime, func(ctx context.Context, ev eventbus.Event) {
		p, ok := ev.Payload().(eventbus.RealtimePayload)
		if !ok {
			return
		}
		h.Publish(p.Channel, p.Event, p.Data)
	})
}

// Publish 推送到频道，不阻塞
func (h *Hub) Publish(channel, event string, data any) {
	msg, err := json.Marshal(&WSMessage{
		Type:      MessageTypeEvent,
		Channel:   channel,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal realtime event", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- channelMessage{channel: channel, data: msg}:
	default:
		h.logger.Warn("Realtime buffer full, dropping event", zap.String("channel", channel), zap.String("event", event))
	}
}

// Run 运行连接中心
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.logger.Info("Client connected", zap.String("client_id", client.ID))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Client disconnected", zap.String("client_id", client.ID))
		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.InChannel(message.channel) {
					continue
				}
				select {
				case client.send <- message.data:
				default:
					// 慢客户端直接断开
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// GetClientCount 获取客户端数量
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler WebSocket 处理器
type Handler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewHandler 创建 WebSocket 处理器
func NewHandler(hub *Hub, logger *zap.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: logger,
	}
}

// ServeWS upgrades the connection. Initial channels come from
// ?channels=open,ticket:12 and can be changed later with subscribe messages.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, 256),
		hub:      h.hub,
		logger:   h.logger,
		channels: make(map[string]struct{}),
	}
	if q := r.URL.Query().Get("channels"); q != "" {
		client.Subscribe(strings.Split(q, ",")...)
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	// 启动读写协程
	go client.writePump()
	go client.readPump()
}

// readPump 读取客户端控制消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reply(&WSMessage{Type: MessageTypeError, Data: "invalid message"})
			continue
		}

		switch msg.Type {
		case MessageTypePing:
			c.reply(&WSMessage{Type: MessageTypePong})
		case MessageTypeSubscribe:
			c.Subscribe(append(msg.Channels, msg.Channel)...)
		case MessageTypeUnsubscribe:
			c.Unsubscribe(append(msg.Channels, msg.Channel)...)
		}
	}
}

// writePump 写入消息
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply 非阻塞回复；发送通道可能已被 Hub 关闭
func (c *Client) reply(msg *WSMessage) {
	msg.Timestamp = time.Now().Unix()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	defer func() { _ = recover() }()
	select {
	case c.send <- data:
	default:
	}
}
