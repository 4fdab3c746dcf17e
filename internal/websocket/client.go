package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024 // 1MB
)

// 客户端消息类型
const (
	msgHandshake   = "handshake"
	msgPing        = "ping"
	msgPong        = "pong"
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgError       = "error"
)

// NewUpgrader 创建升级器，只接受允许的 Origin（空列表或 "*" 表示全部）
func NewUpgrader(allowedOrigins []string) *gorillawebsocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &gorillawebsocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
		},
	}
}

// Message WebSocket消息结构
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp string                 `json:"timestamp"`
	MessageID string                 `json:"message_id,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Client 把一个 WebSocket 连接绑定到 Hub 订阅
type Client struct {
	conn      *gorillawebsocket.Conn
	sub       *Subscription
	encryptor *Encryptor
	replies   chan []byte
	done      chan struct{}
	logger    *zap.Logger
}

// NewClient 创建新客户端
func NewClient(conn *gorillawebsocket.Conn, sub *Subscription, encryptor *Encryptor, logger *zap.Logger) *Client {
	return &Client{
		conn:      conn,
		sub:       sub,
		encryptor: encryptor,
		replies:   make(chan []byte, 16),
		done:      make(chan struct{}),
		logger: logger.With(
			zap.Int64("user_id", sub.UserID()),
			zap.String("device_id", sub.DeviceID()),
		),
	}
}

// Run 启动读写循环，阻塞到连接关闭
func (c *Client) Run() {
	go c.WritePump()
	c.ReadPump()
}

// ReadPump 读取消息循环
func (c *Client) ReadPump() {
	defer func() {
		c.sub.Unsubscribe()
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}

		if err := c.handleMessage(messageType, message); err != nil {
			c.logger.Debug("websocket message rejected", zap.Error(err))
			c.sendError("消息处理失败: " + err.Error())
		}
	}
}

// WritePump 发送消息循环。加密模式下握手完成前不投递事件。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	var events <-chan []byte
	ready := c.encryptor.Ready()

	for {
		select {
		case <-ready:
			events = c.sub.C()
			ready = nil

		case message, ok := <-events:
			if !ok {
				c.write(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeEvent(message); err != nil {
				return
			}

		case reply := <-c.replies:
			if err := c.write(gorillawebsocket.TextMessage, reply); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// writeEvent 加密模式下事件以二进制帧发送
func (c *Client) writeEvent(message []byte) error {
	if !c.encryptor.Enabled() {
		return c.write(gorillawebsocket.TextMessage, message)
	}
	encrypted, err := c.encryptor.EncryptMessage(message)
	if err != nil {
		c.logger.Error("websocket encryption failed", zap.Error(err))
		return nil
	}
	return c.write(gorillawebsocket.BinaryMessage, encrypted)
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(messageType int, data []byte) error {
	// 如果是二进制消息，先解密
	if messageType == gorillawebsocket.BinaryMessage {
		decrypted, err := c.encryptor.DecryptMessage(data)
		if err != nil {
			return err
		}
		data = decrypted
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	switch msg.Type {
	case msgHandshake:
		return c.handleHandshake(data)
	case msgPing:
		c.reply(Message{Type: msgPong})
	case msgSubscribe:
		c.sub.SetPaused(false)
	case msgUnsubscribe:
		c.sub.SetPaused(true)
	default:
		c.logger.Debug("unknown websocket message type", zap.String("type", msg.Type))
	}
	return nil
}

// handleHandshake 握手响应以明文发送
func (c *Client) handleHandshake(data []byte) error {
	if err := c.encryptor.ProcessHandshake(data); err != nil {
		return err
	}
	resp, err := c.encryptor.CreateHandshakeResponse()
	if err != nil {
		return err
	}
	respData, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	c.enqueue(respData)
	return nil
}

func (c *Client) sendError(errMsg string) {
	c.reply(Message{Type: msgError, Error: errMsg})
}

func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) enqueue(data []byte) {
	select {
	case c.replies <- data:
	default:
		c.logger.Debug("websocket reply buffer full")
	}
}
