package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notesapp/internal/metrics"
)

const sendBufferSize = 256

// 事件类型
const (
	EventNoteCreated      = "note_created"
	EventNoteUpdated      = "note_updated"
	EventNoteDeleted      = "note_deleted"
	EventConflictDetected = "conflict_detected"
	EventConflictResolved = "conflict_resolved"
	EventTagDeleted       = "tag_deleted"
)

// Event 发布给同一用户其他设备的变更通知
type Event struct {
	Type         string
	NoteID       string
	Version      int64
	OriginDevice string
	Payload      interface{}
}

func (e Event) message() Message {
	data := map[string]interface{}{
		"origin_device": e.OriginDevice,
	}
	if e.NoteID != "" {
		data["note_id"] = e.NoteID
	}
	if e.Version != 0 {
		data["version"] = e.Version
	}
	if e.Payload != nil {
		data["payload"] = e.Payload
	}
	return Message{
		Type:      e.Type,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MessageID: uuid.NewString(),
	}
}

// Hub WebSocket连接管理器：userID -> 订阅集合
type Hub struct {
	mu      sync.RWMutex
	subs    map[int64]map[uint64]*Subscription
	nextID  uint64
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewHub 创建新的Hub；m 可以为 nil
func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		subs:    make(map[int64]map[uint64]*Subscription),
		logger:  logger,
		metrics: m,
	}
}

// Subscription 一个设备的事件订阅
type Subscription struct {
	hub      *Hub
	id       uint64
	userID   int64
	deviceID string
	send     chan []byte
	once     sync.Once

	pausedMu sync.RWMutex
	paused   bool
}

// Subscribe 注册设备并返回其订阅
func (h *Hub) Subscribe(userID int64, deviceID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		hub:      h,
		id:       h.nextID,
		userID:   userID,
		deviceID: deviceID,
		send:     make(chan []byte, sendBufferSize),
	}
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[uint64]*Subscription)
	}
	h.subs[userID][sub.id] = sub

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
	h.logger.Debug("websocket subscribed", zap.Int64("user_id", userID), zap.String("device_id", deviceID))
	return sub
}

// C 事件通道；订阅结束时关闭
func (s *Subscription) C() <-chan []byte {
	return s.send
}

func (s *Subscription) UserID() int64 {
	return s.userID
}

func (s *Subscription) DeviceID() string {
	return s.deviceID
}

// Unsubscribe 注销订阅并关闭通道，可重复调用
func (s *Subscription) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeLocked(s)
}

// SetPaused 暂停/恢复事件投递（客户端 unsubscribe/subscribe 消息）
func (s *Subscription) SetPaused(paused bool) {
	s.pausedMu.Lock()
	s.paused = paused
	s.pausedMu.Unlock()
}

func (s *Subscription) isPaused() bool {
	s.pausedMu.RLock()
	defer s.pausedMu.RUnlock()
	return s.paused
}

// removeLocked 调用方必须持有 h.mu 写锁
func (h *Hub) removeLocked(s *Subscription) {
	s.once.Do(func() {
		if set, ok := h.subs[s.userID]; ok {
			delete(set, s.id)
			if len(set) == 0 {
				delete(h.subs, s.userID)
			}
		}
		close(s.send)
		if h.metrics != nil {
			h.metrics.WSConnections.Dec()
		}
	})
}

// Publish 向用户的所有设备投递事件，发起设备除外。
// 缓冲区已满的订阅会被移除。返回成功投递的订阅数。
func (h *Hub) Publish(userID int64, ev Event) (int, error) {
	data, err := json.Marshal(ev.message())
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for _, sub := range h.subs[userID] {
		if ev.OriginDevice != "" && sub.deviceID == ev.OriginDevice {
			continue
		}
		if sub.isPaused() {
			continue
		}
		select {
		case sub.send <- data:
			delivered++
		default:
			// 发送失败，关闭连接
			h.logger.Warn("websocket send buffer full, dropping subscription",
				zap.Int64("user_id", userID), zap.String("device_id", sub.deviceID))
			if h.metrics != nil {
				h.metrics.WSDroppedMessages.Inc()
			}
			h.removeLocked(sub)
		}
	}
	return delivered, nil
}

// IsUserConnected 检查用户是否在线
func (h *Hub) IsUserConnected(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID]) > 0
}

// IsDeviceConnected 检查设备是否有活动订阅
func (h *Hub) IsDeviceConnected(userID int64, deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs[userID] {
		if sub.deviceID == deviceID {
			return true
		}
	}
	return false
}

// DisconnectDevice 关闭设备的所有订阅，返回关闭的数量
func (h *Hub) DisconnectDevice(userID int64, deviceID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, sub := range h.subs[userID] {
		if sub.deviceID == deviceID {
			h.removeLocked(sub)
			n++
		}
	}
	return n
}

// GetConnectedClientCount 获取在线订阅数量
func (h *Hub) GetConnectedClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Close 关闭所有订阅（服务器关闭时）
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for _, sub := range set {
			h.removeLocked(sub)
		}
	}
}
