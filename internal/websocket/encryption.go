package websocket

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"notesapp/internal/crypto"
)

var (
	ErrInvalidHandshake   = errors.New("invalid handshake format")
	ErrEncryptionRequired = errors.New("server requires encryption, client does not support it")
)

// Encryptor WebSocket加密管理器；cm 为 nil 时不加密
type Encryptor struct {
	cm      *crypto.Manager
	ready   chan struct{}
	readyMu sync.Once
}

// HandshakeReq 握手请求
type HandshakeReq struct {
	Type        string `json:"type"`
	Encryption  bool   `json:"encryption"`
	ClientNonce string `json:"client_nonce,omitempty"`
}

// HandshakeResp 握手响应
type HandshakeResp struct {
	Type              string `json:"type"`
	EncryptionEnabled bool   `json:"encryption_enabled"`
	ServerNonce       string `json:"server_nonce,omitempty"`
	Timestamp         string `json:"timestamp"`
}

// NewEncryptor 创建加密器。不加密模式下直接就绪，
// 加密模式下需要客户端先完成握手。
func NewEncryptor(cm *crypto.Manager) *Encryptor {
	we := &Encryptor{cm: cm, ready: make(chan struct{})}
	if cm == nil {
		we.markReady()
	}
	return we
}

func (we *Encryptor) Enabled() bool {
	return we.cm != nil
}

// Ready 握手完成后关闭
func (we *Encryptor) Ready() <-chan struct{} {
	return we.ready
}

func (we *Encryptor) markReady() {
	we.readyMu.Do(func() { close(we.ready) })
}

// EncryptMessage 加密消息
func (we *Encryptor) EncryptMessage(msg []byte) ([]byte, error) {
	if we.cm == nil {
		return msg, nil
	}
	return we.cm.EncryptBytes(msg)
}

// DecryptMessage 解密消息
func (we *Encryptor) DecryptMessage(encryptedData []byte) ([]byte, error) {
	if we.cm == nil {
		return encryptedData, nil
	}
	return we.cm.DecryptBytes(encryptedData)
}

// ProcessHandshake 处理客户端握手
func (we *Encryptor) ProcessHandshake(data []byte) error {
	var req HandshakeReq
	if err := json.Unmarshal(data, &req); err != nil || req.Type != msgHandshake {
		return ErrInvalidHandshake
	}
	if we.cm != nil && !req.Encryption {
		return ErrEncryptionRequired
	}
	we.markReady()
	return nil
}

// CreateHandshakeResponse 创建握手响应
func (we *Encryptor) CreateHandshakeResponse() (HandshakeResp, error) {
	resp := HandshakeResp{
		Type:              msgHandshake,
		EncryptionEnabled: we.cm != nil,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}

	if we.cm != nil {
		serverNonce := make([]byte, 12)
		if _, err := rand.Read(serverNonce); err != nil {
			return resp, err
		}
		resp.ServerNonce = base64.StdEncoding.EncodeToString(serverNonce)
	}
	return resp, nil
}
