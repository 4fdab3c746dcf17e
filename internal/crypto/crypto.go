package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
)

const KeySize = 32

var (
	ErrInvalidKey         = errors.New("encryption key must be 32 bytes hex encoded")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// Manager AES-256-GCM 加解密，密文格式为 nonce||ciphertext
type Manager struct {
	aead cipher.AEAD
}

// NewManager 从 64 位十六进制字符串创建
func NewManager(keyHex string) (*Manager, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return newManager(key)
}

func newManager(key []byte) (*Manager, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Manager{aead: gcm}, nil
}

// Encrypt 加密字符串并返回 base64
func (m *Manager) Encrypt(plaintext string) (string, error) {
	sealed, err := m.EncryptBytes([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密 base64 密文
func (m *Manager) Decrypt(encryptedBase64 string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedBase64)
	if err != nil {
		return "", err
	}
	plaintext, err := m.DecryptBytes(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (m *Manager) EncryptBytes(data []byte) ([]byte, error) {
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return m.aead.Seal(nonce, nonce, data, nil), nil
}

func (m *Manager) DecryptBytes(encryptedData []byte) ([]byte, error) {
	nonceSize := m.aead.NonceSize()
	if len(encryptedData) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := encryptedData[:nonceSize], encryptedData[nonceSize:]
	return m.aead.Open(nil, nonce, ciphertext, nil)
}

// GenerateKey 生成随机 256 位密钥（十六进制）
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
