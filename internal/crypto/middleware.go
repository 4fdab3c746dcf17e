package crypto

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"notesapp/internal/response"
)

const (
	HeaderEncrypted       = "X-Encrypted"
	HeaderAcceptEncrypted = "X-Accept-Encrypted"
)

// encryptedPrefixes 笔记内容和冲突载荷允许加密传输
var encryptedPrefixes = []string{"/api/v1/notes", "/api/v1/conflicts"}

// ShouldEncryptPath 只有笔记和冲突接口参与加密
func ShouldEncryptPath(path string) bool {
	for _, p := range encryptedPrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// EncryptionMiddleware 请求体解密 / 响应体加密
//
// 客户端发送 X-Encrypted: true 时请求体为 base64(nonce||ciphertext)；
// 发送 X-Accept-Encrypted: true 时响应体以相同格式返回。
type EncryptionMiddleware struct {
	cm     *Manager
	logger *zap.Logger
}

func NewEncryptionMiddleware(cm *Manager, logger *zap.Logger) *EncryptionMiddleware {
	return &EncryptionMiddleware{cm: cm, logger: logger}
}

func (em *EncryptionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ShouldEncryptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if r.Header.Get(HeaderEncrypted) == "true" {
			body, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				response.ErrorResponse(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			decrypted, err := em.cm.Decrypt(strings.TrimSpace(string(body)))
			if err != nil {
				em.logger.Warn("request decryption failed", zap.String("path", r.URL.Path), zap.Error(err))
				response.ErrorResponse(w, "invalid encrypted data", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(strings.NewReader(decrypted))
			r.ContentLength = int64(len(decrypted))
			r.Header.Del(HeaderEncrypted)
		}

		if r.Header.Get(HeaderAcceptEncrypted) != "true" {
			next.ServeHTTP(w, r)
			return
		}

		crw := &capturingResponseWriter{header: http.Header{}, status: http.StatusOK}
		next.ServeHTTP(crw, r)

		for k, v := range crw.header {
			w.Header()[k] = v
		}
		if crw.body.Len() == 0 {
			w.WriteHeader(crw.status)
			return
		}
		encrypted, err := em.cm.Encrypt(crw.body.String())
		if err != nil {
			em.logger.Error("response encryption failed", zap.Error(err))
			response.ErrorResponse(w, "encryption failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set(HeaderEncrypted, "true")
		w.WriteHeader(crw.status)
		io.WriteString(w, encrypted)
	})
}

type capturingResponseWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (crw *capturingResponseWriter) Header() http.Header {
	return crw.header
}

func (crw *capturingResponseWriter) WriteHeader(status int) {
	crw.status = status
}

func (crw *capturingResponseWriter) Write(b []byte) (int, error) {
	return crw.body.Write(b)
}
