package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrWrongTokenType = errors.New("wrong token type")
)

type Claims struct {
	UserID    string `json:"sub"`
	Email     string `json:"email"`
	Role      string `json:"role,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// ID 返回数字形式的用户 ID
func (c *Claims) ID() (int64, error) {
	return strconv.ParseInt(c.UserID, 10, 64)
}

// TokenIssuer 使用 HS256 签发和校验令牌
type TokenIssuer struct {
	secret          []byte
	accessDuration  time.Duration
	refreshDuration time.Duration
}

// NewTokenIssuer creates an issuer; the secret is validated by config.
func NewTokenIssuer(secret string, accessDuration, refreshDuration time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:          []byte(secret),
		accessDuration:  accessDuration,
		refreshDuration: refreshDuration,
	}
}

// RefreshDuration 刷新令牌有效期
func (ti *TokenIssuer) RefreshDuration() time.Duration {
	return ti.refreshDuration
}

// AccessDuration 访问令牌有效期
func (ti *TokenIssuer) AccessDuration() time.Duration {
	return ti.accessDuration
}

// GenerateAccessToken creates a short-lived access token (JWT)
func (ti *TokenIssuer) GenerateAccessToken(userID int64, email, role string) (string, error) {
	return ti.sign(userID, email, role, TokenTypeAccess, ti.accessDuration)
}

// GenerateRefreshToken creates a long-lived refresh token (JWT)
func (ti *TokenIssuer) GenerateRefreshToken(userID int64) (string, error) {
	return ti.sign(userID, "", "", TokenTypeRefresh, ti.refreshDuration)
}

func (ti *TokenIssuer) sign(userID int64, email, role, tokenType string, duration time.Duration) (string, error) {
	now := time.Now().UTC()
	sub := strconv.FormatInt(userID, 10)
	claims := &Claims{
		UserID:    sub,
		Email:     email,
		Role:      role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			Subject:   sub,
			// 同一秒内签发的刷新令牌也必须不同（数据库唯一约束）
			ID: strconv.FormatInt(now.UnixNano(), 36),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

// ValidateToken validates a JWT and returns claims if valid
func (ti *TokenIssuer) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return ti.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// ValidateTokenOfType 校验令牌并要求指定类型
func (ti *TokenIssuer) ValidateTokenOfType(tokenStr, tokenType string) (*Claims, error) {
	claims, err := ti.ValidateToken(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenType {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}
