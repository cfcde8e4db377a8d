package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken 令牌无效或已过期
var ErrInvalidToken = errors.New("invalid token")

// Claims 令牌中携带的听众身份
type Claims struct {
	ListenerID string `json:"listener_id"`
	Name       string `json:"name"`
	jwt.RegisteredClaims
}

// Issuer 签发和校验 HS256 令牌
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer 创建令牌签发器，ttl <= 0 表示不过期
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// GenerateToken 为听众签发令牌
func (i *Issuer) GenerateToken(listenerID, name string) (string, error) {
	if listenerID == "" {
		return "", fmt.Errorf("listener id is required")
	}
	now := time.Now()
	claims := Claims{
		ListenerID: listenerID,
		Name:       name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  listenerID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken 校验令牌并取出听众身份
func (i *Issuer) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ListenerID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
