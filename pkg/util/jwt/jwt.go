package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	secret      []byte
	tokenExpiry time.Duration
)

// Init 设置签名密钥，secret 为空表示控制接口不做鉴权
func Init(signingSecret string, accessExpiryMinutes int) {
	secret = []byte(signingSecret)
	tokenExpiry = time.Duration(accessExpiryMinutes) * time.Minute
}

// Enabled 是否配置了签名密钥
func Enabled() bool {
	return len(secret) > 0
}

// Claims 控制台签发的访问令牌
type Claims struct {
	OwnerID string `json:"owner_id"`
	jwt.RegisteredClaims
}

// GenerateAccessToken 签发 HS256 访问令牌
func GenerateAccessToken(ownerID string) (string, error) {
	now := time.Now()
	claims := Claims{
		OwnerID: ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "chatty_session_server",
			Subject:   "access_token",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken 解析并验证令牌，只接受 HMAC 签名
func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}
