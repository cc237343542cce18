package token

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL 是会话令牌的默认有效期。
const DefaultTTL = 24 * time.Hour

// Claims 是会话令牌携带的声明。
type Claims struct {
	jwt.RegisteredClaims
}

// UserID 从 Subject 中解析用户 ID。
func (c *Claims) UserID() (uint, bool) {
	if c.Subject == "" {
		return 0, false
	}
	uid, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(uid), true
}

// Codec 负责会话令牌的签发与校验。
//
// 密钥在进程启动时注入，之后只读。令牌本身无状态，
// 服务端不保存任何会话记录。
type Codec struct {
	secret []byte
	ttl    time.Duration
}

// NewCodec 创建 Codec。ttl 为零时使用 DefaultTTL。
func NewCodec(secret string, ttl time.Duration) *Codec {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{secret: []byte(secret), ttl: ttl}
}

// TTL 返回令牌有效期。
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue 为指定用户签发 HS256 会话令牌，内嵌签发时间与过期时间。
func (c *Codec) Issue(userID uint) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(c.secret)
}

// Verify 校验令牌的签名完整性与有效期。
//
// 任何格式错误、篡改或过期的令牌都返回 nil，不向调用方抛出错误。
func (c *Codec) Verify(tokenStr string) *Claims {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return nil
	}
	if claims.Subject == "" {
		return nil
	}
	return claims
}
