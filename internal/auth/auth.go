package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/d1618033/simplechat/internal/models"
	"github.com/d1618033/simplechat/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// CookieName 是浏览器客户端携带会话 token 的 cookie。
	CookieName = "simplechat_session"
	// Rejected 是身份被拒绝时唯一返回的错误信息。
	Rejected = "request rejected"

	ctxIdentity = "identity"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims 把 token 绑定到某个房间的某个参与者，jti 指向服务端的会话记录。
type Claims struct {
	ParticipantID uint `json:"pid"`
	RoomID        uint `json:"rid"`
	jwt.RegisteredClaims
}

// Identity 是 token 解析后证明的调用方身份。
type Identity struct {
	ParticipantID uint
	RoomID        uint
	SessionID     string
}

// SessionStore 是签发器所需的存储子集。
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	RevokeSessions(ctx context.Context, participantID uint) error
	GetParticipant(ctx context.Context, id uint) (*models.Participant, error)
}

// Issuer 签发身份 token 并将其解析回参与者。
// token 为 HS256 JWT，只有对应的会话记录有效时才被接受，吊销立即生效。
type Issuer struct {
	store  SessionStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(st SessionStore, secret string, ttl time.Duration) *Issuer {
	return &Issuer{store: st, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue 为 p 创建会话并返回签名后的 token。
func (i *Issuer) Issue(ctx context.Context, p *models.Participant) (string, error) {
	now := i.now()
	sess := &models.Session{
		ID:            uuid.NewString(),
		ParticipantID: p.ID,
		RoomID:        p.RoomID,
		ExpiresAt:     now.Add(i.ttl),
	}
	if err := i.store.CreateSession(ctx, sess); err != nil {
		return "", err
	}
	claims := Claims{
		ParticipantID: p.ID,
		RoomID:        p.RoomID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Subject:   strconv.FormatUint(uint64(p.ID), 10),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

func (i *Issuer) parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// Resolve 返回 tokenStr 证明的身份。除存储本身出错外，任何失败（包括会话被吊销、
// 参与者已登出）都返回 ErrInvalidToken。
func (i *Issuer) Resolve(ctx context.Context, tokenStr string) (*Identity, error) {
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}
	claims, err := i.parse(tokenStr)
	if err != nil {
		return nil, ErrInvalidToken
	}
	sess, err := i.store.GetSession(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if sess.RevokedAt != nil || !sess.ExpiresAt.After(i.now()) ||
		sess.ParticipantID != claims.ParticipantID || sess.RoomID != claims.RoomID {
		return nil, ErrInvalidToken
	}
	p, err := i.store.GetParticipant(ctx, sess.ParticipantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !p.Active {
		return nil, ErrInvalidToken
	}
	return &Identity{ParticipantID: sess.ParticipantID, RoomID: sess.RoomID, SessionID: sess.ID}, nil
}

// Revoke 吊销该参与者的所有会话。
func (i *Issuer) Revoke(ctx context.Context, participantID uint) error {
	return i.store.RevokeSessions(ctx, participantID)
}

// TokenFromRequest 先读 Bearer 头，再读会话 cookie。
func TokenFromRequest(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	if v, err := c.Cookie(CookieName); err == nil {
		return v
	}
	return ""
}

// RequireSession 在服务端解析调用方身份，没有有效会话的请求与其他鉴权失败返回相同的拒绝。
func RequireSession(iss *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := iss.Resolve(c.Request.Context(), TokenFromRequest(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": Rejected})
			return
		}
		c.Set(ctxIdentity, id)
		c.Next()
	}
}

// GetIdentity 返回 RequireSession 写入的身份。
func GetIdentity(c *gin.Context) (*Identity, bool) {
	if v, ok := c.Get(ctxIdentity); ok {
		if id, ok2 := v.(*Identity); ok2 {
			return id, true
		}
	}
	return nil, false
}

// GetParticipantID 返回调用方真实的参与者 id，没有则为 0。
func GetParticipantID(c *gin.Context) uint {
	if id, ok := GetIdentity(c); ok {
		return id.ParticipantID
	}
	return 0
}
