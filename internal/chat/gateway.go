// Package chat 是客户端操作与房间存储之间的网关。
//
// 读操作为轮询客户端提供有序视图；写操作比较调用方真实的参与者 id（服务端由会话解析）
// 与请求声明的参与者 id 来鉴权。
package chat

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/d1618033/simplechat/internal/metrics"
	"github.com/d1618033/simplechat/internal/models"
	"github.com/d1618033/simplechat/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Issuer 签发和吊销身份 token。
type Issuer interface {
	Issue(ctx context.Context, p *models.Participant) (string, error)
	Revoke(ctx context.Context, participantID uint) error
}

// Notifier 在写操作提交后接收房间事件，实现不得阻塞。
type Notifier interface {
	Publish(roomID uint, evt Event)
}

const (
	EventMessage = "message"
	EventJoin    = "join"
	EventLeave   = "leave"
)

type Event struct {
	Type        string              `json:"type"`
	RoomID      uint                `json:"room_id"`
	Message     *models.Message     `json:"message,omitempty"`
	Participant *models.Participant `json:"participant,omitempty"`
}

// Registration 返回给新注册的客户端，Token 把会话绑定到 Participant。
type Registration struct {
	Participant *models.Participant `json:"participant"`
	Token       string              `json:"token"`
}

type registerInput struct {
	Name string `json:"name" validate:"required,max=64"`
}

type postInput struct {
	Text string `json:"text" validate:"required,max=4096"`
}

type Gateway struct {
	store    store.Store
	issuer   Issuer
	notifier Notifier
	validate *validator.Validate

	// 持有到事件发布完成，保证推送顺序与 id 顺序一致
	postMu sync.Mutex
	joinMu sync.Mutex
}

// Option 配置 Gateway。
type Option func(*Gateway)

// WithNotifier 把房间事件发布到 n。
func WithNotifier(n Notifier) Option {
	return func(g *Gateway) { g.notifier = n }
}

func NewGateway(st store.Store, iss Issuer, opts ...Option) *Gateway {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	g := &Gateway{store: st, issuer: iss, validate: v}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CreateRoom 创建新房间。
func (g *Gateway) CreateRoom(ctx context.Context) (*models.Room, error) {
	room := &models.Room{}
	if err := g.store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (g *Gateway) GetRoom(ctx context.Context, roomID uint) (*models.Room, error) {
	room, err := g.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return room, nil
}

// ListRooms 按创建时间倒序返回房间。
func (g *Gateway) ListRooms(ctx context.Context, limit int) ([]models.Room, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	return g.store.ListRooms(ctx, limit)
}

func (g *Gateway) GetParticipant(ctx context.Context, id uint) (*models.Participant, error) {
	p, err := g.store.GetParticipant(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return p, nil
}

func (g *Gateway) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	m, err := g.store.GetMessage(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return m, nil
}

// ListMessages 按 id 升序返回房间消息；给出 since 时只返回 id >= *since 的消息。
// 所有房间共用一个 id 序列，所以游标就是一个数字。
func (g *Gateway) ListMessages(ctx context.Context, roomID uint, since *uint) ([]models.Message, error) {
	if _, err := g.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return g.store.FilterMessages(ctx, roomID, store.MessageFilter{SinceID: since})
}

// ListActiveParticipants 按注册顺序返回房间内未登出的参与者。
func (g *Gateway) ListActiveParticipants(ctx context.Context, roomID uint) ([]models.Participant, error) {
	if _, err := g.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return g.store.FilterParticipants(ctx, roomID, store.ParticipantFilter{ActiveOnly: true})
}

// AuthorNames 批量获取消息作者的昵称。
func (g *Gateway) AuthorNames(ctx context.Context, msgs []models.Message) (map[uint]string, error) {
	seen := make(map[uint]struct{}, len(msgs))
	ids := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.ParticipantID]; ok {
			continue
		}
		seen[m.ParticipantID] = struct{}{}
		ids = append(ids, m.ParticipantID)
	}
	ps, err := g.store.FindParticipants(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[uint]string, len(ps))
	for _, p := range ps {
		names[p.ID] = p.Name
	}
	return names, nil
}

// RegisterParticipant 在房间中创建在线参与者，并签发以其身份操作的 token。
func (g *Gateway) RegisterParticipant(ctx context.Context, roomID uint, name string) (*Registration, error) {
	name = strings.TrimSpace(name)
	if err := g.validate.Struct(registerInput{Name: name}); err != nil {
		return nil, validationError(err)
	}
	if _, err := g.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	g.joinMu.Lock()
	defer g.joinMu.Unlock()
	p := &models.Participant{Name: name, RoomID: roomID, Active: true}
	if err := g.store.CreateParticipant(ctx, p); err != nil {
		return nil, err
	}
	token, err := g.issuer.Issue(ctx, p)
	if err != nil {
		if derr := g.store.DeactivateParticipant(ctx, p.ID); derr != nil {
			log.Error().Err(derr).Uint("participant_id", p.ID).Msg("deactivate after failed issue")
		}
		return nil, fmt.Errorf("issue token: %w", err)
	}
	metrics.ParticipantsRegistered.Inc()
	g.publish(roomID, Event{Type: EventJoin, RoomID: roomID, Participant: p})
	return &Registration{Participant: p, Token: token}, nil
}

// PostMessage 以 claimedID 的身份向房间追加消息。actualID 是调用方会话解析出的参与者，
// 文本原样保存。
func (g *Gateway) PostMessage(ctx context.Context, actualID, roomID, claimedID uint, text string) (*models.Message, error) {
	p, err := g.authorize(ctx, "post", actualID, roomID, claimedID)
	if err != nil {
		return nil, err
	}
	if err := g.validate.Struct(postInput{Text: strings.TrimSpace(text)}); err != nil {
		return nil, validationError(err)
	}
	g.postMu.Lock()
	defer g.postMu.Unlock()
	m := &models.Message{RoomID: roomID, ParticipantID: p.ID, Text: text}
	if err := g.store.CreateMessage(ctx, m); err != nil {
		return nil, err
	}
	metrics.MessagesPosted.Inc()
	g.publish(roomID, Event{Type: EventMessage, RoomID: roomID, Message: m})
	return m, nil
}

// Logout 将 claimedID 置为离线并吊销其会话，鉴权规则与 PostMessage 相同。
func (g *Gateway) Logout(ctx context.Context, actualID, roomID, claimedID uint) error {
	p, err := g.authorize(ctx, "logout", actualID, roomID, claimedID)
	if err != nil {
		return err
	}
	if err := g.store.DeactivateParticipant(ctx, p.ID); err != nil {
		return err
	}
	// Resolve 也会拒绝离线参与者，吊销失败不会留下可用会话。
	if err := g.issuer.Revoke(ctx, p.ID); err != nil {
		log.Warn().Err(err).Uint("participant_id", p.ID).Msg("revoke sessions")
	}
	p.Active = false
	g.publish(roomID, Event{Type: EventLeave, RoomID: roomID, Participant: p})
	return nil
}

// authorize 返回调用方可代表的参与者，否则返回 ErrDenied。检查顺序固定，
// 任何失败对调用方都表现一致。
func (g *Gateway) authorize(ctx context.Context, op string, actualID, roomID, claimedID uint) (*models.Participant, error) {
	if actualID == 0 || actualID != claimedID {
		return nil, g.deny(op, actualID, roomID, claimedID, "identity mismatch")
	}
	p, err := g.store.GetParticipant(ctx, claimedID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, g.deny(op, actualID, roomID, claimedID, "unknown participant")
		}
		return nil, err
	}
	if p.RoomID != roomID {
		return nil, g.deny(op, actualID, roomID, claimedID, "room mismatch")
	}
	if !p.Active {
		return nil, g.deny(op, actualID, roomID, claimedID, "inactive participant")
	}
	return p, nil
}

func (g *Gateway) deny(op string, actualID, roomID, claimedID uint, reason string) error {
	metrics.AuthorizationDenied.WithLabelValues(op).Inc()
	log.Warn().Str("op", op).Uint("actual", actualID).Uint("claimed", claimedID).
		Uint("room_id", roomID).Str("reason", reason).Msg("authorization denied")
	return ErrDenied
}

func (g *Gateway) publish(roomID uint, evt Event) {
	if g.notifier != nil {
		g.notifier.Publish(roomID, evt)
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := "invalid"
		switch fe.Tag() {
		case "required":
			reason = "This field is required."
		case "max":
			reason = fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
		}
		return &ValidationError{Field: fe.Field(), Reason: reason}
	}
	return &ValidationError{Field: "", Reason: err.Error()}
}
