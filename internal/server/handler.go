package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/d1618033/simplechat/internal/auth"
	"github.com/d1618033/simplechat/internal/chat"
	"github.com/d1618033/simplechat/internal/models"
	"github.com/d1618033/simplechat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，把 REST 接口映射到网关操作。
type Handler struct {
	gw           *chat.Gateway
	hub          *ws.Hub
	cookieTTL    time.Duration
	secureCookie bool
}

func NewHandler(gw *chat.Gateway, hub *ws.Hub, cookieTTL time.Duration, secureCookie bool) *Handler {
	return &Handler{gw: gw, hub: hub, cookieTTL: cookieTTL, secureCookie: secureCookie}
}

type roomDTO struct {
	ID        uint      `json:"id"`
	Online    int       `json:"online"`
	CreatedAt time.Time `json:"created_at"`
}

type messageDTO struct {
	ID            uint      `json:"id"`
	RoomID        uint      `json:"room"`
	ParticipantID uint      `json:"participant"`
	User          string    `json:"user"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
}

type participantDTO struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	RoomID uint   `json:"room"`
	Active bool   `json:"active"`
}

func toParticipantDTO(p *models.Participant) participantDTO {
	return participantDTO{ID: p.ID, Name: p.Name, RoomID: p.RoomID, Active: p.Active}
}

func (h *Handler) toRoomDTO(r *models.Room) roomDTO {
	return roomDTO{ID: r.ID, Online: h.hub.Online(r.ID), CreatedAt: r.CreatedAt}
}

// CreateRoom 处理创建房间请求。
func (h *Handler) CreateRoom(c *gin.Context) {
	room, err := h.gw.CreateRoom(c.Request.Context())
	if err != nil {
		h.fail(c, "create room", err)
		return
	}
	c.JSON(http.StatusCreated, h.toRoomDTO(room))
}

func (h *Handler) ListRooms(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	rooms, err := h.gw.ListRooms(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "list rooms", err)
		return
	}
	out := make([]roomDTO, 0, len(rooms))
	for i := range rooms {
		out = append(out, h.toRoomDTO(&rooms[i]))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

func (h *Handler) GetRoom(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	room, err := h.gw.GetRoom(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get room", err)
		return
	}
	c.JSON(http.StatusOK, h.toRoomDTO(room))
}

// Register 在房间中注册参与者，并把调用方的会话绑定到该参与者。
// token 同时写入响应体和 cookie。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Room uint   `json:"room" binding:"required"`
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	reg, err := h.gw.RegisterParticipant(c.Request.Context(), req.Room, req.Name)
	if err != nil {
		h.fail(c, "register", err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, reg.Token, int(h.cookieTTL.Seconds()), "/", "", h.secureCookie, true)
	c.JSON(http.StatusCreated, gin.H{"participant": toParticipantDTO(reg.Participant), "token": reg.Token})
}

// ListMessages 供轮询客户端使用：?room=<id>&since=<id>，since 为闭区间。
func (h *Handler) ListMessages(c *gin.Context) {
	roomID, ok := queryID(c, "room", true)
	if !ok {
		return
	}
	var since *uint
	if c.Query("since") != "" {
		v, ok := queryID(c, "since", false)
		if !ok {
			return
		}
		since = &v
	}
	msgs, err := h.gw.ListMessages(c.Request.Context(), roomID, since)
	if err != nil {
		h.fail(c, "list messages", err)
		return
	}
	names, err := h.gw.AuthorNames(c.Request.Context(), msgs)
	if err != nil {
		h.fail(c, "list messages", err)
		return
	}
	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageDTO{ID: m.ID, RoomID: m.RoomID, ParticipantID: m.ParticipantID, User: names[m.ParticipantID], Text: m.Text, CreatedAt: m.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

func (h *Handler) GetMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	m, err := h.gw.GetMessage(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get message", err)
		return
	}
	names, err := h.gw.AuthorNames(c.Request.Context(), []models.Message{*m})
	if err != nil {
		h.fail(c, "get message", err)
		return
	}
	c.JSON(http.StatusOK, messageDTO{ID: m.ID, RoomID: m.RoomID, ParticipantID: m.ParticipantID, User: names[m.ParticipantID], Text: m.Text, CreatedAt: m.CreatedAt})
}

// PostMessage 以声明的参与者身份发送消息，需要会话。
func (h *Handler) PostMessage(c *gin.Context) {
	var req struct {
		Participant uint   `json:"participant" binding:"required"`
		Room        uint   `json:"room" binding:"required"`
		Text        string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	m, err := h.gw.PostMessage(c.Request.Context(), auth.GetParticipantID(c), req.Room, req.Participant, req.Text)
	if err != nil {
		h.fail(c, "post message", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": m.ID, "room": m.RoomID, "participant": m.ParticipantID, "text": m.Text, "created_at": m.CreatedAt})
}

func (h *Handler) ListParticipants(c *gin.Context) {
	roomID, ok := queryID(c, "room", true)
	if !ok {
		return
	}
	ps, err := h.gw.ListActiveParticipants(c.Request.Context(), roomID)
	if err != nil {
		h.fail(c, "list participants", err)
		return
	}
	out := make([]participantDTO, 0, len(ps))
	for i := range ps {
		out = append(out, toParticipantDTO(&ps[i]))
	}
	c.JSON(http.StatusOK, gin.H{"participants": out})
}

func (h *Handler) GetParticipant(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.gw.GetParticipant(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get participant", err)
		return
	}
	c.JSON(http.StatusOK, toParticipantDTO(p))
}

// Logout 将声明的参与者置为离线，需要会话。
func (h *Handler) Logout(c *gin.Context) {
	var req struct {
		Participant uint `json:"participant" binding:"required"`
		Room        uint `json:"room" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.gw.Logout(c.Request.Context(), auth.GetParticipantID(c), req.Room, req.Participant); err != nil {
		h.fail(c, "logout", err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, "", -1, "/", "", h.secureCookie, true)
	c.Status(http.StatusNoContent)
}

// fail 把网关错误写成响应。拒绝一律返回相同的响应体，不暴露房间或参与者信息。
func (h *Handler) fail(c *gin.Context, op string, err error) {
	var verr *chat.ValidationError
	switch {
	case errors.Is(err, chat.ErrDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": auth.Rejected})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Reason, "field": verr.Field})
	case errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		log.Error().Err(err).Str("op", op).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathID(c *gin.Context) (uint, bool) {
	v, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(v), true
}

// queryID 从查询参数解析非负 id；required 时缺失或为 0 也视为错误。
func queryID(c *gin.Context, key string, required bool) (uint, bool) {
	v, err := strconv.ParseUint(c.Query(key), 10, 64)
	if err != nil || (required && v == 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return 0, false
	}
	return uint(v), true
}
