package server

import (
	"net/http"
	"time"

	"github.com/d1618033/simplechat/internal/auth"
	"github.com/d1618033/simplechat/internal/chat"
	"github.com/d1618033/simplechat/internal/config"
	"github.com/d1618033/simplechat/internal/metrics"
	"github.com/d1618033/simplechat/internal/mw"
	"github.com/d1618033/simplechat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
// 返回的限速器需在停服时 Stop。
func SetupRouter(cfg config.Config, gw *chat.Gateway, iss *auth.Issuer, hub *ws.Hub) (*gin.Engine, *mw.RL) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	rl := mw.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, 2*time.Minute)
	r.Use(rl.Middleware())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(gw, hub, time.Duration(cfg.SessionTTLMinutes)*time.Minute, cfg.Env != "dev")
	api := r.Group("/api/v1")

	api.POST("/rooms", h.CreateRoom)
	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:id", h.GetRoom)
	api.POST("/register", h.Register)
	api.GET("/messages", h.ListMessages)
	api.GET("/messages/:id", h.GetMessage)
	api.GET("/participants", h.ListParticipants)
	api.GET("/participants/:id", h.GetParticipant)

	// 以参与者身份执行的写操作，需要有效会话。
	authed := api.Group("")
	authed.Use(auth.RequireSession(iss))
	authed.POST("/messages", h.PostMessage)
	authed.POST("/logout", h.Logout)

	r.GET("/ws", ws.Serve(hub, iss))
	return r, rl
}
