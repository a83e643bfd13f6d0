package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket subscribers",
	})
	MessagesPosted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_posted_total",
		Help: "Total number of chat messages stored",
	})
	ParticipantsRegistered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_participants_registered_total",
		Help: "Total number of participants registered into rooms",
	})
	AuthorizationDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_authorization_denied_total",
		Help: "Mutations rejected because the claimed identity did not match the session",
	}, []string{"op"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, MessagesPosted, ParticipantsRegistered, AuthorizationDenied, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
