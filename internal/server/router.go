package server

import (
	"net/http"
	"time"

	"chatgateway/internal/auth"
	"chatgateway/internal/config"
	"chatgateway/internal/gateway"
	"chatgateway/internal/metrics"
	"chatgateway/internal/mw"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, h *Handler, hub *gateway.Hub, tokens auth.TokenIssuer, limiter *mw.RL) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.FrontendURL))
	if limiter != nil {
		r.Use(limiter.Middleware())
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.Online(), "time": time.Now().UTC()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", gateway.Serve(hub))

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.GET("/auth/validate", h.Validate)

	api.GET("/invitations/token/:token", h.GetInvitation)
	api.POST("/invitations/accept/:token", h.AcceptInvitation)
	api.POST("/invitations/reject/:token", h.RejectInvitation)
	api.GET("/invitations/email", h.ListEmailInvitations)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(tokens))
	authed.GET("/auth/profile", h.Profile)
	authed.GET("/users/online", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "users": gateway.UserList(hub.ActiveSessions())})
	})
	authed.POST("/invitations", h.CreateInvitation)
	authed.GET("/invitations/user/:username", h.ListUserInvitations)
	authed.DELETE("/invitations/:token", h.DeleteInvitation)
	authed.GET("/invitations/stats", h.InvitationStats)
	authed.POST("/invitations/cleanup", h.CleanupInvitations)
	return r
}

// NewLimiter 按配置创建 IP+路由维度的限速器，调用方负责 Stop。
func NewLimiter(perSecond float64, burst int) *mw.RL {
	if perSecond <= 0 {
		return nil
	}
	return mw.NewRateLimiter(rate.Limit(perSecond), burst, 2*time.Minute)
}
