package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"chatgateway/internal/auth"
	"chatgateway/internal/directory"
	"chatgateway/internal/invite"
	"chatgateway/internal/models"
	"chatgateway/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Notifier 把 HTTP 侧发生的事件转发给在线连接。
type Notifier interface {
	NotifyInvitationAccepted(inv models.Invitation)
}

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	accounts    *service.AccountService
	invites     *invite.Store
	notify      Notifier
	frontendURL string
}

func NewHandler(accounts *service.AccountService, invites *invite.Store, notify Notifier, frontendURL string) *Handler {
	return &Handler{accounts: accounts, invites: invites, notify: notify, frontendURL: frontendURL}
}

func failJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "message": msg})
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		failJSON(c, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.accounts.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.authError(c, err, "registration failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "access_token": result.AccessToken, "user": result.User})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		failJSON(c, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.authError(c, err, "login failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "access_token": result.AccessToken, "user": result.User})
}

func (h *Handler) authError(c *gin.Context, err error, fallback string) {
	switch {
	case service.IsValidation(err):
		failJSON(c, http.StatusBadRequest, err.Error())
	case service.IsConflict(err):
		failJSON(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		failJSON(c, http.StatusUnauthorized, err.Error())
	default:
		log.Error().Err(err).Msg(fallback)
		failJSON(c, http.StatusInternalServerError, fallback)
	}
}

// Validate 校验 token 并确认账号仍然存在。
func (h *Handler) Validate(c *gin.Context) {
	id, err := h.accounts.Validate(c.Request.Context(), auth.BearerToken(c))
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, directory.ErrNotFound) {
			log.Error().Err(err).Msg("validate token")
		}
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "valid": false, "message": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "valid": true, "user": id})
}

// Profile 返回中间件解析出的当前身份。
func (h *Handler) Profile(c *gin.Context) {
	id, _ := auth.GetIdentity(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "user": id})
}

func (h *Handler) view(inv models.Invitation) invite.View { return invite.NewView(inv, h.frontendURL) }

func (h *Handler) views(list []models.Invitation) []invite.View {
	out := make([]invite.View, 0, len(list))
	for _, inv := range list {
		out = append(out, h.view(inv))
	}
	return out
}

func (h *Handler) invitationError(c *gin.Context, err error) {
	var state *invite.StateError
	switch {
	case errors.Is(err, invite.ErrNotFound):
		failJSON(c, http.StatusNotFound, "Invitation not found")
	case errors.As(err, &state):
		failJSON(c, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("invitation")
		failJSON(c, http.StatusInternalServerError, "invitation request failed")
	}
}

// CreateInvitation 以当前登录用户为邀请人创建邀请。
func (h *Handler) CreateInvitation(c *gin.Context) {
	var req struct {
		InviteeEmail string `json:"inviteeEmail"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		failJSON(c, http.StatusBadRequest, "invalid payload")
		return
	}
	email := strings.TrimSpace(req.InviteeEmail)
	if !service.ValidEmail(email) {
		failJSON(c, http.StatusBadRequest, "Invalid email format")
		return
	}
	id, _ := auth.GetIdentity(c)
	inv, err := h.invites.Create(id.Username, email)
	if err != nil {
		h.invitationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "invitation": h.view(inv), "message": "Invitation created successfully"})
}

func (h *Handler) GetInvitation(c *gin.Context) {
	inv, err := h.invites.Lookup(c.Param("token"))
	if err != nil {
		h.invitationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "invitation": h.view(inv)})
}

// AcceptInvitation 接受邀请并通知在线的邀请人。
func (h *Handler) AcceptInvitation(c *gin.Context) {
	inv, err := h.invites.Accept(c.Param("token"))
	if err != nil {
		h.invitationError(c, err)
		return
	}
	if h.notify != nil {
		h.notify.NotifyInvitationAccepted(inv)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Invitation accepted successfully"})
}

func (h *Handler) RejectInvitation(c *gin.Context) {
	if _, err := h.invites.Reject(c.Param("token")); err != nil {
		h.invitationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Invitation rejected"})
}

// ListUserInvitations 只允许查询自己发出的邀请。
func (h *Handler) ListUserInvitations(c *gin.Context) {
	id, _ := auth.GetIdentity(c)
	username := c.Param("username")
	if !strings.EqualFold(username, id.Username) {
		failJSON(c, http.StatusForbidden, "forbidden")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "invitations": h.views(h.invites.ListByInviter(username))})
}

func (h *Handler) ListEmailInvitations(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		failJSON(c, http.StatusBadRequest, "Email parameter is required")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "invitations": h.views(h.invites.PendingForEmail(email))})
}

// DeleteInvitation 只有邀请人本人可以删除。
func (h *Handler) DeleteInvitation(c *gin.Context) {
	id, _ := auth.GetIdentity(c)
	inv, err := h.invites.Lookup(c.Param("token"))
	if err != nil {
		h.invitationError(c, err)
		return
	}
	if !strings.EqualFold(inv.InviterUsername, id.Username) {
		failJSON(c, http.StatusForbidden, "forbidden")
		return
	}
	if !h.invites.Delete(inv.Token) {
		failJSON(c, http.StatusNotFound, "Invitation not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Invitation deleted successfully"})
}

func (h *Handler) InvitationStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": h.invites.Stats()})
}

func (h *Handler) CleanupInvitations(c *gin.Context) {
	n := h.invites.CleanupExpired()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": fmt.Sprintf("Cleaned up %d expired invitations", n), "count": n})
}
