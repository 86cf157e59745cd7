// Package auth implements the passwordless magic-link flow: request a
// single-use login token by email, consume it once to obtain a session.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Specs7/LFIWEB/internal/api/middleware"
	"github.com/Specs7/LFIWEB/internal/api/session"
	"github.com/Specs7/LFIWEB/internal/model"
	"github.com/Specs7/LFIWEB/internal/pkg/notify"
	"github.com/Specs7/LFIWEB/internal/pkg/ratelimit"
)

// Redirect targets for the browser side of the flow.
const (
	RequestPath = "/admin/request"
	ManagePath  = "/admin/manage"
)

// Handler provides the magic-link endpoints.
type Handler struct {
	db       *gorm.DB
	mailer   notify.Mailer
	sessions *session.Manager
	limiter  ratelimit.Limiter
	siteURL  string
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewHandler creates an auth Handler.
func NewHandler(db *gorm.DB, mailer notify.Mailer, sessions *session.Manager,
	limiter ratelimit.Limiter, siteURL string, tokenTTL time.Duration, logger *slog.Logger) *Handler {
	if tokenTTL <= 0 {
		tokenTTL = 2 * time.Hour
	}
	return &Handler{
		db:       db,
		mailer:   mailer,
		sessions: sessions,
		limiter:  limiter,
		siteURL:  strings.TrimRight(siteURL, "/"),
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

type requestTokenRequest struct {
	Email string `json:"email"`
}

// RequestToken issues a login link for the given email.
//
// POST /auth/request-token
//
// The response is {"status":"ok"} on every path, including invalid input,
// rate-limited callers and delivery failures, so the endpoint cannot be used
// to enumerate accounts or probe limiter state.
func (h *Handler) RequestToken(c *gin.Context) {
	var req requestTokenRequest
	_ = c.ShouldBindJSON(&req)

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	key := rateLimitKey(c)
	if h.limiter != nil && h.limiter.IsLimited(c.Request.Context(), key) {
		h.logger.Warn("rate limited request-token", slog.String("key", key))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	ctx := c.Request.Context()
	user := model.User{Email: email, Role: "editor"}
	if err := h.db.WithContext(ctx).Where("email = ?", email).FirstOrCreate(&user).Error; err != nil {
		h.logger.Error("lookup or create user failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	raw, err := generateToken()
	if err != nil {
		h.logger.Error("generate token failed", slog.String("error", err.Error()))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	row := model.LoginToken{
		UserID:    user.ID,
		TokenHash: hashToken(raw),
		ExpiresAt: time.Now().Add(h.tokenTTL),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if err := h.db.WithContext(ctx).Create(&row).Error; err != nil {
		h.logger.Error("store login token failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	link := fmt.Sprintf("%s/auth/consume?token=%s&uid=%d", h.siteURL, raw, user.ID)
	if err := h.mailer.SendMagicLink(email, link); err != nil {
		// Delivery is best-effort; the caller still sees success.
		h.logger.Warn("send magic link failed", slog.String("email", email), slog.String("error", err.Error()))
	} else {
		h.logger.Info("login token issued", slog.String("email", email), slog.Uint64("user_id", uint64(user.ID)))
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Consume redeems a login token and establishes a session.
//
// GET /auth/consume?token=&uid=
//
// Unknown, expired and already-used tokens all redirect to the request form
// with no distinction, so the endpoint is not a token-validity oracle.
func (h *Handler) Consume(c *gin.Context) {
	raw := c.Query("token")
	uid := c.Query("uid")
	if raw == "" || uid == "" {
		c.Redirect(http.StatusFound, RequestPath)
		return
	}

	ctx := c.Request.Context()
	var row model.LoginToken
	err := h.db.WithContext(ctx).Where("token_hash = ?", hashToken(raw)).First(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			h.logger.Error("token lookup failed", slog.String("error", err.Error()))
		}
		c.Redirect(http.StatusFound, RequestPath)
		return
	}
	if row.Used || time.Now().After(row.ExpiresAt) {
		c.Redirect(http.StatusFound, RequestPath)
		return
	}

	// Conditional update so concurrent consumers of the same token race for
	// a single row flip; losers see zero rows affected.
	res := h.db.WithContext(ctx).Model(&model.LoginToken{}).
		Where("id = ? AND used = ?", row.ID, false).
		Update("used", true)
	if res.Error != nil {
		h.logger.Error("mark token used failed", slog.String("error", res.Error.Error()))
		c.Redirect(http.StatusFound, RequestPath)
		return
	}
	if res.RowsAffected == 0 {
		c.Redirect(http.StatusFound, RequestPath)
		return
	}

	cookie, _, err := h.sessions.Issue(row.UserID)
	if err != nil {
		h.logger.Error("issue session failed", slog.String("error", err.Error()))
		c.Redirect(http.StatusFound, RequestPath)
		return
	}
	setSessionCookie(c, cookie)
	h.logger.Info("login token consumed", slog.Uint64("user_id", uint64(row.UserID)))
	c.Redirect(http.StatusFound, ManagePath)
}

// Me reports the authenticated user, or null for anonymous callers.
//
// GET /api/me
func (h *Handler) Me(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"user": nil})
		return
	}
	var user model.User
	if err := h.db.WithContext(c.Request.Context()).
		Select("id", "email", "role").
		First(&user, userID).Error; err != nil {
		c.JSON(http.StatusOK, gin.H{"user": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": gin.H{
		"id":    user.ID,
		"email": user.Email,
		"role":  user.Role,
	}})
}

// Logout clears the session and returns to the request form.
//
// GET /admin/logout
func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie(session.CookieName, "", -1, "/", "", false, true)
	c.Redirect(http.StatusFound, RequestPath)
}

func setSessionCookie(c *gin.Context, value string) {
	c.SetCookie(session.CookieName, value, 0, "/", "", false, true)
}

func rateLimitKey(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	if v := c.GetHeader("X-Forwarded-For"); v != "" {
		return v
	}
	return "unknown"
}
