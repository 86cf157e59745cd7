package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Specs7/LFIWEB/internal/api/session"
	"github.com/Specs7/LFIWEB/internal/model"
)

const (
	ctxUserID = "userID"
	ctxCSRF   = "csrf"
)

// CSRFHeader must echo the session's CSRF secret on every mutating request.
const CSRFHeader = "X-CSRF-Token"

// WithSession parses the session cookie into the request context. Anonymous
// requests pass through untouched; read endpoints decide for themselves.
func WithSession(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(session.CookieName)
		if err == nil {
			if s, err := mgr.Parse(raw); err == nil {
				c.Set(ctxUserID, s.UserID)
				c.Set(ctxCSRF, s.CSRF)
			}
		}
		c.Next()
	}
}

// RequireAdmin guards mutating routes: an authenticated session (401), a
// matching CSRF header (403) and the admin role on the user row (403), in
// that order.
func RequireAdmin(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := CurrentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		header := c.GetHeader(CSRFHeader)
		if header == "" ||
			subtle.ConstantTimeCompare([]byte(header), []byte(SessionCSRF(c))) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid CSRF token"})
			c.Abort()
			return
		}

		var user model.User
		if err := db.WithContext(c.Request.Context()).
			Select("id", "role").
			First(&user, userID).Error; err != nil || user.Role != "admin" {
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentUserID returns the authenticated user id, when a session is present.
func CurrentUserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}

// SessionCSRF returns the CSRF secret of the current session, if any.
func SessionCSRF(c *gin.Context) string {
	return c.GetString(ctxCSRF)
}
