package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/timmy/fitfinder/internal/logger"
)

const sessionKey = "session_id"

// SessionConfig configures the anonymous session cookie.
type SessionConfig struct {
	CookieName string
	Secure     bool
	MaxAge     time.Duration
}

// Session assigns every browser an anonymous session id kept in a cookie.
// A missing or malformed cookie is replaced with a fresh uuid.
func Session(cfg SessionConfig) gin.HandlerFunc {
	if cfg.CookieName == "" {
		cfg.CookieName = "fitfinder_session"
	}
	return func(c *gin.Context) {
		id, err := c.Cookie(cfg.CookieName)
		if err == nil {
			_, err = uuid.Parse(id)
		}
		if err != nil {
			id = uuid.New().String()
		}

		// Refresh on every request so the cookie outlives idle expiry checks.
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     cfg.CookieName,
			Value:    id,
			Path:     "/",
			MaxAge:   int(cfg.MaxAge.Seconds()),
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: http.SameSiteLaxMode,
		})

		c.Set(sessionKey, id)
		c.Request = c.Request.WithContext(logger.SetSessionID(c.Request.Context(), id))
		c.Next()
	}
}

// SessionID returns the session id assigned by Session, or "".
func SessionID(c *gin.Context) string {
	return c.GetString(sessionKey)
}
