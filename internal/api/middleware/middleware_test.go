package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/timmy/fitfinder/internal/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSession_ReplacesInvalidCookie(t *testing.T) {
	var seen string
	r := gin.New()
	r.Use(Session(SessionConfig{CookieName: "sid"}))
	r.GET("/", func(c *gin.Context) {
		seen = SessionID(c)
		if logger.GetSessionID(c.Request.Context()) != seen {
			t.Errorf("context session id not set")
		}
	})

	tests := []struct {
		name   string
		cookie string
		keep   bool
	}{
		{"no cookie", "", false},
		{"malformed", "not-a-uuid", false},
		{"valid", "6f1c2a8e-5d7b-4c39-9e0a-1b2c3d4e5f60", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "sid", Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if seen == "" {
				t.Fatal("no session id")
			}
			if (seen == tt.cookie) != tt.keep {
				t.Errorf("session id = %q, cookie %q", seen, tt.cookie)
			}
			cookies := w.Result().Cookies()
			if len(cookies) != 1 || cookies[0].Value != seen {
				t.Errorf("cookies = %+v", cookies)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS(CORSConfig{AllowedOrigins: []string{"https://shop.example"}}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed", http.MethodGet, "https://shop.example", http.StatusOK, "https://shop.example"},
		{"preflight", http.MethodOptions, "https://shop.example", http.StatusNoContent, "https://shop.example"},
		{"other origin", http.MethodGet, "https://evil.example", http.StatusOK, ""},
		{"no origin", http.MethodGet, "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("allow origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestLoggerMiddleware_RequestID(t *testing.T) {
	r := gin.New()
	r.Use(LoggerMiddleware(logger.GetDefault()))
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, logger.GetRequestID(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "req-42" || w.Header().Get("X-Request-ID") != "req-42" {
		t.Errorf("body %q, header %q", w.Body.String(), w.Header().Get("X-Request-ID"))
	}
}
