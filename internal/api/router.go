package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/fitfinder/internal/api/handler"
	"github.com/timmy/fitfinder/internal/api/middleware"
	"github.com/timmy/fitfinder/internal/logger"
)

// Handlers bundles the HTTP handlers served by the router. Admin may be nil.
type Handlers struct {
	Search  *handler.SearchHandler
	Product *handler.ProductHandler
	Health  *handler.HealthHandler
	Admin   *handler.AdminHandler
}

// RouterConfig holds router settings.
type RouterConfig struct {
	Mode    string
	CORS    middleware.CORSConfig
	Session middleware.SessionConfig
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(log *logger.Logger, h Handlers, cfg RouterConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cfg.CORS))

	r.GET("/health", h.Health.Health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health/upstreams", h.Health.Upstreams)

		search := v1.Group("/search", middleware.Session(cfg.Session))
		search.POST("", h.Search.Upload)
		search.GET("", h.Search.Status)
		search.DELETE("", h.Search.Reset)
		search.POST("/selection", h.Search.Select)
		search.POST("/whole-image", h.Search.WholeImage)

		v1.POST("/products", h.Product.Create)
		v1.GET("/products", h.Product.List)
		v1.GET("/products/:id", h.Product.Get)

		if h.Admin != nil {
			v1.POST("/admin/index", h.Admin.TriggerIndex)
			v1.GET("/admin/index/status", h.Admin.GetIndexStatus)
		}
	}

	return r
}
