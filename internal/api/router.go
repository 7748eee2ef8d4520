package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"

	"github.com/axellelanca/shortlink/internal/config"
	"github.com/axellelanca/shortlink/internal/logger"
)

// NewRouter builds the full HTTP handler: gin engine with recovery, request
// logging and per-IP rate limiting, wrapped in CORS. The rate limiter's
// janitor runs until ctx is done.
func NewRouter(ctx context.Context, cfg *config.Config, h *Handler) http.Handler {
	if cfg.Server.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger.For("http")))

	if cfg.RateLimit.Enabled {
		store := newLimiterStore(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL)
		store.startJanitor(ctx, 2*time.Minute)
		router.Use(RateLimit(store))
	}

	SetupRoutes(router, h)

	return cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	})(router)
}
