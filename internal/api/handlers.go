package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	apperrors "github.com/axellelanca/shortlink/internal/errors"
	"github.com/axellelanca/shortlink/internal/logger"
	"github.com/axellelanca/shortlink/internal/models"
	"github.com/axellelanca/shortlink/internal/notify"
	"github.com/axellelanca/shortlink/internal/services"
	"github.com/axellelanca/shortlink/internal/shortkey"
)

// Version is reported by /health. Overridden at build time with -ldflags.
var Version = "dev"

// LinkService is what the handlers need from the service layer.
type LinkService interface {
	CreateLink(ctx context.Context, draft models.LinkDraft) (*services.CreateResult, error)
	Redirect(ctx context.Context, shortKey string, meta notify.RequestMetadata, render services.RenderFunc) ([]byte, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger func(ctx context.Context) error

// Handler holds the dependencies of every route.
type Handler struct {
	links   LinkService
	baseURL string
	db      Pinger
	cache   Pinger
	log     *logrus.Entry
}

// NewHandler wires the handlers. db and cache are used by /ready.
func NewHandler(links LinkService, baseURL string, db, cache Pinger) *Handler {
	return &Handler{
		links:   links,
		baseURL: strings.TrimRight(baseURL, "/"),
		db:      db,
		cache:   cache,
		log:     logger.For("api"),
	}
}

var registerValidators sync.Once

// SetupRoutes configures all Gin routes on router.
//   - GET  /health      liveness
//   - GET  /ready       database and cache connectivity
//   - POST /v1/urls     create or find a short link
//   - GET  /:shortKey   redirect page
func SetupRoutes(router gin.IRouter, h *Handler) {
	registerValidators.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("shortkey", validShortKey)
		}
	})

	router.GET("/health", h.HealthCheckHandler)
	router.GET("/ready", h.ReadinessHandler)

	v1 := router.Group("/v1")
	{
		v1.POST("/urls", h.CreateShortLinkHandler)
	}

	router.GET("/:shortKey", h.RedirectHandler)
}

// validShortKey accepts ASCII alphanumeric strings of at least shortkey.MinLen.
func validShortKey(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return len(s) >= shortkey.MinLen && shortkey.IsAlphanumeric(s)
}

// HealthCheckHandler answers as long as the process is serving.
func (h *Handler) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
}

// ReadinessHandler pings the database and the cache.
func (h *Handler) ReadinessHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbOK := h.db == nil || h.db(ctx) == nil
	cacheOK := h.cache == nil || h.cache(ctx) == nil

	status, code := "ok", http.StatusOK
	if !dbOK || !cacheOK {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"database": connState(dbOK),
		"cache":    connState(cacheOK),
	})
}

func connState(ok bool) string {
	if ok {
		return "connected"
	}
	return "disconnected"
}

// CreateLinkRequest is the JSON body of POST /v1/urls. Empty strings count as absent.
type CreateLinkRequest struct {
	IOSDeepLink        string `json:"iosDeepLink" binding:"omitempty,url"`
	IOSFallbackURL     string `json:"iosFallbackUrl" binding:"omitempty,http_url"`
	AndroidDeepLink    string `json:"androidDeepLink" binding:"omitempty,url"`
	AndroidFallbackURL string `json:"androidFallbackUrl" binding:"omitempty,http_url"`
	DefaultFallbackURL string `json:"defaultFallbackUrl" binding:"required,http_url"`
	WebhookURL         string `json:"webhookUrl" binding:"omitempty,http_url"`
	OGTitle            string `json:"ogTitle" binding:"max=255"`
	OGDescription      string `json:"ogDescription" binding:"max=500"`
	OGImageURL         string `json:"ogImageUrl" binding:"omitempty,http_url"`
}

func (r CreateLinkRequest) draft() models.LinkDraft {
	return models.LinkDraft{
		IOSDeepLink:        r.IOSDeepLink,
		IOSFallbackURL:     r.IOSFallbackURL,
		AndroidDeepLink:    r.AndroidDeepLink,
		AndroidFallbackURL: r.AndroidFallbackURL,
		DefaultFallbackURL: r.DefaultFallbackURL,
		WebhookURL:         r.WebhookURL,
		OGTitle:            r.OGTitle,
		OGDescription:      r.OGDescription,
		OGImageURL:         r.OGImageURL,
	}
}

// CreateLinkResponse is returned for both new and existing links.
type CreateLinkResponse struct {
	Message  string `json:"message"`
	ShortKey string `json:"short_key"`
	ShortURL string `json:"short_url"`
}

// CreateShortLinkHandler stores a link, or finds the identical live one.
// It answers 201 for a new link and 200 for an existing one.
func (h *Handler) CreateShortLinkHandler(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	res, err := h.links.CreateLink(c.Request.Context(), req.draft())
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	resp := CreateLinkResponse{
		Message:  "URL already exists",
		ShortKey: res.ShortKey,
		ShortURL: h.baseURL + "/" + res.ShortKey,
	}
	code := http.StatusOK
	if res.Created {
		resp.Message = "URL created successfully"
		code = http.StatusCreated
	}
	c.JSON(code, resp)
}

type shortKeyURI struct {
	ShortKey string `uri:"shortKey" binding:"required,shortkey"`
}

// RedirectHandler serves the redirect page of a short key. The webhook is
// notified after the page is rendered; its outcome never changes the response.
func (h *Handler) RedirectHandler(c *gin.Context) {
	var uri shortKeyURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "short key must be at least 5 English letters or digits"})
		return
	}

	ua := c.GetHeader("User-Agent")
	if ua == "" {
		ua = "Unknown"
	}

	page, err := h.links.Redirect(c.Request.Context(), uri.ShortKey, notify.RequestMetadata{UserAgent: ua}, RenderRedirect)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

// abortWithError maps the error taxonomy to HTTP. Server-side details are
// logged, never returned.
func (h *Handler) abortWithError(c *gin.Context, err error) {
	var verr apperrors.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, apperrors.ErrInvalidShortKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrLinkNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "URL not found"})
	default:
		h.log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
