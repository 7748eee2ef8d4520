package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axellelanca/shortlink/internal/cache"
	"github.com/axellelanca/shortlink/internal/config"
	"github.com/axellelanca/shortlink/internal/database"
	apperrors "github.com/axellelanca/shortlink/internal/errors"
	"github.com/axellelanca/shortlink/internal/models"
	"github.com/axellelanca/shortlink/internal/notify"
	"github.com/axellelanca/shortlink/internal/repository"
	"github.com/axellelanca/shortlink/internal/services"
	"github.com/axellelanca/shortlink/internal/shortkey"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stack struct {
	router     *gin.Engine
	cache      *cache.ResolutionCache
	dispatcher *notify.Dispatcher
	redis      *miniredis.Miniredis
	hooks      chan notify.Payload
	webhookURL string
}

// newStack wires the real service over sqlite, miniredis and a webhook sink.
func newStack(t *testing.T) *stack {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Driver: config.DriverSQLite, Name: filepath.Join(t.TempDir(), "api.db")})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hooks := make(chan notify.Payload, 16)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p notify.Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		hooks <- p
	}))
	t.Cleanup(sink.Close)

	repo := repository.NewLinkRepository(db)
	rc := cache.NewResolutionCache(rdb, repo)
	d := notify.NewDispatcher(config.NotifyConfig{MaxConcurrent: 4, Timeout: time.Second}, nil)
	svc := services.NewLinkService(repo, rc, d)

	h := NewHandler(svc, "https://sho.rt/", func(ctx context.Context) error { return database.Ping(ctx, db) }, rc.Ping)
	router := gin.New()
	SetupRoutes(router, h)

	t.Cleanup(func() {
		rc.Wait()
		d.Wait()
	})
	return &stack{router: router, cache: rc, dispatcher: d, redis: mr, hooks: hooks, webhookURL: sink.URL}
}

func (s *stack) do(method, path string, body any, header ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestCreateThenRedirect(t *testing.T) {
	s := newStack(t)

	body := map[string]string{
		"iosDeepLink":        "myapp://item/7",
		"iosFallbackUrl":     "https://apps.apple.com/app/id1",
		"defaultFallbackUrl": "https://example.com/item/7",
		"webhookUrl":         s.webhookURL,
		"ogTitle":            "Item <7>",
		"ogDescription":      "",
	}

	w := s.do(http.MethodPost, "/v1/urls", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[CreateLinkResponse](t, w)
	assert.Equal(t, "URL created successfully", created.Message)
	assert.Equal(t, "https://sho.rt/"+created.ShortKey, created.ShortURL)

	w = s.do(http.MethodPost, "/v1/urls", body)
	require.Equal(t, http.StatusOK, w.Code)
	again := decode[CreateLinkResponse](t, w)
	assert.Equal(t, "URL already exists", again.Message)
	assert.Equal(t, created.ShortKey, again.ShortKey)

	w = s.do(http.MethodGet, "/"+created.ShortKey, nil, "User-Agent", "Mozilla/5.0 (iPhone)")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	page := w.Body.String()
	assert.Contains(t, page, `<meta property="og:title" content="Item &lt;7&gt;">`)
	assert.NotContains(t, page, "og:description")
	assert.Contains(t, page, "https://example.com/item/7")
	assert.Contains(t, page, "myapp:")

	select {
	case p := <-s.hooks:
		assert.Equal(t, notify.Payload{ShortKey: created.ShortKey, UserAgent: "Mozilla/5.0 (iPhone)"}, p)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}

	s.cache.Wait()
	assert.True(t, s.redis.Exists("urls:"+created.ShortKey))
}

func TestCreate_Rejections(t *testing.T) {
	s := newStack(t)
	cases := map[string]map[string]string{
		"missing default": {"iosDeepLink": "myapp://x"},
		"not a url":       {"defaultFallbackUrl": "example"},
		"long title":      {"defaultFallbackUrl": "https://example.com", "ogTitle": strings.Repeat("a", 256)},
		"bad webhook":     {"defaultFallbackUrl": "https://example.com", "webhookUrl": "mailto:a@b.c"},
		"app default":     {"defaultFallbackUrl": "myapp://open/x"},
		"app fallback":    {"defaultFallbackUrl": "https://example.com", "iosFallbackUrl": "myapp://open/x"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/v1/urls", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/urls", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRedirect_BadAndUnknownKeys(t *testing.T) {
	s := newStack(t)

	for _, key := range []string{"abcd", "ab-cd1", "%C3%A9abcde"} {
		w := s.do(http.MethodGet, "/"+key, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, key)
	}

	w := s.do(http.MethodPost, "/v1/urls", map[string]string{"defaultFallbackUrl": "https://example.com/a"})
	require.Equal(t, http.StatusCreated, w.Code)
	key := decode[CreateLinkResponse](t, w).ShortKey

	// Same id, different salt.
	forged := "Zz" + key[2:len(key)-2] + "Zz"
	if forged == key {
		forged = "Yy" + key[2:len(key)-2] + "Yy"
	}
	huge := shortkey.Encode("AbXy", 1<<63)
	for _, k := range []string{forged, "AA999999AA", huge, "AbAzL8n0Y58m8Xy"} {
		w := s.do(http.MethodGet, "/"+k, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, k)
		assert.JSONEq(t, `{"error":"URL not found"}`, w.Body.String())
	}
}

func TestHealthAndReady(t *testing.T) {
	s := newStack(t)

	w := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","version":"dev"}`, w.Body.String())

	w = s.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","database":"connected","cache":"connected"}`, w.Body.String())

	s.redis.Close()
	w = s.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded","database":"connected","cache":"disconnected"}`, w.Body.String())
}

func TestRedirect_SurvivesCacheOutage(t *testing.T) {
	s := newStack(t)
	w := s.do(http.MethodPost, "/v1/urls", map[string]string{"defaultFallbackUrl": "https://example.com/b"})
	require.Equal(t, http.StatusCreated, w.Code)
	key := decode[CreateLinkResponse](t, w).ShortKey

	s.redis.Close()
	w = s.do(http.MethodGet, "/"+key, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

type failingService struct{ err error }

func (f failingService) CreateLink(context.Context, models.LinkDraft) (*services.CreateResult, error) {
	return nil, f.err
}

func (f failingService) Redirect(context.Context, string, notify.RequestMetadata, services.RenderFunc) ([]byte, error) {
	return nil, f.err
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{apperrors.ValidationError{Field: "defaultFallbackUrl", Reason: "required"}, http.StatusBadRequest},
		{apperrors.ErrLinkNotFound, http.StatusNotFound},
		{apperrors.ConsistencyError{Fingerprint: "f"}, http.StatusInternalServerError},
		{apperrors.ErrSaltGenerationFailed, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		router := gin.New()
		SetupRoutes(router, NewHandler(failingService{tc.err}, "http://x", nil, nil))

		b, _ := json.Marshal(map[string]string{"defaultFallbackUrl": "https://example.com"})
		req := httptest.NewRequest(http.MethodPost, "/v1/urls", bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, tc.code, w.Code, tc.err.Error())
		if tc.code == http.StatusInternalServerError {
			assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
		}
	}
}

func TestRenderRedirect_EscapesFields(t *testing.T) {
	title := `"><script>alert(1)</script>`
	page, err := RenderRedirect(&models.LinkProjection{
		DefaultFallbackURL: "https://example.com/?q=1&r=2",
		OGTitle:            &title,
	})
	require.NoError(t, err)
	assert.NotContains(t, string(page), "<script>alert(1)")
	assert.Contains(t, string(page), "&lt;script&gt;")
}

func TestRenderRedirect_KeepsFallbackHrefAndAppDeepLinks(t *testing.T) {
	deep := "myapp://open/x"
	page, err := RenderRedirect(&models.LinkProjection{
		DefaultFallbackURL: "https://example.com/landing",
		IOSDeepLink:        &deep,
	})
	require.NoError(t, err)
	html := string(page)
	assert.Contains(t, html, `href="https://example.com/landing"`)
	assert.Contains(t, html, `url=https://example.com/landing`)
	assert.NotContains(t, html, "ZgotmplZ")
	assert.Contains(t, html, `iosDeepLink: "myapp://open/x"`)
}
