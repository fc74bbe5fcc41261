package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cityheroes/wecom-passbot/internal/config"
	"github.com/cityheroes/wecom-passbot/internal/domain"
	"github.com/cityheroes/wecom-passbot/internal/http/handlers"
	"github.com/cityheroes/wecom-passbot/internal/http/middleware"
	"github.com/cityheroes/wecom-passbot/internal/services"
)

type stubCrypto struct{}

func (stubCrypto) VerifyURL(sig, ts, nonce, echostr string) (string, error) { return "echo", nil }
func (stubCrypto) DecryptMessage(sig, ts, nonce, enc string) ([]byte, error) {
	return []byte("<xml><Event>none</Event></xml>"), nil
}

type stubDeliverer struct{}

func (stubDeliverer) HandleGroupJoin(ctx context.Context, subjectID, chatID string) (*services.DeliveryResult, error) {
	return &services.DeliveryResult{Status: services.StatusDelivered}, nil
}

func newTestRouter(t *testing.T, mutate ...func(*config.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.RateRPS = 1000
	cfg.RateBurst = 1000
	for _, m := range mutate {
		m(&cfg)
	}

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("router_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.Assignment{}, &domain.InventoryItem{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	r := gin.New()
	RegisterRoutes(r, Deps{
		Webhook: handlers.NewWebhookHandlers(stubCrypto{}, stubDeliverer{}),
		Admin:   handlers.NewAdminHandlers(db, services.NewInventoryService(db)),
	}, cfg)
	return r
}

func TestRouter_Healthz(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRouter_NoRouteEnvelope(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var resp handlers.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != handlers.ErrCodeNotFound {
		t.Fatalf("unexpected code: %+v", resp)
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/healthz", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestRouter_AdminGatedByToken(t *testing.T) {
	r := newTestRouter(t, func(cfg *config.Config) { cfg.AdminToken = "s3cret" })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set(middleware.HeaderAdminToken, "wrong")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set(middleware.HeaderAdminToken, "s3cret")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRouter_CallbackVerifyWired(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/wecom/callback?echostr=x", nil))
	if w.Code != http.StatusOK || w.Body.String() != "echo" {
		t.Fatalf("verify route not wired: %d %q", w.Code, w.Body.String())
	}
}

func TestRouter_RequestIDHeaderSet(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID on every response")
	}
}
