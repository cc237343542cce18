package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tasktracker/internal/pkg/metrics"
	"tasktracker/internal/pkg/token"

	"github.com/gin-gonic/gin"
)

func newGatekeeperRouter(codec *token.Codec) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Gatekeeper(codec))
	ok := func(c *gin.Context) { c.String(http.StatusOK, "ok") }
	r.GET("/tasks", ok)
	r.GET("/api/tasks", ok)
	r.GET("/dashboard", ok)
	r.GET("/dashboard/settings", ok)
	r.GET("/login", ok)
	r.GET("/healthz", ok)
	return r
}

func TestGatekeeper_NoCookieAPIPath(t *testing.T) {
	metrics.InitMetrics()
	r := newGatekeeperRouter(token.NewCodec("test-secret", time.Hour))

	for _, path := range []string{"/api/tasks", "/tasks"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), "Unauthorized") {
			t.Fatalf("%s: expected Unauthorized in body, got %s", path, w.Body.String())
		}
	}
}

func TestGatekeeper_NoCookiePagePath(t *testing.T) {
	metrics.InitMetrics()
	r := newGatekeeperRouter(token.NewCodec("test-secret", time.Hour))

	for _, path := range []string{"/dashboard", "/dashboard/settings"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusTemporaryRedirect {
			t.Fatalf("%s: expected 307, got %d", path, w.Code)
		}
		if loc := w.Header().Get("Location"); loc != LoginPath {
			t.Fatalf("%s: expected redirect to %s, got %s", path, LoginPath, loc)
		}
	}
}

func TestGatekeeper_UnprotectedPathBypasses(t *testing.T) {
	metrics.InitMetrics()
	r := newGatekeeperRouter(token.NewCodec("test-secret", time.Hour))

	for _, path := range []string{"/healthz", "/login"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
	}
}

func TestGatekeeper_ValidSessionPassesThrough(t *testing.T) {
	metrics.InitMetrics()
	codec := token.NewCodec("test-secret", time.Hour)
	r := newGatekeeperRouter(codec)

	tok, err := codec.Issue(7)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tok})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestGatekeeper_ExpiredSessionRejected(t *testing.T) {
	metrics.InitMetrics()
	expiring := token.NewCodec("test-secret", time.Nanosecond)
	tok, err := expiring.Issue(7)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	r := newGatekeeperRouter(token.NewCodec("test-secret", time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tok})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired session, got %d", w.Code)
	}
}

func TestRequireSession_InjectsUserID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	codec := token.NewCodec("test-secret", time.Hour)

	r := gin.New()
	r.GET("/me", RequireSession(codec), func(c *gin.Context) {
		c.String(http.StatusOK, "%d", c.GetInt("userID"))
	})

	tok, err := codec.Issue(42)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tok})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "42" {
		t.Fatalf("expected userID 42, got %s", w.Body.String())
	}

	// 无 Cookie 时拒绝
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cookie, got %d", w.Code)
	}
}
