package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tasktracker/internal/model"
	"tasktracker/internal/pkg/password"
	"tasktracker/internal/pkg/token"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type mockUserStore struct {
	users       map[string]*model.User
	nextID      uint
	createCalls int
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: map[string]*model.User{}, nextID: 1}
}

func (m *mockUserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, ok := m.users[email]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (m *mockUserStore) Create(ctx context.Context, user *model.User) error {
	m.createCalls++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	m.nextID++
	m.users[user.Email] = user
	return nil
}

func newAuthRouter(store UserStore) (*gin.Engine, *Handler) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(store, token.NewCodec("test-secret", 24*time.Hour), false, logger)

	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/logout", h.Logout)
	return r, h
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegister_Normal(t *testing.T) {
	store := newMockUserStore()
	r, _ := newAuthRouter(store)

	w := postJSON(r, "/auth/register", `{"email":"A@X.com","password":"Password123"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	user, ok := store.users["a@x.com"]
	if !ok {
		t.Fatalf("expected email to be lowercased before storage")
	}
	if user.Password == "Password123" {
		t.Fatalf("password stored in plaintext")
	}
	if !password.Verify("Password123", user.Password) {
		t.Fatalf("stored hash does not verify the plaintext")
	}
	if strings.Contains(w.Body.String(), user.Password) {
		t.Fatalf("response leaks password hash")
	}
	if !strings.Contains(w.Body.String(), "a@x.com") {
		t.Fatalf("expected user projection in response, got %s", w.Body.String())
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	store := newMockUserStore()
	store.users["a@x.com"] = &model.User{ID: 1, Email: "a@x.com", Password: "hash"}
	r, _ := newAuthRouter(store)

	w := postJSON(r, "/auth/register", `{"email":"A@X.com","password":"Password123"}`)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "DUPLICATE_EMAIL") {
		t.Fatalf("expected DUPLICATE_EMAIL code, got %s", w.Body.String())
	}
	if store.createCalls != 0 {
		t.Fatalf("expected no create on duplicate email")
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	cases := []struct {
		name string
		pw   string
	}{
		{"too short", "Pw1"},
		{"no uppercase", "password123"},
		{"no digit", "Passwordabc"},
	}
	for _, tc := range cases {
		store := newMockUserStore()
		r, _ := newAuthRouter(store)

		w := postJSON(r, "/auth/register", `{"email":"a@x.com","password":"`+tc.pw+`"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, w.Code)
		}
		if store.createCalls != 0 {
			t.Fatalf("%s: expected no create on weak password", tc.name)
		}
	}
}

func TestLogin_Normal(t *testing.T) {
	hash, err := password.Hash("Password123")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	store := newMockUserStore()
	store.users["a@x.com"] = &model.User{ID: 1, Email: "a@x.com", Password: hash}
	r, _ := newAuthRouter(store)

	w := postJSON(r, "/auth/login", `{"email":"A@X.com","password":"Password123"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	setCookie := w.Header().Get("Set-Cookie")
	for _, want := range []string{"session=", "HttpOnly", "Max-Age=86400", "Path=/", "SameSite=Lax"} {
		if !strings.Contains(setCookie, want) {
			t.Fatalf("expected cookie attribute %q, got %s", want, setCookie)
		}
	}
	if !strings.Contains(w.Body.String(), "Logged in successfully") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), hash) {
		t.Fatalf("response leaks password hash")
	}
}

func TestLogin_IdenticalErrorForUnknownEmailAndWrongPassword(t *testing.T) {
	hash, err := password.Hash("Password123")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	store := newMockUserStore()
	store.users["a@x.com"] = &model.User{ID: 1, Email: "a@x.com", Password: hash}
	r, _ := newAuthRouter(store)

	unknown := postJSON(r, "/auth/login", `{"email":"nobody@x.com","password":"Password123"}`)
	wrongPw := postJSON(r, "/auth/login", `{"email":"a@x.com","password":"WrongPass1"}`)

	if unknown.Code != http.StatusUnauthorized || wrongPw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", unknown.Code, wrongPw.Code)
	}
	if !bytes.Equal(unknown.Body.Bytes(), wrongPw.Body.Bytes()) {
		t.Fatalf("login failure bodies differ: %s vs %s", unknown.Body.String(), wrongPw.Body.String())
	}
}

func TestLogout_ClearsCookie(t *testing.T) {
	r, _ := newAuthRouter(newMockUserStore())

	w := postJSON(r, "/auth/logout", ``)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	setCookie := w.Header().Get("Set-Cookie")
	if !strings.Contains(setCookie, "session=") || !strings.Contains(setCookie, "Max-Age=0") {
		t.Fatalf("expected cleared session cookie, got %s", setCookie)
	}
}

func TestLogin_SessionTokenRecoversSubject(t *testing.T) {
	hash, err := password.Hash("Password123")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	store := newMockUserStore()
	store.users["a@x.com"] = &model.User{ID: 9, Email: "a@x.com", Password: hash}
	r, h := newAuthRouter(store)

	w := postJSON(r, "/auth/login", `{"email":"a@x.com","password":"Password123"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var sessionValue string
	for _, ck := range w.Result().Cookies() {
		if ck.Name == "session" {
			sessionValue = ck.Value
		}
	}
	if sessionValue == "" {
		t.Fatalf("expected session cookie to be set")
	}

	claims := h.codec.Verify(sessionValue)
	if claims == nil {
		t.Fatalf("expected issued token to verify")
	}
	uid, ok := claims.UserID()
	if !ok || uid != 9 {
		t.Fatalf("expected subject 9, got %d", uid)
	}

	var body struct {
		User model.UserProjection `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.User.ID != 9 {
		t.Fatalf("expected user id 9 in projection, got %d", body.User.ID)
	}
}
