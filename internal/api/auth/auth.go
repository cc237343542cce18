package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode"

	"tasktracker/internal/api/middleware"
	"tasktracker/internal/model"
	"tasktracker/internal/pkg/metrics"
	"tasktracker/internal/pkg/password"
	"tasktracker/internal/pkg/token"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// UserStore 提供用户记录的持久化访问。
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
}

type gormUserStore struct {
	db *gorm.DB
}

func (s gormUserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s gormUserStore) Create(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

// NewStore 创建基于 gorm 的 UserStore。
func NewStore(db *gorm.DB) UserStore {
	return gormUserStore{db: db}
}

// Handler 提供注册、登录与注销接口。
type Handler struct {
	store        UserStore
	codec        *token.Codec
	secureCookie bool
	logger       *slog.Logger
}

// NewHandler 创建 Auth Handler。
//
// secureCookie 在生产环境为 true，使会话 Cookie 仅经 HTTPS 传输。
func NewHandler(store UserStore, codec *token.Codec, secureCookie bool, logger *slog.Logger) *Handler {
	return &Handler{
		store:        store,
		codec:        codec,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Register 创建新用户。
//
// 成功返回不带密码哈希的用户投影；邮箱重复返回 409。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": err.Error()})
		return
	}
	if msg := checkPasswordStrength(req.Password); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": msg})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	_, err := h.store.FindByEmail(c.Request.Context(), email)
	if err == nil {
		if metrics.RegisterConflictsTotal != nil {
			metrics.RegisterConflictsTotal.Inc()
		}
		c.JSON(http.StatusConflict, gin.H{
			"error": "User with this email already exists",
			"code":  "DUPLICATE_EMAIL",
		})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	hash, err := password.Hash(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	user := model.User{
		Email:    email,
		Password: hash,
	}
	if err := h.store.Create(c.Request.Context(), &user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发注册撞上唯一索引，与先发现重复走同一出口
			if metrics.RegisterConflictsTotal != nil {
				metrics.RegisterConflictsTotal.Inc()
			}
			c.JSON(http.StatusConflict, gin.H{
				"error": "User with this email already exists",
				"code":  "DUPLICATE_EMAIL",
			})
			return
		}
		if h.logger != nil {
			h.logger.Error("create user failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if h.logger != nil {
		h.logger.Info("user registered", slog.String("email", email))
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user":    user.Projection(),
	})
}

// Login 校验凭证并下发会话 Cookie。
//
// 未知邮箱与密码错误返回完全相同的响应，防止账号枚举。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := h.store.FindByEmail(c.Request.Context(), email)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) && h.logger != nil {
			h.logger.Error("query user failed", slog.String("error", err.Error()))
		}
		h.rejectLogin(c)
		return
	}

	if !password.Verify(req.Password, user.Password) {
		h.rejectLogin(c)
		return
	}

	tok, err := h.codec.Issue(user.ID)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("sign token failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.setSessionCookie(c, tok, int(h.codec.TTL().Seconds()))

	if h.logger != nil {
		h.logger.Info("user logged in", slog.String("email", email))
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Logged in successfully",
		"user":    user.Projection(),
	})
}

// Logout 删除客户端会话 Cookie。
//
// 会话令牌本身无状态，服务端不做提前吊销，令牌到期自然失效。
func (h *Handler) Logout(c *gin.Context) {
	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// rejectLogin 统一登录失败出口，保证响应体逐字节一致。
func (h *Handler) rejectLogin(c *gin.Context) {
	if metrics.LoginFailuresTotal != nil {
		metrics.LoginFailuresTotal.Inc()
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
}

func (h *Handler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, value, maxAge, "/", "", h.secureCookie, true)
}

// checkPasswordStrength 校验密码强度：至少 1 个大写字母、1 个数字。
// 长度下限由 binding 标签约束。
func checkPasswordStrength(pw string) string {
	var hasUpper, hasDigit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper {
		return "password must contain at least one uppercase letter"
	}
	if !hasDigit {
		return "password must contain at least one digit"
	}
	return ""
}
