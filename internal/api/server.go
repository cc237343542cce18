package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"tasktracker/internal/api/auth"
	"tasktracker/internal/api/middleware"
	"tasktracker/internal/config"
	"tasktracker/internal/model"
	"tasktracker/internal/pkg/metrics"
	"tasktracker/internal/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

// 任务存储的类型化失败，由处理器翻译为固定的 HTTP 状态码。
var (
	// ErrTaskNotFound 任务不存在。
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskForbidden 任务存在但不属于请求者。
	ErrTaskForbidden = errors.New("forbidden")
)

// TaskPatch 是任务的部分更新，nil 字段表示不修改。
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *model.TaskStatus
}

// TaskStore 提供任务的持久化访问。
//
// 所有写操作都要求调用方传入已认证的 userID，
// 所有权校验与变更在存储层内以单个条件操作完成。
type TaskStore interface {
	CreateTask(ctx context.Context, task *model.Task) error
	ListTasks(ctx context.Context, userID int, status model.TaskStatus) ([]model.Task, error)
	UpdateTask(ctx context.Context, id, userID int, patch TaskPatch) (*model.Task, error)
	DeleteTask(ctx context.Context, id, userID int) error
}

// Server 封装了 API 服务所需的依赖和路由处理。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	router    *gin.Engine
	codec     *token.Codec
	auth      *auth.Handler
	taskStore TaskStore
}

type dbTaskStore struct {
	db *gorm.DB
}

func (s dbTaskStore) CreateTask(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Create(task).Error
}

func (s dbTaskStore) ListTasks(ctx context.Context, userID int, status model.TaskStatus) ([]model.Task, error) {
	tasks := []model.Task{}
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Order("created_at DESC, id DESC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask 在单个事务内完成所有权校验与条件更新。
// First 带 FOR UPDATE 行锁，持锁期间并发写（包括删除）无法插入，
// 所有权校验与变更之间没有竞态窗口。
func (s dbTaskStore) UpdateTask(ctx context.Context, id, userID int, patch TaskPatch) (*model.Task, error) {
	var task model.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&task, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskNotFound
			}
			return err
		}
		if task.UserID != uint(userID) {
			return ErrTaskForbidden
		}

		updates := map[string]interface{}{}
		if patch.Title != nil {
			updates["title"] = *patch.Title
		}
		if patch.Description != nil {
			updates["description"] = *patch.Description
		}
		if patch.Status != nil {
			updates["status"] = *patch.Status
		}
		if len(updates) == 0 {
			return nil
		}

		// 行已锁定且归属已确认，不依赖 RowsAffected：
		// MySQL 的 changed-rows 语义下无实际变更的补丁也会返回 0
		if err := tx.Model(&model.Task{}).Where("id = ? AND user_id = ?", id, userID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&task, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteTask 所有权校验与删除同样在单个事务内完成，持同样的行锁。
func (s dbTaskStore) DeleteTask(ctx context.Context, id, userID int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task model.Task
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&task, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskNotFound
			}
			return err
		}
		if task.UserID != uint(userID) {
			return ErrTaskForbidden
		}
		return tx.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Task{}).Error
	})
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 初始化会话令牌 Codec
// 3. 初始化 Gin 路由引擎与中间件
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).AutoMigrate(&model.User{}, &model.Task{}); err != nil {
		return nil, err
	}

	metrics.InitMetrics()

	codec := token.NewCodec(cfg.Security.SessionSecret, cfg.Security.SessionTTL)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Gatekeeper(codec))

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		router:    r,
		codec:     codec,
		auth:      auth.NewHandler(auth.NewStore(db), codec, cfg.IsProd(), logger),
		taskStore: dbTaskStore{db: db},
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库连接。
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// registerRoutes 注册所有的 API 路由。
//
// /tasks 与 /api/tasks 共享同一组处理器；后者保留给浏览器 UI 使用的
// API 前缀，两者都在网关守卫的保护范围内。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/auth/register", s.auth.Register)
	s.router.POST("/auth/login", s.auth.Login)
	s.router.POST("/auth/logout", s.auth.Logout)

	for _, group := range []*gin.RouterGroup{
		s.router.Group("/tasks"),
		s.router.Group("/api/tasks"),
	} {
		group.Use(middleware.RequireSession(s.codec))
		group.GET("", s.handleListTasks)
		group.POST("", s.handleCreateTask)
		group.PATCH("/:id", s.handleUpdateTask)
		group.DELETE("/:id", s.handleDeleteTask)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// createTaskRequest 创建任务的请求参数。
type createTaskRequest struct {
	Title       string `json:"title" binding:"required,max=100"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type updateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

// taskResponse 是任务的对外投影，不暴露所有者 ID。
type taskResponse struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// handleCreateTask 处理创建任务的请求。
//
// POST /tasks
func (s *Server) handleCreateTask(c *gin.Context) {
	userID := getUserID(c)

	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": "Title is required"})
		return
	}

	status := model.StatusTodo
	if req.Status != "" {
		status = model.TaskStatus(req.Status)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": "invalid status"})
			return
		}
	}

	task := model.Task{
		UserID:      uint(userID),
		Title:       req.Title,
		Description: req.Description,
		Status:      status,
	}
	if err := s.taskStore.CreateTask(c.Request.Context(), &task); err != nil {
		s.logger.Error("create task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if metrics.TasksCreatedTotal != nil {
		metrics.TasksCreatedTotal.Inc()
	}
	c.JSON(http.StatusCreated, toTaskResponse(&task))
}

// handleListTasks 返回请求者自己的任务列表，可按状态过滤。
//
// GET /tasks?status=TODO
func (s *Server) handleListTasks(c *gin.Context) {
	userID := getUserID(c)

	var status model.TaskStatus
	if v := c.Query("status"); v != "" {
		status = model.TaskStatus(v)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": "invalid status filter"})
			return
		}
	}

	tasks, err := s.taskStore.ListTasks(c.Request.Context(), userID, status)
	if err != nil {
		s.logger.Error("list tasks failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	resp := make([]taskResponse, 0, len(tasks)) // 保证空结果序列化为 [] 而非 null
	for i := range tasks {
		resp = append(resp, toTaskResponse(&tasks[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// handleUpdateTask 对任务做部分更新，变更前先做所有权校验。
//
// PATCH /tasks/:id
func (s *Server) handleUpdateTask(c *gin.Context) {
	userID := getUserID(c)
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": err.Error()})
		return
	}

	patch := TaskPatch{
		Title:       req.Title,
		Description: req.Description,
	}
	if req.Title != nil {
		title := *req.Title
		// 与创建路径一致，长度按字符数而非字节数计
		if strings.TrimSpace(title) == "" || utf8.RuneCountInString(title) > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": "title must be 1-100 characters"})
			return
		}
	}
	if req.Status != nil {
		status := model.TaskStatus(*req.Status)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": "invalid status"})
			return
		}
		patch.Status = &status
	}

	task, err := s.taskStore.UpdateTask(c.Request.Context(), id, userID, patch)
	if err != nil {
		s.renderTaskError(c, err, "update task failed")
		return
	}

	if metrics.TasksUpdatedTotal != nil {
		metrics.TasksUpdatedTotal.Inc()
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

// handleDeleteTask 删除任务，失败语义与更新一致。
//
// DELETE /tasks/:id
func (s *Server) handleDeleteTask(c *gin.Context) {
	userID := getUserID(c)
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	if err := s.taskStore.DeleteTask(c.Request.Context(), id, userID); err != nil {
		s.renderTaskError(c, err, "delete task failed")
		return
	}

	if metrics.TasksDeletedTotal != nil {
		metrics.TasksDeletedTotal.Inc()
	}
	c.Status(http.StatusNoContent)
}

// renderTaskError 将存储层的类型化失败翻译为固定状态码，
// 未识别的错误一律坍缩为 500。
func (s *Server) renderTaskError(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case errors.Is(err, ErrTaskForbidden):
		if metrics.ForbiddenTotal != nil {
			metrics.ForbiddenTotal.Inc()
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden: You do not own this task"})
	default:
		s.logger.Error(logMsg, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func getUserID(c *gin.Context) int {
	return c.GetInt("userID")
}
