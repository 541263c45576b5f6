package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/reposter/internal/config"
	"github.com/ifuryst/reposter/internal/models"
	"github.com/ifuryst/reposter/internal/service"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Tasks     *service.TaskService
	Publisher *service.PublisherService
	Scheduler *service.Scheduler
	Auth      *service.AuthService
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	publisherService, err := service.NewPublisherService(cfg, db, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize publisher: %w", err)
	}

	return New(cfg, db, publisherService, logger), nil
}

// New builds a server around an already assembled publisher service.
func New(cfg *config.Config, db *gorm.DB, publisherService *service.PublisherService, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)

	srv := &Server{
		Config:    cfg,
		DB:        db,
		Router:    gin.New(),
		Logger:    logger,
		Tasks:     service.NewTaskService(db, publisherService.Generators(), publisherService.Location(), logger),
		Publisher: publisherService,
		Scheduler: service.NewScheduler(&cfg.Scheduler, db, publisherService.Executor(), logger.Named("scheduler")),
		Auth:      service.NewAuthService(&cfg.Auth, logger),
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())

	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	s.Router.Use(s.Auth.AuthMiddleware())
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	api := s.Router.Group("/api/v1")
	{
		api.POST("/auth/login", s.handleLogin)

		tasks := api.Group("/tasks")
		{
			tasks.POST("", s.handleCreateTask)
			tasks.GET("", s.handleListTasks)
			tasks.GET("/:id", s.handleGetTask)
			tasks.PUT("/:id", s.handleUpdateTask)
			tasks.DELETE("/:id", s.handleDeleteTask)
			tasks.POST("/:id/execute", s.handleExecuteTask)
			tasks.GET("/:id/history", s.handleTaskHistory)
		}

		api.GET("/items/:id/history", s.handleItemHistory)
		api.GET("/generators", s.handleListGenerators)
	}
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Code is required"})
		return
	}

	token, err := s.Auth.Login(req.Code)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid code"})
		return
	}

	maxAge := int(s.Config.Auth.SessionTTL / time.Second)
	c.SetCookie(service.SessionCookie, token, maxAge, "/", "", s.Config.Server.CertFile != "", true)
	c.JSON(http.StatusOK, gin.H{"message": "Login successful"})
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var task models.PublishTask
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := s.Tasks.Create(c.Request.Context(), &task)
	if err != nil {
		s.respondError(c, err, "Failed to create task")
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleListTasks(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	tasks, total, err := s.Tasks.List(c.Request.Context(), service.TaskFilter{
		Kind:     models.TaskKind(c.Query("kind")),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		s.respondError(c, err, "Failed to list tasks")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": total})
}

func (s *Server) handleGetTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	task, err := s.Tasks.Get(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err, "Failed to get task")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var task models.PublishTask
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := s.Tasks.Update(c.Request.Context(), id, &task)
	if err != nil {
		s.respondError(c, err, "Failed to update task")
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := s.Tasks.Delete(c.Request.Context(), id); err != nil {
		s.respondError(c, err, "Failed to delete task")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleExecuteTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	// A run outlives a dropped client connection.
	res, err := s.Publisher.Executor().Execute(context.WithoutCancel(c.Request.Context()), id)
	if err != nil {
		s.respondError(c, err, "Failed to execute task")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleTaskHistory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if _, err := s.Tasks.Get(c.Request.Context(), id); err != nil {
		s.respondError(c, err, "Failed to get task")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	records, total, err := s.Publisher.Ledger().ListByTask(c.Request.Context(), id, page, pageSize)
	if err != nil {
		s.respondError(c, err, "Failed to get history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": records, "total": total})
}

func (s *Server) handleItemHistory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	records, err := s.Publisher.Ledger().ListByItem(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err, "Failed to get history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": records})
}

func (s *Server) handleListGenerators(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"generators": s.Publisher.Generators().List()})
}

func (s *Server) respondError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, service.ErrInvalidTask):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case errors.Is(err, service.ErrTaskRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "Task is already running"})
	default:
		s.Logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id), true
}

func (s *Server) Start(ctx context.Context) error {
	s.Publisher.Start(ctx)

	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	var err error
	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		err = s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	} else {
		err = s.Server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the scheduler, then the upload queue, then HTTP.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Scheduler.Stop()
	s.Publisher.Stop()

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
