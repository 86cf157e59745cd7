package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/Specs7/LFIWEB/internal/api/auth"
	"github.com/Specs7/LFIWEB/internal/api/middleware"
	"github.com/Specs7/LFIWEB/internal/api/session"
	"github.com/Specs7/LFIWEB/internal/config"
	"github.com/Specs7/LFIWEB/internal/model"
	"github.com/Specs7/LFIWEB/internal/pkg/notify"
	"github.com/Specs7/LFIWEB/internal/pkg/ratelimit"
	"github.com/Specs7/LFIWEB/internal/pkg/upload"
)

// Server wires the content API: SQLite storage, the upload store, the
// magic-link auth flow and the optional Redis-backed rate limiter.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *gorm.DB
	rdb      *redis.Client
	router   *gin.Engine
	auth     *auth.Handler
	sessions *session.Manager
	uploads  *upload.Store
}

// NewServer opens the database, runs migrations, connects Redis when
// configured (falling back silently to the in-process limiter when it is
// unreachable) and registers all routes.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.User{}, &model.LoginToken{},
		&model.Article{}, &model.Photo{}, &model.Video{},
	); err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, using in-process rate limiter",
				slog.String("addr", cfg.Redis.Addr), slog.String("error", err.Error()))
			_ = rdb.Close()
			rdb = nil
		}
	}

	uploads, err := upload.NewStore(cfg.Upload.Dir,
		cfg.Upload.ImageMaxBytes, cfg.Upload.VideoMaxBytes, cfg.Upload.QuotaBytes, logger)
	if err != nil {
		return nil, err
	}

	window := time.Duration(cfg.Rate.WindowSeconds) * time.Second
	var limiter ratelimit.Limiter = ratelimit.NewWindow(window, cfg.Rate.MaxRequests)
	if rdb != nil {
		limiter = ratelimit.NewFallback(
			ratelimit.NewRedisLimiter(rdb, logger, window, cfg.Rate.MaxRequests),
			limiter, logger,
		)
	}

	sessions := session.NewManager(cfg.Security.SessionSecret, cfg.Security.SessionTTL)
	mailer := notify.NewEmailNotifier(&cfg.Email, logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.WithSession(sessions))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		rdb:      rdb,
		router:   r,
		auth:     auth.NewHandler(db, mailer, sessions, limiter, cfg.App.SiteURL, cfg.Security.TokenTTL, logger),
		sessions: sessions,
		uploads:  uploads,
	}
	s.registerRoutes()
	return s, nil
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// Close releases the database and Redis connections.
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else if err := sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) registerRoutes() {
	s.router.StaticFile("/", "./web/index.html")

	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/auth/request-token", s.auth.RequestToken)
	s.router.GET("/auth/consume", s.auth.Consume)
	s.router.GET("/api/me", s.auth.Me)

	s.router.GET(auth.RequestPath, s.handleRequestForm)
	s.router.GET(auth.ManagePath, s.handleManage)
	s.router.GET("/admin/status", s.handleAdminStatus)
	s.router.GET("/admin/logout", s.auth.Logout)

	s.router.GET("/api/articles", s.handleListArticles)
	s.router.GET("/api/photos", s.handleListPhotos)
	s.router.GET("/api/videos", s.handleListVideos)

	s.router.Static("/static/uploads/photos", s.uploads.Dir(upload.KindPhoto))
	s.router.Static("/static/uploads/videos", s.uploads.Dir(upload.KindVideo))

	admin := s.router.Group("/api")
	admin.Use(middleware.RequireAdmin(s.db))
	admin.POST("/articles", s.handleCreateArticle)
	admin.PUT("/articles/:id", s.handleUpdateArticle)
	admin.DELETE("/articles/:id", s.handleDeleteArticle)
	admin.POST("/photos", s.handleCreatePhoto)
	admin.DELETE("/photos/:id", s.handleDeletePhoto)
	admin.POST("/videos", s.handleCreateVideo)
	admin.DELETE("/videos/:id", s.handleDeleteVideo)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRequestForm(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, "<p>Request a login link via POST /auth/request-token.</p>")
}

// handleManage anchors the admin panel: anonymous visitors go back to the
// request form, non-admins are refused.
func (s *Server) handleManage(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.Redirect(http.StatusFound, auth.RequestPath)
		return
	}
	var user model.User
	if err := s.db.WithContext(c.Request.Context()).
		Select("id", "role").
		First(&user, userID).Error; err != nil || user.Role != "admin" {
		c.String(http.StatusForbidden, "Access denied")
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, "<p>Admin panel.</p>")
}

// handleAdminStatus reports storage usage and Redis reachability to admins.
func (s *Server) handleAdminStatus(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	var user model.User
	if err := s.db.WithContext(c.Request.Context()).
		Select("id", "role").
		First(&user, userID).Error; err != nil || user.Role != "admin" {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	info := gin.H{"storage_bytes": s.uploads.TotalBytes()}
	if s.rdb != nil {
		if err := s.rdb.Ping(c.Request.Context()).Err(); err != nil {
			info["redis_error"] = err.Error()
		} else {
			info["redis_ping"] = true
		}
	} else {
		info["redis"] = "not configured"
	}
	c.JSON(http.StatusOK, info)
}
