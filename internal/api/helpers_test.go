package api

import (
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/Specs7/LFIWEB/internal/api/auth"
	"github.com/Specs7/LFIWEB/internal/api/middleware"
	"github.com/Specs7/LFIWEB/internal/api/session"
	"github.com/Specs7/LFIWEB/internal/config"
	"github.com/Specs7/LFIWEB/internal/model"
	"github.com/Specs7/LFIWEB/internal/pkg/ratelimit"
	"github.com/Specs7/LFIWEB/internal/pkg/upload"
)

type captureMailer struct {
	links []string
	to    []string
}

func (m *captureMailer) SendMagicLink(toEmail string, link string) error {
	m.to = append(m.to, toEmail)
	m.links = append(m.links, link)
	return nil
}

type testServer struct {
	*Server
	mailer  *captureMailer
	limiter ratelimit.Limiter
}

// newTestServer wires a Server against a throwaway SQLite file and upload
// tree, with a link-capturing mailer and no Redis.
func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{
		App: config.AppConfig{
			LogLevel: "error",
			SiteURL:  "http://localhost:8080",
		},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")},
		Security: config.SecurityConfig{
			SessionSecret: "test_secret",
			SessionTTL:    time.Hour,
			TokenTTL:      2 * time.Hour,
		},
		Upload: config.UploadConfig{
			Dir:           filepath.Join(t.TempDir(), "uploads"),
			ImageMaxBytes: 5 * 1024 * 1024,
			VideoMaxBytes: 150 * 1024 * 1024,
			QuotaBytes:    2 * 1024 * 1024 * 1024,
		},
		Rate: config.RateConfig{WindowSeconds: 3600, MaxRequests: 5},
	}
	for _, m := range mutate {
		m(cfg)
	}

	db, err := gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// One connection keeps concurrent writers queued instead of failing busy.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(
		&model.User{}, &model.LoginToken{},
		&model.Article{}, &model.Photo{}, &model.Video{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	uploads, err := upload.NewStore(cfg.Upload.Dir,
		cfg.Upload.ImageMaxBytes, cfg.Upload.VideoMaxBytes, cfg.Upload.QuotaBytes, logger)
	if err != nil {
		t.Fatalf("upload store: %v", err)
	}

	limiter := ratelimit.NewWindow(time.Duration(cfg.Rate.WindowSeconds)*time.Second, cfg.Rate.MaxRequests)
	sessions := session.NewManager(cfg.Security.SessionSecret, cfg.Security.SessionTTL)
	mailer := &captureMailer{}

	r := gin.New()
	r.Use(middleware.WithSession(sessions))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		router:   r,
		auth:     auth.NewHandler(db, mailer, sessions, limiter, cfg.App.SiteURL, cfg.Security.TokenTTL, logger),
		sessions: sessions,
		uploads:  uploads,
	}
	s.registerRoutes()

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &testServer{Server: s, mailer: mailer, limiter: limiter}
}

func createUser(t *testing.T, db *gorm.DB, email, role string) model.User {
	t.Helper()
	user := model.User{Email: email, Role: role}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// sessionFor mints a valid session cookie and its CSRF secret for a user.
func sessionFor(t *testing.T, ts *testServer, userID uint) (*http.Cookie, string) {
	t.Helper()
	value, sess, err := ts.sessions.Issue(userID)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return &http.Cookie{Name: session.CookieName, Value: value}, sess.CSRF
}
