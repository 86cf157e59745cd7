package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Specs7/LFIWEB/internal/model"
)

const (
	maxTitleLen   = 200
	maxAuthorLen  = 100
	maxContentLen = 10000
)

type articleRequest struct {
	Title   string `json:"title"`
	Author  string `json:"author"`
	Content string `json:"content"`
	Image   string `json:"image"`
}

func (r *articleRequest) normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Author = strings.TrimSpace(r.Author)
	r.Content = strings.TrimSpace(r.Content)
	r.Image = strings.TrimSpace(r.Image)
}

// validate enforces the length bounds and, when an image is given, that it
// is an absolute http(s) URL.
func (r *articleRequest) validate() string {
	if r.Title == "" {
		return "title required"
	}
	// Bounds are character counts, not bytes; accented titles count per rune.
	if utf8.RuneCountInString(r.Title) > maxTitleLen ||
		utf8.RuneCountInString(r.Author) > maxAuthorLen ||
		utf8.RuneCountInString(r.Content) > maxContentLen {
		return "Input too long"
	}
	if r.Image != "" && !isSafeURL(r.Image) {
		return "Invalid image URL"
	}
	return ""
}

func isSafeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// handleListArticles returns a page of articles, newest first, with an
// optional substring search over title and content.
//
// GET /api/articles?q=&page=&per_page=
func (s *Server) handleListArticles(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	page := parseQueryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	perPage := parseQueryInt(c, "per_page", 10)
	if perPage < 1 || perPage > 100 {
		perPage = 10
	}

	ctx := c.Request.Context()
	query := s.db.WithContext(ctx).Model(&model.Article{})
	if q != "" {
		like := "%" + q + "%"
		query = query.Where("title LIKE ? OR content LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		s.logger.Error("count articles failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list articles failed"})
		return
	}

	articles := []model.Article{} // keep JSON [] rather than null
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&articles).Error; err != nil {
		s.logger.Error("list articles failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list articles failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"articles": articles,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// handleCreateArticle stores a new article.
//
// POST /api/articles (admin + CSRF)
func (s *Server) handleCreateArticle(c *gin.Context) {
	var req articleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.normalize()
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	article := model.Article{
		Title:   req.Title,
		Author:  req.Author,
		Content: req.Content,
		Image:   req.Image,
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&article).Error; err != nil {
		s.logger.Error("create article failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create article failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"article": article})
}

// handleUpdateArticle replaces all editable fields of an article.
//
// PUT /api/articles/:id (admin + CSRF)
func (s *Server) handleUpdateArticle(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid article id"})
		return
	}

	var req articleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.normalize()
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	ctx := c.Request.Context()
	var article model.Article
	if err := s.db.WithContext(ctx).First(&article, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		s.logger.Error("load article failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update article failed"})
		return
	}

	updates := map[string]interface{}{
		"title":   req.Title,
		"author":  req.Author,
		"content": req.Content,
		"image":   req.Image,
	}
	if err := s.db.WithContext(ctx).Model(&article).Updates(updates).Error; err != nil {
		s.logger.Error("update article failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update article failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"article": article})
}

// handleDeleteArticle removes an article.
//
// DELETE /api/articles/:id (admin + CSRF)
func (s *Server) handleDeleteArticle(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid article id"})
		return
	}
	if err := s.db.WithContext(c.Request.Context()).Delete(&model.Article{}, id).Error; err != nil {
		s.logger.Error("delete article failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete article failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func parseQueryInt(c *gin.Context, key string, def int) int {
	val := c.Query(key)
	if val == "" {
		return def
	}
	iv, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return iv
}
