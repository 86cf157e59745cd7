package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Specs7/LFIWEB/internal/model"
	"github.com/Specs7/LFIWEB/internal/pkg/upload"
)

// handleListPhotos returns all photos, newest first.
//
// GET /api/photos
func (s *Server) handleListPhotos(c *gin.Context) {
	photos := []model.Photo{}
	if err := s.db.WithContext(c.Request.Context()).
		Order("created_at DESC, id DESC").
		Find(&photos).Error; err != nil {
		s.logger.Error("list photos failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list photos failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"photos": photos})
}

// handleCreatePhoto accepts a multipart upload (file, title, description).
//
// POST /api/photos (admin + CSRF)
func (s *Server) handleCreatePhoto(c *gin.Context) {
	name, ok := s.saveUploadedFile(c, upload.KindPhoto)
	if !ok {
		return
	}

	photo := model.Photo{
		Filename:    name,
		Title:       strings.TrimSpace(c.PostForm("title")),
		Description: strings.TrimSpace(c.PostForm("description")),
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&photo).Error; err != nil {
		// The file row pair must stay consistent: no row, no file.
		if rmErr := s.uploads.Remove(upload.KindPhoto, name); rmErr != nil {
			s.logger.Warn("remove orphaned upload failed", slog.String("error", rmErr.Error()))
		}
		s.logger.Error("create photo failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create photo failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"photo": photo})
}

// handleDeletePhoto removes the row, then best-effort removes the file.
//
// DELETE /api/photos/:id (admin + CSRF)
func (s *Server) handleDeletePhoto(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo id"})
		return
	}

	ctx := c.Request.Context()
	var photo model.Photo
	if err := s.db.WithContext(ctx).First(&photo, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		s.logger.Error("load photo failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete photo failed"})
		return
	}
	if err := s.db.WithContext(ctx).Delete(&model.Photo{}, id).Error; err != nil {
		s.logger.Error("delete photo failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete photo failed"})
		return
	}
	if err := s.uploads.Remove(upload.KindPhoto, photo.Filename); err != nil {
		s.logger.Warn("remove photo file failed",
			slog.String("filename", photo.Filename), slog.String("error", err.Error()))
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// handleListVideos returns all videos, newest first.
//
// GET /api/videos
func (s *Server) handleListVideos(c *gin.Context) {
	videos := []model.Video{}
	if err := s.db.WithContext(c.Request.Context()).
		Order("created_at DESC, id DESC").
		Find(&videos).Error; err != nil {
		s.logger.Error("list videos failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list videos failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos})
}

// handleCreateVideo accepts a multipart upload (file, title, description).
//
// POST /api/videos (admin + CSRF)
func (s *Server) handleCreateVideo(c *gin.Context) {
	name, ok := s.saveUploadedFile(c, upload.KindVideo)
	if !ok {
		return
	}

	video := model.Video{
		Filename:    name,
		Title:       strings.TrimSpace(c.PostForm("title")),
		Description: strings.TrimSpace(c.PostForm("description")),
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&video).Error; err != nil {
		if rmErr := s.uploads.Remove(upload.KindVideo, name); rmErr != nil {
			s.logger.Warn("remove orphaned upload failed", slog.String("error", rmErr.Error()))
		}
		s.logger.Error("create video failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create video failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"video": video})
}

// handleDeleteVideo removes the row, then best-effort removes the file.
//
// DELETE /api/videos/:id (admin + CSRF)
func (s *Server) handleDeleteVideo(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return
	}

	ctx := c.Request.Context()
	var video model.Video
	if err := s.db.WithContext(ctx).First(&video, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		s.logger.Error("load video failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete video failed"})
		return
	}
	if err := s.db.WithContext(ctx).Delete(&model.Video{}, id).Error; err != nil {
		s.logger.Error("delete video failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete video failed"})
		return
	}
	if err := s.uploads.Remove(upload.KindVideo, video.Filename); err != nil {
		s.logger.Warn("remove video file failed",
			slog.String("filename", video.Filename), slog.String("error", err.Error()))
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// saveUploadedFile streams the multipart "file" part through the upload
// store and double-checks the stored extension against the kind's allow-list,
// deleting the file when the check fails. On failure it writes the response
// and returns ok=false.
func (s *Server) saveUploadedFile(c *gin.Context, kind upload.Kind) (string, bool) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file part"})
		return "", false
	}

	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file part"})
		return "", false
	}
	defer src.Close()

	name, err := s.uploads.Save(src, header.Filename, kind)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrNoFilename),
			errors.Is(err, upload.ErrMissingExtension),
			errors.Is(err, upload.ErrBadExtension),
			errors.Is(err, upload.ErrFileTooLarge),
			errors.Is(err, upload.ErrQuotaExceeded):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			s.logger.Error("save upload failed", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": "upload failed"})
		}
		return "", false
	}

	if !upload.AllowedExt(kind, upload.Ext(name)) {
		if rmErr := s.uploads.Remove(kind, name); rmErr != nil {
			s.logger.Warn("remove mismatched upload failed", slog.String("error", rmErr.Error()))
		}
		label := "Invalid image type"
		if kind == upload.KindVideo {
			label = "Invalid video type"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": label})
		return "", false
	}
	return name, true
}
