// Package upload streams user uploads to disk under per-type size ceilings
// and a global storage quota.
package upload

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Kind selects the media class of an upload.
type Kind string

const (
	KindPhoto Kind = "photos"
	KindVideo Kind = "videos"
)

const chunkSize = 8192

var (
	ErrNoFilename       = errors.New("no selected file")
	ErrMissingExtension = errors.New("missing extension")
	ErrBadExtension     = errors.New("invalid file extension")
	ErrFileTooLarge     = errors.New("file too large")
	ErrQuotaExceeded    = errors.New("storage quota exceeded")
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".webm": true, ".ogg": true, ".mov": true, ".mkv": true,
}

// Store owns the uploads directory tree, split by media kind.
type Store struct {
	baseDir  string
	imageMax int64
	videoMax int64
	quota    int64
	logger   *slog.Logger
}

// NewStore creates the per-kind subdirectories under baseDir.
func NewStore(baseDir string, imageMax, videoMax, quota int64, logger *slog.Logger) (*Store, error) {
	for _, kind := range []Kind{KindPhoto, KindVideo} {
		if err := os.MkdirAll(filepath.Join(baseDir, string(kind)), 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
	}
	return &Store{
		baseDir:  baseDir,
		imageMax: imageMax,
		videoMax: videoMax,
		quota:    quota,
		logger:   logger,
	}, nil
}

// Dir returns the on-disk directory for a media kind.
func (s *Store) Dir(kind Kind) string {
	return filepath.Join(s.baseDir, string(kind))
}

// AllowedExt reports whether ext (lower-case, dot included) is acceptable
// for the kind. Callers use it to double-check stored names before
// persisting a database row.
func AllowedExt(kind Kind, ext string) bool {
	if kind == KindVideo {
		return videoExtensions[ext]
	}
	return imageExtensions[ext]
}

// Ext extracts the lower-cased extension of a client-supplied filename.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// Save streams r to disk and returns the generated stored name.
//
// Only the extension of originalName is trusted; the stored base name is a
// fresh random hex token. The payload is copied in fixed-size chunks and the
// write aborts, deleting the partial file, the moment the running total
// exceeds the per-file ceiling for its class. After a successful write the
// global quota is checked against the whole uploads tree and the file is
// deleted when the tree exceeds it.
func (s *Store) Save(r io.Reader, originalName string, kind Kind) (string, error) {
	if strings.TrimSpace(originalName) == "" {
		return "", ErrNoFilename
	}
	ext := Ext(originalName)
	if ext == "" || ext == "." {
		return "", ErrMissingExtension
	}

	var limit int64
	switch {
	case imageExtensions[ext]:
		limit = s.imageMax
	case videoExtensions[ext]:
		limit = s.videoMax
	default:
		return "", ErrBadExtension
	}

	name, err := randomName(ext)
	if err != nil {
		return "", fmt.Errorf("generate name: %w", err)
	}
	target := filepath.Join(s.Dir(kind), name)

	if err := s.stream(r, target, limit); err != nil {
		return "", err
	}

	if s.TotalBytes() > s.quota {
		s.removePath(target)
		return "", ErrQuotaExceeded
	}
	return name, nil
}

func (s *Store) stream(r io.Reader, target string, limit int64) error {
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	var total int64
	buf := make([]byte, chunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > limit {
				out.Close()
				s.removePath(target)
				return ErrFileTooLarge
			}
			if _, err := out.Write(buf[:n]); err != nil {
				out.Close()
				s.removePath(target)
				return fmt.Errorf("write chunk: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			s.removePath(target)
			return fmt.Errorf("read upload: %w", readErr)
		}
	}

	if err := out.Close(); err != nil {
		s.removePath(target)
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

// Remove deletes a stored file, tolerating a file that is already gone.
func (s *Store) Remove(kind Kind, name string) error {
	// Reject anything that could escape the uploads tree.
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("invalid stored name %q", name)
	}
	err := os.Remove(filepath.Join(s.Dir(kind), name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// TotalBytes walks the uploads tree and sums file sizes. Unreadable entries
// are skipped.
func (s *Store) TotalBytes() int64 {
	var total int64
	_ = filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

func (s *Store) removePath(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		if s.logger != nil {
			s.logger.Warn("remove partial upload failed",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}
}

func randomName(ext string) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf) + ext, nil
}
