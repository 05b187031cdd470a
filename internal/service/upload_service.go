package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gencockpit/api/internal/client"
	"github.com/gencockpit/api/internal/model"
)

// UploadImageResponse names the stored input image for use as an image param
type UploadImageResponse struct {
	Filename string `json:"filename"`
}

// UploadService hands input images to the engine
type UploadService struct {
	uploader client.ImageUploader
	log      zerolog.Logger
	now      func() time.Time
}

func NewUploadService(uploader client.ImageUploader, log zerolog.Logger) *UploadService {
	return &UploadService{uploader: uploader, log: log, now: time.Now}
}

// UploadImage stores file under a fresh upload_ name, keeping the original extension
func (s *UploadService) UploadImage(ctx context.Context, originalName string, file io.Reader, fileSize int64) (*UploadImageResponse, error) {
	originalName = strings.TrimSpace(originalName)
	if originalName == "" {
		return nil, model.NewValidationError("file", "filename is required")
	}
	if fileSize <= 0 {
		return nil, model.NewValidationError("file", "file is empty")
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" {
		ext = defaultOutputExt
	}

	stored, err := s.uploader.UploadImage(ctx, newAssetFilename("upload", s.now(), ext), file)
	if err != nil {
		return nil, fmt.Errorf("failed to upload image: %w", err)
	}

	s.log.Info().Str("filename", stored).Int64("size", fileSize).Msg("input image uploaded")
	return &UploadImageResponse{Filename: stored}, nil
}
