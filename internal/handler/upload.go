package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gencockpit/api/internal/service"
	"github.com/gencockpit/api/pkg/response"
)

const maxUploadSize = 20 * 1024 * 1024 // 20MB

var validImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/gif":  true,
}

type UploadHandler struct {
	service *service.UploadService
}

func NewUploadHandler(svc *service.UploadService) *UploadHandler {
	return &UploadHandler{service: svc}
}

// Image handles POST /api/uploads/image
func (h *UploadHandler) Image(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if file.Size > maxUploadSize {
		return response.ValidationError(c, "File size exceeds 20MB limit", map[string]interface{}{
			"maxSize":  maxUploadSize,
			"fileSize": file.Size,
		})
	}

	contentType := file.Header.Get("Content-Type")
	if contentType != "" && contentType != "application/octet-stream" && !validImageTypes[contentType] {
		return response.ValidationError(c, "Invalid file type. Supported: PNG, JPEG, WEBP, BMP, GIF", map[string]interface{}{
			"contentType": contentType,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	result, err := h.service.UploadImage(c.UserContext(), file.Filename, f, file.Size)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}
