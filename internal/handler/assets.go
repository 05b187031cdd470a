package handler

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/gencockpit/api/internal/client"
	"github.com/gencockpit/api/internal/service"
	"github.com/gencockpit/api/pkg/response"
)

const signedURLExpiry = 15 * time.Minute

type AssetHandler struct {
	service   *service.JobService
	storage   client.StorageClient
	validator *validator.Validate
}

func NewAssetHandler(svc *service.JobService, storage client.StorageClient, v *validator.Validate) *AssetHandler {
	return &AssetHandler{
		service:   svc,
		storage:   storage,
		validator: v,
	}
}

// List handles GET /api/assets
func (h *AssetHandler) List(c *fiber.Ctx) error {
	q, err := parseListQuery(c, h.validator)
	if err != nil {
		return err
	}

	assets, err := h.service.ListAssets(c.UserContext(), q.Limit)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, assets)
}

// Get handles GET /api/assets/:assetId
func (h *AssetHandler) Get(c *fiber.Ctx) error {
	asset, err := h.service.GetAsset(c.UserContext(), c.Params("assetId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, asset)
}

// ToggleFavorite handles POST /api/assets/:assetId/favorite
func (h *AssetHandler) ToggleFavorite(c *fiber.Ctx) error {
	asset, err := h.service.ToggleFavorite(c.UserContext(), c.Params("assetId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, asset)
}

// File handles GET /assets/:filename. Local files are sent directly; remote
// storage answers with a redirect to a short-lived signed URL.
func (h *AssetHandler) File(c *fiber.Ctx) error {
	filename := c.Params("filename")
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return response.NotFound(c, "asset file not found")
	}

	if local, ok := h.storage.(*client.LocalStorage); ok {
		if err := c.SendFile(filepath.Join(local.Dir(), filename)); err != nil {
			return response.NotFound(c, "asset file not found")
		}
		return nil
	}

	url, err := h.storage.GetSignedURL(c.UserContext(), filename, signedURLExpiry)
	if err != nil {
		return response.ServiceError(c, "failed to sign asset url")
	}
	return c.Redirect(url, fiber.StatusFound)
}
