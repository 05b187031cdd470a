package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gencockpit/api/internal/client"
	"github.com/gencockpit/api/internal/model"
	"github.com/gencockpit/api/pkg/response"
)

const healthTimeout = 5 * time.Second

// HealthResponse reports engine reachability. Error fields are null when healthy.
type HealthResponse struct {
	OK           bool           `json:"ok"`
	EngineURL    string         `json:"engine_url"`
	ErrorCode    *string        `json:"error_code"`
	ErrorMessage *string        `json:"error_message"`
	EngineStats  map[string]any `json:"engine_stats,omitempty"`
}

type HealthHandler struct {
	catalog   client.ModelCatalog
	engineURL string
}

func NewHealthHandler(catalog client.ModelCatalog, engineURL string) *HealthHandler {
	return &HealthHandler{catalog: catalog, engineURL: engineURL}
}

// Check handles GET /health and GET /api/health. It always answers 200 so
// clients can tell a down engine from a down API.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	result := HealthResponse{EngineURL: h.engineURL}

	stats, err := h.catalog.SystemStats(ctx)
	if err == nil {
		result.OK = true
		result.EngineStats = stats
		return response.OK(c, result)
	}

	code, message := response.CodeEngineError, err.Error()
	var upstreamErr *model.UpstreamError
	switch {
	case errors.As(err, &upstreamErr):
		message = fmt.Sprintf("Engine returned status %d", upstreamErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		code, message = response.CodeEngineUnreachable, "Connection to engine timed out"
	case errors.Is(err, client.ErrEngineUnreachable):
		code, message = response.CodeEngineUnreachable, "Cannot connect to engine"
	}
	result.ErrorCode = &code
	result.ErrorMessage = &message
	return response.OK(c, result)
}
