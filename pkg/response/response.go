package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/gencockpit/api/internal/model"
)

// Error codes
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeNotFound          = "NOT_FOUND"
	CodeRateLimited       = "RATE_LIMITED"
	CodeServiceError      = "SERVICE_ERROR"
	CodeEngineError       = "ENGINE_ERROR"
	CodeEngineUnreachable = "ENGINE_UNREACHABLE"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func EngineError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadGateway, CodeEngineError, message, nil)
}

// FromError maps a domain error onto the matching HTTP error envelope
func FromError(c *fiber.Ctx, err error) error {
	var validationErr *model.ValidationError
	var upstreamErr *model.UpstreamError
	var patchErr *model.PatchError

	switch {
	case model.IsNotFound(err):
		return NotFound(c, err.Error())
	case errors.As(err, &validationErr):
		return ValidationError(c, validationErr.Message, fieldDetails(validationErr.Field))
	case errors.As(err, &patchErr):
		return ValidationError(c, patchErr.Error(), fieldDetails(patchErr.Param))
	case errors.As(err, &upstreamErr):
		return EngineError(c, upstreamErr.Error())
	default:
		return ServiceError(c, err.Error())
	}
}

func fieldDetails(field string) interface{} {
	if field == "" {
		return nil
	}
	return fiber.Map{"field": field}
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}
