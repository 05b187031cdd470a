package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/gencockpit/api/internal/model"
	"github.com/gencockpit/api/pkg/response"
)

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}

// parseListQuery reads and validates the limit query parameter
func parseListQuery(c *fiber.Ctx, v *validator.Validate) (model.ListQuery, error) {
	var q model.ListQuery
	if err := c.QueryParser(&q); err != nil {
		return q, response.ValidationError(c, "Invalid query parameters", nil)
	}
	if err := v.Struct(&q); err != nil {
		return q, response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	return q, nil
}
