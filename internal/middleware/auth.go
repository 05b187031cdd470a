package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gencockpit/api/internal/auth"
	"github.com/gencockpit/api/pkg/response"
)

// AuthMiddleware handles JWT authentication against one or more verifiers
type AuthMiddleware struct {
	verifiers []auth.TokenVerifier
}

// NewAuthMiddleware creates auth middleware trying each verifier in order
func NewAuthMiddleware(verifiers ...auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifiers: verifiers}
}

// Authenticate validates the bearer token from the Authorization header.
// Browsers cannot set headers on websocket upgrades, so a `token` query
// parameter is accepted as well.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, ok := bearerToken(c)
		if !ok {
			return response.Unauthorized(c, "Missing authorization header")
		}

		for _, v := range m.verifiers {
			claims, err := v.Validate(tokenString)
			if err != nil {
				continue
			}
			c.Locals("userId", claims.UserID())
			c.Locals("email", claims.Email)
			c.Locals("claims", claims)
			return c.Next()
		}

		return response.Unauthorized(c, "Invalid or expired token")
	}
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		token := c.Query("token")
		return token, token != ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}
